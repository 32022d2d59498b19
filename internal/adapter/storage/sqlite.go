package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"genflow/internal/domain"
)

// SQLiteStore implements domain.ChatStorage using SQLite. Messages are stored
// one row per message with a JSON column, ordered by a per-conversation
// sequence number.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open chat db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate chat db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			conversation_id TEXT    NOT NULL,
			seq             INTEGER NOT NULL,
			message         TEXT    NOT NULL,
			created_at      TEXT    NOT NULL,
			PRIMARY KEY (conversation_id, seq)
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetHistory implements domain.ChatStorage. Unknown conversations yield an
// empty history.
func (s *SQLiteStore) GetHistory(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT message FROM messages WHERE conversation_id = ? ORDER BY seq", conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var msg domain.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AppendHistory implements domain.ChatStorage. The whole batch commits in one
// transaction.
func (s *SQLiteStore) AppendHistory(ctx context.Context, conversationID string, messages []domain.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE conversation_id = ?", conversationID,
	).Scan(&next); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	if err := insertMessages(ctx, tx, conversationID, next, messages); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateHistory implements domain.ChatStorage.
func (s *SQLiteStore) UpdateHistory(ctx context.Context, conversationID string, messages []domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM messages WHERE conversation_id = ?", conversationID,
	); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}

	if err := insertMessages(ctx, tx, conversationID, 0, messages); err != nil {
		return err
	}
	return tx.Commit()
}

func insertMessages(ctx context.Context, tx *sql.Tx, conversationID string, startSeq int64, messages []domain.Message) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i, msg := range messages {
		raw, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO messages (conversation_id, seq, message, created_at) VALUES (?, ?, ?, ?)",
			conversationID, startSeq+int64(i), string(raw), now,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return nil
}
