package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"genflow/internal/domain"
)

// Both backends must satisfy the same contract, so each test runs against
// memory and sqlite.
func stores(t *testing.T) map[string]domain.ChatStorage {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]domain.ChatStorage{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestMissingConversationYieldsEmptyHistory(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			history, err := store.GetHistory(context.Background(), "nope")
			require.NoError(t, err)
			require.Empty(t, history)
		})
	}
}

func TestAppendPreservesOrder(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.AppendHistory(ctx, "c1", []domain.Message{
				{Role: domain.RoleUser, Content: "first"},
				{Role: domain.RoleModel, Content: "second"},
			}))
			require.NoError(t, store.AppendHistory(ctx, "c1", []domain.Message{
				{Role: domain.RoleUser, Content: "third"},
			}))

			history, err := store.GetHistory(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, history, 3)
			require.Equal(t, "first", history[0].Content)
			require.Equal(t, "second", history[1].Content)
			require.Equal(t, "third", history[2].Content)
		})
	}
}

func TestConversationsAreIsolated(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.AppendHistory(ctx, "a", []domain.Message{{Role: domain.RoleUser, Content: "for a"}}))
			require.NoError(t, store.AppendHistory(ctx, "b", []domain.Message{{Role: domain.RoleUser, Content: "for b"}}))

			a, err := store.GetHistory(ctx, "a")
			require.NoError(t, err)
			require.Len(t, a, 1)
			require.Equal(t, "for a", a[0].Content)
		})
	}
}

func TestUpdateReplacesWholesale(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.AppendHistory(ctx, "c1", []domain.Message{
				{Role: domain.RoleUser, Content: "old 1"},
				{Role: domain.RoleModel, Content: "old 2"},
			}))
			require.NoError(t, store.UpdateHistory(ctx, "c1", []domain.Message{
				{Role: domain.RoleUser, Content: "new"},
			}))

			history, err := store.GetHistory(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, history, 1)
			require.Equal(t, "new", history[0].Content)
		})
	}
}

func TestToolMessagesRoundTrip(t *testing.T) {
	call := domain.FunctionCall{
		ID:   "call_01ABC",
		Name: "get_weather",
		Args: json.RawMessage(`{"city":"Hanoi"}`),
	}
	messages := []domain.Message{
		{Role: domain.RoleModel, Calls: []domain.FunctionCall{call}, Timestamp: time.Now().UTC().Truncate(time.Second)},
		{Role: domain.RoleTool, Name: "get_weather", Content: "28C", Calls: []domain.FunctionCall{call}},
	}

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.AppendHistory(ctx, "c1", messages))

			history, err := store.GetHistory(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, history, 2)
			require.Equal(t, "call_01ABC", history[0].Calls[0].ID)
			require.JSONEq(t, `{"city":"Hanoi"}`, string(history[0].Calls[0].Args))
			require.Equal(t, "get_weather", history[1].Name)
		})
	}
}

func TestMemoryReadsAreCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.AppendHistory(ctx, "c1", []domain.Message{{Role: domain.RoleUser, Content: "original"}}))

	history, err := store.GetHistory(ctx, "c1")
	require.NoError(t, err)
	history[0].Content = "mutated"

	again, err := store.GetHistory(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "original", again[0].Content)
}
