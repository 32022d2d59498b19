package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"genflow/internal/adapter/gemini"
	"genflow/internal/adapter/storage"
	"genflow/internal/adapter/tool"
	"genflow/internal/domain"
	"genflow/internal/infra/config"
	"genflow/internal/infra/logger"
	"genflow/internal/infra/tracer"
	"genflow/internal/usecase"
	"genflow/internal/usecase/eventbus"
	"genflow/internal/usecase/executor"
)

func main() {
	configPath := flag.String("config", "genflow.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	bus := eventbus.New(log)
	defer bus.Close()

	store, closeStore, err := buildStorage(cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := tool.NewRegistry(log)
	registerBuiltins(registry)

	client := gemini.New(cfg.Provider, cfg.Agent.Model, log)
	model := gemini.NewBreakerClient(client, cfg.Provider.Breaker, log)

	var limiter *rate.Limiter
	if cfg.Executor.DispatchRate > 0 {
		burst := cfg.Executor.DispatchBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Executor.DispatchRate), burst)
	}
	exec := executor.NewConcurrent(executor.Config[domain.Event]{
		MaxBatchSize: cfg.Executor.MaxBatchSize,
		Stop:         stopMode(cfg.Executor.StopMode),
		EventBuffer:  cfg.Executor.EventBuffer,
		Limiter:      limiter,
		Hooks: executor.Hooks[domain.Event]{
			Result: func(res domain.ToolResult) domain.Event {
				payload, _ := json.Marshal(map[string]any{"tool": res.Call.Name, "is_error": res.IsError})
				return domain.Event{Type: domain.EventToolCallCompleted, Timestamp: time.Now(), Payload: payload}
			},
		},
	}, log)
	defer exec.Shutdown()

	// Forward executor events onto the bus.
	go func() {
		for ev := range exec.Events() {
			bus.Publish(ctx, ev)
		}
	}()

	caches := usecase.NewCacheManager(client, bus, log)

	loop := usecase.NewConversationLoop(usecase.LoopDeps{
		Model:         model,
		Storage:       store,
		Tools:         registry,
		Runner:        exec,
		Caches:        caches,
		Classifier:    usecase.NewErrorClassifier(),
		Bus:           bus,
		Logger:        log,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		ModelName:     cfg.Agent.Model,
		MaxIterations: cfg.Agent.MaxIterations,
		RetryCount:    cfg.Agent.RetryCount,
		ToolMode:      domain.ToolMode(cfg.Agent.ToolMode),
	})

	cacheCfg, err := prepareCache(ctx, caches, cfg, log)
	if err != nil {
		return err
	}

	return repl(ctx, loop, cacheCfg)
}

func buildStorage(cfg config.StorageConfig) (domain.ChatStorage, func() error, error) {
	switch cfg.Backend {
	case "sqlite":
		store, err := storage.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return storage.NewMemoryStore(), func() error { return nil }, nil
	}
}

func stopMode(s string) executor.StopMode {
	if s == "all" {
		return executor.RunAllWaves
	}
	return executor.StopAfterWave
}

// prepareCache sets up the cached system prompt when auto-manage is on.
func prepareCache(ctx context.Context, caches *usecase.CacheManager, cfg *config.Config, log *slog.Logger) (*domain.CacheConfig, error) {
	if cfg.Cache.Name == "" && !cfg.Cache.AutoManage {
		return nil, nil
	}

	out := &domain.CacheConfig{
		Name:       cfg.Cache.Name,
		RefreshTTL: cfg.Cache.RefreshTTL,
		AutoManage: cfg.Cache.AutoManage,
	}

	if cfg.Cache.AutoManage && cfg.Agent.SystemPrompt != "" {
		entry, err := caches.CreateOrUpdate(ctx, domain.CreateCacheParams{
			Model:   cfg.Agent.Model,
			Name:    cfg.Cache.Name,
			Content: cfg.Agent.SystemPrompt,
			TTL:     cfg.Cache.TTL,
		})
		if err != nil {
			log.Warn("cache auto-manage failed, continuing without cache", "error", err)
			return nil, nil
		}
		out.Name = entry.Name
	}
	return out, nil
}

// registerBuiltins adds the stock tools. Registration failures are impossible
// here (fixed unique names) so errors are ignored.
func registerBuiltins(registry *tool.Registry) {
	registry.Register(tool.NewFuncTool("current_time", "Returns the current UTC time in RFC 3339 form.", nil,
		func(ctx context.Context, args json.RawMessage) (string, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		}))
}

func repl(ctx context.Context, loop *usecase.ConversationLoop, cache *domain.CacheConfig) error {
	conversationID := "conv_" + ulid.Make().String()
	fmt.Printf("genflow agent — conversation %s (ctrl-d to quit)\n", conversationID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}

		for frag := range loop.Run(ctx, usecase.Turn{
			ConversationID: conversationID,
			Query:          query,
			Cache:          cache,
		}) {
			switch frag.Kind {
			case usecase.FragmentText:
				fmt.Println(frag.Text)
			case usecase.FragmentToolResults:
				for _, res := range frag.Results {
					status := "ok"
					if res.IsError {
						status = "error"
					}
					fmt.Printf("  [tool %s: %s]\n", res.Call.Name, status)
				}
			case usecase.FragmentFinal:
				fmt.Println(frag.Text)
			case usecase.FragmentBudgetExhausted:
				fmt.Println("(stopped: iteration budget exhausted)")
			case usecase.FragmentError:
				fmt.Fprintf(os.Stderr, "error: %v\n", frag.Err)
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}
