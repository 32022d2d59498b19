package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"genflow/internal/adapter/storage"
	"genflow/internal/adapter/tool"
	"genflow/internal/domain"
	"genflow/internal/usecase/executor"
)

// scriptedModel replays a fixed sequence of responses or errors.
type scriptedModel struct {
	steps []func() (*domain.GenerateResponse, error)
	calls int
	reqs  []domain.GenerateRequest
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) Generate(_ context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	m.reqs = append(m.reqs, req)
	if m.calls >= len(m.steps) {
		return nil, fmt.Errorf("scripted model exhausted after %d calls", m.calls)
	}
	step := m.steps[m.calls]
	m.calls++
	return step()
}

func textResponse(text string) func() (*domain.GenerateResponse, error) {
	return func() (*domain.GenerateResponse, error) {
		return &domain.GenerateResponse{
			Message: domain.Message{Role: domain.RoleModel, Content: text, Timestamp: time.Now()},
			Usage:   domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}, nil
	}
}

func callResponse(names ...string) func() (*domain.GenerateResponse, error) {
	return func() (*domain.GenerateResponse, error) {
		msg := domain.Message{Role: domain.RoleModel, Timestamp: time.Now()}
		for i, name := range names {
			msg.Calls = append(msg.Calls, domain.FunctionCall{
				ID:   fmt.Sprintf("call_%d", i),
				Name: name,
				Args: json.RawMessage(`{}`),
			})
		}
		return &domain.GenerateResponse{Message: msg}, nil
	}
}

func errResponse(err error) func() (*domain.GenerateResponse, error) {
	return func() (*domain.GenerateResponse, error) { return nil, err }
}

type loopFixture struct {
	model    *scriptedModel
	store    *storage.MemoryStore
	registry *tool.Registry
	exec     *executor.Concurrent[string]
	loop     *ConversationLoop
}

func newLoopFixture(t *testing.T, model *scriptedModel, opts func(*LoopDeps)) *loopFixture {
	t.Helper()

	registry := tool.NewRegistry(nil)
	exec := executor.NewConcurrent(executor.Config[string]{}, slog.Default())
	t.Cleanup(exec.Shutdown)

	deps := LoopDeps{
		Model:         model,
		Storage:       storage.NewMemoryStore(),
		Tools:         registry,
		Runner:        exec,
		Classifier:    NewErrorClassifier(),
		Logger:        slog.Default(),
		ModelName:     "gemini-2.0-flash",
		MaxIterations: 5,
		RetryCount:    1,
	}
	if opts != nil {
		opts(&deps)
	}

	return &loopFixture{
		model:    model,
		store:    deps.Storage.(*storage.MemoryStore),
		registry: registry,
		exec:     exec,
		loop:     NewConversationLoop(deps),
	}
}

func collect(t *testing.T, ch <-chan Fragment) []Fragment {
	t.Helper()
	var out []Fragment
	for f := range ch {
		out = append(out, f)
	}
	return out
}

func registerEcho(t *testing.T, f *loopFixture, name, reply string) {
	t.Helper()
	err := f.registry.Register(tool.NewFuncTool(name, "test tool", nil,
		func(ctx context.Context, args json.RawMessage) (string, error) {
			return reply, nil
		}))
	require.NoError(t, err)
}

func TestTurnWithoutTools(t *testing.T) {
	model := &scriptedModel{steps: []func() (*domain.GenerateResponse, error){
		textResponse("Hello!"),
	}}
	f := newLoopFixture(t, model, nil)

	frags := collect(t, f.loop.Run(context.Background(), Turn{ConversationID: "c1", Query: "Hi"}))
	require.Len(t, frags, 1)
	require.Equal(t, FragmentFinal, frags[0].Kind)
	require.Equal(t, "Hello!", frags[0].Text)
	require.Equal(t, 15, frags[0].Usage.TotalTokens)

	history, err := f.store.GetHistory(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, history, 2) // user + model
	require.Equal(t, domain.RoleUser, history[0].Role)
	require.Equal(t, domain.RoleModel, history[1].Role)
}

func TestTurnWithToolRound(t *testing.T) {
	model := &scriptedModel{steps: []func() (*domain.GenerateResponse, error){
		callResponse("lookup"),
		textResponse("The answer is 42."),
	}}
	f := newLoopFixture(t, model, nil)
	registerEcho(t, f, "lookup", "42")

	frags := collect(t, f.loop.Run(context.Background(), Turn{ConversationID: "c1", Query: "What is the answer?"}))
	require.Len(t, frags, 2)
	require.Equal(t, FragmentToolResults, frags[0].Kind)
	require.Len(t, frags[0].Results, 1)
	require.Equal(t, "42", frags[0].Results[0].Content)
	require.Equal(t, FragmentFinal, frags[1].Kind)
	require.Equal(t, "The answer is 42.", frags[1].Text)

	// History: user, model(call), tool result, model(final) — tool results
	// appended strictly after the batch.
	history, err := f.store.GetHistory(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	require.Equal(t, domain.RoleTool, history[2].Role)
	require.Equal(t, "lookup", history[2].Name)

	// Second model call saw the tool result in its request.
	require.Len(t, f.model.reqs, 2)
	last := f.model.reqs[1].Messages
	require.Equal(t, domain.RoleTool, last[len(last)-1].Role)
}

func TestToolResultsKeepCallOrder(t *testing.T) {
	model := &scriptedModel{steps: []func() (*domain.GenerateResponse, error){
		callResponse("alpha", "beta", "gamma"),
		textResponse("done"),
	}}
	f := newLoopFixture(t, model, nil)
	registerEcho(t, f, "alpha", "a")
	registerEcho(t, f, "beta", "b")
	registerEcho(t, f, "gamma", "c")

	frags := collect(t, f.loop.Run(context.Background(), Turn{ConversationID: "c1", Query: "go"}))
	require.Equal(t, FragmentToolResults, frags[0].Kind)
	got := []string{frags[0].Results[0].Content, frags[0].Results[1].Content, frags[0].Results[2].Content}
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestUnknownToolFailsTurn(t *testing.T) {
	model := &scriptedModel{steps: []func() (*domain.GenerateResponse, error){
		callResponse("no_such_tool"),
	}}
	f := newLoopFixture(t, model, nil)

	frags := collect(t, f.loop.Run(context.Background(), Turn{ConversationID: "c1", Query: "go"}))
	last := frags[len(frags)-1]
	require.Equal(t, FragmentError, last.Kind)
	require.ErrorIs(t, last.Err, domain.ErrToolNotFound)
}

func TestBudgetExhaustion(t *testing.T) {
	// The model asks for a tool every iteration and never answers.
	steps := make([]func() (*domain.GenerateResponse, error), 5)
	for i := range steps {
		steps[i] = callResponse("ping")
	}
	model := &scriptedModel{steps: steps}
	f := newLoopFixture(t, model, func(d *LoopDeps) { d.MaxIterations = 3 })
	registerEcho(t, f, "ping", "pong")

	frags := collect(t, f.loop.Run(context.Background(), Turn{ConversationID: "c1", Query: "loop forever"}))
	last := frags[len(frags)-1]
	require.Equal(t, FragmentBudgetExhausted, last.Kind)
	require.ErrorIs(t, last.Err, domain.ErrMaxIterations)
	// Exactly MaxIterations model calls, no more.
	require.Equal(t, 3, f.model.calls)
}

func TestRetryOnRateLimitThenSuccess(t *testing.T) {
	model := &scriptedModel{steps: []func() (*domain.GenerateResponse, error){
		errResponse(fmt.Errorf("wrapped: %w", domain.ErrRateLimit)),
		textResponse("recovered"),
	}}
	f := newLoopFixture(t, model, func(d *LoopDeps) { d.RetryCount = 2 })

	frags := collect(t, f.loop.Run(context.Background(), Turn{ConversationID: "c1", Query: "hi"}))
	require.Equal(t, FragmentFinal, frags[len(frags)-1].Kind)
	require.Equal(t, "recovered", frags[len(frags)-1].Text)
	require.Equal(t, 2, f.model.calls)
}

func TestMalformedResponseNotRetried(t *testing.T) {
	model := &scriptedModel{steps: []func() (*domain.GenerateResponse, error){
		errResponse(fmt.Errorf("wrapped: %w", domain.ErrModelResponse)),
		textResponse("should never be reached"),
	}}
	f := newLoopFixture(t, model, func(d *LoopDeps) { d.RetryCount = 3 })

	frags := collect(t, f.loop.Run(context.Background(), Turn{ConversationID: "c1", Query: "hi"}))
	last := frags[len(frags)-1]
	require.Equal(t, FragmentError, last.Kind)
	require.ErrorIs(t, last.Err, domain.ErrModelResponse)
	require.Equal(t, 1, f.model.calls, "validation failures must not be retried")
}

func TestFatalToolStopsTurn(t *testing.T) {
	model := &scriptedModel{steps: []func() (*domain.GenerateResponse, error){
		callResponse("dangerous"),
		textResponse("should never be reached"),
	}}
	f := newLoopFixture(t, model, nil)
	err := f.registry.Register(tool.NewFuncTool("dangerous", "always fatal", nil,
		func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", domain.NewFatalToolError(fmt.Errorf("refused"))
		}))
	require.NoError(t, err)

	frags := collect(t, f.loop.Run(context.Background(), Turn{ConversationID: "c1", Query: "go"}))
	last := frags[len(frags)-1]
	require.Equal(t, FragmentFinal, last.Kind)
	require.Contains(t, last.Text, "stopped")
	require.Equal(t, 1, f.model.calls, "no model call after a fatal tool failure")
}

func TestCacheRefreshedAfterTurn(t *testing.T) {
	model := &scriptedModel{steps: []func() (*domain.GenerateResponse, error){
		textResponse("cached answer"),
	}}
	api := newFakeCacheAPI()
	f := newLoopFixture(t, model, func(d *LoopDeps) {
		d.Caches = NewCacheManager(api, nil, slog.Default())
	})

	_, err := api.CreateCache(context.Background(), domain.CreateCacheParams{Name: "cachedContents/x", TTL: time.Minute})
	require.NoError(t, err)
	before := api.entries["cachedContents/x"].ExpireTime

	frags := collect(t, f.loop.Run(context.Background(), Turn{
		ConversationID: "c1",
		Query:          "hi",
		Cache:          &domain.CacheConfig{Name: "cachedContents/x", RefreshTTL: time.Hour},
	}))
	require.Equal(t, FragmentFinal, frags[len(frags)-1].Kind)
	require.True(t, api.entries["cachedContents/x"].ExpireTime.After(before), "cache expiry not slid")

	// The cache name rode along on the request.
	require.Equal(t, "cachedContents/x", f.model.reqs[0].CachedContent)
}

func TestCacheRefreshFailureDoesNotFailTurn(t *testing.T) {
	model := &scriptedModel{steps: []func() (*domain.GenerateResponse, error){
		textResponse("fine"),
	}}
	f := newLoopFixture(t, model, func(d *LoopDeps) {
		d.Caches = NewCacheManager(newFakeCacheAPI(), nil, slog.Default())
	})

	frags := collect(t, f.loop.Run(context.Background(), Turn{
		ConversationID: "c1",
		Query:          "hi",
		Cache:          &domain.CacheConfig{Name: "cachedContents/absent", RefreshTTL: time.Hour},
	}))
	require.Equal(t, FragmentFinal, frags[len(frags)-1].Kind)
	require.Equal(t, "fine", frags[len(frags)-1].Text)
}

func TestIntermediateTextFragment(t *testing.T) {
	model := &scriptedModel{steps: []func() (*domain.GenerateResponse, error){
		func() (*domain.GenerateResponse, error) {
			return &domain.GenerateResponse{
				Message: domain.Message{
					Role:    domain.RoleModel,
					Content: "Checking...",
					Calls: []domain.FunctionCall{
						{ID: "call_0", Name: "lookup", Args: json.RawMessage(`{}`)},
					},
					Timestamp: time.Now(),
				},
			}, nil
		},
		textResponse("Found it."),
	}}
	f := newLoopFixture(t, model, nil)
	registerEcho(t, f, "lookup", "x")

	frags := collect(t, f.loop.Run(context.Background(), Turn{ConversationID: "c1", Query: "go"}))
	require.Equal(t, FragmentText, frags[0].Kind)
	require.Equal(t, "Checking...", frags[0].Text)
	require.Equal(t, FragmentToolResults, frags[1].Kind)
	require.Equal(t, FragmentFinal, frags[2].Kind)
}
