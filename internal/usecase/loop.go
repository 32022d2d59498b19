package usecase

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/trace"

	"genflow/internal/domain"
	"genflow/internal/infra/tracer"
)

// FragmentKind identifies what a loop fragment carries.
type FragmentKind int

const (
	// FragmentText is intermediate model text produced alongside tool calls.
	FragmentText FragmentKind = iota
	// FragmentToolResults reports one completed tool batch, in submission
	// order.
	FragmentToolResults
	// FragmentFinal carries the model's answer; it is the last fragment of a
	// successful turn.
	FragmentFinal
	// FragmentBudgetExhausted reports that the iteration budget ran out
	// before the model produced an answer.
	FragmentBudgetExhausted
	// FragmentError reports a turn-ending failure.
	FragmentError
)

// Fragment is one element of a turn's output stream. The stream is finite,
// strictly ordered, and single-pass; it always terminates with Final,
// BudgetExhausted, or Error.
type Fragment struct {
	Kind    FragmentKind
	Text    string
	Results []domain.ToolResult
	Usage   domain.Usage
	Err     error
}

// Turn is one user query submitted to the loop.
type Turn struct {
	ConversationID string
	Query          string
	// Mode overrides the configured function-calling policy for this turn.
	Mode domain.ToolMode
	// Cache optionally binds the turn to a server-side cached-content entry.
	Cache *domain.CacheConfig
}

// ToolRunner runs one ordered batch of tool invocations. Satisfied by any
// executor.Concurrent instantiation.
type ToolRunner interface {
	ExecuteTools(ctx context.Context, batch []domain.ToolInvocation) (domain.ExecutionResult, error)
}

// LoopDeps wires the conversation loop's collaborators. Model, Storage, Tools
// and Runner are required; the rest are optional.
type LoopDeps struct {
	Model      domain.ModelAPI
	Storage    domain.ChatStorage
	Tools      domain.ToolResolver
	Runner     ToolRunner
	Caches     *CacheManager
	Classifier *ErrorClassifier
	Bus        domain.EventBus
	Logger     *slog.Logger

	SystemPrompt  string
	ModelName     string
	MaxIterations int
	// RetryCount is retries after a failed model call; attempts = RetryCount+1.
	RetryCount int
	ToolMode   domain.ToolMode
}

// ConversationLoop drives the model↔tool state machine for one turn at a
// time: request the model, execute any requested tools, feed results back,
// repeat until the model answers in plain text or the iteration budget runs
// out.
type ConversationLoop struct {
	deps LoopDeps
}

// NewConversationLoop creates a loop from deps. MaxIterations defaults to 10.
func NewConversationLoop(deps LoopDeps) *ConversationLoop {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = 10
	}
	return &ConversationLoop{deps: deps}
}

const (
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 10 * time.Second
)

// retryBackoff computes exponential backoff with jitter.
func retryBackoff(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	// Add 0-25% jitter.
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}

// Run executes one turn and returns its fragment stream. Fragments are
// produced lazily as the turn progresses; the channel closes after the
// terminal fragment. Cancelling ctx stops production.
func (l *ConversationLoop) Run(ctx context.Context, turn Turn) <-chan Fragment {
	out := make(chan Fragment)
	go func() {
		defer close(out)
		l.runTurn(ctx, turn, out)
	}()
	return out
}

func (l *ConversationLoop) runTurn(ctx context.Context, turn Turn, out chan<- Fragment) {
	ctx = domain.ContextWithConversationID(ctx, turn.ConversationID)
	ctx, span := tracer.StartSpan(ctx, "loop.turn",
		trace.WithAttributes(tracer.StringAttr("conversation.id", turn.ConversationID)),
	)
	defer span.End()

	publishEvent(l.deps.Bus, ctx, domain.EventTurnStarted, nil)

	userMsg := domain.Message{Role: domain.RoleUser, Content: turn.Query, Timestamp: time.Now()}
	if err := l.deps.Storage.AppendHistory(ctx, turn.ConversationID, []domain.Message{userMsg}); err != nil {
		l.fail(ctx, span, out, domain.WrapOp("ConversationLoop.Run", err))
		return
	}

	schemas := l.deps.Tools.Schemas()
	mode := turn.Mode
	if mode == "" {
		mode = l.deps.ToolMode
	}
	if mode == "" {
		mode = domain.DefaultToolMode(len(schemas))
	}

	cacheName := ""
	if turn.Cache != nil {
		cacheName = turn.Cache.Name
	}

	var totalUsage domain.Usage

	for i := 0; i < l.deps.MaxIterations; i++ {
		if ctx.Err() != nil {
			l.fail(ctx, span, out, ctx.Err())
			return
		}
		span.AddEvent("loop.iteration", trace.WithAttributes(tracer.IntAttr("iteration", i)))

		history, err := l.deps.Storage.GetHistory(ctx, turn.ConversationID)
		if err != nil {
			l.fail(ctx, span, out, domain.WrapOp("ConversationLoop.Run", err))
			return
		}

		req := domain.GenerateRequest{
			Model:             l.deps.ModelName,
			Messages:          history,
			Tools:             schemas,
			Mode:              mode,
			SystemInstruction: l.deps.SystemPrompt,
			CachedContent:     cacheName,
		}

		publishEvent(l.deps.Bus, ctx, domain.EventModelCallStarted, nil)
		resp, err := l.callModelWithRetry(ctx, req)
		if err != nil {
			l.fail(ctx, span, out, err)
			return
		}
		publishEvent(l.deps.Bus, ctx, domain.EventModelCallCompleted, nil)

		totalUsage.PromptTokens += resp.Usage.PromptTokens
		totalUsage.CompletionTokens += resp.Usage.CompletionTokens
		totalUsage.TotalTokens += resp.Usage.TotalTokens

		if err := l.deps.Storage.AppendHistory(ctx, turn.ConversationID, []domain.Message{resp.Message}); err != nil {
			l.fail(ctx, span, out, domain.WrapOp("ConversationLoop.Run", err))
			return
		}

		l.deps.Logger.Debug("model response",
			"iteration", i,
			"tool_calls", len(resp.Message.Calls),
			"tokens", resp.Usage.TotalTokens,
		)

		// No tool calls: the answer is final.
		if len(resp.Message.Calls) == 0 {
			if !l.emit(ctx, out, Fragment{Kind: FragmentFinal, Text: resp.Message.Content, Usage: totalUsage}) {
				return
			}
			l.refreshCache(ctx, turn.Cache)
			publishEvent(l.deps.Bus, ctx, domain.EventTurnCompleted, map[string]int{"iterations": i + 1})
			tracer.SetOK(span)
			return
		}

		// Intermediate text riding along with the calls.
		if resp.Message.Content != "" {
			if !l.emit(ctx, out, Fragment{Kind: FragmentText, Text: resp.Message.Content}) {
				return
			}
		}

		batch, err := l.resolveCalls(resp.Message.Calls)
		if err != nil {
			l.fail(ctx, span, out, err)
			return
		}

		publishEvent(l.deps.Bus, ctx, domain.EventToolBatchStarted, map[string]int{"size": len(batch)})
		exec, err := l.deps.Runner.ExecuteTools(ctx, batch)
		if err != nil {
			l.fail(ctx, span, out, err)
			return
		}
		publishEvent(l.deps.Bus, ctx, domain.EventToolBatchCompleted, map[string]int{"size": len(exec.Results)})

		// Tool results enter history as one block, strictly after the batch.
		toolMsgs := make([]domain.Message, len(exec.Results))
		for j, res := range exec.Results {
			toolMsgs[j] = toolResultMessage(res)
		}
		if err := l.deps.Storage.AppendHistory(ctx, turn.ConversationID, toolMsgs); err != nil {
			l.fail(ctx, span, out, domain.WrapOp("ConversationLoop.Run", err))
			return
		}

		if !l.emit(ctx, out, Fragment{Kind: FragmentToolResults, Results: exec.Results}) {
			return
		}

		if !exec.ShouldProceed {
			if !l.emit(ctx, out, Fragment{
				Kind:  FragmentFinal,
				Text:  "conversation stopped: a tool reported a fatal failure",
				Usage: totalUsage,
			}) {
				return
			}
			publishEvent(l.deps.Bus, ctx, domain.EventTurnCompleted, map[string]int{"iterations": i + 1})
			tracer.SetOK(span)
			return
		}
	}

	tracer.RecordError(span, domain.ErrMaxIterations)
	publishEvent(l.deps.Bus, ctx, domain.EventLoopError, map[string]string{"error": domain.ErrMaxIterations.Error()})
	l.emit(ctx, out, Fragment{Kind: FragmentBudgetExhausted, Err: domain.ErrMaxIterations, Usage: totalUsage})
}

// callModelWithRetry calls the model, retrying retryable failures with
// exponential backoff on an identical request. A malformed response is
// permanent and never retried.
func (l *ConversationLoop) callModelWithRetry(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	attempts := l.deps.RetryCount + 1
	if l.deps.Classifier == nil {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx, callSpan := tracer.StartSpan(ctx, "loop.model_call")
		resp, err := l.deps.Model.Generate(callCtx, req)
		callSpan.End()

		if err == nil {
			return resp, nil
		}
		lastErr = err

		if l.deps.Classifier == nil {
			return nil, lastErr
		}
		classified := l.deps.Classifier.Classify(err)
		if classified.Category != ErrorCategoryRetryable {
			return nil, lastErr
		}

		if attempt < attempts-1 {
			delay := retryBackoff(attempt)
			l.deps.Logger.Info("retrying model call after error",
				"attempt", attempt+1, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// resolveCalls maps function calls to invocations. A call naming an unknown
// tool fails the turn with ErrToolNotFound.
func (l *ConversationLoop) resolveCalls(calls []domain.FunctionCall) ([]domain.ToolInvocation, error) {
	batch := make([]domain.ToolInvocation, 0, len(calls))
	for _, call := range calls {
		t, err := l.deps.Tools.Get(call.Name)
		if err != nil {
			return nil, err
		}
		batch = append(batch, domain.ToolInvocation{Tool: t, Call: call})
	}
	return batch, nil
}

// refreshCache slides the cache's expiry after a turn that used it. A failed
// refresh is logged and never fails the produced answer.
func (l *ConversationLoop) refreshCache(ctx context.Context, cache *domain.CacheConfig) {
	if cache == nil || cache.Name == "" || cache.RefreshTTL <= 0 || l.deps.Caches == nil {
		return
	}
	if _, err := l.deps.Caches.GetAndRefresh(ctx, cache.Name, cache.RefreshTTL); err != nil {
		l.deps.Logger.Warn("cache refresh failed", "cache", cache.Name, "error", err)
	}
}

func (l *ConversationLoop) fail(ctx context.Context, span trace.Span, out chan<- Fragment, err error) {
	tracer.RecordError(span, err)
	publishEvent(l.deps.Bus, ctx, domain.EventLoopError, map[string]string{"error": err.Error()})
	l.emit(ctx, out, Fragment{Kind: FragmentError, Err: err})
}

func (l *ConversationLoop) emit(ctx context.Context, out chan<- Fragment, f Fragment) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// toolResultMessage renders an executed tool result as a tool-role message.
func toolResultMessage(res domain.ToolResult) domain.Message {
	content := res.Content
	if res.IsError {
		content = "error: " + content
	}
	return domain.Message{
		Role:      domain.RoleTool,
		Name:      res.Call.Name,
		Content:   content,
		Calls:     []domain.FunctionCall{res.Call},
		Timestamp: time.Now(),
	}
}
