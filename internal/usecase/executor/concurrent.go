package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"genflow/internal/domain"
	"genflow/internal/infra/tracer"
)

// Config configures a Concurrent executor.
type Config[E any] struct {
	// MaxBatchSize bounds the number of in-flight invocations. 0 means
	// unbounded: the whole batch runs as a single wave.
	MaxBatchSize int
	// Stop selects the fatal-failure policy. Default StopAfterWave.
	Stop StopMode
	// EventBuffer sizes the event queue. 0 uses the emitter default.
	EventBuffer int
	// Limiter optionally paces invocation dispatch.
	Limiter *rate.Limiter
	// Hooks build the caller-typed events.
	Hooks Hooks[E]
}

// Concurrent executes a batch in parallel waves of at most MaxBatchSize
// invocations. A wave fully completes before the next one starts; there is
// no work-stealing across waves. The bound is read once per batch and must
// not be mutated while a batch is in flight.
type Concurrent[E any] struct {
	cfg     Config[E]
	emitter *Emitter[E]
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewConcurrent creates a concurrent executor.
func NewConcurrent[E any](cfg Config[E], logger *slog.Logger) *Concurrent[E] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Concurrent[E]{
		cfg:     cfg,
		emitter: NewEmitter[E](cfg.EventBuffer),
		logger:  logger,
	}
}

// Events returns the executor's event stream. The channel is closed by
// Shutdown.
func (c *Concurrent[E]) Events() <-chan E {
	return c.emitter.Events()
}

// Shutdown stops event emission, lets the in-flight wave finish, and
// prevents any further dispatch. Safe to call more than once.
func (c *Concurrent[E]) Shutdown() {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()

	c.emitter.interrupt()
	c.wg.Wait()
	c.emitter.finish()

	if !already {
		c.logger.Debug("executor shut down")
	}
}

// enter registers a batch against the shutdown barrier.
func (c *Concurrent[E]) enter() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

func (c *Concurrent[E]) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// ExecuteTools implements Executor. Results are collected in an indexed
// slice so the output order matches the submission order even when
// invocations complete out of order.
func (c *Concurrent[E]) ExecuteTools(ctx context.Context, batch []domain.ToolInvocation) (domain.ExecutionResult, error) {
	if !c.enter() {
		return domain.ExecutionResult{}, domain.NewDomainError("Concurrent.ExecuteTools", domain.ErrExecutorClosed, "")
	}
	defer c.wg.Done()

	ctx, span := tracer.StartSpan(ctx, "executor.batch",
		trace.WithAttributes(tracer.IntAttr("batch.size", len(batch))),
	)
	defer span.End()

	results := make([]domain.ToolResult, len(batch))
	if len(batch) == 0 {
		return domain.ExecutionResult{Results: results, ShouldProceed: true}, nil
	}

	waveSize := c.cfg.MaxBatchSize
	if waveSize <= 0 || waveSize > len(batch) {
		waveSize = len(batch)
	}
	waves := (len(batch) + waveSize - 1) / waveSize

	fatal := false
	for w := 0; w < waves; w++ {
		start := w * waveSize
		end := start + waveSize
		if end > len(batch) {
			end = len(batch)
		}

		if c.isClosed() {
			markSkipped(results, batch, start, "executor shut down")
			span.AddEvent("batch.interrupted")
			return domain.ExecutionResult{Results: results, ShouldProceed: false},
				domain.NewDomainError("Concurrent.ExecuteTools", domain.ErrExecutorClosed, "mid-batch")
		}

		if fatal && c.cfg.Stop == StopAfterWave {
			markSkipped(results, batch, start, "skipped after fatal tool failure")
			break
		}

		c.emitProgress(w, waves, end-start)
		c.logger.Debug("dispatching wave", "wave", w, "waves", waves, "size", end-start)

		var wwg sync.WaitGroup
		for i := start; i < end; i++ {
			if c.cfg.Limiter != nil {
				if err := c.cfg.Limiter.Wait(ctx); err != nil {
					results[i] = failureResult(batch[i].Call, err, false)
					c.emitResult(results[i])
					c.emitError(batch[i].Call, err)
					continue
				}
			}
			wwg.Add(1)
			go func(idx int) {
				defer wwg.Done()
				res := c.runInvocation(ctx, batch[idx])
				results[idx] = res
				c.emitResult(res)
				if res.IsError {
					c.emitError(res.Call, errors.New(res.Content))
				}
			}(i)
		}
		wwg.Wait()

		for i := start; i < end; i++ {
			if results[i].Fatal {
				fatal = true
			}
		}
	}

	if fatal {
		span.AddEvent("batch.fatal")
	}
	tracer.SetOK(span)
	return domain.ExecutionResult{Results: results, ShouldProceed: !fatal}, nil
}

// runInvocation executes a single tool call. Tool panics and errors become
// error-marked results; they never abort sibling invocations.
func (c *Concurrent[E]) runInvocation(ctx context.Context, inv domain.ToolInvocation) (res domain.ToolResult) {
	ctx, span := tracer.StartSpan(ctx, "executor.invoke",
		trace.WithAttributes(tracer.StringAttr("tool.name", inv.Call.Name)),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: panic: %v", domain.ErrToolFailure, r)
			c.logger.Error("tool panicked", "tool", inv.Call.Name, "panic", r)
			tracer.RecordError(span, err)
			res = failureResult(inv.Call, err, false)
		}
	}()

	start := time.Now()
	out, err := inv.Tool.Execute(ctx, inv.Call.Args)
	elapsed := time.Since(start)

	if err != nil {
		var fatalErr *domain.FatalToolError
		isFatal := errors.As(err, &fatalErr)
		c.logger.Warn("tool failed",
			"tool", inv.Call.Name, "fatal", isFatal, "duration", elapsed, "error", err)
		tracer.RecordError(span, err)
		return failureResult(inv.Call, err, isFatal)
	}

	c.logger.Debug("tool completed", "tool", inv.Call.Name, "duration", elapsed)
	tracer.SetOK(span)

	if out == nil {
		return domain.ToolResult{Call: inv.Call}
	}
	res = *out
	res.Call = inv.Call
	return res
}

func (c *Concurrent[E]) emitProgress(wave, waves, size int) {
	if c.cfg.Hooks.Progress == nil {
		return
	}
	c.emitter.Emit(c.cfg.Hooks.Progress(wave, waves, size))
}

func (c *Concurrent[E]) emitResult(res domain.ToolResult) {
	if c.cfg.Hooks.Result == nil {
		return
	}
	c.emitter.Emit(c.cfg.Hooks.Result(res))
}

func (c *Concurrent[E]) emitError(call domain.FunctionCall, err error) {
	if c.cfg.Hooks.Error == nil {
		return
	}
	c.emitter.Emit(c.cfg.Hooks.Error(call, err))
}

func failureResult(call domain.FunctionCall, err error, fatal bool) domain.ToolResult {
	return domain.ToolResult{
		Call:    call,
		Content: err.Error(),
		IsError: true,
		Fatal:   fatal,
	}
}

// markSkipped records error results for invocations that never ran, keeping
// each slot correlated to its call.
func markSkipped(results []domain.ToolResult, batch []domain.ToolInvocation, from int, reason string) {
	for i := from; i < len(batch); i++ {
		results[i] = domain.ToolResult{Call: batch[i].Call, Content: reason, IsError: true}
	}
}
