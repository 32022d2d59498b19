// Package executor runs batches of model-requested tool invocations.
//
// Invariants:
//   - the result sequence always has the submission order and length of the
//     input batch, regardless of completion order.
//   - a failing invocation never cancels its siblings; the failure is
//     recorded in its slot.
package executor

import (
	"context"

	"genflow/internal/domain"
)

// Executor is the strategy contract for running one ordered batch of tool
// invocations. Implementations may emit caller-typed events through Events
// while a batch runs; the event sequence is finite and single-pass.
// Shutdown releases executor-owned resources; no events are emitted and no
// new dispatch occurs afterwards.
type Executor[E any] interface {
	ExecuteTools(ctx context.Context, batch []domain.ToolInvocation) (domain.ExecutionResult, error)
	Events() <-chan E
	Shutdown()
}

// StopMode decides how a fatal tool failure affects the rest of the batch.
type StopMode int

const (
	// StopAfterWave finishes the wave containing the fatal failure and skips
	// the remaining waves. Skipped invocations get error-marked results.
	StopAfterWave StopMode = iota
	// RunAllWaves executes every wave; the fatal flag only affects
	// ShouldProceed.
	RunAllWaves
)

// Hooks produce the caller-chosen event payloads. A nil hook suppresses that
// event kind; with all hooks nil the executor emits nothing.
type Hooks[E any] struct {
	// Progress is emitted once before each wave is dispatched.
	Progress func(wave, waves, size int) E
	// Result is emitted once per completed invocation, success or failure.
	Result func(res domain.ToolResult) E
	// Error is emitted, in addition to Result, when an invocation fails.
	Error func(call domain.FunctionCall, err error) E
}
