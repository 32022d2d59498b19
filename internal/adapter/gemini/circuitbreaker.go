package gemini

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sony/gobreaker/v2"

	"genflow/internal/domain"
	"genflow/internal/infra/config"
)

// BreakerClient wraps a domain.ModelAPI with a circuit breaker. After
// MaxFailures consecutive failures the circuit opens and calls fail fast
// with ErrProviderError until Timeout elapses.
type BreakerClient struct {
	inner   domain.ModelAPI
	breaker *gobreaker.CircuitBreaker[*domain.GenerateResponse]
}

// NewBreakerClient wraps inner according to cfg. When the breaker is
// disabled, inner is returned unwrapped.
func NewBreakerClient(inner domain.ModelAPI, cfg config.BreakerConfig, logger *slog.Logger) domain.ModelAPI {
	if !cfg.Enabled {
		return inner
	}
	if logger == nil {
		logger = slog.Default()
	}

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	settings := gobreaker.Settings{
		Name:     "model-api",
		Timeout:  cfg.Timeout,
		Interval: cfg.Interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Auth and malformed-response errors are not provider outages; they
		// do not count toward tripping the circuit.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return errors.Is(err, domain.ErrAuthInvalid) || errors.Is(err, domain.ErrModelResponse)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &BreakerClient{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[*domain.GenerateResponse](settings),
	}
}

// Name implements domain.ModelAPI.
func (b *BreakerClient) Name() string { return b.inner.Name() }

// Generate implements domain.ModelAPI through the breaker.
func (b *BreakerClient) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	resp, err := b.breaker.Execute(func() (*domain.GenerateResponse, error) {
		return b.inner.Generate(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.NewDomainError("BreakerClient.Generate", domain.ErrProviderError, "circuit open")
		}
		return nil, err
	}
	return resp, nil
}
