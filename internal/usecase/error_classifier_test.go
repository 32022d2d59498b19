package usecase

import (
	"errors"
	"fmt"
	"testing"

	"genflow/internal/domain"
)

func TestClassifySentinels(t *testing.T) {
	c := NewErrorClassifier()

	tests := []struct {
		name     string
		err      error
		category ErrorCategory
		sentinel error
	}{
		{"rate limit", fmt.Errorf("wrapped: %w", domain.ErrRateLimit), ErrorCategoryRetryable, domain.ErrRateLimit},
		{"provider error", fmt.Errorf("wrapped: %w", domain.ErrProviderError), ErrorCategoryRetryable, domain.ErrProviderError},
		{"auth", fmt.Errorf("wrapped: %w", domain.ErrAuthInvalid), ErrorCategoryPermanent, domain.ErrAuthInvalid},
		{"malformed response", fmt.Errorf("wrapped: %w", domain.ErrModelResponse), ErrorCategoryPermanent, domain.ErrModelResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.err)
			if got.Category != tt.category {
				t.Errorf("category = %d, want %d", got.Category, tt.category)
			}
			if !errors.Is(got.Sentinel, tt.sentinel) {
				t.Errorf("sentinel = %v, want %v", got.Sentinel, tt.sentinel)
			}
		})
	}
}

func TestClassifyByStatusCode(t *testing.T) {
	c := NewErrorClassifier()

	tests := []struct {
		status   int
		category ErrorCategory
	}{
		{429, ErrorCategoryRetryable},
		{500, ErrorCategoryRetryable},
		{503, ErrorCategoryRetryable},
		{401, ErrorCategoryPermanent},
		{403, ErrorCategoryPermanent},
		{400, ErrorCategoryPermanent},
	}

	for _, tt := range tests {
		err := fmt.Errorf("API error %d: body", tt.status)
		got := c.Classify(err)
		if got.Category != tt.category {
			t.Errorf("status %d: category = %d, want %d", tt.status, got.Category, tt.category)
		}
		if got.StatusCode != tt.status {
			t.Errorf("status %d: extracted %d", tt.status, got.StatusCode)
		}
	}
}

func TestClassifyNetworkErrors(t *testing.T) {
	c := NewErrorClassifier()

	for _, msg := range []string{
		"dial tcp: connection refused",
		"context deadline exceeded",
		"read: connection reset by peer",
	} {
		got := c.Classify(errors.New(msg))
		if got.Category != ErrorCategoryRetryable {
			t.Errorf("%q: category = %d, want retryable", msg, got.Category)
		}
	}
}

func TestClassifyUnknown(t *testing.T) {
	c := NewErrorClassifier()
	got := c.Classify(errors.New("something odd"))
	if got.Category != ErrorCategoryUnknown {
		t.Errorf("category = %d, want unknown", got.Category)
	}
	if c.Classify(nil).Original != nil {
		t.Error("nil error should classify to zero value")
	}
}
