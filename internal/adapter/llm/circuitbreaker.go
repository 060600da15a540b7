package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"relaybot/internal/domain"
	"relaybot/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerStreamer guards stream initiation with a circuit breaker. Once the
// upstream has failed MaxFailures times in a row, calls fail fast until the
// open timeout elapses. Read errors after the stream has started do not count.
type BreakerStreamer struct {
	inner   domain.CompletionStreamer
	breaker *gobreaker.CircuitBreaker[<-chan domain.ChunkBatch]
}

// NewBreakerStreamer wraps inner. Zero config fields take defaults.
func NewBreakerStreamer(inner domain.CompletionStreamer, cfg config.BreakerConfig, logger *slog.Logger) *BreakerStreamer {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[<-chan domain.ChunkBatch](gobreaker.Settings{
		Name:        "llm:stream",
		MaxRequests: 1, // one probe while half-open
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Caller cancellation and our own misconfiguration say nothing about
		// upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, domain.ErrMissingCredential)
		},
	})

	return &BreakerStreamer{inner: inner, breaker: cb}
}

// StreamCompletion implements domain.CompletionStreamer.
func (b *BreakerStreamer) StreamCompletion(ctx context.Context, messages []domain.CompletionMessage) (<-chan domain.ChunkBatch, error) {
	ch, err := b.breaker.Execute(func() (<-chan domain.ChunkBatch, error) {
		return b.inner.StreamCompletion(ctx, messages)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: completion circuit open: %w", domain.ErrUpstreamHTTP, err)
	}
	return ch, err
}

// State returns the current breaker state for monitoring.
func (b *BreakerStreamer) State() gobreaker.State {
	return b.breaker.State()
}

var _ domain.CompletionStreamer = (*BreakerStreamer)(nil)
