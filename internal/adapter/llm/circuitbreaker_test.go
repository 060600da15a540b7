package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/domain"
	"relaybot/internal/infra/config"
)

type streamerFunc func(ctx context.Context, msgs []domain.CompletionMessage) (<-chan domain.ChunkBatch, error)

func (f streamerFunc) StreamCompletion(ctx context.Context, msgs []domain.CompletionMessage) (<-chan domain.ChunkBatch, error) {
	return f(ctx, msgs)
}

func TestBreakerPassesThrough(t *testing.T) {
	want := make(chan domain.ChunkBatch)
	inner := streamerFunc(func(context.Context, []domain.CompletionMessage) (<-chan domain.ChunkBatch, error) {
		return want, nil
	})
	b := NewBreakerStreamer(inner, config.BreakerConfig{}, discardLogger())

	ch, err := b.StreamCompletion(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, (<-chan domain.ChunkBatch)(want), ch)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	calls := 0
	inner := streamerFunc(func(context.Context, []domain.CompletionMessage) (<-chan domain.ChunkBatch, error) {
		calls++
		return nil, domain.ErrUpstreamHTTP
	})
	b := NewBreakerStreamer(inner, config.BreakerConfig{MaxFailures: 3, Timeout: time.Minute}, discardLogger())

	for i := 0; i < 3; i++ {
		_, err := b.StreamCompletion(context.Background(), nil)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.StreamCompletion(context.Background(), nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, domain.ErrUpstreamHTTP)
	assert.Equal(t, 3, calls, "open circuit must not reach the upstream")
}

func TestBreakerIgnoresCallerErrors(t *testing.T) {
	errs := []error{context.Canceled, domain.ErrMissingCredential}
	i := 0
	inner := streamerFunc(func(context.Context, []domain.CompletionMessage) (<-chan domain.ChunkBatch, error) {
		err := errs[i%len(errs)]
		i++
		return nil, err
	})
	b := NewBreakerStreamer(inner, config.BreakerConfig{MaxFailures: 1}, discardLogger())

	for j := 0; j < 4; j++ {
		_, err := b.StreamCompletion(context.Background(), nil)
		assert.False(t, errors.Is(err, gobreaker.ErrOpenState))
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	fail := true
	inner := streamerFunc(func(context.Context, []domain.CompletionMessage) (<-chan domain.ChunkBatch, error) {
		if fail {
			return nil, domain.ErrUpstreamHTTP
		}
		return make(chan domain.ChunkBatch), nil
	})
	b := NewBreakerStreamer(inner, config.BreakerConfig{MaxFailures: 1, Timeout: 20 * time.Millisecond}, discardLogger())

	_, err := b.StreamCompletion(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(40 * time.Millisecond)
	fail = false
	_, err = b.StreamCompletion(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
