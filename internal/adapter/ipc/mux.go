package ipc

import (
	"context"
	"log/slog"
	"sync"

	"relaybot/internal/domain"
)

// Mux routes envelopes to handlers by event type. Envelopes with no
// registered handler are dropped without error.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]domain.EnvelopeHandler
	logger   *slog.Logger
}

// NewMux creates an empty router.
func NewMux(logger *slog.Logger) *Mux {
	return &Mux{handlers: make(map[string]domain.EnvelopeHandler), logger: logger}
}

// Handle registers h for eventType, replacing any previous handler.
func (m *Mux) Handle(eventType string, h domain.EnvelopeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[eventType] = h
}

// Dispatch implements domain.EnvelopeHandler.
func (m *Mux) Dispatch(ctx context.Context, env domain.Envelope) error {
	m.mu.RLock()
	h, ok := m.handlers[env.EventType]
	m.mu.RUnlock()
	if !ok {
		m.logger.Debug("no handler for event type", "event_type", env.EventType)
		return nil
	}
	return h.Dispatch(ctx, env)
}

var _ domain.EnvelopeHandler = (*Mux)(nil)
