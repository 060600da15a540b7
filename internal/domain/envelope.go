package domain

import "context"

// Envelope event types relayed from the webhook front end.
const (
	// EventTypeCallback is the Slack Events API outer type for subscribed events.
	EventTypeCallback = "event_callback"
	// EventTypeURLVerification is answered by the front end and never relayed.
	EventTypeURLVerification = "url_verification"
)

// Envelope is the unit crossing the IPC boundary between the webhook front end
// and the worker. Body is the raw serialized payload for EventType and is only
// parsed by the handler registered for that type.
type Envelope struct {
	EventType string `json:"event_type"`
	Body      string `json:"body"`
}

// EnvelopeHandler consumes one decoded envelope on the worker side.
// Unknown event types must be a silent no-op, not an error.
type EnvelopeHandler interface {
	Dispatch(ctx context.Context, env Envelope) error
}

// EnvelopeHandlerFunc adapts a function to EnvelopeHandler.
type EnvelopeHandlerFunc func(ctx context.Context, env Envelope) error

// Dispatch implements EnvelopeHandler.
func (f EnvelopeHandlerFunc) Dispatch(ctx context.Context, env Envelope) error { return f(ctx, env) }

// Relayer hands an envelope to the worker process.
type Relayer interface {
	Invoke(ctx context.Context, env Envelope) error
}
