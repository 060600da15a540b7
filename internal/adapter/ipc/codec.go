// Package ipc implements the loopback channel that carries envelopes from the
// webhook front end to the worker.
//
// A connection carries exactly one envelope. The receiver writes the 3-byte
// AckToken as soon as it accepts, before reading anything. The sender waits
// for those exact bytes, writes the JSON-encoded envelope and half-closes its
// write side; end of stream delimits the message. No reply follows.
package ipc

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"relaybot/internal/domain"
)

// AckToken is written by the receiver on every accepted connection.
var AckToken = []byte("ACK")

// Default addresses for the channel.
const (
	DefaultEndpoint   = "127.0.0.1:4000"
	DefaultListenAddr = "0.0.0.0:4000"
)

// Encode serialises env as UTF-8 JSON text.
func Encode(env domain.Envelope) ([]byte, error) {
	// encoding/json silently replaces invalid UTF-8, which would break the
	// round trip; refuse it instead.
	if !utf8.ValidString(env.EventType) || !utf8.ValidString(env.Body) {
		return nil, fmt.Errorf("%w: envelope contains invalid UTF-8", domain.ErrSerialization)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSerialization, err)
	}
	return data, nil
}

// Decode parses one envelope. Unknown fields are ignored and an empty
// event_type is accepted; routing decides what that means.
func Decode(data []byte) (domain.Envelope, error) {
	if !utf8.Valid(data) {
		return domain.Envelope{}, fmt.Errorf("%w: message is not valid UTF-8", domain.ErrDeserialization)
	}
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.Envelope{}, fmt.Errorf("%w: %w", domain.ErrDeserialization, err)
	}
	return env, nil
}
