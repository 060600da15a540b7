package ipc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/oklog/ulid/v2"

	"relaybot/internal/domain"
	"relaybot/internal/infra/config"
	"relaybot/internal/infra/tracer"
)

// Sender relays envelopes to a Receiver. It is safe for concurrent use; every
// Invoke opens its own connection.
type Sender struct {
	endpoint         string
	dialTimeout      time.Duration
	handshakeTimeout time.Duration
	logger           *slog.Logger
}

// NewSender creates a sender for cfg.Endpoint.
func NewSender(cfg config.IPCConfig, logger *slog.Logger) *Sender {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Sender{
		endpoint:         endpoint,
		dialTimeout:      cfg.DialTimeout,
		handshakeTimeout: cfg.HandshakeTimeout,
		logger:           logger,
	}
}

// Invoke delivers env. It returns once the payload is written and the write
// side is closed; the receiver's processing outcome is not reported.
func (s *Sender) Invoke(ctx context.Context, env domain.Envelope) (err error) {
	invokeID := ulid.Make().String()
	ctx, span := tracer.StartSpan(ctx, "ipc.invoke")
	span.SetAttributes(
		tracer.StringAttr("ipc.invoke_id", invokeID),
		tracer.StringAttr("ipc.event_type", env.EventType),
	)
	defer func() { tracer.End(span, err) }()

	conn, err := s.handshake(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	payload, err := Encode(env)
	if err != nil {
		return domain.NewDomainError("Sender.Invoke", err, "")
	}

	if _, err := conn.Write(payload); err != nil {
		return domain.NewDomainError("Sender.Invoke", fmt.Errorf("%w: write: %w", domain.ErrNetwork, err), "")
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return domain.NewDomainError("Sender.Invoke", fmt.Errorf("%w: close write: %w", domain.ErrNetwork, err), "")
		}
	}

	span.SetAttributes(tracer.IntAttr("ipc.bytes", len(payload)))
	s.logger.Debug("envelope relayed",
		"invoke_id", invokeID,
		"event_type", env.EventType,
		"bytes", len(payload),
	)
	return nil
}

// Probe dials the endpoint and completes the handshake without sending a
// message. The receiver treats the resulting empty stream as a no-op.
func (s *Sender) Probe(ctx context.Context) error {
	conn, err := s.handshake(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

// handshake dials and reads exactly len(AckToken) bytes. Nothing is written
// to the connection before the acknowledgement has been verified.
func (s *Sender) handshake(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: s.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", s.endpoint)
	if err != nil {
		return nil, domain.NewDomainError("Sender.Invoke", fmt.Errorf("%w: dial: %w", domain.ErrNetwork, err), s.endpoint)
	}

	if deadline, ok := s.deadline(ctx); ok {
		conn.SetDeadline(deadline)
	}

	ack := make([]byte, len(AckToken))
	if _, err := io.ReadFull(conn, ack); err != nil {
		conn.Close()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, domain.NewDomainError("Sender.Invoke", domain.ErrHandshakeMismatch, "connection closed before ack")
		}
		return nil, domain.NewDomainError("Sender.Invoke", fmt.Errorf("%w: read ack: %w", domain.ErrNetwork, err), "")
	}
	if !bytes.Equal(ack, AckToken) {
		conn.Close()
		return nil, domain.NewDomainError("Sender.Invoke", domain.ErrHandshakeMismatch, fmt.Sprintf("got %q", ack))
	}

	// The handshake timeout bounds only the ack; the write keeps ctx's deadline.
	conn.SetDeadline(time.Time{})
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	return conn, nil
}

// deadline is the earlier of ctx's deadline and the handshake timeout.
func (s *Sender) deadline(ctx context.Context) (time.Time, bool) {
	deadline, ok := ctx.Deadline()
	if s.handshakeTimeout > 0 {
		hs := time.Now().Add(s.handshakeTimeout)
		if !ok || hs.Before(deadline) {
			return hs, true
		}
	}
	return deadline, ok
}

var _ domain.Relayer = (*Sender)(nil)
