package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"relaybot/internal/domain"
	"relaybot/internal/infra/config"
	"relaybot/internal/infra/tracer"
	"relaybot/internal/usecase/tasks"
)

// connState names the steps a connection moves through.
type connState string

const (
	stateAccepted   connState = "accepted"
	stateAcked      connState = "acked"
	stateReading    connState = "reading"
	stateParsed     connState = "parsed"
	stateDispatched connState = "dispatched"
	stateFailed     connState = "failed"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Receiver accepts connections and hands each to a registered task.
type Receiver struct {
	readTimeout time.Duration
	maxBytes    int64
	registry    *tasks.Registry
	handler     domain.EnvelopeHandler
	logger      *slog.Logger

	mu sync.Mutex
	ln net.Listener
}

// NewReceiver creates a receiver that dispatches decoded envelopes to handler
// from tasks registered in registry.
func NewReceiver(cfg config.IPCConfig, registry *tasks.Registry, handler domain.EnvelopeHandler, logger *slog.Logger) *Receiver {
	maxBytes := cfg.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = config.Defaults().IPC.MaxMessageBytes
	}
	return &Receiver{
		readTimeout: cfg.ReadTimeout,
		maxBytes:    maxBytes,
		registry:    registry,
		handler:     handler,
		logger:      logger,
	}
}

// Bind opens the listening socket. It may succeed only once.
func (r *Receiver) Bind(addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln != nil {
		return domain.NewDomainError("Receiver.Bind", domain.ErrInvalidInput, "already bound")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return domain.NewDomainError("Receiver.Bind", fmt.Errorf("%w: %w", domain.ErrNetwork, err), addr)
	}
	r.ln = ln
	r.logger.Info("ipc receiver listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Bind.
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

// Serve runs the accept loop until the listener is closed or ctx is done.
// Connections are processed on registry tasks and never block the loop.
// Transient accept errors are retried with backoff.
func (r *Receiver) Serve(ctx context.Context) error {
	r.mu.Lock()
	ln := r.ln
	r.mu.Unlock()
	if ln == nil {
		return domain.NewDomainError("Receiver.Serve", domain.ErrInvalidInput, "not bound")
	}

	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			if !isTransientAccept(err) {
				return domain.NewDomainError("Receiver.Serve", fmt.Errorf("%w: accept: %w", domain.ErrNetwork, err), "")
			}
			backoff = nextBackoff(backoff)
			r.logger.Warn("ipc accept failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0
		r.admit(conn)
	}
}

func (r *Receiver) admit(conn net.Conn) {
	id := ulid.Make().String()
	r.logger.Debug("ipc connection", "conn_id", id, "state", stateAccepted, "remote", conn.RemoteAddr().String())

	_, err := r.registry.Go("ipc:"+id, func(ctx context.Context) {
		r.handle(domain.ContextWithConnID(ctx, id), conn)
	})
	if err != nil {
		r.logger.Warn("ipc connection rejected", "conn_id", id, "error", err)
		conn.Close()
	}
}

// handle processes one connection. The acknowledgement is written before
// anything is read.
func (r *Receiver) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	id := domain.ConnIDFromContext(ctx)

	ctx, span := tracer.StartSpan(ctx, "ipc.handle")
	span.SetAttributes(tracer.StringAttr("ipc.conn_id", id))

	state := stateAccepted
	advance := func(next connState, args ...any) {
		state = next
		r.logger.Debug("ipc connection", append([]any{"conn_id", id, "state", next}, args...)...)
	}

	err := r.process(ctx, conn, advance)
	tracer.End(span, err)
	if err != nil {
		// Connection-scoped failures end this connection only.
		level := slog.LevelError
		if domain.IsConnectionScoped(err) {
			level = slog.LevelWarn
		}
		r.logger.Log(ctx, level, "ipc connection failed",
			"conn_id", id,
			"state", stateFailed,
			"after", state,
			"code", domain.ErrorCodeOf(err),
			"error", err,
		)
	}
}

func (r *Receiver) process(ctx context.Context, conn net.Conn, advance func(connState, ...any)) error {
	if _, err := conn.Write(AckToken); err != nil {
		return domain.NewDomainError("Receiver.handle", fmt.Errorf("%w: write ack: %w", domain.ErrNetwork, err), "")
	}
	advance(stateAcked)

	if r.readTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(r.readTimeout))
	}
	advance(stateReading)
	data, err := io.ReadAll(io.LimitReader(conn, r.maxBytes+1))
	if err != nil {
		return domain.NewDomainError("Receiver.handle", fmt.Errorf("%w: read: %w", domain.ErrNetwork, err), "")
	}
	if int64(len(data)) > r.maxBytes {
		return domain.NewDomainError("Receiver.handle", domain.ErrMessageTooLarge,
			fmt.Sprintf("limit %d bytes", r.maxBytes))
	}
	if len(data) == 0 {
		// Probe: handshake only.
		advance(stateDispatched, "empty", true)
		return nil
	}

	env, err := Decode(data)
	if err != nil {
		return domain.NewDomainError("Receiver.handle", err, "")
	}
	advance(stateParsed, "event_type", env.EventType, "bytes", len(data))

	if err := r.handler.Dispatch(ctx, env); err != nil {
		return domain.WrapOp("dispatch "+env.EventType, err)
	}
	advance(stateDispatched, "event_type", env.EventType)
	return nil
}

// Close stops accepting connections. In-flight tasks are unaffected.
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return nil
	}
	if err := r.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func isTransientAccept(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var te interface{ Temporary() bool }
	return errors.As(err, &te) && te.Temporary()
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	d *= 2
	if d > maxAcceptBackoff {
		return maxAcceptBackoff
	}
	return d
}
