// Package webhook is the HTTP front end that receives Slack Events API
// deliveries and relays them to the worker.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/slack-go/slack/slackevents"

	"relaybot/internal/domain"
	"relaybot/internal/infra/config"
	"relaybot/internal/infra/middleware"
)

// EventsPath is where Slack delivers Events API requests.
const EventsPath = "/slack/events"

const (
	defaultMaxBodyBytes    = 1 << 20
	defaultShutdownTimeout = 10 * time.Second
)

// RequestVerifier checks that a request really came from Slack.
type RequestVerifier interface {
	Verify(header http.Header, body []byte) error
}

// Server answers Slack's HTTP deliveries.
type Server struct {
	cfg      config.WebConfig
	verifier RequestVerifier
	relayer  domain.Relayer
	logger   *slog.Logger

	mu        sync.Mutex
	listener  net.Listener
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates the front end. Events are checked by verifier and handed
// to relayer.
func NewServer(cfg config.WebConfig, verifier RequestVerifier, relayer domain.Relayer, logger *slog.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	return &Server{cfg: cfg, verifier: verifier, relayer: relayer, logger: logger}
}

// Handler returns the router with the middleware stack applied. ctx bounds
// the rate limiter's background cleanup.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestLog(s.logger),
		middleware.SecurityHeaders,
		middleware.RateLimit(ctx, s.cfg.RateLimit),
		middleware.MaxBody(s.cfg.MaxBodyBytes),
	)
	s.Mount(r)
	return r
}

// Mount registers the front end's routes on r. Unknown paths and methods
// both answer 404.
func (s *Server) Mount(r chi.Router) {
	r.Post(EventsPath, s.handleEvents)
	r.Get("/", s.handleRoot)
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
}

// Bind opens the listening socket so the address is known before Serve.
func (s *Server) Bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("webhook: already bound to %s", s.boundAddr)
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("webhook listen: %w", err)
	}
	s.listener = ln
	s.boundAddr = ln.Addr().String()
	return nil
}

// Addr returns the bound address, or "" before Bind.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Serve handles requests until ctx is cancelled, then shuts down gracefully
// within the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context) error {
	if s.Addr() == "" {
		if err := s.Bind(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.httpSrv = &http.Server{
		Handler:      s.Handler(ctx),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	srv, ln := s.httpSrv, s.listener
	s.mu.Unlock()

	s.logger.Info("webhook started", "addr", ln.Addr().String())

	stopped := make(chan error, 1)
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		stopped <- srv.Shutdown(sctx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook serve: %w", err)
	}
	if err := <-stopped; err != nil {
		return fmt.Errorf("webhook shutdown: %w", err)
	}
	s.logger.Info("webhook stopped")
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "Hello world")
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusNotFound, "not found")
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeText(w, http.StatusRequestEntityTooLarge, "request too large")
			return
		}
		writeText(w, http.StatusBadRequest, "bad request")
		return
	}

	if err := s.verifier.Verify(r.Header, body); err != nil {
		s.logger.Warn("slack request rejected", "error", err, "code", domain.ErrorCodeOf(err))
		writeText(w, http.StatusForbidden, "forbidden")
		return
	}

	var outer struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		s.logger.Error("slack event parse failed", "error", err)
		writeText(w, http.StatusInternalServerError, "internal server error")
		return
	}

	switch outer.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			s.logger.Error("url_verification parse failed", "error", err)
			writeText(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeText(w, http.StatusOK, challenge.Challenge)

	case slackevents.CallbackEvent:
		// Slack redelivers when we are slow to answer; the first delivery is
		// already being handled.
		if retry := r.Header.Get("X-Slack-Retry-Num"); retry != "" {
			s.logger.Info("slack retry acknowledged",
				"retry", retry,
				"reason", r.Header.Get("X-Slack-Retry-Reason"),
			)
			writeText(w, http.StatusOK, "ok")
			return
		}
		env := domain.Envelope{EventType: domain.EventTypeCallback, Body: string(body)}
		if err := s.relayer.Invoke(r.Context(), env); err != nil {
			s.logger.Error("relay failed", "error", err, "code", domain.ErrorCodeOf(err))
			writeText(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeText(w, http.StatusOK, "ok")

	default:
		s.logger.Warn("unsupported slack event type", "type", outer.Type)
		writeText(w, http.StatusForbidden, "forbidden")
	}
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, text)
}
