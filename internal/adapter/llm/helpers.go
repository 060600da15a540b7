package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/infra/config"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// Default connection pool settings: one upstream host, long-lived streams.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second
	defaultConnTimeout         = 30 * time.Second
	defaultRespTimeout         = 120 * time.Second
)

// NewHTTPClient returns a pooled client for streaming completions. There is
// no overall client timeout: a stream may legitimately run for minutes, so
// only connect and response-header time are bounded and the caller's context
// governs the rest.
func NewHTTPClient(cfg config.LLMConfig) *http.Client {
	return &http.Client{Transport: newPooledTransport(cfg)}
}

func newPooledTransport(cfg config.LLMConfig) *http.Transport {
	orDefault := func(v, def int) int {
		if v <= 0 {
			return def
		}
		return v
	}
	orDefaultDur := func(v, def time.Duration) time.Duration {
		if v <= 0 {
			return def
		}
		return v
	}

	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   orDefaultDur(cfg.ConnTimeout, defaultConnTimeout),
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: orDefaultDur(cfg.RespTimeout, defaultRespTimeout),
		MaxIdleConns:          orDefault(cfg.Pool.MaxIdleConns, defaultMaxIdleConns),
		MaxIdleConnsPerHost:   orDefault(cfg.Pool.MaxIdleConnsPerHost, defaultMaxIdleConnsPerHost),
		MaxConnsPerHost:       orDefault(cfg.Pool.MaxConnsPerHost, defaultMaxConnsPerHost),
		IdleConnTimeout:       orDefaultDur(cfg.Pool.IdleConnTimeout, defaultIdleConnTimeout),
		ForceAttemptHTTP2:     true,
	}
}

// doStreamRequest POSTs body and returns the open response for a 2xx status.
// The caller owns resp.Body.
func doStreamRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, mapHTTPError(resp.StatusCode, respBody)
	}
	return resp, nil
}

// mapHTTPError maps a non-2xx status to ErrUpstreamHTTP, adding the
// rate-limit or auth category where one applies so callers and the circuit
// breaker can classify it.
func mapHTTPError(statusCode int, body []byte) error {
	detail := fmt.Sprintf("status %d: %s", statusCode, bytes.TrimSpace(body))

	switch statusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %s", domain.ErrUpstreamHTTP, domain.ErrRateLimit, detail)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w: %s", domain.ErrUpstreamHTTP, domain.ErrAuthInvalid, detail)
	default:
		return fmt.Errorf("%w: %s", domain.ErrUpstreamHTTP, detail)
	}
}
