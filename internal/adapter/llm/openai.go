package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"relaybot/internal/domain"
	"relaybot/internal/infra/config"
	"relaybot/internal/infra/tracer"
)

// OpenAIClient streams chat completions from an OpenAI-compatible API.
type OpenAIClient struct {
	model     string
	apiKey    string
	baseURL   string
	maxTokens int
	client    *http.Client
	logger    *slog.Logger
}

// NewOpenAIClient creates a client with pooled transport.
func NewOpenAIClient(cfg config.LLMConfig, logger *slog.Logger) *OpenAIClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		maxTokens: cfg.MaxTokens,
		client:    NewHTTPClient(cfg),
		logger:    logger,
	}
}

type streamRequest struct {
	Model     string                     `json:"model"`
	Messages  []domain.CompletionMessage `json:"messages"`
	Stream    bool                       `json:"stream"`
	MaxTokens int                        `json:"max_tokens,omitempty"`
}

// StreamCompletion implements domain.CompletionStreamer. Errors before the
// first byte of the stream (missing key, transport, non-2xx) are returned
// directly; later read errors arrive as a batch on the channel.
func (c *OpenAIClient) StreamCompletion(ctx context.Context, messages []domain.CompletionMessage) (<-chan domain.ChunkBatch, error) {
	if c.apiKey == "" {
		return nil, domain.NewDomainError("OpenAIClient.StreamCompletion", domain.ErrMissingCredential, "llm.api_key")
	}

	_, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.model", c.model),
			tracer.IntAttr("llm.messages", len(messages)),
		),
	)

	body, err := json.Marshal(streamRequest{
		Model:     c.model,
		Messages:  messages,
		Stream:    true,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		err = fmt.Errorf("%w: marshal request: %w", domain.ErrSerialization, err)
		tracer.End(span, err)
		return nil, err
	}

	resp, err := doStreamRequest(ctx, c.client, c.baseURL+"/chat/completions", body, map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	})
	tracer.End(span, err)
	if err != nil {
		return nil, domain.WrapOp("OpenAIClient.StreamCompletion", err)
	}

	c.logger.Debug("completion stream opened", "model", c.model, "messages", len(messages))
	return ParseChunks(ctx, resp.Body, c.logger), nil
}

var _ domain.CompletionStreamer = (*OpenAIClient)(nil)
