package usecase

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"

	"relaybot/internal/domain"
)

// ConversationBuilder turns a thread into completion messages.
type ConversationBuilder struct {
	chat         domain.ChatSurface
	systemPrompt string
	placeholder  string
	maxHistory   int
	imageDetail  string
	logger       *slog.Logger
}

// ConversationOptions configures a ConversationBuilder.
type ConversationOptions struct {
	SystemPrompt string
	Placeholder  string // bot messages with exactly this text are skipped
	MaxHistory   int    // newest messages kept; <= 0 keeps all
	ImageDetail  string
}

// NewConversationBuilder creates a builder that reads threads through chat.
func NewConversationBuilder(chat domain.ChatSurface, opts ConversationOptions, logger *slog.Logger) *ConversationBuilder {
	return &ConversationBuilder{
		chat:         chat,
		systemPrompt: opts.SystemPrompt,
		placeholder:  opts.Placeholder,
		maxHistory:   opts.MaxHistory,
		imageDetail:  opts.ImageDetail,
		logger:       logger,
	}
}

// Build returns the system prompt followed by the conversation for msg.
// When msg is inside a thread the whole thread is replayed, minus the
// message at skipTS (the reply being written). Bot messages become assistant
// turns, everything else user turns.
func (b *ConversationBuilder) Build(ctx context.Context, channel string, msg domain.ThreadMessage, skipTS string) ([]domain.CompletionMessage, error) {
	history := []domain.ThreadMessage{msg}
	if msg.ThreadTS != "" {
		replies, err := b.chat.Replies(ctx, channel, msg.ThreadTS)
		if err != nil {
			return nil, domain.WrapOp("ConversationBuilder.Build", err)
		}
		history = b.filter(replies, skipTS)
	}
	if b.maxHistory > 0 && len(history) > b.maxHistory {
		history = history[len(history)-b.maxHistory:]
	}

	out := make([]domain.CompletionMessage, 0, len(history)+1)
	if b.systemPrompt != "" {
		out = append(out, domain.TextMessage(domain.RoleSystem, b.systemPrompt))
	}
	for _, m := range history {
		if cm, ok := b.toCompletion(ctx, m); ok {
			out = append(out, cm)
		}
	}
	return out, nil
}

func (b *ConversationBuilder) filter(replies []domain.ThreadMessage, skipTS string) []domain.ThreadMessage {
	kept := make([]domain.ThreadMessage, 0, len(replies))
	for _, m := range replies {
		if m.TS == skipTS {
			continue
		}
		if m.IsBot() && m.Text == b.placeholder {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

func (b *ConversationBuilder) toCompletion(ctx context.Context, m domain.ThreadMessage) (domain.CompletionMessage, bool) {
	role := domain.RoleUser
	if m.IsBot() {
		role = domain.RoleAssistant
	}

	var parts []domain.ContentPart
	if m.Text != "" {
		parts = append(parts, domain.ContentPart{Type: domain.ContentTypeText, Text: m.Text})
	}
	// Only user turns may carry images in the chat completions API.
	if role == domain.RoleUser {
		for _, a := range m.Attachments {
			if part, ok := b.imagePart(ctx, a); ok {
				parts = append(parts, part)
			}
		}
	}
	if len(parts) == 0 {
		return domain.CompletionMessage{}, false
	}
	return domain.CompletionMessage{Role: role, Content: parts}, true
}

func (b *ConversationBuilder) imagePart(ctx context.Context, a domain.Attachment) (domain.ContentPart, bool) {
	if !strings.HasPrefix(a.MIMEType, "image/") || a.URL == "" {
		return domain.ContentPart{}, false
	}
	data, err := b.chat.Download(ctx, a.URL)
	if err != nil {
		b.logger.Warn("skipping image attachment", "name", a.Name, "error", err)
		return domain.ContentPart{}, false
	}
	return domain.ContentPart{
		Type: domain.ContentTypeImageURL,
		ImageURL: &domain.ImageURL{
			URL:    "data:" + a.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(data),
			Detail: b.imageDetail,
		},
	}, true
}
