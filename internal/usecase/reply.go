package usecase

import (
	"context"
	"log/slog"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/infra/tracer"
	"relaybot/internal/usecase/window"
)

// DefaultUpdatePeriod is how often an in-progress reply is rewritten.
const DefaultUpdatePeriod = time.Second

// Replier streams a completion into an existing chat message, rewriting it
// at most once per period with the text accumulated so far.
type Replier struct {
	streamer domain.CompletionStreamer
	chat     domain.ChatSurface
	period   time.Duration
	logger   *slog.Logger
}

// NewReplier creates a Replier. A non-positive period uses DefaultUpdatePeriod.
func NewReplier(streamer domain.CompletionStreamer, chat domain.ChatSurface, period time.Duration, logger *slog.Logger) *Replier {
	if period <= 0 {
		period = DefaultUpdatePeriod
	}
	return &Replier{streamer: streamer, chat: chat, period: period, logger: logger}
}

// Stream requests a completion for messages and overwrites target with each
// windowed snapshot. It returns the final text, which is also the text of the
// last update. A failed update is logged and the loop goes on; the next
// snapshot supersedes it.
func (r *Replier) Stream(ctx context.Context, target domain.PostedMessage, messages []domain.CompletionMessage) (text string, err error) {
	ctx, span := tracer.StartSpan(ctx, "reply.stream")
	span.SetAttributes(
		tracer.StringAttr("slack.channel", target.Channel),
		tracer.StringAttr("slack.ts", target.TS),
	)
	defer func() { tracer.End(span, err) }()

	chunks, err := r.streamer.StreamCompletion(ctx, messages)
	if err != nil {
		return "", err
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := 0
	for snapshot := range window.Latest(sctx, window.Window(sctx, r.period, Accumulate(sctx, chunks))) {
		if err := r.chat.Update(ctx, target.Channel, target.TS, snapshot); err != nil {
			r.logger.Warn("reply update failed",
				"channel", target.Channel,
				"ts", target.TS,
				"error", err,
			)
		}
		updates++
		text = snapshot
	}

	span.SetAttributes(tracer.IntAttr("reply.updates", updates), tracer.IntAttr("reply.chars", len(text)))
	r.logger.Debug("reply streamed", "channel", target.Channel, "ts", target.TS, "updates", updates, "chars", len(text))
	return text, ctx.Err()
}
