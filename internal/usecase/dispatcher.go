package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack/slackevents"

	"relaybot/internal/domain"
)

// Message subtypes that still represent a human message worth answering.
// Every other subtype (edits, deletions, joins, our own chat.update echoes)
// is ignored.
var answerableSubtypes = map[string]bool{
	"":                 true,
	"file_share":       true,
	"thread_broadcast": true,
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Placeholder string
	ErrorNotice string
}

// Dispatcher handles event_callback envelopes on the worker: it answers
// each new human message with a streamed completion posted in its thread.
type Dispatcher struct {
	chat    domain.ChatSurface
	builder *ConversationBuilder
	replier *Replier
	opts    DispatcherOptions
	logger  *slog.Logger
}

// NewDispatcher wires the reply pipeline.
func NewDispatcher(chat domain.ChatSurface, builder *ConversationBuilder, replier *Replier, opts DispatcherOptions, logger *slog.Logger) *Dispatcher {
	if opts.Placeholder == "" {
		opts.Placeholder = "…"
	}
	return &Dispatcher{chat: chat, builder: builder, replier: replier, opts: opts, logger: logger}
}

// innerPayload peeks at the inner event type and recovers attachments,
// which are not part of MessageEvent.
type innerPayload struct {
	Event struct {
		Type  string `json:"type"`
		Files []struct {
			Name       string `json:"name"`
			Mimetype   string `json:"mimetype"`
			URLPrivate string `json:"url_private"`
		} `json:"files"`
	} `json:"event"`
}

// Dispatch implements domain.EnvelopeHandler.
func (d *Dispatcher) Dispatch(ctx context.Context, env domain.Envelope) error {
	if env.EventType != domain.EventTypeCallback {
		return nil
	}

	body := json.RawMessage(env.Body)
	var inner innerPayload
	if err := json.Unmarshal(body, &inner); err != nil {
		return domain.NewDomainError("Dispatcher.Dispatch", fmt.Errorf("%w: %w", domain.ErrDeserialization, err), "event_callback body")
	}
	// ParseEvent rejects inner types it has no mapping for.
	if inner.Event.Type != string(slackevents.Message) {
		d.logger.Debug("ignoring inner event", "type", inner.Event.Type)
		return nil
	}

	outer, err := slackevents.ParseEvent(body, slackevents.OptionNoVerifyToken())
	if err != nil {
		return domain.NewDomainError("Dispatcher.Dispatch", fmt.Errorf("%w: %w", domain.ErrDeserialization, err), "event_callback body")
	}
	if outer.Type != slackevents.CallbackEvent {
		return nil
	}

	ev, ok := outer.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		d.logger.Debug("ignoring inner event", "type", outer.InnerEvent.Type)
		return nil
	}

	msg := domain.ThreadMessage{
		TS:       ev.TimeStamp,
		ThreadTS: ev.ThreadTimeStamp,
		Text:     ev.Text,
		UserID:   ev.User,
		BotID:    ev.BotID,
	}
	for _, f := range inner.Event.Files {
		msg.Attachments = append(msg.Attachments, domain.Attachment{Name: f.Name, MIMEType: f.Mimetype, URL: f.URLPrivate})
	}
	return d.HandleMessage(ctx, ev.Channel, ev.SubType, msg)
}

// HandleMessage replies to one message event in channel.
func (d *Dispatcher) HandleMessage(ctx context.Context, channel, subtype string, msg domain.ThreadMessage) error {
	if msg.IsBot() || !answerableSubtypes[subtype] {
		d.logger.Debug("ignoring message", "channel", channel, "ts", msg.TS, "subtype", subtype, "bot", msg.IsBot())
		return nil
	}
	if msg.Text == "" && len(msg.Attachments) == 0 {
		return nil
	}

	threadTS := msg.ThreadTS
	if threadTS == "" {
		threadTS = msg.TS
	}

	posted, err := d.chat.Post(ctx, channel, threadTS, d.opts.Placeholder)
	if err != nil {
		return domain.WrapOp("post placeholder", err)
	}

	messages, err := d.builder.Build(ctx, channel, msg, posted.TS)
	if err != nil {
		d.notify(ctx, posted)
		return err
	}

	text, err := d.replier.Stream(ctx, posted, messages)
	if err != nil {
		d.notify(ctx, posted)
		return domain.WrapOp("stream reply", err)
	}
	if text == "" {
		d.logger.Warn("completion produced no text", "channel", channel, "ts", posted.TS)
		d.notify(ctx, posted)
		return nil
	}

	d.logger.Info("reply sent",
		"channel", channel,
		"thread_ts", threadTS,
		"conn_id", domain.ConnIDFromContext(ctx),
		"chars", len(text),
	)
	return nil
}

// notify overwrites the placeholder with the error notice, best effort.
func (d *Dispatcher) notify(ctx context.Context, posted domain.PostedMessage) {
	if d.opts.ErrorNotice == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := d.chat.Update(ctx, posted.Channel, posted.TS, d.opts.ErrorNotice); err != nil {
		d.logger.Warn("error notice update failed", "channel", posted.Channel, "ts", posted.TS, "error", err)
	}
}

var _ domain.EnvelopeHandler = (*Dispatcher)(nil)
