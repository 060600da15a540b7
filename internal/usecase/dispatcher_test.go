package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/domain"
)

const testNotice = "Sorry, something went wrong."

func newTestDispatcher(chat *fakeChat, streamer *fakeStreamer) *Dispatcher {
	logger := discardLogger()
	builder := NewConversationBuilder(chat, ConversationOptions{Placeholder: "…"}, logger)
	replier := NewReplier(streamer, chat, 20*time.Millisecond, logger)
	return NewDispatcher(chat, builder, replier, DispatcherOptions{ErrorNotice: testNotice}, logger)
}

func callbackEnvelope(t *testing.T, event map[string]any) domain.Envelope {
	t.Helper()
	event["type"] = "message"
	body, err := json.Marshal(map[string]any{
		"type":       "event_callback",
		"team_id":    "T1",
		"api_app_id": "A1",
		"event":      event,
	})
	require.NoError(t, err)
	return domain.Envelope{EventType: domain.EventTypeCallback, Body: string(body)}
}

func TestDispatchTopLevelMessage(t *testing.T) {
	chat := newFakeChat()
	streamer := &fakeStreamer{deltas: []string{"hel", "lo"}}
	d := newTestDispatcher(chat, streamer)

	env := callbackEnvelope(t, map[string]any{"channel": "C1", "user": "U1", "text": "hi", "ts": "1.0"})
	require.NoError(t, d.Dispatch(context.Background(), env))

	calls := chat.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, chatCall{Op: "post", Channel: "C1", TS: calls[0].TS, ThreadTS: "1.0", Text: "…"}, calls[0])
	updates := chat.Updates()
	require.NotEmpty(t, updates)
	assert.Equal(t, "hello", updates[len(updates)-1])

	received := streamer.Received()
	require.Len(t, received, 1)
	assert.Equal(t, []domain.CompletionMessage{domain.TextMessage(domain.RoleUser, "hi")}, received[0])
}

func TestDispatchThreadReply(t *testing.T) {
	chat := newFakeChat()
	chat.replies = []domain.ThreadMessage{
		{TS: "1.0", Text: "root", UserID: "U1"},
		{TS: "1.5", Text: "in thread", UserID: "U1", ThreadTS: "1.0"},
	}
	streamer := &fakeStreamer{deltas: []string{"ok"}}
	d := newTestDispatcher(chat, streamer)

	env := callbackEnvelope(t, map[string]any{"channel": "C1", "user": "U1", "text": "in thread", "ts": "1.5", "thread_ts": "1.0"})
	require.NoError(t, d.Dispatch(context.Background(), env))

	calls := chat.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "1.0", calls[0].ThreadTS)
	require.Len(t, streamer.Received(), 1)
	assert.Len(t, streamer.Received()[0], 2)
}

func TestDispatchIgnoresBotAndSubtypes(t *testing.T) {
	tests := []struct {
		name  string
		event map[string]any
	}{
		{"bot", map[string]any{"channel": "C1", "bot_id": "B1", "text": "hi", "ts": "1.0"}},
		{"edited", map[string]any{"channel": "C1", "subtype": "message_changed", "ts": "1.0"}},
		{"joined", map[string]any{"channel": "C1", "user": "U1", "subtype": "channel_join", "text": "joined", "ts": "1.0"}},
		{"empty", map[string]any{"channel": "C1", "user": "U1", "ts": "1.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := newFakeChat()
			streamer := &fakeStreamer{deltas: []string{"x"}}
			d := newTestDispatcher(chat, streamer)

			require.NoError(t, d.Dispatch(context.Background(), callbackEnvelope(t, tt.event)))
			assert.Empty(t, chat.Calls())
			assert.Empty(t, streamer.Received())
		})
	}
}

func TestDispatchStreamErrorPostsNotice(t *testing.T) {
	chat := newFakeChat()
	d := newTestDispatcher(chat, &fakeStreamer{err: domain.ErrUpstreamHTTP})

	err := d.Dispatch(context.Background(), callbackEnvelope(t, map[string]any{"channel": "C1", "user": "U1", "text": "hi", "ts": "1.0"}))
	assert.ErrorIs(t, err, domain.ErrUpstreamHTTP)
	assert.Equal(t, []string{testNotice}, chat.Updates())
}

func TestDispatchEmptyCompletionPostsNotice(t *testing.T) {
	chat := newFakeChat()
	d := newTestDispatcher(chat, &fakeStreamer{})

	require.NoError(t, d.Dispatch(context.Background(), callbackEnvelope(t, map[string]any{"channel": "C1", "user": "U1", "text": "hi", "ts": "1.0"})))
	assert.Equal(t, []string{testNotice}, chat.Updates())
}

func TestDispatchPostFailure(t *testing.T) {
	chat := newFakeChat()
	chat.postErr = domain.ErrAuthInvalid
	streamer := &fakeStreamer{deltas: []string{"x"}}
	d := newTestDispatcher(chat, streamer)

	err := d.Dispatch(context.Background(), callbackEnvelope(t, map[string]any{"channel": "C1", "user": "U1", "text": "hi", "ts": "1.0"}))
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
	assert.Empty(t, streamer.Received())
}

func TestDispatchFileShareImage(t *testing.T) {
	chat := newFakeChat()
	chat.files["https://files/a.png"] = []byte{0x89, 'P', 'N', 'G'}
	streamer := &fakeStreamer{deltas: []string{"a chart"}}
	d := newTestDispatcher(chat, streamer)

	env := callbackEnvelope(t, map[string]any{
		"channel": "C1",
		"user":    "U1",
		"subtype": "file_share",
		"text":    "describe",
		"ts":      "1.0",
		"files": []map[string]any{
			{"name": "a.png", "mimetype": "image/png", "url_private": "https://files/a.png"},
		},
	})
	require.NoError(t, d.Dispatch(context.Background(), env))

	received := streamer.Received()
	require.Len(t, received, 1)
	require.Len(t, received[0], 1)
	parts := received[0][0].Content
	require.Len(t, parts, 2)
	assert.Equal(t, domain.ContentTypeImageURL, parts[1].Type)
}

func TestDispatchIgnoresOtherEnvelopes(t *testing.T) {
	chat := newFakeChat()
	d := newTestDispatcher(chat, &fakeStreamer{})

	require.NoError(t, d.Dispatch(context.Background(), domain.Envelope{EventType: "block_actions", Body: "{}"}))
	assert.Empty(t, chat.Calls())
}

func TestDispatchMalformedBody(t *testing.T) {
	d := newTestDispatcher(newFakeChat(), &fakeStreamer{})

	err := d.Dispatch(context.Background(), domain.Envelope{EventType: domain.EventTypeCallback, Body: "{not json"})
	assert.ErrorIs(t, err, domain.ErrDeserialization)
}

func TestDispatchIgnoresOtherInnerEvents(t *testing.T) {
	chat := newFakeChat()
	d := newTestDispatcher(chat, &fakeStreamer{})

	body := `{"type":"event_callback","event":{"type":"reaction_added","user":"U1","reaction":"eyes"}}`
	require.NoError(t, d.Dispatch(context.Background(), domain.Envelope{EventType: domain.EventTypeCallback, Body: body}))
	assert.Empty(t, chat.Calls())
}
