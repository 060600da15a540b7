package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/adapter/ipc"
	"relaybot/internal/domain"
	"relaybot/internal/infra/config"
	"relaybot/internal/infra/logger"
)

type memChat struct {
	mu      sync.Mutex
	posts   []string
	updates []string
}

func (c *memChat) Post(_ context.Context, channel, threadTS, text string) (domain.PostedMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = append(c.posts, text)
	return domain.PostedMessage{Channel: channel, TS: fmt.Sprintf("2.%d", len(c.posts)), ThreadTS: threadTS}, nil
}

func (c *memChat) Update(_ context.Context, _, _, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, text)
	return nil
}

func (c *memChat) Replies(context.Context, string, string) ([]domain.ThreadMessage, error) {
	return nil, nil
}

func (c *memChat) Download(context.Context, string) ([]byte, error) { return nil, nil }

func (c *memChat) snapshot() (posts, updates []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.posts...), append([]string(nil), c.updates...)
}

// deltaStreamer emits its deltas back to back; with block set it emits
// nothing and holds the stream open until ctx ends.
type deltaStreamer struct {
	deltas []string
	block  bool
}

func (s deltaStreamer) StreamCompletion(ctx context.Context, _ []domain.CompletionMessage) (<-chan domain.ChunkBatch, error) {
	ch := make(chan domain.ChunkBatch)
	go func() {
		defer close(ch)
		if s.block {
			<-ctx.Done()
			return
		}
		for _, d := range s.deltas {
			batch := domain.ChunkBatch{Chunks: []domain.CompletionChunk{{Choices: []domain.ChunkChoice{{Delta: domain.ChunkDelta{Content: &d}}}}}}
			select {
			case ch <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func testConfig(shutdown time.Duration) *config.Config {
	cfg := config.Defaults()
	cfg.IPC.ListenAddr = "127.0.0.1:0"
	cfg.IPC.ShutdownTimeout = shutdown
	cfg.Reply.UpdatePeriod = time.Second
	cfg.Reply.ErrorNotice = "failed"
	return cfg
}

func messageEnvelope(t *testing.T) domain.Envelope {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"type": "event_callback",
		"event": map[string]any{
			"type": "message", "channel": "C1", "user": "U1", "text": "hi", "ts": "1.0",
		},
	})
	require.NoError(t, err)
	return domain.Envelope{EventType: domain.EventTypeCallback, Body: string(body)}
}

func startWorker(t *testing.T, cfg *config.Config, w *worker) (endpoint string, stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.run(ctx) }()

	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = w.receiver.Addr()
		return addr != nil
	}, 2*time.Second, 5*time.Millisecond)

	return addr.String(), func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
			return nil
		}
	}
}

func TestWorkerRelaysOneUpdate(t *testing.T) {
	cfg := testConfig(2 * time.Second)
	chat := &memChat{}
	w := newWorker(cfg, chat, deltaStreamer{deltas: []string{"Hi", " there", "!"}}, logger.Discard())
	endpoint, stop := startWorker(t, cfg, w)

	cfg.IPC.Endpoint = endpoint
	sender := ipc.NewSender(cfg.IPC, logger.Discard())
	require.NoError(t, sender.Invoke(context.Background(), messageEnvelope(t)))

	require.Eventually(t, func() bool {
		_, updates := chat.snapshot()
		return len(updates) > 0
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, stop())
	posts, updates := chat.snapshot()
	assert.Equal(t, []string{"…"}, posts)
	assert.Equal(t, []string{"Hi there!"}, updates)
}

func TestWorkerDrainTimeoutCancelsTasks(t *testing.T) {
	cfg := testConfig(50 * time.Millisecond)
	chat := &memChat{}
	w := newWorker(cfg, chat, deltaStreamer{block: true}, logger.Discard())
	endpoint, stop := startWorker(t, cfg, w)

	cfg.IPC.Endpoint = endpoint
	sender := ipc.NewSender(cfg.IPC, logger.Discard())
	require.NoError(t, sender.Invoke(context.Background(), messageEnvelope(t)))

	require.Eventually(t, func() bool {
		posts, _ := chat.snapshot()
		return len(posts) == 1
	}, 3*time.Second, 10*time.Millisecond)

	err := stop()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, w.registry.Closed())

	// The cancelled reply still overwrites its placeholder.
	require.Eventually(t, func() bool {
		_, updates := chat.snapshot()
		return len(updates) == 1 && updates[0] == "failed"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerStopsCleanlyWhenIdle(t *testing.T) {
	cfg := testConfig(time.Second)
	w := newWorker(cfg, &memChat{}, deltaStreamer{}, logger.Discard())
	_, stop := startWorker(t, cfg, w)

	assert.NoError(t, stop())
	assert.Equal(t, 0, w.registry.Outstanding())
}
