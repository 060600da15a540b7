package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type chatCall struct {
	Op       string // post, update
	Channel  string
	TS       string
	ThreadTS string
	Text     string
}

// fakeChat records calls and serves canned thread replies and downloads.
type fakeChat struct {
	mu         sync.Mutex
	calls      []chatCall
	replies    []domain.ThreadMessage
	files      map[string][]byte
	postErr    error
	updateErr  error
	repliesErr error
	nextTS     int
}

func newFakeChat() *fakeChat {
	return &fakeChat{files: map[string][]byte{}}
}

func (f *fakeChat) Post(_ context.Context, channel, threadTS, text string) (domain.PostedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return domain.PostedMessage{}, f.postErr
	}
	f.nextTS++
	ts := fmt.Sprintf("1700000000.%06d", f.nextTS)
	f.calls = append(f.calls, chatCall{Op: "post", Channel: channel, TS: ts, ThreadTS: threadTS, Text: text})
	return domain.PostedMessage{Channel: channel, TS: ts, ThreadTS: threadTS}, nil
}

func (f *fakeChat) Update(_ context.Context, channel, ts, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chatCall{Op: "update", Channel: channel, TS: ts, Text: text})
	return f.updateErr
}

func (f *fakeChat) Replies(_ context.Context, _, _ string) ([]domain.ThreadMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replies, f.repliesErr
}

func (f *fakeChat) Download(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakeChat) Calls() []chatCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chatCall(nil), f.calls...)
}

func (f *fakeChat) Updates() []string {
	var out []string
	for _, c := range f.Calls() {
		if c.Op == "update" {
			out = append(out, c.Text)
		}
	}
	return out
}

// fakeStreamer emits the given deltas, one chunk per batch, gap apart.
type fakeStreamer struct {
	deltas []string
	gap    time.Duration
	err    error

	mu       sync.Mutex
	received [][]domain.CompletionMessage
}

func (s *fakeStreamer) StreamCompletion(ctx context.Context, msgs []domain.CompletionMessage) (<-chan domain.ChunkBatch, error) {
	s.mu.Lock()
	s.received = append(s.received, msgs)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan domain.ChunkBatch)
	go func() {
		defer close(ch)
		for _, d := range s.deltas {
			select {
			case ch <- domain.ChunkBatch{Chunks: []domain.CompletionChunk{textChunk(d)}}:
			case <-ctx.Done():
				return
			}
			time.Sleep(s.gap)
		}
	}()
	return ch, nil
}

func (s *fakeStreamer) Received() [][]domain.CompletionMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

func textChunk(s string) domain.CompletionChunk {
	return domain.CompletionChunk{Choices: []domain.ChunkChoice{{Delta: domain.ChunkDelta{Content: &s}}}}
}
