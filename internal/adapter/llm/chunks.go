package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"relaybot/internal/domain"
)

const readBufferSize = 4096

var (
	dataPrefix = []byte("data: ")
	doneMarker = []byte("[DONE]")
)

// ParseChunks reads a server-sent-event completion stream from body and
// yields one ChunkBatch per successful read. A line split across reads is
// held back until its newline arrives, or until EOF. Lines that do not start
// with "data: ", the [DONE] marker and undecodable payloads are skipped.
// A read error other than EOF is delivered as a final batch with Err set.
//
// The channel is closed when the body ends or ctx is cancelled. If body is an
// io.Closer it is closed before the channel.
func ParseChunks(ctx context.Context, body io.Reader, logger *slog.Logger) <-chan domain.ChunkBatch {
	ch := make(chan domain.ChunkBatch, 16)

	go func() {
		defer close(ch)
		if c, ok := body.(io.Closer); ok {
			defer c.Close()
		}

		send := func(b domain.ChunkBatch) bool {
			select {
			case ch <- b:
				return true
			case <-ctx.Done():
				return false
			}
		}

		buf := make([]byte, readBufferSize)
		var partial []byte
		for {
			n, err := body.Read(buf)
			if n > 0 {
				data := append(partial, buf[:n]...)
				cut := bytes.LastIndexByte(data, '\n')
				var complete []byte
				if cut >= 0 {
					complete = data[:cut]
					partial = append([]byte(nil), data[cut+1:]...)
				} else {
					partial = append([]byte(nil), data...)
				}
				if !send(domain.ChunkBatch{Chunks: decodeLines(complete, logger)}) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				if len(partial) > 0 {
					send(domain.ChunkBatch{Chunks: decodeLines(partial, logger)})
				}
				return
			}
			if err != nil {
				send(domain.ChunkBatch{Err: err})
				return
			}
		}
	}()

	return ch
}

// decodeLines decodes every complete line in data.
func decodeLines(data []byte, logger *slog.Logger) []domain.CompletionChunk {
	if len(data) == 0 {
		return nil
	}
	var chunks []domain.CompletionChunk
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			continue
		}
		if !bytes.HasPrefix(line, dataPrefix) {
			logger.Debug("ignoring non-data stream line", "line", string(line))
			continue
		}
		payload := bytes.TrimPrefix(line, dataPrefix)
		if len(payload) == 0 || bytes.Equal(payload, doneMarker) {
			continue
		}
		var chunk domain.CompletionChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			logger.Debug("skipping undecodable stream chunk", "error", err)
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
