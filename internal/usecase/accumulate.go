package usecase

import (
	"context"
	"strings"

	"relaybot/internal/domain"
)

// Accumulate turns a chunk stream into running snapshots of the reply text.
// A snapshot is emitted after every choice delta that carries non-empty
// content, across all choices of every chunk. Batches with Err set are dropped. The output closes
// when in closes or ctx is done.
func Accumulate(ctx context.Context, in <-chan domain.ChunkBatch) <-chan string {
	out := make(chan string)

	go func() {
		defer close(out)
		var sb strings.Builder
		for {
			var batch domain.ChunkBatch
			var ok bool
			select {
			case <-ctx.Done():
				return
			case batch, ok = <-in:
				if !ok {
					return
				}
			}
			if batch.Err != nil {
				continue
			}
			for _, chunk := range batch.Chunks {
				for _, choice := range chunk.Choices {
					if choice.Delta.Content == nil || *choice.Delta.Content == "" {
						continue
					}
					sb.WriteString(*choice.Delta.Content)
					select {
					case out <- sb.String():
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out
}
