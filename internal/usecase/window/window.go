// Package window batches a stream of values into fixed-period windows.
package window

import (
	"context"
	"time"
)

// Window groups values from src into batches flushed every period.
//
// Every tick emits the pending batch, including an empty one when nothing
// arrived. When src is closed the pending batch is flushed once more and the
// returned channel is closed. Cancelling ctx closes the output without a
// further flush. Values are never dropped or duplicated; a value arriving
// concurrently with a tick may land in either window.
func Window[V any](ctx context.Context, period time.Duration, src <-chan V) <-chan []V {
	out := make(chan []V)

	go func() {
		defer close(out)

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		pending := make([]V, 0)
		flush := func() bool {
			batch := pending
			pending = make([]V, 0, cap(batch))
			select {
			case out <- batch:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-src:
				if !ok {
					flush()
					return
				}
				pending = append(pending, v)
			case <-ticker.C:
				if !flush() {
					return
				}
			}
		}
	}()

	return out
}

// Latest keeps the last value of each non-empty batch and drops empty ones.
func Latest[V any](ctx context.Context, batches <-chan []V) <-chan V {
	out := make(chan V)

	go func() {
		defer close(out)
		for {
			var batch []V
			var ok bool
			select {
			case <-ctx.Done():
				return
			case batch, ok = <-batches:
				if !ok {
					return
				}
			}
			if len(batch) == 0 {
				continue
			}
			select {
			case out <- batch[len(batch)-1]:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
