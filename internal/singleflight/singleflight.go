// Package singleflight coalesces concurrent loads of the same cache key so
// the loader runs at most once while other callers wait for the shared result.
package singleflight

import (
	"context"
	"sync"
)

// Group deduplicates in-flight loads by key. The first caller for a key
// becomes the leader and runs fn; followers wait on the call's done channel.
// Publishing (val, err) happens-before close(done), so reads after <-done
// observe the final values.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

type call struct {
	done chan struct{} // closed when val/err are published
	val  []byte
	err  error
}

// Do runs fn once for the given key. Concurrent calls with the same key wait
// for the shared result. Cancelling ctx in a follower unblocks only that
// follower; it does not cancel the leader's fn — thread ctx into fn if the
// underlying work must be cancellable.
func (g *Group) Do(ctx context.Context, key string, fn func() ([]byte, error)) ([]byte, error) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[string]*call)
	}
	if c, ok := g.m[key]; ok {
		done := c.done
		g.mu.Unlock()

		select {
		case <-done:
			return c.val, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Leader path: run fn outside the lock.
	c := &call{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()
	close(c.done)

	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()

	return c.val, c.err
}
