// Package projection keeps a per-connection cache of the caller's authorized
// view. The change feed is coarse, so a refresh replaces the cache wholesale;
// there is no merge logic. Overlapping refreshes are resolved by keeping only
// the result of the most recently issued fetch.
package projection

import (
	"context"
	"sync"

	"civicdesk/api/internal/store"
)

// Fetcher re-reads the caller's authorized slice from the service.
type Fetcher func(ctx context.Context) ([]store.Request, error)

type View struct {
	fetch Fetcher

	mu        sync.Mutex
	issued    uint64
	installed uint64
	requests  []store.Request
}

func NewView(fetch Fetcher) *View {
	return &View{fetch: fetch}
}

// Refresh issues a fetch and installs the result unless a newer fetch was
// issued while this one was in flight.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	v.issued++
	generation := v.issued
	v.mu.Unlock()

	items, err := v.fetch(ctx)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if generation <= v.installed {
		return nil
	}
	v.installed = generation
	v.requests = items
	return nil
}

// Run refreshes once immediately, then on every signal until ctx is done.
// Fetch errors leave the previous snapshot in place; the next signal retries.
func (v *View) Run(ctx context.Context, signals <-chan struct{}) error {
	if err := v.Refresh(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-signals:
			if !ok {
				return nil
			}
			if err := v.Refresh(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// Snapshot returns the current cached view.
func (v *View) Snapshot() []store.Request {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]store.Request, len(v.requests))
	copy(out, v.requests)
	return out
}
