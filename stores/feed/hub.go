// Package feed turns a plain ordered query into a live feed: every
// subscription is re-run after each change notification and its full
// result is handed to the subscriber.
package feed

import (
	"context"
	"sync"

	"clipsync/core"

	"github.com/sirupsen/logrus"
)

// QueryFunc runs the ordered, limited query backing a subscription.
type QueryFunc func(ctx context.Context, limit int) ([]core.Doc, error)

type subscription struct {
	limit   int
	fn      core.FeedFunc
	changed chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// Hub fans change notifications out to live query subscriptions.
type Hub struct {
	query QueryFunc

	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
}

func NewHub(query QueryFunc) *Hub {
	return &Hub{
		query: query,
		subs:  make(map[uint64]*subscription),
	}
}

// Watch registers fn and delivers the current result right away.
func (h *Hub) Watch(ctx context.Context, limit int, fn core.FeedFunc) (func(), error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, context.Canceled
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		limit:   limit,
		fn:      fn,
		changed: make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	sub.changed <- struct{}{}
	go h.run(ctx, sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			cancel()
			<-sub.done
		})
	}, nil
}

func (h *Hub) run(ctx context.Context, sub *subscription) {
	defer close(sub.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.changed:
		}

		docs, err := h.query(ctx, sub.limit)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.WithError(err).Warn("Live query failed, waiting for next change")
			continue
		}
		sub.fn(docs)
	}
}

// Notify marks every subscription as stale. Pending notifications coalesce,
// so a slow subscriber re-reads once and sees the latest state.
func (h *Hub) Notify() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.changed <- struct{}{}:
		default:
		}
	}
}

// Close stops every subscription and waits for in-flight deliveries.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = make(map[uint64]*subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
}
