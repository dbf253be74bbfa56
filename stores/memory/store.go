package memory

import (
	"context"
	"fmt"
	"sync"

	"clipsync/core"
	"clipsync/stores/feed"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// collection keeps entries in a map and serves live queries from it.
type collection struct {
	mu   sync.RWMutex
	docs map[string]core.Entry
	hub  *feed.Hub
}

// NewCollection creates a new in-memory document collection.
func NewCollection() *collection {
	c := &collection{docs: make(map[string]core.Entry)}
	c.hub = feed.NewHub(c.Query)
	return c
}

func (c *collection) Create(ctx context.Context, entry core.Entry) (string, error) {
	ref := ulid.Make().String()

	c.mu.Lock()
	c.docs[ref] = entry
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{"ref": ref, "type": entry.Type}).Debug("Entry created")
	c.hub.Notify()
	return ref, nil
}

func (c *collection) Overwrite(ctx context.Context, ref string, entry core.Entry) error {
	if ref == "" {
		return fmt.Errorf("overwrite: %w: empty ref", core.ErrInvalidKey)
	}

	c.mu.Lock()
	c.docs[ref] = entry
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{"ref": ref, "type": entry.Type}).Debug("Entry overwritten")
	c.hub.Notify()
	return nil
}

func (c *collection) Delete(ctx context.Context, ref string) error {
	c.mu.Lock()
	_, existed := c.docs[ref]
	delete(c.docs, ref)
	c.mu.Unlock()

	if existed {
		c.hub.Notify()
	}
	return nil
}

func (c *collection) ListAll(ctx context.Context) ([]core.Doc, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	docs := make([]core.Doc, 0, len(c.docs))
	for ref, entry := range c.docs {
		docs = append(docs, core.Doc{Ref: ref, Entry: entry})
	}
	return docs, nil
}

func (c *collection) Query(ctx context.Context, limit int) ([]core.Doc, error) {
	docs, _ := c.ListAll(ctx)
	return feed.Newest(docs, limit), nil
}

func (c *collection) Watch(ctx context.Context, limit int, fn core.FeedFunc) (func(), error) {
	return c.hub.Watch(ctx, limit, fn)
}

// Close stops every live query.
func (c *collection) Close() error {
	c.hub.Close()
	return nil
}
