// Package syncstore persists clipboard entries under a fixed-size window
// and keeps a live view of that window.
//
// Once the window is full every new entry overwrites the slot of the oldest
// one instead of adding a slot. Which slot is the oldest is learned from the
// live feed, never from the write path: the adapter remembers the ref of the
// last doc in the most recent delivery (the window cursor) and the next
// write reuses it. Two writes issued before the feed catches up therefore
// target the same slot and the first one is lost. That race is accepted.
package syncstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"clipsync/core"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultImageFolder is the blob folder image payloads are uploaded to.
const DefaultImageFolder = "images"

var ErrAlreadySubscribed = errors.New("syncstore: feed already open")

type Option func(*Adapter)

// WithCapacity sets the window size. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.capacity = n
		}
	}
}

func WithImageFolder(folder string) Option {
	return func(a *Adapter) {
		if folder != "" {
			a.imageFolder = folder
		}
	}
}

// Adapter is the Sync Store Adapter.
type Adapter struct {
	docs        core.Collection
	blobs       core.BlobStore
	capacity    int
	imageFolder string

	mu         sync.RWMutex
	cursor     string
	window     []core.Entry
	synced     bool
	subscribed bool
	unwatch    func()

	// notifyMu orders observer calls: a delivery's fan-out and a new
	// observer's first call never interleave.
	notifyMu  sync.Mutex
	obsMu     sync.Mutex
	observers map[uint64]func([]core.Entry)
	nextObs   uint64
}

func NewAdapter(docs core.Collection, blobs core.BlobStore, opts ...Option) *Adapter {
	a := &Adapter{
		docs:        docs,
		blobs:       blobs,
		capacity:    core.CollectionLimit,
		imageFolder: DefaultImageFolder,
		window:      []core.Entry{},
		observers:   make(map[uint64]func([]core.Entry)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Capacity() int { return a.capacity }

func (a *Adapter) ImageFolder() string { return a.imageFolder }

// Subscribe opens the live feed of the newest entries. It must be called
// once before writes can switch to overwrite mode.
func (a *Adapter) Subscribe(ctx context.Context) error {
	a.mu.Lock()
	if a.subscribed {
		a.mu.Unlock()
		return ErrAlreadySubscribed
	}
	a.subscribed = true
	a.mu.Unlock()

	unwatch, err := a.docs.Watch(ctx, a.capacity, a.deliver)
	if err != nil {
		a.mu.Lock()
		a.subscribed = false
		a.mu.Unlock()
		return fmt.Errorf("open live feed: %w", err)
	}

	a.mu.Lock()
	a.unwatch = unwatch
	a.mu.Unlock()
	logrus.WithField("capacity", a.capacity).Info("Live feed opened")
	return nil
}

// deliver is the only writer of the cursor and the window.
func (a *Adapter) deliver(docs []core.Doc) {
	entries := core.Entries(docs)

	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	if len(docs) >= a.capacity {
		a.cursor = docs[len(docs)-1].Ref
	} else {
		a.cursor = ""
	}
	a.window = entries
	a.synced = true
	cursor := a.cursor
	a.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"entries": len(entries),
		"cursor":  cursor,
	}).Debug("Live feed delivered")

	a.obsMu.Lock()
	observers := make([]func([]core.Entry), 0, len(a.observers))
	for _, fn := range a.observers {
		observers = append(observers, fn)
	}
	a.obsMu.Unlock()

	for _, fn := range observers {
		fn(entries)
	}
}

// OnChange registers fn for every delivery. fn is called right away with
// the current window once the feed has delivered at least once. fn sees
// windows in delivery order and must not call OnChange itself.
func (a *Adapter) OnChange(fn func([]core.Entry)) (remove func()) {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.obsMu.Lock()
	id := a.nextObs
	a.nextObs++
	a.observers[id] = fn
	a.obsMu.Unlock()

	a.mu.RLock()
	synced, window := a.synced, a.window
	a.mu.RUnlock()
	if synced {
		fn(window)
	}

	return func() {
		a.obsMu.Lock()
		delete(a.observers, id)
		a.obsMu.Unlock()
	}
}

// Entries returns the last delivered window, newest first.
func (a *Adapter) Entries() []core.Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]core.Entry(nil), a.window...)
}

// Cursor returns the ref the next write overwrites, if the window is full.
func (a *Adapter) Cursor() (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cursor, a.cursor != ""
}

// AppendOrOverwrite persists entry, overwriting the cursor slot when the
// window is full and creating a new slot otherwise. Calls are not
// serialized against each other.
func (a *Adapter) AppendOrOverwrite(ctx context.Context, entry core.Entry) (string, error) {
	if !entry.Type.Valid() {
		return "", fmt.Errorf("unknown entry type %q", entry.Type)
	}
	cursor, full := a.Cursor()
	log := logrus.WithFields(logrus.Fields{"type": entry.Type, "timestamp": entry.Timestamp})

	if full {
		if err := a.docs.Overwrite(ctx, cursor, entry); err != nil {
			log.WithError(err).WithField("ref", cursor).Error("Failed to overwrite oldest entry")
			return "", err
		}
		log.WithField("ref", cursor).Info("Overwrote oldest entry")
		return cursor, nil
	}

	ref, err := a.docs.Create(ctx, entry)
	if err != nil {
		log.WithError(err).Error("Failed to append entry")
		return "", err
	}
	log.WithField("ref", ref).Info("Appended entry")
	return ref, nil
}

// UploadImage stores data under the image folder and returns its URL.
func (a *Adapter) UploadImage(ctx context.Context, data []byte, contentType string) (string, error) {
	result, err := a.blobs.Upload(ctx, a.imageFolder, data, contentType)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	url, err := a.blobs.ResolveURL(ctx, result)
	if err != nil {
		return "", fmt.Errorf("resolve image url: %w", err)
	}
	logrus.WithFields(logrus.Fields{"key": result.Key, "size": result.Size}).Debug("Image available")
	return url, nil
}

// ClearAll deletes every entry, then every blob under the image folder.
// Blobs are only touched when all entries were deleted; a failure while
// deleting blobs leaves the entries deleted. The cursor resets once the
// feed delivers the emptied collection.
func (a *Adapter) ClearAll(ctx context.Context) error {
	docs, err := a.docs.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, doc := range docs {
		ref := doc.Ref
		g.Go(func() error { return a.docs.Delete(gctx, ref) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}

	objects, err := a.blobs.List(ctx, a.imageFolder)
	if err != nil {
		return fmt.Errorf("clear blobs: %w", err)
	}
	g, gctx = errgroup.WithContext(ctx)
	for _, object := range objects {
		key := object.Key
		g.Go(func() error { return a.blobs.Delete(gctx, key) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("clear blobs: %w", err)
	}

	logrus.WithFields(logrus.Fields{"entries": len(docs), "blobs": len(objects)}).Info("Cleared clipboard")
	return nil
}

// Close stops the live feed.
func (a *Adapter) Close() {
	a.mu.Lock()
	unwatch := a.unwatch
	a.unwatch = nil
	a.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
}
