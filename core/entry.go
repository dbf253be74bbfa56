package core

import (
	"context"
	"errors"
)

// CollectionLimit is the number of live entries kept in the window.
const CollectionLimit = 10

var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidKey = errors.New("invalid key")
)

type (
	// EntryType tells how Entry.Data is interpreted.
	EntryType string

	// Entry is one synchronized clipboard item.
	Entry struct {
		Data      string    `json:"data"`
		Type      EntryType `json:"type"`
		Timestamp int64     `json:"timestamp"` // epoch millis
	}

	// Doc is an Entry together with the storage slot that holds it.
	Doc struct {
		Ref   string `json:"ref"`
		Entry Entry  `json:"entry"`
	}

	// FeedFunc receives the full ordered result of a live query.
	FeedFunc func(docs []Doc)

	// Collection is the document collection service entries are persisted to.
	Collection interface {
		// Create stores entry in a new slot and returns its ref.
		Create(ctx context.Context, entry Entry) (string, error)

		// Overwrite replaces the slot at ref with entry, creating it if missing.
		Overwrite(ctx context.Context, ref string, entry Entry) error

		// Delete removes the slot at ref. Deleting a missing ref is not an error.
		Delete(ctx context.Context, ref string) error

		// ListAll returns every stored doc in no particular order.
		ListAll(ctx context.Context) ([]Doc, error)

		// Query returns at most limit docs ordered by timestamp descending.
		Query(ctx context.Context, limit int) ([]Doc, error)

		// Watch opens a live Query. fn is called once right away and again
		// after every change, always with the full result. Calls to fn are
		// sequential. The feed stops when ctx is done or cancel is called.
		Watch(ctx context.Context, limit int, fn FeedFunc) (cancel func(), err error)
	}
)

const (
	// The stored values match the ones the original web client wrote.
	EntryTypeText  EntryType = "string"
	EntryTypeImage EntryType = "image"
)

func (t EntryType) Valid() bool {
	return t == EntryTypeText || t == EntryTypeImage
}

// Entries strips the refs off docs.
func Entries(docs []Doc) []Entry {
	entries := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, doc.Entry)
	}
	return entries
}
