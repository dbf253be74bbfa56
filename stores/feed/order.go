package feed

import (
	"sort"

	"clipsync/core"
)

// Newest sorts docs by timestamp descending, ties broken by ref descending,
// and keeps at most limit of them. A limit <= 0 keeps everything.
func Newest(docs []core.Doc, limit int) []core.Doc {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Entry.Timestamp == docs[j].Entry.Timestamp {
			return docs[i].Ref > docs[j].Ref
		}
		return docs[i].Entry.Timestamp > docs[j].Entry.Timestamp
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}
