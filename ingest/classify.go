package ingest

import (
	"io"
	"regexp"
)

// Kind is the coarse kind a clipboard item is tagged with.
type Kind string

const (
	KindString Kind = "string"
	KindFile   Kind = "file"
)

// Item is one clipboard item of a paste event.
type Item struct {
	Kind Kind
	Type string
	// Open yields the payload. It is called at most once per item.
	Open func() (io.ReadCloser, error)
}

// Class is what Classify decided an item is.
type Class int

const (
	Unsupported Class = iota
	Text
	HTML
	URIList
	Image
)

func (c Class) String() string {
	switch c {
	case Text:
		return "text"
	case HTML:
		return "html"
	case URIList:
		return "uri-list"
	case Image:
		return "image"
	}
	return "unsupported"
}

var rules = []struct {
	pattern *regexp.Regexp
	kind    Kind
	class   Class
}{
	{regexp.MustCompile(`^text/plain`), KindString, Text},
	{regexp.MustCompile(`^text/html`), KindString, HTML},
	{regexp.MustCompile(`^text/uri-list`), KindString, URIList},
	{regexp.MustCompile(`^image/`), KindFile, Image},
}

// Classify matches the item's mime type against the known rules in
// priority order. The first rule whose pattern and kind both match wins.
func Classify(item Item) Class {
	for _, rule := range rules {
		if item.Kind == rule.kind && rule.pattern.MatchString(item.Type) {
			return rule.class
		}
	}
	return Unsupported
}
