// Package ingest turns the items of a paste event into clipboard entries.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"clipsync/core"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/strikethrough"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/sirupsen/logrus"
)

// DefaultMaxImageBytes caps the size of a single pasted image.
const DefaultMaxImageBytes = 20 << 20

var ErrImageTooLarge = errors.New("image exceeds size limit")

// Outcome reports what happened to one item.
type Outcome string

const (
	Persisted Outcome = "persisted"
	Observed  Outcome = "observed"
	Ignored   Outcome = "ignored"
	Failed    Outcome = "failed"
)

type Result struct {
	Kind    Kind    `json:"kind"`
	Type    string  `json:"type"`
	Outcome Outcome `json:"outcome"`
	Ref     string  `json:"ref,omitempty"`
	Error   string  `json:"error,omitempty"`
	Err     error   `json:"-"`
}

// Sink persists entries and stores image payloads.
type Sink interface {
	AppendOrOverwrite(ctx context.Context, entry core.Entry) (string, error)
	UploadImage(ctx context.Context, data []byte, contentType string) (string, error)
}

type Option func(*Ingestor)

// WithClock replaces the clock entry timestamps are taken from.
func WithClock(now func() time.Time) Option {
	return func(in *Ingestor) { in.now = now }
}

func WithMaxImageBytes(n int64) Option {
	return func(in *Ingestor) {
		if n > 0 {
			in.maxImageBytes = n
		}
	}
}

type Ingestor struct {
	sink          Sink
	now           func() time.Time
	maxImageBytes int64
	markdown      *converter.Converter
}

func New(sink Sink, opts ...Option) *Ingestor {
	in := &Ingestor{
		sink:          sink,
		now:           time.Now,
		maxImageBytes: DefaultMaxImageBytes,
		markdown: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				strikethrough.NewStrikethroughPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Ingest processes every item on its own goroutine and waits for all of
// them. Processing outlives cancellation of ctx. The returned results are
// in item order.
func (in *Ingestor) Ingest(ctx context.Context, items []Item) []Result {
	ctx = context.WithoutCancel(ctx)
	results := make([]Result, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = in.process(ctx, item)
		}()
	}
	wg.Wait()
	return results
}

func (in *Ingestor) process(ctx context.Context, item Item) Result {
	class := Classify(item)
	result := Result{Kind: item.Kind, Type: item.Type}
	log := logrus.WithFields(logrus.Fields{
		"kind":  item.Kind,
		"type":  item.Type,
		"class": class,
	})

	var err error
	switch class {
	case Text:
		result.Ref, err = in.text(ctx, item)
		result.Outcome = Persisted
	case HTML:
		err = in.html(item, log)
		result.Outcome = Observed
	case URIList:
		err = in.uriList(item, log)
		result.Outcome = Observed
	case Image:
		result.Ref, err = in.image(ctx, item)
		result.Outcome = Persisted
	default:
		result.Outcome = Ignored
		return result
	}

	if err != nil {
		log.WithError(err).Error("Failed to ingest clipboard item")
		result.Outcome = Failed
		result.Err = err
		result.Error = err.Error()
		return result
	}
	log.WithField("ref", result.Ref).Debug("Clipboard item ingested")
	return result
}

func (in *Ingestor) readString(item Item) (string, error) {
	data, err := in.read(item, -1)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), "\uFFFD"), nil
}

// read returns the whole payload. A limit below zero means unlimited.
func (in *Ingestor) read(item Item, limit int64) ([]byte, error) {
	if item.Open == nil {
		return nil, errors.New("item has no payload")
	}
	rc, err := item.Open()
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if limit >= 0 {
		r = io.LimitReader(rc, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if limit >= 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w of %d bytes", ErrImageTooLarge, limit)
	}
	return data, nil
}

func (in *Ingestor) text(ctx context.Context, item Item) (string, error) {
	text, err := in.readString(item)
	if err != nil {
		return "", err
	}
	return in.sink.AppendOrOverwrite(ctx, core.Entry{
		Type:      core.EntryTypeText,
		Data:      text,
		Timestamp: in.now().UnixMilli(),
	})
}

// html is observed only; the markdown rendering is logged and dropped.
func (in *Ingestor) html(item Item, log *logrus.Entry) error {
	html, err := in.readString(item)
	if err != nil {
		return err
	}
	markdown, err := in.markdown.ConvertString(html)
	if err != nil {
		return fmt.Errorf("convert html: %w", err)
	}
	log.WithField("markdown", markdown).Info("Observed html clipboard item")
	return nil
}

func (in *Ingestor) uriList(item Item, log *logrus.Entry) error {
	list, err := in.readString(item)
	if err != nil {
		return err
	}
	links := ParseURIList(list)
	log.WithField("links", links).Info("Observed uri-list clipboard item")
	return nil
}

// ParseURIList returns the URIs of a text/uri-list payload, skipping
// comments and lines that are not absolute URIs.
func ParseURIList(list string) []string {
	links := []string{}
	scanner := bufio.NewScanner(strings.NewReader(list))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		u, err := url.Parse(line)
		if err != nil || !u.IsAbs() {
			continue
		}
		links = append(links, u.String())
	}
	return links
}

func (in *Ingestor) image(ctx context.Context, item Item) (string, error) {
	data, err := in.read(item, in.maxImageBytes)
	if err != nil {
		return "", fmt.Errorf("extract image: %w", err)
	}
	link, err := in.sink.UploadImage(ctx, data, item.Type)
	if err != nil {
		return "", err
	}
	return in.sink.AppendOrOverwrite(ctx, core.Entry{
		Type:      core.EntryTypeImage,
		Data:      link,
		Timestamp: in.now().UnixMilli(),
	})
}
