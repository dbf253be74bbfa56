package paste

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"clipsync/ingest"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// DefaultMaxBytes caps the body of a single paste request.
const DefaultMaxBytes = 32 << 20

type Ingester interface {
	Ingest(ctx context.Context, items []ingest.Item) []ingest.Result
}

// HandlePaste accepts the clipboard items of one paste event. A multipart
// body carries one item per part, named by its kind; a text/plain body is
// a single text item.
func HandlePaste(in Ingester, maxBytes int64) http.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

		items, err := readItems(r)
		if err != nil {
			status := http.StatusBadRequest
			var tooLarge *http.MaxBytesError
			switch {
			case errors.As(err, &tooLarge):
				status = http.StatusRequestEntityTooLarge
			case errors.Is(err, errUnsupportedBody):
				status = http.StatusUnsupportedMediaType
			}
			logrus.WithError(err).Warn("Failed to read paste")
			render.Status(r, status)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}

		results := in.Ingest(r.Context(), items)
		logrus.WithField("items", len(items)).Debug("Paste ingested")
		render.JSON(w, r, map[string]any{"results": results})
	}
}

var errUnsupportedBody = errors.New("unsupported paste body")

func readItems(r *http.Request) ([]ingest.Item, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnsupportedBody, err)
	}

	switch mediaType {
	case "multipart/form-data":
		return readMultipart(r)
	case "text/plain":
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		return []ingest.Item{bufferedItem(ingest.KindString, r.Header.Get("Content-Type"), data)}, nil
	}
	return nil, fmt.Errorf("%w: %s", errUnsupportedBody, mediaType)
}

func readMultipart(r *http.Request) ([]ingest.Item, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}

	items := []ingest.Item{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return items, nil
		}
		if err != nil {
			return nil, err
		}

		kind := ingest.Kind(part.FormName())
		contentType := part.Header.Get("Content-Type")
		if contentType == "" && kind == ingest.KindString {
			contentType = "text/plain"
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, err
		}
		items = append(items, bufferedItem(kind, contentType, data))
	}
}

func bufferedItem(kind ingest.Kind, contentType string, data []byte) ingest.Item {
	return ingest.Item{
		Kind: kind,
		Type: contentType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}
