package blobs

import (
	"errors"
	"net/http"
	"strconv"

	"clipsync/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

const blobCSP = "default-src 'none'; img-src 'self' data:; style-src 'unsafe-inline'; sandbox"

// HandleGet serves a blob kept by the configured blob store. The key is the
// wildcard part of the route.
func HandleGet(store core.BlobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		if err := core.ValidateKey(key); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid blob key"})
			return
		}

		blob, err := store.Get(r.Context(), key)
		switch {
		case errors.Is(err, core.ErrNotFound):
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Blob not found"})
			return
		case errors.Is(err, core.ErrInvalidKey):
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid blob key"})
			return
		case err != nil:
			logrus.WithFields(logrus.Fields{
				"error": err,
				"key":   key,
			}).Error("Failed to read blob")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to read blob"})
			return
		}

		contentType := blob.ContentType
		if contentType == "" {
			contentType = http.DetectContentType(blob.Data)
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
		// Keys are never reused, so a blob never changes.
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		// Pasted bytes are untrusted: an SVG or HTML blob opened directly
		// must not run script on this origin.
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Security-Policy", blobCSP)
		w.Write(blob.Data)
	}
}
