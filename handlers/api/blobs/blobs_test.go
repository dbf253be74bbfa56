package blobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"clipsync/core"
	"clipsync/stores/memory"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func router(store core.BlobReader) http.Handler {
	r := chi.NewRouter()
	r.Get("/blobs/*", HandleGet(store))
	return r
}

func TestHandleGet(t *testing.T) {
	store := memory.NewBlobStore("http://localhost:3002/blobs")
	result, err := store.Upload(context.Background(), "images", []byte("\x89PNG"), "image/png")
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	router(store).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/blobs/"+result.Key, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG", rr.Body.String())
}

func TestHandleGet_ScriptableBlobIsSandboxed(t *testing.T) {
	store := memory.NewBlobStore("http://localhost:3002/blobs")
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg"><script>alert(document.cookie)</script></svg>`)
	result, err := store.Upload(context.Background(), "images", svg, "image/svg+xml")
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	router(store).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/blobs/"+result.Key, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/svg+xml", rr.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	csp := rr.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "default-src 'none'")
	assert.Contains(t, csp, "sandbox")
	assert.NotContains(t, csp, "script-src")
}

func TestHandleGet_NotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	router(memory.NewBlobStore("")).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/blobs/images/missing.png", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

type brokenReader struct{}

func (brokenReader) Get(ctx context.Context, key string) (*core.Blob, error) {
	return nil, errors.New("disk on fire")
}

func TestHandleGet_StoreError(t *testing.T) {
	rr := httptest.NewRecorder()
	router(brokenReader{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/blobs/images/a.png", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHandleGet_InvalidKey(t *testing.T) {
	rr := httptest.NewRecorder()
	router(memory.NewBlobStore("")).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/blobs/images//a.png", nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
