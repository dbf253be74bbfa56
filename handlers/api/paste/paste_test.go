package paste

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"clipsync/ingest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedItem struct {
	Kind    ingest.Kind
	Type    string
	Payload string
}

type fakeIngester struct {
	items []capturedItem
}

func (f *fakeIngester) Ingest(ctx context.Context, items []ingest.Item) []ingest.Result {
	results := make([]ingest.Result, 0, len(items))
	for _, item := range items {
		rc, _ := item.Open()
		data, _ := io.ReadAll(rc)
		rc.Close()
		f.items = append(f.items, capturedItem{Kind: item.Kind, Type: item.Type, Payload: string(data)})
		results = append(results, ingest.Result{Kind: item.Kind, Type: item.Type, Outcome: ingest.Persisted})
	}
	return results
}

func multipartBody(t *testing.T, parts ...capturedItem) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, p := range parts {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", `form-data; name="`+string(p.Kind)+`"; filename="blob"`)
		if p.Type != "" {
			header.Set("Content-Type", p.Type)
		}
		w, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = w.Write([]byte(p.Payload))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestHandlePaste_Multipart(t *testing.T) {
	in := &fakeIngester{}
	body, contentType := multipartBody(t,
		capturedItem{Kind: ingest.KindString, Type: "text/plain", Payload: "hello"},
		capturedItem{Kind: ingest.KindString, Type: "text/html", Payload: "<b>hello</b>"},
		capturedItem{Kind: ingest.KindFile, Type: "image/png", Payload: "\x89PNG"},
	)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/paste", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	HandlePaste(in, 0).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []capturedItem{
		{Kind: ingest.KindString, Type: "text/plain", Payload: "hello"},
		{Kind: ingest.KindString, Type: "text/html", Payload: "<b>hello</b>"},
		{Kind: ingest.KindFile, Type: "image/png", Payload: "\x89PNG"},
	}, in.items)

	var resp struct {
		Results []ingest.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	assert.Equal(t, ingest.Persisted, resp.Results[2].Outcome)
}

func TestHandlePaste_StringPartWithoutTypeIsText(t *testing.T) {
	in := &fakeIngester{}
	body, contentType := multipartBody(t, capturedItem{Kind: ingest.KindString, Payload: "plain"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/paste", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	HandlePaste(in, 0).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, in.items, 1)
	assert.Equal(t, "text/plain", in.items[0].Type)
}

func TestHandlePaste_PlainTextBody(t *testing.T) {
	in := &fakeIngester{}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/paste", strings.NewReader("from curl"))
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	rr := httptest.NewRecorder()
	HandlePaste(in, 0).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []capturedItem{{Kind: ingest.KindString, Type: "text/plain; charset=utf-8", Payload: "from curl"}}, in.items)
}

func TestHandlePaste_UnsupportedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/paste", strings.NewReader(`{"data":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	HandlePaste(&fakeIngester{}, 0).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestHandlePaste_BodyTooLarge(t *testing.T) {
	in := &fakeIngester{}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/paste", strings.NewReader(strings.Repeat("x", 64)))
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	HandlePaste(in, 16).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Empty(t, in.items)
}
