package websocket

import (
	"errors"
	"sync"
	"testing"

	"clipsync/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	mu        sync.Mutex
	entries   []core.Entry
	observers int
}

func (f *fakeFeed) Entries() []core.Entry { return f.entries }

func (f *fakeFeed) OnChange(fn func([]core.Entry)) func() {
	f.mu.Lock()
	f.observers++
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.observers--
		f.mu.Unlock()
	}
}

func TestServer_FollowsFeedUntilClosed(t *testing.T) {
	feed := &fakeFeed{}
	s := NewServer(feed)
	require.NotNil(t, s.Handler())
	assert.Equal(t, 1, feed.observers)

	s.broadcast([]core.Entry{{Type: core.EntryTypeText, Data: "x", Timestamp: 1}})

	s.Close()
	assert.Equal(t, 0, feed.observers)
}

func TestExtractAck(t *testing.T) {
	var got map[string]any
	ack, args := extractAck([]any{"first", func(payload map[string]any) { got = payload }})

	require.NotNil(t, ack)
	assert.Equal(t, []any{"first"}, args)

	ack(nil, map[string]any{"status": "ok"})
	assert.Equal(t, map[string]any{"status": "ok"}, got)
}

func TestExtractAck_NoCallback(t *testing.T) {
	ack, args := extractAck([]any{"first", 2})

	assert.Nil(t, ack)
	assert.Equal(t, []any{"first", 2}, args)

	ack, args = extractAck(nil)
	assert.Nil(t, ack)
	assert.Empty(t, args)
}

func TestAck_SingleParameterGetsErrorFirst(t *testing.T) {
	var got any
	ack := wrapAck(func(v any) { got = v })

	ack(errors.New("boom"), map[string]any{"status": "error"})
	assert.EqualError(t, got.(error), "boom")

	ack(nil, map[string]any{"status": "ok"})
	assert.Equal(t, map[string]any{"status": "ok"}, got)
}

func TestAck_TwoParameters(t *testing.T) {
	var gotErr error
	var gotPayload map[string]any
	ack := wrapAck(func(err error, payload map[string]any) {
		gotErr, gotPayload = err, payload
	})

	ack(nil, syncPayload([]core.Entry{{Type: core.EntryTypeText, Data: "x"}}))
	assert.NoError(t, gotErr)
	assert.Equal(t, "ok", gotPayload["status"])
	assert.Len(t, gotPayload["entries"], 1)
}

func TestAck_Variadic(t *testing.T) {
	var got []any
	ack := wrapAck(func(args ...any) { got = args })

	ack(errors.New("ignored"), map[string]any{"status": "ok"})
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"status": "ok"}, got[0])
}

func TestAck_ServerAckSendsPayloadAsArgs(t *testing.T) {
	var sent []any
	var sentErr error
	called := false
	ack, args := extractAck([]any{func(args []any, err error) {
		called, sent, sentErr = true, args, err
	}})
	require.NotNil(t, ack)
	assert.Empty(t, args)

	entries := []core.Entry{{Type: core.EntryTypeText, Data: "hello", Timestamp: 1}}
	ack(nil, syncPayload(entries))

	require.True(t, called)
	assert.NoError(t, sentErr)
	require.Len(t, sent, 1)
	reply, ok := sent[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", reply["status"])
	assert.Equal(t, entries, reply["entries"])
}
