package mqtt

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"clipsync/core"
	"clipsync/ingest"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload any) paho.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{topic, qos, retained, payload.([]byte)})
	return doneToken{}
}

type fakeFeed struct {
	mu  sync.Mutex
	fns map[int]func([]core.Entry)
	id  int
}

func (f *fakeFeed) OnChange(fn func([]core.Entry)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fns == nil {
		f.fns = make(map[int]func([]core.Entry))
	}
	id := f.id
	f.id++
	f.fns[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.fns, id)
		f.mu.Unlock()
	}
}

func (f *fakeFeed) deliver(entries []core.Entry) {
	f.mu.Lock()
	fns := make([]func([]core.Entry), 0, len(f.fns))
	for _, fn := range f.fns {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(entries)
	}
}

type fakeIngester struct {
	payloads []string
}

func (f *fakeIngester) Ingest(ctx context.Context, items []ingest.Item) []ingest.Result {
	results := []ingest.Result{}
	for _, item := range items {
		rc, _ := item.Open()
		data, _ := io.ReadAll(rc)
		f.payloads = append(f.payloads, item.Type+":"+string(data))
		results = append(results, ingest.Result{Kind: item.Kind, Type: item.Type, Outcome: ingest.Persisted, Ref: "ref-1"})
	}
	return results
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{Broker: "tcp://localhost:1883"}, &fakeFeed{}, &fakeIngester{})

	assert.Equal(t, DefaultTopic, b.cfg.Topic)
	assert.Equal(t, "clipsync/entries/paste", b.PasteTopic())
}

func TestNew_TrimsTopic(t *testing.T) {
	b := New(Config{Topic: "home/clipboard/"}, &fakeFeed{}, &fakeIngester{})

	assert.Equal(t, "home/clipboard/paste", b.PasteTopic())
}

func TestStart_MissingBroker(t *testing.T) {
	b := New(Config{}, &fakeFeed{}, &fakeIngester{})

	assert.Error(t, b.Start(context.Background()))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	_, ok := ConfigFromEnv()
	assert.False(t, ok)

	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_TOPIC", "home/clip")
	t.Setenv("MQTT_TLS", "true")
	cfg, ok := ConfigFromEnv()
	require.True(t, ok)
	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, "home/clip", cfg.Topic)
	assert.True(t, cfg.UseTLS)
}

func TestPublishesEveryWindowRetained(t *testing.T) {
	feed := &fakeFeed{}
	pub := &fakePublisher{}
	b := New(Config{Broker: "tcp://localhost:1883"}, feed, &fakeIngester{})
	b.attach(pub)

	window := []core.Entry{{Type: core.EntryTypeText, Data: "hello", Timestamp: 1}}
	feed.deliver(window)

	require.Len(t, pub.sent, 1)
	sent := pub.sent[0]
	assert.Equal(t, DefaultTopic, sent.topic)
	assert.True(t, sent.retained)
	var got []core.Entry
	require.NoError(t, json.Unmarshal(sent.payload, &got))
	assert.Equal(t, window, got)

	b.Stop()
	feed.deliver(window)
	assert.Len(t, pub.sent, 1)
}

func TestHandlePaste_IngestsAsText(t *testing.T) {
	in := &fakeIngester{}
	b := New(Config{}, &fakeFeed{}, in)

	results := b.handlePaste([]byte("from a sensor"))

	require.Len(t, results, 1)
	assert.Equal(t, ingest.Persisted, results[0].Outcome)
	assert.Equal(t, []string{"text/plain:from a sensor"}, in.payloads)
}
