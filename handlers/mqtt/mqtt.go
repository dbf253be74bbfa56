// Package mqtt bridges the clipboard to an MQTT broker.
//
// Every delivered window is published, retained, to the configured topic so
// late subscribers see the current clipboard. Messages arriving on
// "{topic}/paste" are ingested as text pastes.
package mqtt

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"clipsync/core"
	"clipsync/ingest"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTopic = "clipsync/entries"
	pasteSuffix  = "/paste"
	publishWait  = 10 * time.Second
)

type Config struct {
	// Broker is the broker URL, e.g. "tcp://broker.example.com:1883".
	Broker   string
	Username string
	Password string
	UseTLS   bool
	// ClientID defaults to a random one.
	ClientID string
	Topic    string
}

// ConfigFromEnv reads the MQTT_* variables. ok is false when MQTT_BROKER
// is unset and the bridge should stay off.
func ConfigFromEnv() (cfg Config, ok bool) {
	cfg = Config{
		Broker:   os.Getenv("MQTT_BROKER"),
		Username: os.Getenv("MQTT_USERNAME"),
		Password: os.Getenv("MQTT_PASSWORD"),
		ClientID: os.Getenv("MQTT_CLIENT_ID"),
		Topic:    os.Getenv("MQTT_TOPIC"),
	}
	cfg.UseTLS, _ = strconv.ParseBool(os.Getenv("MQTT_TLS"))
	return cfg, cfg.Broker != ""
}

// Feed is the live window the bridge publishes.
type Feed interface {
	OnChange(fn func([]core.Entry)) (remove func())
}

type Ingester interface {
	Ingest(ctx context.Context, items []ingest.Item) []ingest.Result
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
}

type Bridge struct {
	cfg  Config
	feed Feed
	in   Ingester

	mu     sync.Mutex
	client paho.Client
	pub    publisher
	remove func()
}

func New(cfg Config, feed Feed, in Ingester) *Bridge {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	cfg.Topic = strings.TrimSuffix(cfg.Topic, "/")
	return &Bridge{cfg: cfg, feed: feed, in: in}
}

func (b *Bridge) PasteTopic() string {
	return b.cfg.Topic + pasteSuffix
}

// Start connects to the broker and begins publishing the window.
func (b *Bridge) Start(ctx context.Context) error {
	if b.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}

	clientID := b.cfg.ClientID
	if clientID == "" {
		clientID = "clipsync-" + strings.ToLower(ulid.Make().String())
	}

	opts := paho.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetCleanSession(true).
		SetOnConnectHandler(b.onConnected).
		SetConnectionLostHandler(b.onConnectionLost)

	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
	}
	if b.cfg.Password != "" {
		opts.SetPassword(b.cfg.Password)
	}
	if b.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return errors.New("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}

	b.mu.Lock()
	b.client = client
	b.mu.Unlock()
	b.attach(client)
	return nil
}

func (b *Bridge) attach(pub publisher) {
	b.mu.Lock()
	b.pub = pub
	b.mu.Unlock()

	remove := b.feed.OnChange(b.publish)

	b.mu.Lock()
	b.remove = remove
	b.mu.Unlock()
}

// Stop stops publishing and disconnects from the broker.
func (b *Bridge) Stop() {
	b.mu.Lock()
	remove, client := b.remove, b.client
	b.remove, b.client, b.pub = nil, nil, nil
	b.mu.Unlock()

	if remove != nil {
		remove()
	}
	if client != nil {
		client.Disconnect(1000)
	}
}

func (b *Bridge) publish(entries []core.Entry) {
	b.mu.Lock()
	pub := b.pub
	b.mu.Unlock()
	if pub == nil {
		return
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		logrus.WithError(err).Error("Failed to encode entries for MQTT")
		return
	}

	token := pub.Publish(b.cfg.Topic, 1, true, payload)
	go func() {
		if !token.WaitTimeout(publishWait) {
			logrus.WithField("topic", b.cfg.Topic).Warn("Timed out publishing entries")
			return
		}
		if err := token.Error(); err != nil {
			logrus.WithError(err).WithField("topic", b.cfg.Topic).Warn("Failed to publish entries")
		}
	}()
}

func (b *Bridge) handleMessage(_ paho.Client, message paho.Message) {
	b.handlePaste(message.Payload())
}

// handlePaste feeds one message through the same path as a browser paste.
func (b *Bridge) handlePaste(payload []byte) []ingest.Result {
	item := ingest.Item{
		Kind: ingest.KindString,
		Type: "text/plain",
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		},
	}
	results := b.in.Ingest(context.Background(), []ingest.Item{item})
	for _, result := range results {
		logrus.WithFields(logrus.Fields{
			"topic":   b.PasteTopic(),
			"outcome": result.Outcome,
			"ref":     result.Ref,
		}).Info("MQTT paste ingested")
	}
	return results
}

func (b *Bridge) onConnected(client paho.Client) {
	topic := b.PasteTopic()
	client.Subscribe(topic, 1, b.handleMessage)
	logrus.WithFields(logrus.Fields{
		"broker": b.cfg.Broker,
		"topic":  topic,
	}).Info("Connected to MQTT broker")
}

func (b *Bridge) onConnectionLost(_ paho.Client, err error) {
	logrus.WithError(err).Error("MQTT connection lost")
}
