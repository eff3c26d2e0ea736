// Package publish fans live tracking snapshots out to an MQTT broker for
// presentation clients.
package publish

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/claude/repquest/internal/pose"
	"github.com/claude/repquest/internal/tracking"
)

// Config describes the broker connection.
type Config struct {
	Broker      string // host:port or URL
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// publisher is the part of mqtt.Client the MQTT sink needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type message struct {
	topic   string
	payload []byte
}

// MQTT publishes snapshots to <prefix>/<questID>/snapshot. Observe never
// blocks: snapshots are queued and dropped when the queue is full.
type MQTT struct {
	client publisher
	prefix string
	log    *slog.Logger

	queue chan message
	done  chan struct{}
	once  sync.Once

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64

	disconnect func()
}

var _ tracking.Observer = (*MQTT)(nil)

// Connect dials the broker and starts the publish loop.
func Connect(cfg Config, log *slog.Logger) (*MQTT, error) {
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	log.Info("mqtt connected", "broker", broker, "client_id", cfg.ClientID)

	m := newMQTT(client, cfg.TopicPrefix, log)
	m.disconnect = func() { client.Disconnect(250) }
	return m, nil
}

func newMQTT(client publisher, prefix string, log *slog.Logger) *MQTT {
	m := &MQTT{
		client: client,
		prefix: strings.TrimRight(prefix, "/"),
		log:    log,
		queue:  make(chan message, 16),
		done:   make(chan struct{}),
	}
	go m.loop()
	return m
}

// Topic returns the snapshot topic for a quest.
func (m *MQTT) Topic(questID string) string {
	return fmt.Sprintf("%s/%s/snapshot", m.prefix, questID)
}

// Observe implements tracking.Observer.
func (m *MQTT) Observe(s tracking.Snapshot, _ pose.Overlay) {
	payload, err := json.Marshal(s)
	if err != nil {
		m.failed.Add(1)
		return
	}
	select {
	case m.queue <- message{topic: m.Topic(s.QuestID), payload: payload}:
	default:
		m.dropped.Add(1)
	}
}

func (m *MQTT) loop() {
	defer close(m.done)
	for msg := range m.queue {
		token := m.client.Publish(msg.topic, 0, false, msg.payload)
		if !token.WaitTimeout(2 * time.Second) {
			m.failed.Add(1)
			m.log.Debug("mqtt publish timeout", "topic", msg.topic)
			continue
		}
		if err := token.Error(); err != nil {
			m.failed.Add(1)
			m.log.Debug("mqtt publish failed", "topic", msg.topic, "error", err)
			continue
		}
		m.published.Add(1)
	}
}

// Stats returns publish counters.
func (m *MQTT) Stats() (published, dropped, failed int64) {
	return m.published.Load(), m.dropped.Load(), m.failed.Load()
}

// Close flushes queued snapshots and disconnects. Observe must not be called
// after Close.
func (m *MQTT) Close() {
	m.once.Do(func() {
		close(m.queue)
		<-m.done
		if m.disconnect != nil {
			m.disconnect()
		}
	})
}
