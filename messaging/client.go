package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"floorcore/config"
)

var (
	ErrDisabled     = errors.New("messaging disabled")
	ErrNotConnected = errors.New("messaging not connected")
)

// MessageHandler is invoked on the backend's receive goroutine.
type MessageHandler func(topic string, data []byte)

type backend interface {
	connect(ctx context.Context) error
	publish(ctx context.Context, topic, key string, data []byte) error
	subscribe(ctx context.Context, topic string, h MessageHandler) error
	connected() bool
	close() error
}

// Client publishes and subscribes over Kafka or MQTT depending on config.
type Client struct {
	cfg *config.MessagingConfig
	log *zap.SugaredLogger

	mu      sync.Mutex
	backend backend
}

func NewClient(cfg *config.MessagingConfig, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c := &Client{cfg: cfg, log: log}
	c.backend = c.newBackend()
	return c
}

func (c *Client) newBackend() backend {
	switch c.cfg.Backend {
	case "kafka":
		return &kafkaBackend{cfg: c.cfg.Kafka, log: c.log}
	case "mqtt":
		return &mqttBackend{cfg: c.cfg.MQTT, log: c.log}
	default:
		return nil
	}
}

func (c *Client) Backend() string { return c.cfg.Backend }

func (c *Client) Connect(ctx context.Context) error {
	b := c.current()
	if b == nil {
		return ErrDisabled
	}
	if err := b.connect(ctx); err != nil {
		return fmt.Errorf("messaging: connect %s: %w", c.cfg.Backend, err)
	}
	c.log.Infof("messaging: connected (%s)", c.cfg.Backend)
	return nil
}

func (c *Client) Publish(ctx context.Context, topic, key string, data []byte) error {
	b := c.current()
	if b == nil {
		return ErrDisabled
	}
	return b.publish(ctx, topic, key, data)
}

// Subscribe delivers messages on topic to h until ctx is done or the client closes.
func (c *Client) Subscribe(ctx context.Context, topic string, h MessageHandler) error {
	b := c.current()
	if b == nil {
		return ErrDisabled
	}
	return b.subscribe(ctx, topic, h)
}

func (c *Client) IsConnected() bool {
	b := c.current()
	return b != nil && b.connected()
}

func (c *Client) Close() error {
	c.mu.Lock()
	b := c.backend
	c.backend = nil
	c.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.close()
}

func (c *Client) current() backend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend
}

// --- kafka ---

type kafkaBackend struct {
	cfg config.KafkaConfig
	log *zap.SugaredLogger

	mu      sync.Mutex
	writer  *kafka.Writer
	readers []*kafka.Reader
	wg      sync.WaitGroup
	ok      atomic.Bool
}

func (k *kafkaBackend) connect(ctx context.Context) error {
	if len(k.cfg.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", k.cfg.Brokers[0])
	if err != nil {
		return err
	}
	conn.Close()

	k.mu.Lock()
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(k.cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	k.mu.Unlock()
	k.ok.Store(true)
	return nil
}

func (k *kafkaBackend) publish(ctx context.Context, topic, key string, data []byte) error {
	k.mu.Lock()
	w := k.writer
	k.mu.Unlock()
	if w == nil {
		return ErrNotConnected
	}
	err := w.WriteMessages(ctx, kafka.Message{Topic: topic, Key: []byte(key), Value: data})
	k.ok.Store(err == nil)
	return err
}

func (k *kafkaBackend) subscribe(ctx context.Context, topic string, h MessageHandler) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: k.cfg.Brokers,
		GroupID: k.cfg.GroupID,
		Topic:   topic,
	})
	k.mu.Lock()
	k.readers = append(k.readers, r)
	k.mu.Unlock()

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		for {
			msg, err := r.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, io.EOF) {
					k.log.Warnf("messaging: kafka read %s: %v", topic, err)
				}
				return
			}
			h(msg.Topic, msg.Value)
		}
	}()
	return nil
}

func (k *kafkaBackend) connected() bool { return k.ok.Load() }

func (k *kafkaBackend) close() error {
	k.mu.Lock()
	readers := k.readers
	w := k.writer
	k.readers, k.writer = nil, nil
	k.mu.Unlock()

	var err error
	for _, r := range readers {
		err = multierr.Append(err, r.Close())
	}
	k.wg.Wait()
	if w != nil {
		err = multierr.Append(err, w.Close())
	}
	k.ok.Store(false)
	return err
}

// --- mqtt ---

type mqttBackend struct {
	cfg    config.MQTTConfig
	log    *zap.SugaredLogger
	client mqtt.Client
}

func (m *mqttBackend) connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.cfg.Broker)
	opts.SetClientID(m.cfg.ClientID)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(false)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		m.log.Infof("messaging: mqtt connected to %s", m.cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		m.log.Warnf("messaging: mqtt connection lost: %v", err)
	})

	m.client = mqtt.NewClient(opts)
	return waitToken(ctx, m.client.Connect())
}

func (m *mqttBackend) publish(ctx context.Context, topic, _ string, data []byte) error {
	if m.client == nil {
		return ErrNotConnected
	}
	return waitToken(ctx, m.client.Publish(topic, m.cfg.QoS, false, data))
}

func (m *mqttBackend) subscribe(ctx context.Context, topic string, h MessageHandler) error {
	if m.client == nil {
		return ErrNotConnected
	}
	return waitToken(ctx, m.client.Subscribe(topic, m.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	}))
}

func (m *mqttBackend) connected() bool {
	return m.client != nil && m.client.IsConnectionOpen()
}

func (m *mqttBackend) close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

func waitToken(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
