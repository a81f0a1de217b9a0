package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"qc-vision/internal/domain/entity"
	"qc-vision/internal/domain/port"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	eventQoS       = 1
)

var errNotConnected = errors.New("mqtt not connected")

// Conn часть paho.Client, которой пользуется пакет
type Conn interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
	Disconnect(quiesce uint)
}

// Config параметры подключения к брокеру
type Config struct {
	Broker   string // host:port или URL со схемой
	Topic    string // корень топиков станции
	ClientID string
}

// Publisher выгружает учтённые проверки в MQTT: <topic>/ok и <topic>/ng
type Publisher struct {
	cfg    Config
	client Conn
	log    *slog.Logger

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// Connect подключается к брокеру; дальнейшие обрывы переживаются автопереподключением
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Publisher, error) {
	p := &Publisher{cfg: cfg, log: logger}

	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c paho.Client) {
		p.setConnected(true)
		logger.Info("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(c paho.Client, err error) {
		p.setConnected(false)
		logger.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	c := paho.NewClient(opts)
	p.client = c

	logger.Info("connecting to mqtt broker", "broker", cfg.Broker)

	token := c.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.Disconnect(0)
		return nil, ctx.Err()
	case <-time.After(connectTimeout):
		c.Disconnect(0)
		return nil, errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	p.setConnected(true)
	return p, nil
}

func newPublisher(cfg Config, c Conn, logger *slog.Logger) *Publisher {
	return &Publisher{cfg: cfg, client: c, log: logger, connected: c.IsConnected()}
}

// eventPayload JSON-сообщение о проверке
type eventPayload struct {
	ID        string              `json:"id"`
	Station   string              `json:"station"`
	Verdict   string              `json:"verdict"`
	Label     string              `json:"label"`
	At        time.Time           `json:"at"`
	Stats     entity.RunningStats `json:"stats"`
	YieldRate float64             `json:"yield_rate"`
}

// Publish отправляет событие с QoS 1 и ждёт подтверждения не дольше publishTimeout
func (p *Publisher) Publish(ctx context.Context, event entity.InspectionEvent) error {
	if !p.isConnected() {
		p.failed()
		return errNotConnected
	}

	payload, err := json.Marshal(eventPayload{
		ID:        event.ID.String(),
		Station:   p.cfg.ClientID,
		Verdict:   event.Verdict.String(),
		Label:     event.Label,
		At:        event.At,
		Stats:     event.Stats,
		YieldRate: event.Stats.YieldRate(),
	})
	if err != nil {
		p.failed()
		return fmt.Errorf("marshal event: %w", err)
	}

	topic := p.EventTopic(event.Verdict)
	if err := wait(ctx, p.client.Publish(topic, eventQoS, false, payload)); err != nil {
		p.failed()
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	p.log.Debug("inspection published", "topic", topic, "size", len(payload))
	return nil
}

// EventTopic топик для вердикта, например qc/inspections/ng
func (p *Publisher) EventTopic(v entity.Verdict) string {
	return p.cfg.Topic + "/" + strings.ToLower(v.String())
}

// Stats число отправленных событий и ошибок
func (p *Publisher) Stats() (published, failures uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.published, p.errors
}

// Conn подключение для плоскости управления
func (p *Publisher) Conn() Conn {
	return p.client
}

// Disconnect закрывает соединение
func (p *Publisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		p.log.Info("mqtt disconnected")
	}
	p.setConnected(false)
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *Publisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *Publisher) failed() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

// wait ждёт завершения операции paho с учётом ctx
func wait(ctx context.Context, token paho.Token) error {
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("timeout")
	}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

var _ port.EventPublisher = (*Publisher)(nil)
