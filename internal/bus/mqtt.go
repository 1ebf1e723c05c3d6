// Package bus connects the agents over MQTT. Every message on the bus is a
// canonical-JSON event envelope; the bus parses inbound messages and hands
// typed envelopes to a single handler, and serializes outbound envelopes on
// publish.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/MrWong99/mindgraph/internal/event"
)

// connectTimeout bounds the initial broker handshake.
const connectTimeout = 10 * time.Second

// Handler receives every parsed envelope from a subscribed topic. Handlers
// run on the broker's message loop; the context is marked so that publishes
// made from inside a handler do not block on broker acknowledgement.
type Handler func(ctx context.Context, topic string, env event.Envelope)

// Publisher is the outbound half of the bus. Agents depend on this interface
// so tests can substitute a recording fake.
type Publisher interface {
	Publish(ctx context.Context, topic string, env event.Envelope) error
}

// Config holds the broker connection parameters.
type Config struct {
	ClientID string
	Host     string
	Port     int
	QoS      byte
	Logger   *slog.Logger
}

// Service is an MQTT client speaking event envelopes. Create with [New],
// connect with [Start], and release with [Close].
type Service struct {
	cfg    Config
	logger *slog.Logger
	client mqtt.Client

	subscriptions []string
	handler       Handler
}

var _ Publisher = (*Service)(nil)

// New prepares a bus service. No connection is made until [Service.Start].
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, logger: logger}
}

// Start connects to the broker and subscribes to the given topics, routing
// every message to handler. Subscriptions are re-established on every
// reconnect. Start blocks until the broker acknowledged the connection or the
// timeout elapsed.
func (s *Service) Start(ctx context.Context, subscriptions []string, handler Handler) error {
	s.subscriptions = subscriptions
	s.handler = handler

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", s.cfg.Host, s.cfg.Port)).
		SetClientID(s.cfg.ClientID).
		SetKeepAlive(30 * time.Second).
		SetAutoReconnect(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost", "error", err)
		})

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("bus: timed out connecting to mqtt %s:%d", s.cfg.Host, s.cfg.Port)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("bus: connect to mqtt %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	return nil
}

func (s *Service) onConnect(client mqtt.Client) {
	for _, topic := range s.subscriptions {
		t := topic
		token := client.Subscribe(t, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			s.handleMessage(msg.Topic(), msg.Payload())
		})
		go func() {
			token.Wait()
			if err := token.Error(); err != nil {
				s.logger.Error("mqtt subscribe failed", "topic", t, "error", err)
			}
		}()
	}
	s.logger.Info("connected to mqtt", "host", s.cfg.Host, "port", s.cfg.Port)
}

// handleMessage parses an inbound payload and dispatches it. Malformed
// messages are logged and dropped; a bad publisher must not wedge the agent.
func (s *Service) handleMessage(topic string, payload []byte) {
	if s.handler == nil {
		return
	}
	env, err := event.Parse(payload)
	if err != nil {
		s.logger.Error("dropping malformed mqtt message", "topic", topic, "error", err)
		return
	}
	s.handler(event.MarkHandlerContext(context.Background()), topic, env)
}

// Publish serializes the envelope and sends it on topic. When called from
// outside a message handler it waits for broker acknowledgement; from inside
// a handler it returns immediately and reports delivery errors via the log,
// since waiting there would deadlock the message loop.
func (s *Service) Publish(ctx context.Context, topic string, env event.Envelope) error {
	payload, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("bus: marshal envelope for %s: %w", topic, err)
	}

	token := s.client.Publish(topic, s.cfg.QoS, false, payload)
	if event.FromHandler(ctx) {
		go func() {
			token.Wait()
			if err := token.Error(); err != nil {
				s.logger.Error("mqtt publish failed", "topic", topic, "error", err)
			}
		}()
		return nil
	}

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("bus: publish to %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bus: publish to %s: %w", topic, ctx.Err())
	}
}

// Close disconnects from the broker, allowing in-flight messages a short
// grace period.
func (s *Service) Close() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}
