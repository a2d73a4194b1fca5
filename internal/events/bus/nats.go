package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/config"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
)

const (
	natsReconnectWait = 2 * time.Second
	// Publishes are buffered client-side while the server is away.
	natsReconnectBufSize = 5 << 20
)

// NATSEventBus implements EventBus on a NATS connection. Subject and
// wildcard semantics are NATS-native; MemoryEventBus mirrors them so the
// two implementations are interchangeable.
type NATSEventBus struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// NewNATSEventBus connects to the configured server and keeps the
// connection alive across server restarts.
func NewNATSEventBus(cfg config.NATSConfig, log *logger.Logger) (*NATSEventBus, error) {
	conn, err := nats.Connect(cfg.URL, natsOptions(cfg, log)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info("Connected to NATS", zap.String("url", cfg.URL))
	return &NATSEventBus{conn: conn, logger: log}, nil
}

// natsOptions wires reconnect behavior and connection lifecycle logging.
func natsOptions(cfg config.NATSConfig, log *logger.Logger) []nats.Option {
	return []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.ReconnectBufSize(natsReconnectBufSize),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
				return
			}
			log.Info("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if err := nc.LastError(); err != nil {
				log.Error("NATS connection closed", zap.Error(err))
				return
			}
			log.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			// sub is nil for errors not tied to a subscription.
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			log.Error("NATS async error", fields...)
		}),
	}
}

// Publish marshals event and sends it on subject. Delivery is fire and
// forget; the client buffers while a reconnect is in progress.
func (b *NATSEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.String("event_type", event.Type),
			zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Published event",
		zap.String("subject", subject),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type))

	return nil
}

// Subscribe registers handler for every event matching subject. Handler
// errors are logged and swallowed so one subscriber cannot break delivery
// to the rest.
func (b *NATSEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		b.dispatch(msg, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	b.logger.Debug("Subscribed to subject", zap.String("subject", subject))
	return &natsSubscription{sub: sub}, nil
}

func (b *NATSEventBus) dispatch(msg *nats.Msg, handler EventHandler) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		b.logger.Error("Dropping undecodable event",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		return
	}

	if err := handler(context.Background(), &event); err != nil {
		b.logger.Error("Event handler error",
			zap.String("subject", msg.Subject),
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}

// Close drains the connection so buffered messages are delivered before
// shutdown, falling back to a hard close if draining fails.
func (b *NATSEventBus) Close() {
	if b.conn == nil {
		return
	}

	if err := b.conn.Drain(); err != nil {
		b.logger.Warn("Error draining NATS connection", zap.Error(err))
		b.conn.Close()
	}
	b.logger.Info("NATS connection closed")
}

// IsConnected reports whether the connection is currently established.
func (b *NATSEventBus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// natsSubscription adapts nats.Subscription to the bus Subscription interface.
type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) IsValid() bool {
	return s.sub != nil && s.sub.IsValid()
}
