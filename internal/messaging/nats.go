package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/stuxnet147/codex-agent-protocol/internal/common/logger"
	"github.com/stuxnet147/codex-agent-protocol/internal/rterrors"
	"github.com/stuxnet147/codex-agent-protocol/internal/types"
)

// NATSBus implements Bus over a NATS connection, for deployments that run
// more than one runtime process sharing a single logical message space.
// Topics map directly onto NATS subjects; direct agent delivery uses a
// "agent.<id>" subject namespace to avoid colliding with broadcast topics.
type NATSBus struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// NATSConfig configures a NATSBus connection.
type NATSConfig struct {
	URL           string
	ClientName    string
	MaxReconnects int
}

const directSubjectPrefix = "agent."

// NewNATSBus dials cfg.URL and wires reconnection logging through log.
func NewNATSBus(cfg NATSConfig, log *logger.Logger) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("nats connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, rterrors.Wrap(rterrors.KindSpawnFailed, "failed to connect to nats", err)
	}
	return &NATSBus{conn: conn, logger: log}, nil
}

type wireEnvelope struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id,omitempty"`
	Type      string            `json:"type"`
	Topic     string            `json:"topic"`
	Payload   any               `json:"payload"`
	Timestamp int64             `json:"timestamp"`
	Headers   map[string]string `json:"headers,omitempty"`
}

func (b *NATSBus) Publish(topic string, payload any, sessionID string) (types.MessageEnvelope, error) {
	return b.publish(topic, topic, types.MessageBroadcast, payload, sessionID)
}

func (b *NATSBus) SendToAgent(agentID types.AgentID, payload any, sessionID string) (types.MessageEnvelope, error) {
	return b.publish(directSubjectPrefix+agentID, agentID, types.MessageDirect, payload, sessionID)
}

func (b *NATSBus) publish(subject, topic string, msgType types.MessageType, payload any, sessionID string) (types.MessageEnvelope, error) {
	envelope := types.MessageEnvelope{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      msgType,
		Topic:     topic,
		Payload:   payload,
		Timestamp: types.NowMs(),
	}
	data, err := json.Marshal(wireEnvelope{
		ID: envelope.ID, SessionID: envelope.SessionID, Type: string(envelope.Type),
		Topic: envelope.Topic, Payload: envelope.Payload, Timestamp: envelope.Timestamp,
	})
	if err != nil {
		return types.MessageEnvelope{}, rterrors.Wrap(rterrors.KindProtocolError, "failed to marshal envelope", err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return types.MessageEnvelope{}, rterrors.Wrap(rterrors.KindProtocolError, "failed to publish to nats", err)
	}
	return envelope, nil
}

func (b *NATSBus) Subscribe(topic string, handler Handler) (Subscription, error) {
	return b.subscribe(topic, handler)
}

func (b *NATSBus) SubscribeAgent(agentID types.AgentID, handler Handler) (Subscription, error) {
	return b.subscribe(directSubjectPrefix+agentID, handler)
}

func (b *NATSBus) subscribe(subject string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var wire wireEnvelope
		if err := json.Unmarshal(msg.Data, &wire); err != nil {
			b.logger.Error("failed to unmarshal nats message", zap.Error(err))
			return
		}
		handler(types.MessageEnvelope{
			ID: wire.ID, SessionID: wire.SessionID, Type: types.MessageType(wire.Type),
			Topic: wire.Topic, Payload: wire.Payload, Timestamp: wire.Timestamp, Headers: wire.Headers,
		})
	})
	if err != nil {
		return nil, rterrors.Wrap(rterrors.KindProtocolError, "failed to subscribe on nats", err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

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
