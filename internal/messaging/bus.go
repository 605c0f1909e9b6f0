// Package messaging provides the agent runtime's publish/subscribe message
// bus: topic broadcasts and direct agent-addressed delivery.
package messaging

import (
	"github.com/stuxnet147/codex-agent-protocol/internal/types"
)

// Handler receives a delivered message envelope.
type Handler func(envelope types.MessageEnvelope)

// Subscription represents an active subscription returned by Subscribe or
// SubscribeAgent.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// Bus is the message bus contract. MemoryBus and NATSBus both implement it,
// so callers can switch transports via configuration alone.
type Bus interface {
	// Publish broadcasts payload to every subscriber of topic.
	Publish(topic string, payload any, sessionID string) (types.MessageEnvelope, error)

	// SendToAgent delivers payload directly to agentID's subscribers.
	SendToAgent(agentID types.AgentID, payload any, sessionID string) (types.MessageEnvelope, error)

	// Subscribe registers handler for broadcasts on topic.
	Subscribe(topic string, handler Handler) (Subscription, error)

	// SubscribeAgent registers handler for messages sent directly to agentID.
	SubscribeAgent(agentID types.AgentID, handler Handler) (Subscription, error)

	// Close releases the bus's resources.
	Close() error
}
