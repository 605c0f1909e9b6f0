package messaging

import (
	"sync"

	"github.com/google/uuid"
	"github.com/stuxnet147/codex-agent-protocol/internal/rterrors"
	"github.com/stuxnet147/codex-agent-protocol/internal/types"
)

// MemoryBus is an in-memory Bus implementation. It is the default transport
// and requires no external dependency.
type MemoryBus struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySubscription]struct{}
	direct map[types.AgentID]map[*memorySubscription]struct{}
	closed bool
}

// NewMemoryBus returns an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		topics: make(map[string]map[*memorySubscription]struct{}),
		direct: make(map[types.AgentID]map[*memorySubscription]struct{}),
	}
}

// memorySubscription delivers envelopes to handler one at a time, in the
// order they arrive, through a dedicated worker goroutine — the same
// ordering guarantee NATSBus gets for free from nats.go dispatching each
// subscription's messages on its own internal goroutine. Without this, two
// envelopes published back to back could reach handler out of order since
// nothing would serialize the goroutines a naive per-publish spawn creates.
type memorySubscription struct {
	bus     *MemoryBus
	key     string
	direct  bool
	handler Handler

	mu     sync.Mutex
	active bool
	queue  chan types.MessageEnvelope
	done   chan struct{}
}

func newMemorySubscription(bus *MemoryBus, key string, direct bool, handler Handler) *memorySubscription {
	s := &memorySubscription{
		bus:     bus,
		key:     key,
		direct:  direct,
		handler: handler,
		active:  true,
		queue:   make(chan types.MessageEnvelope, 256),
		done:    make(chan struct{}),
	}
	go s.worker()
	return s
}

// worker drains queue in arrival order until the subscription is
// unsubscribed, then delivers whatever is already queued before exiting so
// Unsubscribe doesn't drop in-flight envelopes.
func (s *memorySubscription) worker() {
	for {
		select {
		case envelope := <-s.queue:
			s.handler(envelope)
		case <-s.done:
			for {
				select {
				case envelope := <-s.queue:
					s.handler(envelope)
				default:
					return
				}
			}
		}
	}
}

// enqueue hands envelope to this subscription's worker, preserving publish
// order for this subscription specifically. A full queue backs up the
// publisher rather than drop or reorder envelopes.
func (s *memorySubscription) enqueue(envelope types.MessageEnvelope) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if !active {
		return
	}
	select {
	case s.queue <- envelope:
	case <-s.done:
	}
}

func (s *memorySubscription) Unsubscribe() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.mu.Unlock()
	close(s.done)

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	target := s.bus.topics
	if s.direct {
		target = s.bus.direct
	}
	if set, ok := target[s.key]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(target, s.key)
		}
	}
	return nil
}

func (s *memorySubscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Publish broadcasts payload to every subscriber of topic. Each
// subscription's handler runs on that subscription's own worker goroutine,
// so a slow subscriber never blocks another subscription, while envelopes
// delivered to the same subscription stay in publish order.
func (b *MemoryBus) Publish(topic string, payload any, sessionID string) (types.MessageEnvelope, error) {
	envelope := types.MessageEnvelope{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      types.MessageBroadcast,
		Topic:     topic,
		Payload:   payload,
		Timestamp: types.NowMs(),
	}
	if err := b.dispatch(b.topics, topic, envelope); err != nil {
		return types.MessageEnvelope{}, err
	}
	return envelope, nil
}

// SendToAgent delivers payload directly to agentID's subscribers.
func (b *MemoryBus) SendToAgent(agentID types.AgentID, payload any, sessionID string) (types.MessageEnvelope, error) {
	envelope := types.MessageEnvelope{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      types.MessageDirect,
		Topic:     agentID,
		Payload:   payload,
		Timestamp: types.NowMs(),
	}
	if err := b.dispatch(b.direct, agentID, envelope); err != nil {
		return types.MessageEnvelope{}, err
	}
	return envelope, nil
}

func (b *MemoryBus) dispatch(table map[string]map[*memorySubscription]struct{}, key string, envelope types.MessageEnvelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return rterrors.New(rterrors.KindProtocolError, "message bus is closed")
	}
	subs := make([]*memorySubscription, 0, len(table[key]))
	for sub := range table[key] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.enqueue(envelope)
	}
	return nil
}

// Subscribe registers handler for broadcasts on topic.
func (b *MemoryBus) Subscribe(topic string, handler Handler) (Subscription, error) {
	return b.subscribe(b.topics, topic, handler, false)
}

// SubscribeAgent registers handler for messages sent directly to agentID.
func (b *MemoryBus) SubscribeAgent(agentID types.AgentID, handler Handler) (Subscription, error) {
	return b.subscribe(b.direct, agentID, handler, true)
}

func (b *MemoryBus) subscribe(table map[string]map[*memorySubscription]struct{}, key string, handler Handler, direct bool) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, rterrors.New(rterrors.KindProtocolError, "message bus is closed")
	}
	sub := newMemorySubscription(b, key, direct, handler)
	if table[key] == nil {
		table[key] = make(map[*memorySubscription]struct{})
	}
	table[key][sub] = struct{}{}
	return sub, nil
}

// Close marks the bus closed; further Publish/Subscribe calls fail.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
