package messaging

import (
	"sync"
	"testing"
	"time"

	"github.com/stuxnet147/codex-agent-protocol/internal/types"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := NewMemoryBus()
	var mu sync.Mutex
	var received []types.MessageEnvelope
	done := make(chan struct{}, 1)

	_, err := b.Subscribe("topic-1", func(env types.MessageEnvelope) {
		mu.Lock()
		received = append(received, env)
		mu.Unlock()
		done <- struct{}{}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := b.Publish("topic-1", "payload", "sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].Payload != "payload" {
		t.Fatalf("unexpected received messages: %v", received)
	}
}

func TestSendToAgentOnlyReachesDirectSubscribers(t *testing.T) {
	b := NewMemoryBus()
	topicCh := make(chan types.MessageEnvelope, 1)
	directCh := make(chan types.MessageEnvelope, 1)

	b.Subscribe("agent-1", func(env types.MessageEnvelope) { topicCh <- env })
	b.SubscribeAgent("agent-1", func(env types.MessageEnvelope) { directCh <- env })

	if _, err := b.SendToAgent("agent-1", "hi", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-directCh:
	case <-time.After(time.Second):
		t.Fatal("expected direct subscriber to receive message")
	}

	select {
	case <-topicCh:
		t.Fatal("topic subscriber with same key should not receive direct messages")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	ch := make(chan types.MessageEnvelope, 1)
	sub, _ := b.Subscribe("topic-1", func(env types.MessageEnvelope) { ch <- env })
	sub.Unsubscribe()

	if sub.IsValid() {
		t.Fatal("expected subscription to be invalid after unsubscribe")
	}

	b.Publish("topic-1", "payload", "")
	select {
	case <-ch:
		t.Fatal("expected no delivery after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDeliversInOrderToSameSubscription(t *testing.T) {
	b := NewMemoryBus()
	var mu sync.Mutex
	var received []int
	done := make(chan struct{})

	_, err := b.Subscribe("topic-1", func(env types.MessageEnvelope) {
		mu.Lock()
		received = append(received, env.Payload.(int))
		if len(received) == 50 {
			close(done)
		}
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 50; i++ {
		if _, err := b.Publish("topic-1", i, "sess-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for all deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range received {
		if v != i {
			t.Fatalf("expected in-order delivery, got %v", received)
		}
	}
}

func TestClosedBusRejectsOperations(t *testing.T) {
	b := NewMemoryBus()
	b.Close()
	if _, err := b.Publish("topic-1", "x", ""); err == nil {
		t.Fatal("expected error publishing on closed bus")
	}
	if _, err := b.Subscribe("topic-1", func(types.MessageEnvelope) {}); err == nil {
		t.Fatal("expected error subscribing on closed bus")
	}
}
