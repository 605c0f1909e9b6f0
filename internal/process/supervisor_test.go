package process

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSupervisorStartEmitsStarted(t *testing.T) {
	s := NewSupervisor(ExecStrategy{}, LaunchOptions{
		Command: "sh",
		Args:    []string{"-c", "cat"},
	}, nil)

	started := make(chan struct{}, 1)
	s.On("started", func(event string, args ...any) { started <- struct{}{} })

	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for started event")
	}
	if !s.IsRunning() {
		t.Fatal("expected supervisor to report running")
	}
}

func TestSupervisorStopSuppressesRestart(t *testing.T) {
	s := NewSupervisor(ExecStrategy{}, LaunchOptions{
		Command:     "sh",
		Args:        []string{"-c", "cat"},
		AutoRestart: true,
		BackoffMs:   10,
	}, nil)

	var mu sync.Mutex
	var restarted bool
	s.On("restarted", func(event string, args ...any) {
		mu.Lock()
		restarted = true
		mu.Unlock()
	})

	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	s.Stop()
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if restarted {
		t.Fatal("expected no restart after an intentional Stop")
	}
}

func TestSupervisorMaxRestartsExceeded(t *testing.T) {
	s := NewSupervisor(ExecStrategy{}, LaunchOptions{
		Command:     "sh",
		Args:        []string{"-c", "exit 1"},
		AutoRestart: true,
		MaxRestarts: 1,
		BackoffMs:   10,
	}, nil)

	failed := make(chan struct{}, 4)
	s.On("failed", func(event string, args ...any) { failed <- struct{}{} })

	s.Start(context.Background())

	count := 0
	timeout := time.After(2 * time.Second)
	for count < 1 {
		select {
		case <-failed:
			count++
		case <-timeout:
			t.Fatal("timed out waiting for max-restarts-exceeded failure")
		}
	}
}
