package process

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stuxnet147/codex-agent-protocol/internal/common/logger"
	"github.com/stuxnet147/codex-agent-protocol/internal/rterrors"
	"go.uber.org/zap"
)

// Handler receives supervisor lifecycle events: "started" (Child),
// "exited" (exit code int), "failed" (error), "restarted" (attempt int).
type Handler func(event string, args ...any)

// Supervisor launches a Child under opts.Strategy and restarts it on
// unexpected exit, subject to MaxRestarts and an exponential-free fixed
// backoff (BackoffMs), mirroring the Python ProcessSupervisor.
type Supervisor struct {
	strategy Strategy
	opts     LaunchOptions
	log      *logger.Logger

	mu           sync.Mutex
	child        Child
	status       atomic.Value // Status
	restarts     int
	shuttingDown bool

	handlersMu sync.RWMutex
	handlers   map[string][]Handler
}

// NewSupervisor builds a Supervisor that launches opts via strategy.
func NewSupervisor(strategy Strategy, opts LaunchOptions, log *logger.Logger) *Supervisor {
	s := &Supervisor{
		strategy: strategy,
		opts:     opts,
		log:      log,
		handlers: make(map[string][]Handler),
	}
	s.status.Store(StatusStopped)
	return s
}

// Status returns the supervisor's current lifecycle state.
func (s *Supervisor) Status() Status { return s.status.Load().(Status) }

// IsRunning reports whether a child process is currently active.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.child != nil
}

// Child returns the current child, or nil if none is running.
func (s *Supervisor) Child() Child {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.child
}

// On registers handler for event.
func (s *Supervisor) On(event string, handler Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[event] = append(s.handlers[event], handler)
}

// Start launches the child if one isn't already running.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.child != nil {
		s.mu.Unlock()
		return
	}
	s.status.Store(StatusStarting)
	child, err := s.strategy.Launch(ctx, s.opts)
	if err != nil {
		s.mu.Unlock()
		s.status.Store(StatusFailed)
		s.emit("failed", err)
		if s.opts.AutoRestart {
			s.scheduleRestart(ctx)
		}
		return
	}
	s.child = child
	s.shuttingDown = false
	s.status.Store(StatusRunning)
	s.mu.Unlock()

	go s.watch(ctx, child)
	s.emit("started", child)
}

// Stop signals the child to terminate and marks the supervisor as
// intentionally shutting down, suppressing the auto-restart that would
// otherwise follow its exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	child := s.child
	if child != nil {
		s.shuttingDown = true
	}
	s.mu.Unlock()
	if child == nil {
		return
	}
	s.status.Store(StatusStopping)
	if err := child.Signal("TERM"); err != nil {
		child.Signal("KILL")
	}
}

func (s *Supervisor) watch(ctx context.Context, child Child) {
	code, _ := child.Wait()
	s.emit("exited", code)

	s.mu.Lock()
	s.child = nil
	shuttingDown := s.shuttingDown
	s.mu.Unlock()

	if !shuttingDown {
		s.status.Store(StatusFailed)
		if s.opts.AutoRestart {
			s.scheduleRestart(ctx)
		}
	} else {
		s.status.Store(StatusStopped)
	}
}

func (s *Supervisor) scheduleRestart(ctx context.Context) {
	if !s.opts.AutoRestart {
		return
	}

	s.mu.Lock()
	if s.opts.MaxRestarts > 0 && s.restarts >= s.opts.MaxRestarts {
		s.mu.Unlock()
		s.emit("failed", rterrors.MaxRestartsExceeded("maximum restart attempts exceeded"))
		return
	}
	s.restarts++
	attempt := s.restarts
	s.mu.Unlock()

	backoff := s.opts.BackoffMs
	if backoff <= 0 {
		backoff = 1000
	}
	time.AfterFunc(time.Duration(backoff)*time.Millisecond, func() {
		s.emit("restarted", attempt)
		s.Start(ctx)
	})
}

func (s *Supervisor) emit(event string, args ...any) {
	s.handlersMu.RLock()
	handlers := append([]Handler(nil), s.handlers[event]...)
	s.handlersMu.RUnlock()
	for _, h := range handlers {
		h(event, args...)
	}
	if event == "failed" && s.log != nil {
		if len(args) > 0 {
			if err, ok := args[0].(error); ok {
				s.log.Error("backend process failed", zap.Error(err))
			}
		}
	}
}
