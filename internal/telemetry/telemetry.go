// Package telemetry provides a lightweight structured-event pipeline: a
// zap-backed logger paired with a set of Sinks that fan each event out to
// external observability backends (OpenTelemetry traces, Prometheus
// counters, a websocket debug feed).
package telemetry

import (
	"sync"

	"go.uber.org/zap"

	"github.com/stuxnet147/codex-agent-protocol/internal/common/logger"
	"github.com/stuxnet147/codex-agent-protocol/internal/types"
)

// Level is a telemetry event's severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is a single structured telemetry emission.
type Event struct {
	Name      string
	Level     Level
	Timestamp int64 // ms epoch
	Payload   map[string]any
}

// Sink receives every emitted Event, in addition to the underlying logger
// line. Handle must not block for long; slow sinks should buffer
// internally.
type Sink interface {
	Handle(event Event)
}

// Options configures a new Telemetry pipeline.
type Options struct {
	Level    Level
	Bindings map[string]any
	Sinks    []Sink
	Logger   *logger.Logger
}

// sinkSet is a mutex-protected, shared list of Sinks. Telemetry and every
// Telemetry derived from it via Child hold a pointer to the same sinkSet, so
// a sink added on the root after a child was created is still invoked for
// events the child emits.
type sinkSet struct {
	mu    sync.RWMutex
	sinks []Sink
}

func newSinkSet(initial []Sink) *sinkSet {
	return &sinkSet{sinks: append([]Sink(nil), initial...)}
}

func (s *sinkSet) add(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

func (s *sinkSet) snapshot() []Sink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Sink(nil), s.sinks...)
}

// Telemetry is a child-scoped structured logger plus sink fan-out.
type Telemetry struct {
	log      *logger.Logger
	bindings map[string]any
	sinks    *sinkSet
}

// New builds a Telemetry pipeline from opts, defaulting to the process-wide
// logger when opts.Logger is nil.
func New(opts Options) *Telemetry {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	bindings := make(map[string]any, len(opts.Bindings))
	for k, v := range opts.Bindings {
		bindings[k] = v
	}
	if len(bindings) > 0 {
		log = log.WithFields(bindingFields(bindings)...)
	}
	return &Telemetry{
		log:      log,
		bindings: bindings,
		sinks:    newSinkSet(opts.Sinks),
	}
}

// Child returns a derived Telemetry whose bindings merge the parent's with
// the given ones, and which shares the parent's sink set: a sink added to
// either the parent or the child afterward is visible to both.
func (t *Telemetry) Child(bindings map[string]any) *Telemetry {
	merged := make(map[string]any, len(t.bindings)+len(bindings))
	for k, v := range t.bindings {
		merged[k] = v
	}
	for k, v := range bindings {
		merged[k] = v
	}
	return &Telemetry{
		log:      t.log.WithFields(bindingFields(bindings)...),
		bindings: merged,
		sinks:    t.sinks,
	}
}

// AddSink appends sink to the set notified on every subsequent emit, by
// this Telemetry or any of its children sharing the same sink set.
func (t *Telemetry) AddSink(sink Sink) {
	t.sinks.add(sink)
}

func (t *Telemetry) Debug(name string, payload map[string]any) { t.emit(LevelDebug, name, payload) }
func (t *Telemetry) Info(name string, payload map[string]any)  { t.emit(LevelInfo, name, payload) }
func (t *Telemetry) Warn(name string, payload map[string]any)  { t.emit(LevelWarn, name, payload) }
func (t *Telemetry) Error(name string, payload map[string]any) { t.emit(LevelError, name, payload) }

func (t *Telemetry) emit(level Level, name string, payload map[string]any) {
	event := Event{Name: name, Level: level, Timestamp: types.NowMs(), Payload: payload}

	fields := []zap.Field{zap.String("event", name)}
	for k, v := range payload {
		fields = append(fields, zap.Any(k, v))
	}
	switch level {
	case LevelDebug:
		t.log.Debug(name, fields...)
	case LevelWarn:
		t.log.Warn(name, fields...)
	case LevelError:
		t.log.Error(name, fields...)
	default:
		t.log.Info(name, fields...)
	}

	for _, sink := range t.sinks.snapshot() {
		sink.Handle(event)
	}
}

func bindingFields(bindings map[string]any) []zap.Field {
	fields := make([]zap.Field, 0, len(bindings))
	for k, v := range bindings {
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}
