// Package rterrors defines the error-kind taxonomy shared across the agent
// runtime. Components wrap their failures with these sentinels so callers
// can branch on Kind without depending on component-specific error types.
package rterrors

import "errors"

// Kind identifies which of the runtime's error categories an error belongs
// to, independent of which component raised it.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindDenied              Kind = "denied"
	KindTimeout             Kind = "timeout"
	KindProtocolError       Kind = "protocol_error"
	KindBackendExited       Kind = "backend_exited"
	KindMaxRestartsExceeded Kind = "max_restarts_exceeded"
	KindTaskFailed          Kind = "task_failed"
	KindSpawnFailed         Kind = "spawn_failed"
)

// runtimeError associates a Kind with an underlying cause so errors.As can
// recover the kind through arbitrary fmt.Errorf("...: %w", err) wrapping.
type runtimeError struct {
	kind Kind
	msg  string
	err  error
}

func (e *runtimeError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *runtimeError) Unwrap() error { return e.err }

// New builds an error of the given kind with a message.
func New(kind Kind, msg string) error {
	return &runtimeError{kind: kind, msg: msg}
}

// Wrap builds an error of the given kind that wraps an underlying cause.
func Wrap(kind Kind, msg string, err error) error {
	return &runtimeError{kind: kind, msg: msg, err: err}
}

// KindOf extracts the Kind associated with err, if any was attached via New
// or Wrap anywhere in its chain.
func KindOf(err error) (Kind, bool) {
	var re *runtimeError
	if errors.As(err, &re) {
		return re.kind, true
	}
	return "", false
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Convenience constructors matching spec.md §7's named error kinds.

func NotFound(msg string) error      { return New(KindNotFound, msg) }
func Conflict(msg string) error      { return New(KindConflict, msg) }
func Denied(msg string) error        { return New(KindDenied, msg) }
func Timeout(msg string) error       { return New(KindTimeout, msg) }
func ProtocolError(msg string) error { return New(KindProtocolError, msg) }
func BackendExited(msg string) error { return New(KindBackendExited, msg) }
func MaxRestartsExceeded(msg string) error {
	return New(KindMaxRestartsExceeded, msg)
}
func TaskFailed(msg string, cause error) error {
	return Wrap(KindTaskFailed, msg, cause)
}
func SpawnFailed(msg string, cause error) error {
	return Wrap(KindSpawnFailed, msg, cause)
}
