// Package types holds the value records shared across the agent runtime:
// agent definitions and runtime state, sessions, message envelopes,
// security descriptors, workflow node definitions, and the backend wire
// shapes. None of these types carry behavior; owning components (registry,
// session store, bus, workflow engine, backend client) mutate and enforce
// invariants over them.
package types

import "time"

// AgentID identifies a registered agent.
type AgentID = string

// AgentStatus is the runtime status of a registered agent.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentRunning AgentStatus = "running"
	AgentError   AgentStatus = "error"
	AgentStopped AgentStatus = "stopped"
	AgentOffline AgentStatus = "offline"
)

// Capability is a declarative permission tag enforced by the security
// guard. The set is closed: no other string value is recognized.
type Capability string

const (
	CapReadFS      Capability = "readFs"
	CapWriteFS     Capability = "writeFs"
	CapExec        Capability = "exec"
	CapNetOutbound Capability = "netOutbound"
	CapNetInbound  Capability = "netInbound"
)

// AgentDefinition is the immutable descriptor of a registered agent.
type AgentDefinition struct {
	ID             AgentID
	Name           string
	Capabilities   []Capability
	Metadata       map[string]any
	Singleton      bool
	MaxInstances   *int
	ResourceLimits map[string]float64
}

// HasCapability reports whether the definition declares cap.
func (d AgentDefinition) HasCapability(cap Capability) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// AgentRuntimeState is the mutable runtime state of a registered agent.
// UpdatedAt must be monotonically non-decreasing per agent; the registry
// enforces this, not the struct itself.
type AgentRuntimeState struct {
	Status        AgentStatus
	UpdatedAt     int64 // ms epoch
	Error         string
	ResourceUsage map[string]float64
}

// AgentRegistryEntry pairs a definition with its current runtime state.
type AgentRegistryEntry struct {
	Definition AgentDefinition
	State      AgentRuntimeState
}

// SessionRecord is a TTL-bounded container of contextual key/value state
// shared across agents attached to it.
type SessionRecord struct {
	ID        string
	CreatedAt int64 // ms epoch
	ExpiresAt *int64
	TTLMs     *int64
	Context   map[string]any
	Agents    map[AgentID]struct{}
}

// MessageType distinguishes fan-out envelopes from directly addressed ones.
type MessageType string

const (
	MessageBroadcast MessageType = "broadcast"
	MessageDirect    MessageType = "direct"
)

// MessageEnvelope is an immutable message delivered by the bus. Once
// published it must not be mutated by any subscriber.
type MessageEnvelope struct {
	ID        string
	SessionID string
	Type      MessageType
	Topic     string // topic name for broadcast, agent id for direct
	Payload   any
	Timestamp int64 // ms epoch
	Headers   map[string]string
}

// SecurityDescriptor is the capability and allow-list configuration the
// security guard enforces for a single agent.
type SecurityDescriptor struct {
	AgentID              AgentID
	Capabilities         map[Capability]struct{}
	FsAllowList          []string
	ExecAllowList        []string
	AllowNetworkOutbound bool
	AllowNetworkInbound  bool
}

// RetryPolicy configures attempt count and inter-attempt delay for a
// workflow node.
type RetryPolicy struct {
	Attempts int // >= 1
	DelayMs  int // >= 0
}

// BackendCommand is the request shape sent to the backend child over its
// line-delimited JSON channel. The wire representation injects an "id"
// field alongside these.
type BackendCommand struct {
	Op        string
	Args      map[string]any
	TimeoutMs *int
}

// BackendResult is the response shape read back from the backend child.
type BackendResult struct {
	OK    bool
	Data  any
	Error string
}

// NowMs returns the current wall-clock time in milliseconds since epoch,
// matching the unit spec.md uses throughout (AgentRuntimeState.UpdatedAt,
// SessionRecord timestamps, MessageEnvelope.Timestamp).
func NowMs() int64 {
	return time.Now().UnixMilli()
}
