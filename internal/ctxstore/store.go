// Package ctxstore implements the namespace-scoped context store agents
// use to share key/value state and assemble prompt packages.
package ctxstore

import (
	"sync"

	"github.com/google/uuid"
	"github.com/stuxnet147/codex-agent-protocol/internal/types"
)

// Snapshot is an immutable point-in-time copy of a namespace's data.
type Snapshot struct {
	ID        string
	CreatedAt int64 // ms epoch
	Data      map[string]any
}

// Store is a thread-safe namespace-aware context store.
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]any
}

// New returns an empty Store.
func New() *Store {
	return &Store{namespaces: make(map[string]map[string]any)}
}

// Set stores value under key within namespace, creating the namespace if
// it doesn't already exist.
func (s *Store) Set(namespace, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]any)
		s.namespaces[namespace] = ns
	}
	ns[key] = value
}

// Get returns the value stored for key within namespace, or nil if absent.
func (s *Store) Get(namespace, key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return nil
	}
	return ns[key]
}

// Delete removes key from namespace. An empty namespace is pruned entirely
// so ListNamespaces never reports stale entries.
func (s *Store) Delete(namespace, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return
	}
	delete(ns, key)
	if len(ns) == 0 {
		delete(s.namespaces, namespace)
	}
}

// Snapshot copies the current contents of namespace under a fresh ID.
func (s *Store) Snapshot(namespace string) Snapshot {
	s.mu.RLock()
	ns := s.namespaces[namespace]
	data := make(map[string]any, len(ns))
	for k, v := range ns {
		data[k] = v
	}
	s.mu.RUnlock()
	return Snapshot{ID: uuid.NewString(), CreatedAt: types.NowMs(), Data: data}
}

// ListNamespaces returns the names of all non-empty namespaces.
func (s *Store) ListNamespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.namespaces))
	for ns := range s.namespaces {
		out = append(out, ns)
	}
	return out
}

// Clear removes every namespace.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespaces = make(map[string]map[string]any)
}

// PromptEntry is a single key/value pair folded into a PromptPackage.
type PromptEntry struct {
	Key   string
	Value any
}

// PromptPackage is the assembled bundle of context handed to a backend
// invocation.
type PromptPackage struct {
	SessionID   string
	Entries     []PromptEntry
	Attachments []map[string]any
}

// PromptPackOptions configures PackPrompt.
type PromptPackOptions struct {
	Namespace   string
	Keys        []string // nil or empty selects the full namespace snapshot
	SessionID   string
	Attachments []map[string]any
}

// PackPrompt collects context data into a PromptPackage. When Keys is
// empty, it takes a full snapshot of Namespace; otherwise it looks up each
// key individually, silently omitting keys with no stored value (mirroring
// Snapshot/Get's nil-for-missing contract).
func PackPrompt(store *Store, opts PromptPackOptions) PromptPackage {
	var entries []PromptEntry
	if len(opts.Keys) == 0 {
		snap := store.Snapshot(opts.Namespace)
		entries = make([]PromptEntry, 0, len(snap.Data))
		for k, v := range snap.Data {
			entries = append(entries, PromptEntry{Key: k, Value: v})
		}
	} else {
		entries = make([]PromptEntry, 0, len(opts.Keys))
		for _, k := range opts.Keys {
			v := store.Get(opts.Namespace, k)
			if v == nil {
				continue
			}
			entries = append(entries, PromptEntry{Key: k, Value: v})
		}
	}
	return PromptPackage{SessionID: opts.SessionID, Entries: entries, Attachments: opts.Attachments}
}
