// Package session manages TTL-bounded session records that group agents
// and shared context under a common identifier.
package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/stuxnet147/codex-agent-protocol/internal/rterrors"
	"github.com/stuxnet147/codex-agent-protocol/internal/types"
)

// Store is a thread-safe session registry with TTL-based expiry.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*types.SessionRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]*types.SessionRecord)}
}

// Create starts a new session. ttlMs of 0 means the session never expires
// on its own. seedContext is copied, not referenced.
func (s *Store) Create(ttlMs int64, seedContext map[string]any) *types.SessionRecord {
	now := types.NowMs()
	ctx := make(map[string]any, len(seedContext))
	for k, v := range seedContext {
		ctx[k] = v
	}
	record := &types.SessionRecord{
		ID:        uuid.NewString(),
		CreatedAt: now,
		Context:   ctx,
		Agents:    make(map[types.AgentID]struct{}),
	}
	if ttlMs > 0 {
		expires := now + ttlMs
		record.TTLMs = &ttlMs
		record.ExpiresAt = &expires
	}

	s.mu.Lock()
	s.sessions[record.ID] = record
	s.mu.Unlock()
	return record
}

// AttachAgent adds agentID to the session's member set.
func (s *Store) AttachAgent(sessionID string, agentID types.AgentID) error {
	record, err := s.require(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	record.Agents[agentID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// DetachAgent removes agentID from the session's member set.
func (s *Store) DetachAgent(sessionID string, agentID types.AgentID) error {
	record, err := s.require(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(record.Agents, agentID)
	s.mu.Unlock()
	return nil
}

// Get returns the session, sweeping it away first if it has expired.
func (s *Store) Get(sessionID string) (*types.SessionRecord, bool) {
	s.mu.RLock()
	record, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if isExpired(record) {
		s.Delete(sessionID)
		return nil, false
	}
	return record, true
}

// SetContext stores value under key in the session's context map.
func (s *Store) SetContext(sessionID, key string, value any) error {
	record, err := s.require(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	record.Context[key] = value
	s.mu.Unlock()
	return nil
}

// GetContext returns the value stored for key, or nil if absent.
func (s *Store) GetContext(sessionID, key string) (any, error) {
	record, err := s.require(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return record.Context[key], nil
}

// Extend resets the session's TTL to ttlMs from now.
func (s *Store) Extend(sessionID string, ttlMs int64) error {
	record, err := s.require(sessionID)
	if err != nil {
		return err
	}
	expires := types.NowMs() + ttlMs
	s.mu.Lock()
	record.TTLMs = &ttlMs
	record.ExpiresAt = &expires
	s.mu.Unlock()
	return nil
}

// Delete removes a session unconditionally.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// Sweep removes all expired sessions.
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, record := range s.sessions {
		if isExpired(record) {
			delete(s.sessions, id)
		}
	}
}

// List sweeps expired sessions and returns a snapshot of what remains.
func (s *Store) List() []*types.SessionRecord {
	s.Sweep()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.SessionRecord, 0, len(s.sessions))
	for _, record := range s.sessions {
		out = append(out, record)
	}
	return out
}

func (s *Store) require(sessionID string) (*types.SessionRecord, error) {
	record, ok := s.Get(sessionID)
	if !ok {
		return nil, rterrors.NotFound("unknown or expired session " + sessionID)
	}
	return record, nil
}

func isExpired(record *types.SessionRecord) bool {
	return record.ExpiresAt != nil && *record.ExpiresAt <= types.NowMs()
}
