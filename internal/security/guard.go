// Package security enforces the declarative capability and allow-list
// descriptors registered for each agent.
package security

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/stuxnet147/codex-agent-protocol/internal/rterrors"
	"github.com/stuxnet147/codex-agent-protocol/internal/types"
)

// Guard applies registered SecurityDescriptors at runtime. All methods are
// safe for concurrent use.
type Guard struct {
	mu          sync.RWMutex
	descriptors map[types.AgentID]types.SecurityDescriptor
}

// NewGuard returns an empty Guard.
func NewGuard() *Guard {
	return &Guard{descriptors: make(map[types.AgentID]types.SecurityDescriptor)}
}

// Register installs or replaces the descriptor for an agent.
func (g *Guard) Register(descriptor types.SecurityDescriptor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.descriptors[descriptor.AgentID] = descriptor
}

// Unregister removes the descriptor for an agent, if any.
func (g *Guard) Unregister(agentID types.AgentID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.descriptors, agentID)
}

// AssertCapability returns an error unless agentID's descriptor declares cap.
func (g *Guard) AssertCapability(agentID types.AgentID, cap types.Capability) error {
	descriptor, err := g.require(agentID)
	if err != nil {
		return err
	}
	if _, ok := descriptor.Capabilities[cap]; !ok {
		return rterrors.Denied("agent " + agentID + " lacks capability " + string(cap))
	}
	return nil
}

// AssertFSAccess checks CapReadFS plus the agent's filesystem allow-list.
// An empty allow-list permits any path once CapReadFS is granted.
func (g *Guard) AssertFSAccess(agentID types.AgentID, targetPath string) error {
	descriptor, err := g.require(agentID)
	if err != nil {
		return err
	}
	if err := g.AssertCapability(agentID, types.CapReadFS); err != nil {
		return err
	}
	if len(descriptor.FsAllowList) == 0 {
		return nil
	}
	normalizedTarget := canonicalizePath(targetPath)
	for _, allowed := range descriptor.FsAllowList {
		if hasPathPrefix(normalizedTarget, canonicalizePath(allowed)) {
			return nil
		}
	}
	return rterrors.Denied("path " + targetPath + " is not permitted for agent " + agentID)
}

// AssertExec checks CapExec plus the agent's executable allow-list. Unlike
// AssertFSAccess this requires an exact match against an allow-list entry,
// not a prefix match: executables are discrete resources, not a subtree.
func (g *Guard) AssertExec(agentID types.AgentID, binaryPath string) error {
	descriptor, err := g.require(agentID)
	if err != nil {
		return err
	}
	if err := g.AssertCapability(agentID, types.CapExec); err != nil {
		return err
	}
	if len(descriptor.ExecAllowList) == 0 {
		return nil
	}
	normalizedBinary := canonicalizePath(binaryPath)
	for _, allowed := range descriptor.ExecAllowList {
		if normalizedBinary == canonicalizePath(allowed) {
			return nil
		}
	}
	return rterrors.Denied("binary " + binaryPath + " is not permitted for agent " + agentID)
}

// AssertNetworkOutbound checks CapNetOutbound plus the descriptor's outbound
// network flag.
func (g *Guard) AssertNetworkOutbound(agentID types.AgentID) error {
	descriptor, err := g.require(agentID)
	if err != nil {
		return err
	}
	if err := g.AssertCapability(agentID, types.CapNetOutbound); err != nil {
		return err
	}
	if !descriptor.AllowNetworkOutbound {
		return rterrors.Denied("outbound network access disabled for agent " + agentID)
	}
	return nil
}

// AssertNetworkInbound checks CapNetInbound plus the descriptor's inbound
// network flag.
func (g *Guard) AssertNetworkInbound(agentID types.AgentID) error {
	descriptor, err := g.require(agentID)
	if err != nil {
		return err
	}
	if err := g.AssertCapability(agentID, types.CapNetInbound); err != nil {
		return err
	}
	if !descriptor.AllowNetworkInbound {
		return rterrors.Denied("inbound network access disabled for agent " + agentID)
	}
	return nil
}

func (g *Guard) require(agentID types.AgentID) (types.SecurityDescriptor, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	descriptor, ok := g.descriptors[agentID]
	if !ok {
		return types.SecurityDescriptor{}, rterrors.NotFound("security descriptor missing for agent " + agentID)
	}
	return descriptor, nil
}

// hasPathPrefix reports whether target is base itself or lives under it.
func hasPathPrefix(target, base string) bool {
	if target == base {
		return true
	}
	return strings.HasPrefix(target, base+string(filepath.Separator))
}

// canonicalizePath resolves symlinks in path, matching the Python original's
// os.path.realpath so an allow-listed directory can't be bypassed through a
// symlink pointing outside it. When path doesn't exist yet (EvalSymlinks
// requires the path to be resolvable on disk), its parent is canonicalized
// and the final element re-appended, so symlinked ancestors still resolve.
func canonicalizePath(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if parent := filepath.Dir(abs); parent != abs {
		return filepath.Join(canonicalizePath(parent), filepath.Base(abs))
	}
	return abs
}
