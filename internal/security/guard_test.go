package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stuxnet147/codex-agent-protocol/internal/rterrors"
	"github.com/stuxnet147/codex-agent-protocol/internal/types"
)

func TestAssertFSAccessPrefixMatch(t *testing.T) {
	g := NewGuard()
	g.Register(types.SecurityDescriptor{
		AgentID:      "agent-1",
		Capabilities: map[types.Capability]struct{}{types.CapReadFS: {}},
		FsAllowList:  []string{"/tmp/workspace"},
	})

	if err := g.AssertFSAccess("agent-1", "/tmp/workspace/file.txt"); err != nil {
		t.Fatalf("expected access allowed, got %v", err)
	}
	if err := g.AssertFSAccess("agent-1", "/tmp/workspace-evil/file.txt"); err == nil {
		t.Fatalf("expected sibling directory with shared prefix to be denied")
	}
	if err := g.AssertFSAccess("agent-1", "/etc/passwd"); !rterrors.Is(err, rterrors.KindDenied) {
		t.Fatalf("expected denied error, got %v", err)
	}
}

func TestAssertFSAccessEmptyAllowListPermitsAny(t *testing.T) {
	g := NewGuard()
	g.Register(types.SecurityDescriptor{
		AgentID:      "agent-2",
		Capabilities: map[types.Capability]struct{}{types.CapReadFS: {}},
	})
	if err := g.AssertFSAccess("agent-2", "/anything/at/all"); err != nil {
		t.Fatalf("expected empty allow-list to permit any path, got %v", err)
	}
}

func TestAssertCapabilityMissingDescriptor(t *testing.T) {
	g := NewGuard()
	err := g.AssertCapability("unknown", types.CapExec)
	if !rterrors.Is(err, rterrors.KindNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestAssertExecRequiresExactMatch(t *testing.T) {
	g := NewGuard()
	g.Register(types.SecurityDescriptor{
		AgentID:       "agent-3",
		Capabilities:  map[types.Capability]struct{}{types.CapExec: {}},
		ExecAllowList: []string{"/usr/bin/node"},
	})
	if err := g.AssertExec("agent-3", "/usr/bin/node"); err != nil {
		t.Fatalf("expected exact match to be allowed, got %v", err)
	}
	if err := g.AssertExec("agent-3", "/usr/bin/node-malicious"); err == nil {
		t.Fatalf("expected non-exact match to be denied")
	}
}

func TestAssertNetworkOutboundRespectsDescriptorFlag(t *testing.T) {
	g := NewGuard()
	g.Register(types.SecurityDescriptor{
		AgentID:              "agent-4",
		Capabilities:         map[types.Capability]struct{}{types.CapNetOutbound: {}},
		AllowNetworkOutbound: false,
	})
	if err := g.AssertNetworkOutbound("agent-4"); err == nil {
		t.Fatalf("expected outbound access to be denied when flag is false")
	}
}

func TestAssertFSAccessResolvesSymlinksOutOfAllowList(t *testing.T) {
	root := t.TempDir()
	workspace := filepath.Join(root, "workspace")
	secret := filepath.Join(root, "secret")
	if err := os.Mkdir(workspace, 0o755); err != nil {
		t.Fatalf("failed to create workspace dir: %v", err)
	}
	if err := os.Mkdir(secret, 0o755); err != nil {
		t.Fatalf("failed to create secret dir: %v", err)
	}
	escape := filepath.Join(workspace, "escape")
	if err := os.Symlink(secret, escape); err != nil {
		t.Skipf("symlinks unsupported on this platform: %v", err)
	}

	g := NewGuard()
	g.Register(types.SecurityDescriptor{
		AgentID:      "agent-6",
		Capabilities: map[types.Capability]struct{}{types.CapReadFS: {}},
		FsAllowList:  []string{workspace},
	})

	if err := g.AssertFSAccess("agent-6", filepath.Join(workspace, "file.txt")); err != nil {
		t.Fatalf("expected direct workspace access to be allowed, got %v", err)
	}
	if err := g.AssertFSAccess("agent-6", filepath.Join(escape, "leak.txt")); !rterrors.Is(err, rterrors.KindDenied) {
		t.Fatalf("expected a symlink resolving outside the allow-list to be denied, got %v", err)
	}
}

func TestUnregisterRemovesDescriptor(t *testing.T) {
	g := NewGuard()
	g.Register(types.SecurityDescriptor{AgentID: "agent-5", Capabilities: map[types.Capability]struct{}{types.CapExec: {}}})
	g.Unregister("agent-5")
	if err := g.AssertCapability("agent-5", types.CapExec); !rterrors.Is(err, rterrors.KindNotFound) {
		t.Fatalf("expected not found after unregister, got %v", err)
	}
}
