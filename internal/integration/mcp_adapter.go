package integration

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stuxnet147/codex-agent-protocol/internal/rterrors"
)

// MCPAdapter exposes a single tool on a remote MCP server as an Adapter,
// so workflow steps can call it the same way they'd call any other
// integration.
type MCPAdapter struct {
	name     string
	toolName string
	cli      *client.Client
}

// NewMCPAdapter connects to an MCP server reachable at serverURL over the
// SSE transport and binds toolName as the adapter's invocation target.
// adapterName is the name Invoke/List expose it under, independent of the
// tool's own name on the server.
func NewMCPAdapter(ctx context.Context, adapterName, serverURL, toolName string) (*MCPAdapter, error) {
	cli, err := client.NewSSEMCPClient(serverURL)
	if err != nil {
		return nil, rterrors.Wrap(rterrors.KindSpawnFailed, "failed to create mcp client", err)
	}
	if err := cli.Start(ctx); err != nil {
		return nil, rterrors.Wrap(rterrors.KindSpawnFailed, "failed to start mcp client", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "codex-agent-protocol", Version: "0.1.0"}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		return nil, rterrors.Wrap(rterrors.KindSpawnFailed, "failed to initialize mcp session", err)
	}

	return &MCPAdapter{name: adapterName, toolName: toolName, cli: cli}, nil
}

// Name implements Adapter.
func (a *MCPAdapter) Name() string { return a.name }

// Invoke calls the adapter's bound tool, passing args as the tool's
// arguments map. args must be nil or a map[string]any; any other type is
// rejected with a Denied error.
func (a *MCPAdapter) Invoke(ctx context.Context, args any) (any, error) {
	arguments, ok := args.(map[string]any)
	if !ok && args != nil {
		return nil, rterrors.Denied(fmt.Sprintf("mcp adapter %s requires map[string]any args", a.name))
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = a.toolName
	req.Params.Arguments = arguments

	result, err := a.cli.CallTool(ctx, req)
	if err != nil {
		return nil, rterrors.Wrap(rterrors.KindTaskFailed, "mcp tool invocation failed", err)
	}
	if result.IsError {
		return nil, rterrors.TaskFailed("mcp tool reported an error", fmt.Errorf("%v", result.Content))
	}
	return result.Content, nil
}

// Close releases the underlying MCP client connection.
func (a *MCPAdapter) Close() error {
	return a.cli.Close()
}
