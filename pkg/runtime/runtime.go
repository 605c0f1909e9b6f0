// Package runtime wires the agent runtime's components — registry, session
// store, message bus, context store, security guard, telemetry, integration
// host, backend client, and workflow engine — into a single entry point
// analogous to an application's composition root. Callers that only need
// one or two components should depend on the relevant internal package
// directly instead of pulling in the whole Runtime.
package runtime

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stuxnet147/codex-agent-protocol/internal/backend"
	"github.com/stuxnet147/codex-agent-protocol/internal/common/config"
	"github.com/stuxnet147/codex-agent-protocol/internal/common/logger"
	"github.com/stuxnet147/codex-agent-protocol/internal/ctxstore"
	"github.com/stuxnet147/codex-agent-protocol/internal/integration"
	"github.com/stuxnet147/codex-agent-protocol/internal/messaging"
	"github.com/stuxnet147/codex-agent-protocol/internal/process"
	"github.com/stuxnet147/codex-agent-protocol/internal/registry"
	"github.com/stuxnet147/codex-agent-protocol/internal/security"
	"github.com/stuxnet147/codex-agent-protocol/internal/session"
	"github.com/stuxnet147/codex-agent-protocol/internal/telemetry"
	"github.com/stuxnet147/codex-agent-protocol/internal/types"
	"github.com/stuxnet147/codex-agent-protocol/internal/workflow"
)

// Runtime is the fully wired agent runtime. Construct one with New and call
// Start before using Backend; everything else is ready to use immediately.
type Runtime struct {
	Config      *config.Config
	Log         *logger.Logger
	Registry    *registry.Registry
	Sessions    *session.Store
	Context     *ctxstore.Store
	Security    *security.Guard
	Bus         messaging.Bus
	Telemetry   *telemetry.Telemetry
	Integration *integration.Host
	Backend     *backend.Client
	Workflow    *workflow.Engine

	// Metrics is the registry the telemetry Prometheus sink publishes to;
	// an HTTP server exposing /metrics must serve this registry, not the
	// prometheus package's global default, or counts silently vanish.
	Metrics *prometheus.Registry

	busOwned bool
}

// New builds a Runtime from cfg. The message bus is NATS-backed when
// cfg.Events.NATSURL is set, otherwise an in-process MemoryBus. The backend
// client's launch strategy is chosen by cfg.Backend.Strategy ("exec" or
// "docker"); New does not launch the backend process, call Start for that.
func New(cfg *config.Config, log *logger.Logger) (*Runtime, error) {
	if log == nil {
		log = logger.Default()
	}

	bus, busOwned, err := buildBus(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build message bus: %w", err)
	}

	strategy, err := buildStrategy(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend launch strategy: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	t := telemetry.New(telemetry.Options{
		Logger: log,
		Sinks: []telemetry.Sink{
			telemetry.NewOtelSink("codex-agent-protocol"),
			telemetry.NewPrometheusSink(promRegistry),
		},
	})

	clientOpts := backend.DefaultClientOptions()
	clientOpts.CliPath = cfg.Backend.CliPath
	clientOpts.CommandPath = cfg.Backend.CommandPath
	clientOpts.CommandArgs = cfg.Backend.CommandArgs
	clientOpts.Dir = cfg.Backend.WorkDir
	clientOpts.AutoRestart = cfg.Backend.AutoRestart
	clientOpts.MaxRestarts = cfg.Backend.MaxRestarts
	clientOpts.BackoffMs = cfg.Backend.BackoffMs
	clientOpts.ResponseTimeoutMs = cfg.Backend.ResponseTimeout

	rt := &Runtime{
		Config:      cfg,
		Log:         log,
		Registry:    registry.New(),
		Sessions:    session.New(),
		Context:     ctxstore.New(),
		Security:    security.NewGuard(),
		Bus:         bus,
		Telemetry:   t,
		Integration: integration.New(),
		Backend:     backend.NewClient(clientOpts, strategy, log),
		Workflow:    workflow.New(),
		Metrics:     promRegistry,
		busOwned:    busOwned,
	}

	rt.wireTelemetryToRegistry()
	return rt, nil
}

func buildBus(cfg *config.Config, log *logger.Logger) (messaging.Bus, bool, error) {
	if cfg.Events.NATSURL == "" {
		return messaging.NewMemoryBus(), true, nil
	}
	bus, err := messaging.NewNATSBus(messaging.NATSConfig{
		URL:        cfg.Events.NATSURL,
		ClientName: "codex-agent-protocol",
	}, log)
	if err != nil {
		return nil, false, err
	}
	return bus, true, nil
}

func buildStrategy(cfg *config.Config) (process.Strategy, error) {
	switch cfg.Backend.Strategy {
	case "docker":
		return process.NewDockerStrategy(cfg.Backend.DockerHost, cfg.Backend.Image)
	default:
		return process.ExecStrategy{}, nil
	}
}

// wireTelemetryToRegistry emits a telemetry event every time an agent's
// runtime state changes (registration and unregistration emit nothing), so
// sinks observe lifecycle transitions without
// every caller of Registry having to remember to log them.
func (rt *Runtime) wireTelemetryToRegistry() {
	rt.Registry.OnEvent(registry.EventStateChanged, func(event string, args ...any) {
		if len(args) == 0 {
			return
		}
		agentID, _ := args[0].(types.AgentID)
		rt.Telemetry.Info("agent.state_changed", map[string]any{"agentId": agentID})
	})
}

// NewRunContext builds a workflow.RunContext wired to this Runtime's
// context store, so workflow steps can read/write session-scoped state via
// rc.ContextStore instead of each caller having to remember to pass it.
func (rt *Runtime) NewRunContext(sessionID string) *workflow.RunContext {
	return &workflow.RunContext{
		ContextStore: rt.Context,
		SessionID:    sessionID,
		Metadata:     make(map[string]any),
	}
}

// RunWorkflow executes nodes against a RunContext built by NewRunContext,
// so every run goes through the runtime's shared context store.
func (rt *Runtime) RunWorkflow(ctx context.Context, sessionID string, nodes []workflow.NodeDefinition, opts workflow.ExecutionOptions) (*workflow.RunSummary, error) {
	return rt.Workflow.Run(ctx, nodes, rt.NewRunContext(sessionID), opts)
}

// Start launches the backend child process, if it isn't already running,
// and returns once the launch has been attempted; supervision and restarts
// continue in the background until Stop is called.
func (rt *Runtime) Start(ctx context.Context) {
	rt.Backend.Start(ctx)
}

// Stop releases the runtime's owned resources: the backend process and,
// if New constructed it, the message bus.
func (rt *Runtime) Stop() error {
	rt.Backend.Stop()
	if rt.busOwned {
		return rt.Bus.Close()
	}
	return nil
}
