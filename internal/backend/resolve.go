package backend

import (
	"os"
	"path/filepath"

	"github.com/stuxnet147/codex-agent-protocol/internal/process"
)

// defaultRelativeCliPath is the last-resort fallback location for the
// backend CLI entrypoint, relative to the working directory.
const defaultRelativeCliPath = "ref/codex-src/codex-cli/bin/codex.js"

// ClientOptions configures how the backend child process is launched and
// how the client talks to it once running.
type ClientOptions struct {
	CliPath         string
	NodePath        string
	CommandPath     string
	CommandArgs     []string
	Dir             string
	Env             []string
	AutoRestart     bool
	MaxRestarts     int
	BackoffMs       int
	ResponseTimeoutMs int
}

// DefaultClientOptions returns the Python SDK's documented defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		AutoRestart:       true,
		MaxRestarts:       5,
		BackoffMs:         1000,
		ResponseTimeoutMs: 30_000,
	}
}

// resolveLaunchOptions implements spec.md §6's launcher resolution order:
// command: CommandPath/NodePath option, then NODE_PATH env, then "node".
// cli path (used only when CommandArgs is empty): CliPath option (as is when
// absolute, else joined to Dir), else CODEX_CLI_PATH env, else ./node_modules/@openai/codex/bin/codex.js
// if present, else defaultRelativeCliPath joined to Dir.
func resolveLaunchOptions(opts ClientOptions) process.LaunchOptions {
	baseDir := opts.Dir
	if baseDir == "" {
		if wd, err := os.Getwd(); err == nil {
			baseDir = wd
		}
	}

	command := opts.CommandPath
	if command == "" {
		command = opts.NodePath
	}
	if command == "" {
		command = os.Getenv("NODE_PATH")
	}
	if command == "" {
		command = "node"
	}

	args := opts.CommandArgs
	if len(args) == 0 {
		args = []string{resolveCliPath(baseDir, opts.CliPath)}
	}

	return process.LaunchOptions{
		Command:     command,
		Args:        args,
		Dir:         opts.Dir,
		Env:         opts.Env,
		AutoRestart: opts.AutoRestart,
		MaxRestarts: opts.MaxRestarts,
		BackoffMs:   opts.BackoffMs,
	}
}

func resolveCliPath(baseDir, cliPath string) string {
	if cliPath != "" {
		if filepath.IsAbs(cliPath) {
			return cliPath
		}
		return filepath.Join(baseDir, cliPath)
	}
	if pkgPath := os.Getenv("CODEX_CLI_PATH"); pkgPath != "" {
		return pkgPath
	}
	nodeModules := filepath.Join(baseDir, "node_modules", "@openai", "codex", "bin", "codex.js")
	if _, err := os.Stat(nodeModules); err == nil {
		return nodeModules
	}
	return filepath.Join(baseDir, defaultRelativeCliPath)
}
