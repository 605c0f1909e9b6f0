// Package config loads runtime configuration from environment variables,
// an optional config file, and defaults, using spf13/viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the runtime.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Events   EventsConfig   `mapstructure:"events"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds the admin HTTP surface configuration (cmd/agentrtd).
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`
	WriteTimeout int    `mapstructure:"writeTimeout"`
}

func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// BackendConfig configures how the backend child process is launched, per
// spec.md §6's launcher resolution order.
type BackendConfig struct {
	CliPath         string   `mapstructure:"cliPath"`
	CommandPath     string   `mapstructure:"commandPath"`
	CommandArgs     []string `mapstructure:"commandArgs"`
	WorkDir         string   `mapstructure:"workDir"`
	AutoRestart     bool     `mapstructure:"autoRestart"`
	MaxRestarts     int      `mapstructure:"maxRestarts"`
	BackoffMs       int      `mapstructure:"backoffMs"`
	ResponseTimeout int      `mapstructure:"responseTimeoutMs"`
	// Strategy selects the process launch strategy: "exec" (default, spawns
	// a plain OS child process) or "docker" (runs the child inside a
	// container via the Docker API).
	Strategy   string `mapstructure:"strategy"`
	DockerHost string `mapstructure:"dockerHost"`
	Image      string `mapstructure:"image"`
}

// EventsConfig configures the message bus transport.
type EventsConfig struct {
	Namespace string `mapstructure:"namespace"`
	// NATSURL, when non-empty, selects the NATS-backed bus implementation
	// instead of the default in-memory one.
	NATSURL string `mapstructure:"natsUrl"`
}

// SecurityConfig holds default allow-lists loaded from configuration. The
// runtime does not apply them to agents by itself; security descriptors are
// only what callers register on the guard.
type SecurityConfig struct {
	DefaultFsAllowList   []string `mapstructure:"defaultFsAllowList"`
	DefaultExecAllowList []string `mapstructure:"defaultExecAllowList"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// Load reads configuration from the environment, an optional ./config.yaml
// or /etc/agentrt/config.yaml, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath is like Load but also searches configPath for a config file.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTRT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("backend.cliPath", "CODEX_CLI_PATH")
	_ = v.BindEnv("backend.commandPath", "NODE_PATH")
	_ = v.BindEnv("logging.level", "AGENTRT_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "AGENTRT_EVENTS_NAMESPACE")
	_ = v.BindEnv("events.natsUrl", "AGENTRT_NATS_URL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentrt/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("backend.cliPath", "")
	v.SetDefault("backend.commandPath", "")
	v.SetDefault("backend.commandArgs", []string{})
	v.SetDefault("backend.workDir", "")
	v.SetDefault("backend.autoRestart", true)
	v.SetDefault("backend.maxRestarts", 5)
	v.SetDefault("backend.backoffMs", 1000)
	v.SetDefault("backend.responseTimeoutMs", 30_000)
	v.SetDefault("backend.strategy", "exec")
	v.SetDefault("backend.dockerHost", DefaultDockerHost())
	v.SetDefault("backend.image", "")

	v.SetDefault("events.namespace", "")
	v.SetDefault("events.natsUrl", "")

	v.SetDefault("security.defaultFsAllowList", []string{})
	v.SetDefault("security.defaultExecAllowList", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTRT_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// DefaultDockerHost returns the platform's default Docker socket, honoring
// DOCKER_HOST when set.
func DefaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	return "unix:///var/run/docker.sock"
}

func validate(cfg *Config) error {
	var errs []string
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Backend.MaxRestarts < 0 {
		errs = append(errs, "backend.maxRestarts must not be negative")
	}
	if cfg.Backend.BackoffMs < 0 {
		errs = append(errs, "backend.backoffMs must not be negative")
	}
	if cfg.Backend.Strategy != "exec" && cfg.Backend.Strategy != "docker" {
		errs = append(errs, "backend.strategy must be one of: exec, docker")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
