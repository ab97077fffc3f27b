package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dyluth/lodge/internal/agents"
	"github.com/dyluth/lodge/internal/generation"
	"github.com/dyluth/lodge/internal/tracing"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = "lodge.yml"

// Transport kinds.
const (
	TransportLocal = "local"
	TransportRedis = "redis"
)

// LodgeConfig represents the top-level lodge.yml configuration
type LodgeConfig struct {
	Version    string            `yaml:"version" mapstructure:"version"`
	Transport  TransportConfig   `yaml:"transport" mapstructure:"transport"`
	Server     ServerConfig      `yaml:"server" mapstructure:"server"`
	Pipeline   PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	Generation generation.Config `yaml:"generation" mapstructure:"generation"`
	Tracing    tracing.Config    `yaml:"tracing" mapstructure:"tracing"`
}

// TransportConfig selects how packets travel between processes
type TransportConfig struct {
	Kind     string `yaml:"kind" mapstructure:"kind"`                       // "local" or "redis"
	RedisURL string `yaml:"redis_url,omitempty" mapstructure:"redis_url"` // Required when kind is "redis"
	Instance string `yaml:"instance" mapstructure:"instance"`             // Channel namespace shared by cooperating processes
}

// ServerConfig holds listen addresses
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr"`
	LiveAddr string `yaml:"live_addr" mapstructure:"live_addr"`
}

// PipelineConfig controls round orchestration
type PipelineConfig struct {
	Stages              []string      `yaml:"stages" mapstructure:"stages"`
	StageTimeout        time.Duration `yaml:"stage_timeout" mapstructure:"stage_timeout"`
	GracePeriod         time.Duration `yaml:"grace_period" mapstructure:"grace_period"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	HistorySize         int           `yaml:"history_size" mapstructure:"history_size"`
}

// Defaults returns a configuration that runs everything in one process.
func Defaults() *LodgeConfig {
	return &LodgeConfig{
		Version: "1.0",
		Transport: TransportConfig{
			Kind:     TransportLocal,
			Instance: "default",
		},
		Server: ServerConfig{
			HTTPAddr: ":8000",
			LiveAddr: ":8001",
		},
		Pipeline: PipelineConfig{
			Stages:              []string{agents.Harvester, agents.Architect, agents.Curator, agents.Critic},
			StageTimeout:        30 * time.Second,
			GracePeriod:         2 * time.Second,
			ConfidenceThreshold: agents.DefaultConfidenceThreshold,
			HistorySize:         1000,
		},
		Generation: generation.DefaultConfig(),
		Tracing:    tracing.DefaultConfig(),
	}
}

// Validate performs strict validation on the configuration, filling in
// defaults for optional fields left empty.
func (c *LodgeConfig) Validate() error {
	def := Defaults()

	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Transport.Kind == "" {
		c.Transport.Kind = def.Transport.Kind
	}
	switch c.Transport.Kind {
	case TransportLocal:
	case TransportRedis:
		if c.Transport.RedisURL == "" {
			return fmt.Errorf("transport.redis_url is required when transport.kind is 'redis'")
		}
	default:
		return fmt.Errorf("invalid transport.kind: %s (must be 'local' or 'redis')", c.Transport.Kind)
	}
	if c.Transport.Instance == "" {
		c.Transport.Instance = def.Transport.Instance
	}
	if err := ValidateInstanceName(c.Transport.Instance); err != nil {
		return fmt.Errorf("transport.instance: %w", err)
	}

	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = def.Server.HTTPAddr
	}
	if c.Server.LiveAddr == "" {
		c.Server.LiveAddr = def.Server.LiveAddr
	}
	if c.Server.HTTPAddr == c.Server.LiveAddr {
		return fmt.Errorf("server.http_addr and server.live_addr must differ (both %s)", c.Server.HTTPAddr)
	}

	if len(c.Pipeline.Stages) == 0 {
		c.Pipeline.Stages = def.Pipeline.Stages
	}
	seen := make(map[string]bool)
	for _, stage := range c.Pipeline.Stages {
		if !agents.IsStage(stage) {
			return fmt.Errorf("unknown pipeline stage '%s' (valid: %s, %s, %s, %s)",
				stage, agents.Harvester, agents.Architect, agents.Curator, agents.Critic)
		}
		if seen[stage] {
			return fmt.Errorf("duplicate pipeline stage '%s'", stage)
		}
		seen[stage] = true
	}

	if c.Pipeline.StageTimeout == 0 {
		c.Pipeline.StageTimeout = def.Pipeline.StageTimeout
	}
	if c.Pipeline.StageTimeout < 0 {
		return fmt.Errorf("pipeline.stage_timeout must be positive, got %s", c.Pipeline.StageTimeout)
	}
	if c.Pipeline.GracePeriod < 0 {
		return fmt.Errorf("pipeline.grace_period must be >= 0, got %s", c.Pipeline.GracePeriod)
	}
	if c.Pipeline.ConfidenceThreshold == 0 {
		c.Pipeline.ConfidenceThreshold = def.Pipeline.ConfidenceThreshold
	}
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return fmt.Errorf("pipeline.confidence_threshold must be between 0 and 1, got %g", c.Pipeline.ConfidenceThreshold)
	}
	if c.Pipeline.HistorySize == 0 {
		c.Pipeline.HistorySize = def.Pipeline.HistorySize
	}
	if c.Pipeline.HistorySize < 0 {
		return fmt.Errorf("pipeline.history_size must be positive, got %d", c.Pipeline.HistorySize)
	}

	if c.Generation.GatewayURL == "" {
		c.Generation.GatewayURL = def.Generation.GatewayURL
	}
	if c.Generation.Model == "" {
		c.Generation.Model = def.Generation.Model
	}
	if c.Generation.Timeout == 0 {
		c.Generation.Timeout = def.Generation.Timeout
	}

	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	return nil
}

// Parse decodes YAML on top of Defaults and validates the result.
func Parse(data []byte) (*LodgeConfig, error) {
	config := Defaults()
	config.Pipeline.Stages = nil

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Load reads and validates lodge.yml from the specified path
func Load(path string) (*LodgeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// WriteDefault writes a commented default configuration to path.
// It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	content := defaultHeader + string(data)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

const defaultHeader = `# lodge configuration
#
# transport.kind: "local" keeps every packet in this process; "redis" shares
#   packets with other lodge processes using the same transport.instance.
# generation.api_key is usually supplied as LODGE_GENERATION_API_KEY rather
#   than written here.
`
