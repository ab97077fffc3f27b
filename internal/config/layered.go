package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. LODGE_TRANSPORT_KIND.
const EnvPrefix = "LODGE"

// SetDefaults registers every key of Defaults with v so that environment
// variables and flags can override keys that no config file sets.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("version", d.Version)
	v.SetDefault("transport.kind", d.Transport.Kind)
	v.SetDefault("transport.redis_url", d.Transport.RedisURL)
	v.SetDefault("transport.instance", d.Transport.Instance)
	v.SetDefault("server.http_addr", d.Server.HTTPAddr)
	v.SetDefault("server.live_addr", d.Server.LiveAddr)
	v.SetDefault("pipeline.stages", d.Pipeline.Stages)
	v.SetDefault("pipeline.stage_timeout", d.Pipeline.StageTimeout)
	v.SetDefault("pipeline.grace_period", d.Pipeline.GracePeriod)
	v.SetDefault("pipeline.confidence_threshold", d.Pipeline.ConfidenceThreshold)
	v.SetDefault("pipeline.history_size", d.Pipeline.HistorySize)
	v.SetDefault("generation.gateway_url", d.Generation.GatewayURL)
	v.SetDefault("generation.api_key", d.Generation.APIKey)
	v.SetDefault("generation.model", d.Generation.Model)
	v.SetDefault("generation.timeout", d.Generation.Timeout)
	v.SetDefault("generation.max_retries", d.Generation.MaxRetries)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Layer prepares v with defaults, an optional config file and LODGE_*
// environment overrides. An empty path falls back to lodge.yml in the
// working directory when one exists.
func Layer(v *viper.Viper, path string) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		if _, err := os.Stat(DefaultFileName); err != nil {
			return nil
		}
		path = DefaultFileName
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// FromViper decodes a layered viper instance and validates the result.
func FromViper(v *viper.Viper) (*LodgeConfig, error) {
	var cfg LodgeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
