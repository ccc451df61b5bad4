package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Backend selection
	if cfg.Backend != "" && !cfg.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("backend %q is invalid; valid values: local, remote", cfg.Backend))
	}

	// Input
	if cfg.Input.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("input.sample_rate must not be negative, got %d", cfg.Input.SampleRate))
	}
	if cfg.Input.Channels < 0 || cfg.Input.Channels > 2 {
		errs = append(errs, fmt.Errorf("input.channels must be 0, 1 or 2, got %d", cfg.Input.Channels))
	}

	// Local backend
	if cfg.Backend == BackendLocal && cfg.Local.ModelPath == "" {
		errs = append(errs, errors.New("local.model_path is required when backend is local"))
	}
	if cfg.Local.ModelPath != "" {
		if _, err := os.Stat(cfg.Local.ModelPath); err != nil {
			slog.Warn("local model file is not accessible; local dictation will fail to start",
				"path", cfg.Local.ModelPath, "err", err)
		}
	}
	if cfg.Local.SilenceThresholdMs < 0 {
		errs = append(errs, fmt.Errorf("local.silence_threshold_ms must not be negative, got %d", cfg.Local.SilenceThresholdMs))
	}

	// Remote backend
	if cfg.Backend == BackendRemote && cfg.Remote.APIKey == "" {
		errs = append(errs, errors.New("remote.api_key is required when backend is remote"))
	}
	if cfg.Remote.Endpoint == "" && cfg.Remote.APIKey != "" {
		slog.Warn("remote.api_key is set but remote.endpoint is empty; the default service endpoint will be used")
	}
	if cfg.Remote.ChunkMs < 0 {
		errs = append(errs, fmt.Errorf("remote.chunk_ms must not be negative, got %d", cfg.Remote.ChunkMs))
	}
	if cfg.Remote.ReconnectMaxDelayMs > 0 && cfg.Remote.ReconnectBaseDelayMs > cfg.Remote.ReconnectMaxDelayMs {
		errs = append(errs, fmt.Errorf("remote.reconnect_base_delay_ms (%d) exceeds remote.reconnect_max_delay_ms (%d)",
			cfg.Remote.ReconnectBaseDelayMs, cfg.Remote.ReconnectMaxDelayMs))
	}

	// Correction
	for _, p := range cfg.Correction.Phrases {
		if p == "" {
			errs = append(errs, errors.New("correction.phrases must not contain empty entries"))
			break
		}
	}

	return errors.Join(errs...)
}

// SlogLevel maps the configured [LogLevel] to a [slog.Level].
// Unset or unknown values map to [slog.LevelInfo].
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
