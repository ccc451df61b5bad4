// Package config provides the configuration schema and loader for the
// dictation pipeline.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// BackendName selects the transcription backend.
type BackendName string

const (
	// BackendLocal is the on-device continuous recognizer.
	BackendLocal BackendName = "local"

	// BackendRemote is the server-streamed transcription service.
	BackendRemote BackendName = "remote"
)

// IsValid reports whether b is a recognised backend name.
func (b BackendName) IsValid() bool {
	return b == BackendLocal || b == BackendRemote
}

// Config is the root configuration structure. It is typically loaded from
// a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Input      InputConfig      `yaml:"input"`
	Backend    BackendName      `yaml:"backend"`
	Local      LocalConfig      `yaml:"local"`
	Remote     RemoteConfig     `yaml:"remote"`
	Correction CorrectionConfig `yaml:"correction"`
}

// ServerConfig holds logging and metrics settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address the /metrics endpoint listens on
	// (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// InputConfig describes the audio capture format.
type InputConfig struct {
	// SampleRate is the capture sample rate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the number of capture channels. Default: 1 (mono).
	Channels int `yaml:"channels"`

	// Language is the BCP-47 recognition language (e.g., "en").
	Language string `yaml:"language"`
}

// LocalConfig configures the on-device recognizer.
type LocalConfig struct {
	// ModelPath is the path to the whisper model file. Required when the
	// local backend is selected.
	ModelPath string `yaml:"model_path"`

	// SilenceThresholdMs is the consecutive-silence duration that
	// finalises an utterance. Default: 500.
	SilenceThresholdMs int `yaml:"silence_threshold_ms"`

	// MaxBufferDurationMs is the maximum buffered speech before a forced
	// flush. Default: 10000.
	MaxBufferDurationMs int `yaml:"max_buffer_duration_ms"`

	// RestartDelayMs is the pause before an in-place engine restart.
	// Default: 300.
	RestartDelayMs int `yaml:"restart_delay_ms"`
}

// RemoteConfig configures the streaming transcription service.
type RemoteConfig struct {
	// Endpoint is the WebSocket URL of the streaming service
	// (e.g., "wss://api.deepgram.com/v1/listen").
	Endpoint string `yaml:"endpoint"`

	// APIKey is the service credential. Supplied via configuration, never
	// user input; its absence is a fatal condition at dictation start.
	APIKey string `yaml:"api_key"`

	// Model selects the transcription model (e.g., "nova-3").
	Model string `yaml:"model"`

	// ChunkMs is the duration of audio per outbound encoded chunk.
	// Default: 100.
	ChunkMs int `yaml:"chunk_ms"`

	// ReconnectBaseDelayMs is the initial reconnect backoff. Doubles per
	// attempt up to ReconnectMaxDelayMs. Default: 500.
	ReconnectBaseDelayMs int `yaml:"reconnect_base_delay_ms"`

	// ReconnectMaxDelayMs is the backoff ceiling. Default: 30000.
	ReconnectMaxDelayMs int `yaml:"reconnect_max_delay_ms"`

	// HeartbeatIntervalMs is the idle-watchdog check period. Default: 5000.
	HeartbeatIntervalMs int `yaml:"heartbeat_interval_ms"`

	// IdleThresholdMs is the inbound-message silence that forces a
	// reconnect. Default: 30000.
	IdleThresholdMs int `yaml:"idle_threshold_ms"`
}

// CorrectionConfig configures the finalised-text correction pass.
type CorrectionConfig struct {
	// Phrases extends the built-in canonical phrase list. Each entry is
	// the canonical casing (e.g., "Big O", "GraphQL").
	Phrases []string `yaml:"phrases"`

	// Phonetic enables phonetic matching of near-miss phrase variants.
	// Default: true.
	Phonetic *bool `yaml:"phonetic"`
}

// PhoneticEnabled reports the effective phonetic setting.
func (c CorrectionConfig) PhoneticEnabled() bool {
	return c.Phonetic == nil || *c.Phonetic
}

// Durations for the millisecond fields, with defaults applied.

// SilenceThreshold returns the local silence threshold as a duration.
func (c LocalConfig) SilenceThreshold() time.Duration {
	return msOrDefault(c.SilenceThresholdMs, 500)
}

// MaxBufferDuration returns the local max buffer duration.
func (c LocalConfig) MaxBufferDuration() time.Duration {
	return msOrDefault(c.MaxBufferDurationMs, 10000)
}

// RestartDelay returns the local restart delay.
func (c LocalConfig) RestartDelay() time.Duration {
	return msOrDefault(c.RestartDelayMs, 300)
}

// ReconnectBaseDelay returns the remote reconnect base delay.
func (c RemoteConfig) ReconnectBaseDelay() time.Duration {
	return msOrDefault(c.ReconnectBaseDelayMs, 500)
}

// ReconnectMaxDelay returns the remote reconnect delay ceiling.
func (c RemoteConfig) ReconnectMaxDelay() time.Duration {
	return msOrDefault(c.ReconnectMaxDelayMs, 30000)
}

// HeartbeatInterval returns the idle-watchdog check period.
func (c RemoteConfig) HeartbeatInterval() time.Duration {
	return msOrDefault(c.HeartbeatIntervalMs, 5000)
}

// IdleThreshold returns the inbound-idle reconnect threshold.
func (c RemoteConfig) IdleThreshold() time.Duration {
	return msOrDefault(c.IdleThresholdMs, 30000)
}

func msOrDefault(ms, def int) time.Duration {
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}
