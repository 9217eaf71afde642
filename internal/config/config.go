// Package config provides the configuration schema, loader, and provider registry
// for the kioskvoice voice session engine.
package config

import (
	"time"
)

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

// Config is the root configuration structure for kioskvoice.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
}

// ServerConfig holds logging and observability settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Defaults to info.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address serving /metrics, /healthz, and /readyz
	// (e.g., ":9090"). Empty disables the HTTP server.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ProvidersConfig selects the realtime transport and the audio backend.
// Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	Transport ProviderEntry `yaml:"transport"`
	Audio     ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai-realtime", "portaudio").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any. A value
	// such as "${OPENAI_API_KEY}" is expanded from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-realtime-preview").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// SessionConfig is the session block. Zero values take the engine defaults.
type SessionConfig struct {
	// Instructions is the system prompt sent with every session.
	Instructions string `yaml:"instructions"`

	// InstructionsFile names a file holding the system prompt. Mutually
	// exclusive with Instructions. Relative paths are resolved against the
	// config file's directory.
	InstructionsFile string `yaml:"instructions_file"`

	Voice                   string              `yaml:"voice"`
	Modalities              []string            `yaml:"modalities"`
	Temperature             float64             `yaml:"temperature"`
	MaxResponseOutputTokens int                 `yaml:"max_response_output_tokens"`
	TranscriptionModel      string              `yaml:"transcription_model"`
	TurnDetection           TurnDetectionConfig `yaml:"turn_detection"`

	// SettlingDelay is how long the microphone stays muted after the assistant
	// finished speaking (e.g., "1s"). Unset means 1s; "0s" unmutes at once.
	SettlingDelay *time.Duration `yaml:"settling_delay"`

	SampleRate           int           `yaml:"sample_rate"`
	FrameDuration        time.Duration `yaml:"frame_duration"`
	SendQueueFrames      int           `yaml:"send_queue_frames"`
	PlaybackBufferFrames int           `yaml:"playback_buffer_frames"`
}

// TurnDetectionConfig tunes the service's voice activity detection.
type TurnDetectionConfig struct {
	Type              string  `yaml:"type"`
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMS   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMS int     `yaml:"silence_duration_ms"`
}
