package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider names understood by the binary.
const (
	TransportOpenAIRealtime = "openai-realtime"
	AudioPortAudio          = "portaudio"
	AudioNull               = "null"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transport": {TransportOpenAIRealtime},
	"audio":     {AudioPortAudio, AudioNull},
}

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

// LoadFromReader decodes a YAML config from r, expands environment references
// in credentials, applies defaults, and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in unset server and provider fields. Session defaults
// are applied when the session config is built.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.Transport.Name == "" {
		cfg.Providers.Transport.Name = TransportOpenAIRealtime
	}
	if cfg.Providers.Audio.Name == "" {
		cfg.Providers.Audio.Name = AudioPortAudio
	}
}

// expandEnv replaces ${VAR} and $VAR references in credential and endpoint
// fields.
func expandEnv(cfg *Config) {
	for _, e := range []*ProviderEntry{&cfg.Providers.Transport, &cfg.Providers.Audio} {
		if strings.Contains(e.APIKey, "$") {
			e.APIKey = os.ExpandEnv(e.APIKey)
		}
		if strings.Contains(e.BaseURL, "$") {
			e.BaseURL = os.ExpandEnv(e.BaseURL)
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	if cfg.Providers.Transport.Name == "" {
		errs = append(errs, errors.New("providers.transport.name is required"))
	}
	if cfg.Providers.Audio.Name == "" {
		errs = append(errs, errors.New("providers.audio.name is required"))
	}
	validateProviderName("transport", cfg.Providers.Transport.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)

	// Session
	if cfg.Session.Instructions != "" && cfg.Session.InstructionsFile != "" {
		errs = append(errs, errors.New("session.instructions and session.instructions_file are mutually exclusive"))
	}
	if d := cfg.Session.SettlingDelay; d != nil && *d < 0 {
		errs = append(errs, fmt.Errorf("session.settling_delay %v must not be negative", *d))
	}
	if cfg.Session.Instructions == "" && cfg.Session.InstructionsFile == "" {
		slog.Warn("session has no instructions; the assistant will use the service default persona")
	}
	if err := cfg.sessionConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("session: %w", err))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not in the known
// list for kind. Custom providers registered at runtime are still allowed.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if !slices.Contains(known, name) {
		slog.Warn("unknown provider name; it must be registered at runtime",
			"kind", kind,
			"name", name,
			"known", known,
		)
	}
}
