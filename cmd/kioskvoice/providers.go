package main

import (
	"log/slog"
	"time"

	"github.com/MrWong99/kioskvoice/internal/config"
	"github.com/MrWong99/kioskvoice/pkg/audio"
	"github.com/MrWong99/kioskvoice/pkg/audio/nullaudio"
	"github.com/MrWong99/kioskvoice/pkg/audio/portaudio"
	"github.com/MrWong99/kioskvoice/pkg/provider/s2s"
	"github.com/MrWong99/kioskvoice/pkg/provider/s2s/openai"
)

// registerBuiltinProviders wires the shipped transport and audio backends
// into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Transport ─────────────────────────────────────────────────────────────

	reg.RegisterTransport(config.TransportOpenAIRealtime, func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []openai.Option
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "dial_timeout"); d > 0 {
			opts = append(opts, openai.WithDialTimeout(d))
		}
		return openai.New(opts...), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio(config.AudioPortAudio, func(entry config.ProviderEntry) (audio.Driver, error) {
		var opts []portaudio.Option
		if name := optString(entry.Options, "input_device"); name != "" {
			opts = append(opts, portaudio.WithInputDevice(name))
		}
		if name := optString(entry.Options, "output_device"); name != "" {
			opts = append(opts, portaudio.WithOutputDevice(name))
		}
		if d := optDuration(entry.Options, "block"); d > 0 {
			opts = append(opts, portaudio.WithBlock(d))
		}
		return portaudio.New(opts...)
	})

	reg.RegisterAudio(config.AudioNull, func(config.ProviderEntry) (audio.Driver, error) {
		return nullaudio.New(), nil
	})

	for _, kind := range []string{"transport", "audio"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration option such as "5s". Invalid values are
// logged and ignored.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
