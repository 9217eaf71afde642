package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/kioskvoice/pkg/provider/s2s"
)

// SessionConfig builds the engine's session config from the session block and
// the transport provider entry. When the session names an instructions file,
// it is read now, resolved against baseDir when relative.
func (c *Config) SessionConfig(baseDir string) (s2s.SessionConfig, error) {
	sc := c.sessionConfig()
	if path := c.Session.InstructionsFile; path != "" {
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return s2s.SessionConfig{}, fmt.Errorf("config: read instructions: %w", err)
		}
		sc.Instructions = strings.TrimSpace(string(data))
	}
	return sc, nil
}

// sessionConfig converts the YAML blocks without touching the filesystem.
// Defaults are applied.
func (c *Config) sessionConfig() s2s.SessionConfig {
	s := c.Session
	td := s.TurnDetection
	return s2s.SessionConfig{
		APIKey:                  c.Providers.Transport.APIKey,
		BaseURL:                 c.Providers.Transport.BaseURL,
		Model:                   c.Providers.Transport.Model,
		Instructions:            s.Instructions,
		Voice:                   s.Voice,
		Modalities:              slices.Clone(s.Modalities),
		Temperature:             s.Temperature,
		MaxResponseOutputTokens: s.MaxResponseOutputTokens,
		TranscriptionModel:      s.TranscriptionModel,
		TurnDetection: s2s.TurnDetection{
			Type:            td.Type,
			Threshold:       td.Threshold,
			PrefixPadding:   time.Duration(td.PrefixPaddingMS) * time.Millisecond,
			SilenceDuration: time.Duration(td.SilenceDurationMS) * time.Millisecond,
		},
		SettlingDelay:        settlingDelay(s.SettlingDelay),
		SampleRate:           s.SampleRate,
		FrameDuration:        s.FrameDuration,
		SendQueueFrames:      s.SendQueueFrames,
		PlaybackBufferFrames: s.PlaybackBufferFrames,
	}.WithDefaults()
}

// settlingDelay maps an explicit zero to [s2s.NoSettlingDelay] so that only an
// unset value picks up the default.
func settlingDelay(d *time.Duration) time.Duration {
	switch {
	case d == nil:
		return 0
	case *d == 0:
		return s2s.NoSettlingDelay
	default:
		return *d
	}
}
