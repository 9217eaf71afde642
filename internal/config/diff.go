package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without restarting the process are tracked.
type ConfigDiff struct {
	// SessionChanged is true if anything in the session block or the
	// transport credentials changed. The change applies to the next session;
	// a running session keeps the config it was started with.
	SessionChanged bool

	// SessionFields names the changed session keys, in schema order.
	SessionFields []string

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired is true if a provider selection or the metrics address
	// changed. Those are only read at startup.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Server.MetricsAddr != new.Server.MetricsAddr ||
		old.Providers.Transport.Name != new.Providers.Transport.Name ||
		!reflect.DeepEqual(old.Providers.Transport.Options, new.Providers.Transport.Options) ||
		old.Providers.Audio.Name != new.Providers.Audio.Name ||
		!reflect.DeepEqual(old.Providers.Audio.Options, new.Providers.Audio.Options) {
		d.RestartRequired = true
	}

	d.SessionFields = diffSession(old, new)
	d.SessionChanged = len(d.SessionFields) > 0
	return d
}

// diffSession lists the session-relevant keys whose values differ.
func diffSession(old, new *Config) []string {
	var fields []string
	add := func(changed bool, name string) {
		if changed {
			fields = append(fields, name)
		}
	}
	ot, nt := old.Providers.Transport, new.Providers.Transport
	add(ot.APIKey != nt.APIKey, "providers.transport.api_key")
	add(ot.BaseURL != nt.BaseURL, "providers.transport.base_url")
	add(ot.Model != nt.Model, "providers.transport.model")

	so, sn := old.Session, new.Session
	add(so.Instructions != sn.Instructions, "session.instructions")
	add(so.InstructionsFile != sn.InstructionsFile, "session.instructions_file")
	add(so.Voice != sn.Voice, "session.voice")
	add(!reflect.DeepEqual(so.Modalities, sn.Modalities), "session.modalities")
	add(so.Temperature != sn.Temperature, "session.temperature")
	add(so.MaxResponseOutputTokens != sn.MaxResponseOutputTokens, "session.max_response_output_tokens")
	add(so.TranscriptionModel != sn.TranscriptionModel, "session.transcription_model")
	add(so.TurnDetection != sn.TurnDetection, "session.turn_detection")
	add(!reflect.DeepEqual(so.SettlingDelay, sn.SettlingDelay), "session.settling_delay")
	add(so.SampleRate != sn.SampleRate, "session.sample_rate")
	add(so.FrameDuration != sn.FrameDuration, "session.frame_duration")
	add(so.SendQueueFrames != sn.SendQueueFrames, "session.send_queue_frames")
	add(so.PlaybackBufferFrames != sn.PlaybackBufferFrames, "session.playback_buffer_frames")
	return fields
}
