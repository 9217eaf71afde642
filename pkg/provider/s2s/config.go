package s2s

import (
	"errors"
	"slices"
	"time"

	"github.com/MrWong99/kioskvoice/pkg/audio"
)

// Defaults tuned for a kiosk in a noisy room: a conservative VAD threshold and
// a long trailing silence so that hesitant speakers are not cut off.
const (
	DefaultVoice                   = "alloy"
	DefaultTemperature             = 0.6
	DefaultMaxResponseOutputTokens = 4096
	DefaultTranscriptionModel      = "whisper-1"
	DefaultTurnDetectionType       = "server_vad"
	DefaultThreshold               = 0.75
	DefaultPrefixPadding           = 800 * time.Millisecond
	DefaultSilenceDuration         = 3000 * time.Millisecond
	DefaultSettlingDelay           = time.Second
	DefaultSampleRate              = 24000
	DefaultFrameDuration           = 20 * time.Millisecond
	DefaultSendQueueFrames         = 50
	DefaultPlaybackBufferFrames    = 4
)

// NoSettlingDelay as SessionConfig.SettlingDelay turns the settling delay off.
const NoSettlingDelay time.Duration = -1

// Modality names accepted in [SessionConfig.Modalities].
const (
	ModalityText  = "text"
	ModalityAudio = "audio"
)

// TurnDetection configures the service's voice activity detection.
type TurnDetection struct {
	// Type is the detector, e.g. "server_vad".
	Type string

	// Threshold is the speech sensitivity in [0, 1]. Higher values need louder
	// speech to open a turn.
	Threshold float64

	// PrefixPadding is the audio kept before detected speech onset.
	PrefixPadding time.Duration

	// SilenceDuration is the trailing silence that closes a user turn.
	SilenceDuration time.Duration
}

// SessionConfig is everything one session needs. It is immutable once a
// session has started and may be read concurrently.
type SessionConfig struct {
	// APIKey is the bearer credential for the service.
	APIKey string

	// BaseURL is the service endpoint; empty selects the provider default.
	BaseURL string

	// Model is the service model; empty selects the provider default.
	Model string

	Instructions            string
	Voice                   string
	Modalities              []string
	Temperature             float64
	MaxResponseOutputTokens int
	TranscriptionModel      string
	TurnDetection           TurnDetection

	// SettlingDelay is how long capture stays muted after an assistant turn
	// completes, letting the speaker drain before the microphone listens again.
	// Zero selects DefaultSettlingDelay; NoSettlingDelay unmutes at once.
	SettlingDelay time.Duration

	// SampleRate of the PCM16 mono audio exchanged with the service.
	SampleRate int

	// FrameDuration is the capture frame length.
	FrameDuration time.Duration

	// SendQueueFrames bounds the outbound audio queue.
	SendQueueFrames int

	// PlaybackBufferFrames sizes the speaker's device buffer in frames.
	PlaybackBufferFrames int
}

// DefaultSessionConfig returns a config with every tunable set to its default.
// APIKey is left empty.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{}.WithDefaults()
}

// WithDefaults returns a copy of c with zero-valued fields replaced by their
// defaults.
func (c SessionConfig) WithDefaults() SessionConfig {
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if len(c.Modalities) == 0 {
		c.Modalities = []string{ModalityText, ModalityAudio}
	} else {
		c.Modalities = slices.Clone(c.Modalities)
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxResponseOutputTokens == 0 {
		c.MaxResponseOutputTokens = DefaultMaxResponseOutputTokens
	}
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = DefaultTranscriptionModel
	}
	if c.TurnDetection.Type == "" {
		c.TurnDetection.Type = DefaultTurnDetectionType
	}
	if c.TurnDetection.Threshold == 0 {
		c.TurnDetection.Threshold = DefaultThreshold
	}
	if c.TurnDetection.PrefixPadding == 0 {
		c.TurnDetection.PrefixPadding = DefaultPrefixPadding
	}
	if c.TurnDetection.SilenceDuration == 0 {
		c.TurnDetection.SilenceDuration = DefaultSilenceDuration
	}
	if c.SettlingDelay == 0 {
		c.SettlingDelay = DefaultSettlingDelay
	}
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.FrameDuration == 0 {
		c.FrameDuration = DefaultFrameDuration
	}
	if c.SendQueueFrames == 0 {
		c.SendQueueFrames = DefaultSendQueueFrames
	}
	if c.PlaybackBufferFrames == 0 {
		c.PlaybackBufferFrames = DefaultPlaybackBufferFrames
	}
	return c
}

// Format returns the audio format exchanged with the service.
func (c SessionConfig) Format() audio.Format {
	return audio.Format{SampleRate: c.SampleRate, Channels: 1}
}

// FrameSamples returns the number of samples in one capture frame.
func (c SessionConfig) FrameSamples() int {
	return c.Format().SamplesFor(c.FrameDuration)
}

// Validate checks c and returns every problem found, joined. Each problem is a
// [*ConfigError]. Validate does not apply defaults.
func (c SessionConfig) Validate() error {
	var errs []error
	bad := func(field, reason string) {
		errs = append(errs, &ConfigError{Field: field, Reason: reason})
	}

	if c.APIKey == "" {
		bad("api_key", "is required")
	}
	if c.Voice == "" {
		bad("voice", "is required")
	}
	if len(c.Modalities) == 0 {
		bad("modalities", "must not be empty")
	}
	for _, m := range c.Modalities {
		if m != ModalityText && m != ModalityAudio {
			bad("modalities", "unknown modality "+quote(m))
		}
	}
	if len(c.Modalities) > 0 && !slices.Contains(c.Modalities, ModalityAudio) {
		bad("modalities", "must include audio")
	}
	if c.Temperature < 0.6 || c.Temperature > 1.2 {
		bad("temperature", "must be between 0.6 and 1.2")
	}
	if c.MaxResponseOutputTokens < 1 || c.MaxResponseOutputTokens > 4096 {
		bad("max_response_output_tokens", "must be between 1 and 4096")
	}
	if c.TurnDetection.Threshold < 0 || c.TurnDetection.Threshold > 1 {
		bad("turn_detection.threshold", "must be between 0 and 1")
	}
	if c.TurnDetection.PrefixPadding < 0 {
		bad("turn_detection.prefix_padding_ms", "must not be negative")
	}
	if c.TurnDetection.SilenceDuration < 0 {
		bad("turn_detection.silence_duration_ms", "must not be negative")
	}
	if c.SettlingDelay < 0 && c.SettlingDelay != NoSettlingDelay {
		bad("settling_delay", "must not be negative")
	}
	if c.SampleRate <= 0 {
		bad("sample_rate", "must be positive")
	}
	if c.FrameDuration <= 0 {
		bad("frame_duration", "must be positive")
	} else if c.SampleRate > 0 && c.FrameSamples() < 1 {
		bad("frame_duration", "is shorter than one sample")
	}
	if c.SendQueueFrames < 1 {
		bad("send_queue_frames", "must be at least 1")
	}
	if c.PlaybackBufferFrames < 1 {
		bad("playback_buffer_frames", "must be at least 1")
	}
	return errors.Join(errs...)
}

func quote(s string) string { return `"` + s + `"` }
