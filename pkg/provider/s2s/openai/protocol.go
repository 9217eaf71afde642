package openai

import (
	"github.com/MrWong99/kioskvoice/pkg/provider/s2s"
)

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	EventID string        `json:"event_id,omitempty"`
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection       `json:"turn_detection,omitempty"`
	Temperature             float64              `json:"temperature,omitempty"`
	MaxResponseOutputTokens int                  `json:"max_response_output_tokens,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int64   `json:"prefix_padding_ms"`
	SilenceDurationMs int64   `json:"silence_duration_ms"`
}

type appendAudioMessage struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
	Audio   string `json:"audio"` // base64-encoded PCM16
}

func newSessionUpdate(cfg s2s.SessionConfig) sessionUpdateMessage {
	params := sessionParams{
		Modalities:              cfg.Modalities,
		Instructions:            cfg.Instructions,
		Voice:                   cfg.Voice,
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		Temperature:             cfg.Temperature,
		MaxResponseOutputTokens: cfg.MaxResponseOutputTokens,
	}
	if cfg.TranscriptionModel != "" {
		params.InputAudioTranscription = &transcriptionParams{Model: cfg.TranscriptionModel}
	}
	if td := cfg.TurnDetection; td.Type != "" {
		params.TurnDetection = &turnDetection{
			Type:              td.Type,
			Threshold:         td.Threshold,
			PrefixPaddingMs:   td.PrefixPadding.Milliseconds(),
			SilenceDurationMs: td.SilenceDuration.Milliseconds(),
		}
	}
	return sessionUpdateMessage{EventID: newEventID(), Type: "session.update", Session: params}
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`

	// *.delta events
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.created / response.done
	Response *serverResponse `json:"response,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

func (e *serverEvent) responseID() string {
	if e.Response != nil && e.Response.ID != "" {
		return e.Response.ID
	}
	return e.ResponseID
}

type serverResponse struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	StatusDetails *statusDetails `json:"status_details,omitempty"`
}

type statusDetails struct {
	Type   string             `json:"type,omitempty"`
	Reason string             `json:"reason,omitempty"`
	Error  *serverErrorDetail `json:"error,omitempty"`
}

// failure describes a response that ended with a status other than
// "completed".
func (r *serverResponse) failure() *s2s.ProtocolError {
	perr := &s2s.ProtocolError{Reason: "response " + r.Status}
	if d := r.StatusDetails; d != nil {
		switch {
		case d.Error != nil && d.Error.Message != "":
			perr.Reason = d.Error.Message
			perr.Code = d.Error.Code
		case d.Reason != "":
			perr.Reason = "response " + r.Status + ": " + d.Reason
		}
	}
	return perr
}
