package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the engine.
// Frames are the atomic unit of audio transport: captured from the microphone,
// sent to the remote service, decoded from it, and played through the speaker.
//
// A frame is produced once and consumed exactly once. Data must not be mutated
// after the frame is created; producers copy device buffers before building a frame.
type AudioFrame struct {
	// Data holds little-endian signed 16-bit PCM samples.
	Data []byte

	// Seq is the frame's position in its stream, starting at 0. Capture and
	// decoded playback streams keep independent counters.
	Seq uint64

	// SampleRate in Hz (24000 for the realtime service).
	SampleRate int

	// Channels: always 1 for this engine.
	Channels int

	// Timestamp marks when this frame was produced, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of PCM samples per channel held by the frame.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return len(f.Data) / 2
	}
	return len(f.Data) / 2 / f.Channels
}

// Duration returns the playback duration of the frame. It returns zero when
// the sample rate is unknown.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono24k is the wire format of the realtime conversation service.
var Mono24k = Format{SampleRate: 24000, Channels: 1}

// SamplesFor returns how many samples per channel cover d at the format's rate.
func (f Format) SamplesFor(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(d) / int64(time.Second))
}

// String returns a human-readable form such as "24000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}
