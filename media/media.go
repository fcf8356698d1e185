// Package media provides the capture-side stream encoders and the audio
// output sink consumed by the assistant session.
//
// Encoders convert raw device frames into transport-ready base64 chunks.
// They buffer nothing while stopped: starting and stopping only gates whether
// new chunks are produced, so toggling is idempotent.
package media

import "time"

// Sample rates fixed by the assistant backend.
const (
	// InputSampleRate is the capture sample rate in Hz.
	InputSampleRate = 16000
	// OutputSampleRate is the playback sample rate in Hz.
	OutputSampleRate = 24000
)

// Chunk is one transport-ready encoded capture chunk.
type Chunk struct {
	// MIMEType tags the payload for the realtime-input envelope.
	MIMEType string
	// Data is the base64-encoded payload.
	Data string
	// SequenceNum orders chunks from one encoder.
	SequenceNum int64
	// Timestamp is when the chunk was produced.
	Timestamp time.Time
}

// Encoder is a capture device encoder. Start and Stop are idempotent and safe
// to call in any session state; an encoder produces nothing while stopped.
type Encoder interface {
	Start()
	Stop()
	// Chunks returns the channel on which encoded chunks are delivered.
	// The channel is never closed by Start/Stop cycles.
	Chunks() <-chan Chunk
}

// Output is the audio playback sink. Implementations wrap the host audio
// device; NopOutput stands in when audio output is disabled.
type Output interface {
	// Initialize prepares the sink for playback at the given sample rate.
	Initialize(sampleRate int) error
	// Interrupt stops any in-progress playback. Best effort.
	Interrupt()
}

// NopOutput is an Output that discards everything. Used when the session has
// no audio output configured.
type NopOutput struct{}

// Initialize implements Output.
func (NopOutput) Initialize(int) error { return nil }

// Interrupt implements Output.
func (NopOutput) Interrupt() {}
