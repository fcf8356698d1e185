package media

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

var (
	// ErrEmptyAudioData indicates no audio data was provided.
	ErrEmptyAudioData = errors.New("empty audio data")
	// ErrInvalidChunkSize indicates a chunk size not aligned to the sample size.
	ErrInvalidChunkSize = errors.New("invalid chunk size: must be multiple of sample size")
)

const (
	// Audio format fixed by the backend: 16 kHz 16-bit mono PCM.
	audioBitDepth  = 16
	audioChannels  = 1
	bytesPerSample = audioBitDepth / 8

	// DefaultAudioChunkDuration is 100ms of audio per chunk.
	DefaultAudioChunkDuration = 100 // milliseconds
	// DefaultAudioChunkSize is the byte count for 100ms at 16kHz 16-bit mono.
	DefaultAudioChunkSize = (InputSampleRate * DefaultAudioChunkDuration / 1000) * bytesPerSample
)

// PCMEncoder accumulates raw PCM capture frames into fixed-size chunks,
// base64-encodes them, and delivers them on its chunk channel while started.
type PCMEncoder struct {
	chunkSize int

	mu      sync.Mutex
	started bool
	pending []byte
	seq     int64

	chunks chan Chunk
}

// NewPCMEncoder creates an encoder with the default chunk size.
func NewPCMEncoder() *PCMEncoder {
	enc, _ := NewPCMEncoderWithChunkSize(DefaultAudioChunkSize)
	return enc
}

// NewPCMEncoderWithChunkSize creates an encoder with a custom chunk size.
func NewPCMEncoderWithChunkSize(chunkSize int) (*PCMEncoder, error) {
	if chunkSize <= 0 || chunkSize%bytesPerSample != 0 {
		return nil, ErrInvalidChunkSize
	}
	return &PCMEncoder{
		chunkSize: chunkSize,
		chunks:    make(chan Chunk, 16),
	}, nil
}

// Start enables chunk production. Idempotent.
func (e *PCMEncoder) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = true
}

// Stop disables chunk production and drops any partial frame data. Idempotent.
func (e *PCMEncoder) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = false
	e.pending = nil
}

// Started reports whether the encoder is currently producing chunks.
func (e *PCMEncoder) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Chunks implements Encoder.
func (e *PCMEncoder) Chunks() <-chan Chunk {
	return e.chunks
}

// ProcessFrame ingests one raw PCM capture frame. Frames arriving while the
// encoder is stopped are discarded. Full chunks are base64-encoded and
// delivered; delivery is non-blocking and sheds the oldest data under
// backpressure rather than stalling the capture path.
func (e *PCMEncoder) ProcessFrame(frame []byte) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.pending = append(e.pending, frame...)

	var ready [][]byte
	for len(e.pending) >= e.chunkSize {
		chunk := make([]byte, e.chunkSize)
		copy(chunk, e.pending[:e.chunkSize])
		e.pending = e.pending[e.chunkSize:]
		ready = append(ready, chunk)
	}
	e.mu.Unlock()

	for _, raw := range ready {
		encoded, err := EncodePCM(raw)
		if err != nil {
			continue
		}
		e.deliver(Chunk{
			MIMEType:    "audio/pcm",
			Data:        encoded,
			SequenceNum: e.nextSeq(),
			Timestamp:   time.Now(),
		})
	}
}

func (e *PCMEncoder) nextSeq() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	seq := e.seq
	e.seq++
	return seq
}

func (e *PCMEncoder) deliver(c Chunk) {
	select {
	case e.chunks <- c:
	default:
		// Drop the oldest chunk to make room for the newest.
		select {
		case <-e.chunks:
		default:
		}
		select {
		case e.chunks <- c:
		default:
		}
	}
}

// EncodePCM validates raw PCM data and base64-encodes it for JSON transport.
func EncodePCM(pcmData []byte) (string, error) {
	if len(pcmData) == 0 {
		return "", ErrEmptyAudioData
	}
	if len(pcmData)%bytesPerSample != 0 {
		return "", fmt.Errorf("PCM data size %d not aligned to sample size %d", len(pcmData), bytesPerSample)
	}
	return base64.StdEncoding.EncodeToString(pcmData), nil
}

// DecodePCM decodes base64-encoded audio back to raw PCM.
func DecodePCM(base64Data string) ([]byte, error) {
	if base64Data == "" {
		return nil, ErrEmptyAudioData
	}
	pcmData, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 audio: %w", err)
	}
	if len(pcmData)%bytesPerSample != 0 {
		return nil, fmt.Errorf("decoded PCM data size %d not aligned to sample size %d", len(pcmData), bytesPerSample)
	}
	return pcmData, nil
}

// ConvertInt16ToPCM converts []int16 samples to PCM bytes (little-endian).
func ConvertInt16ToPCM(samples []int16) []byte {
	pcmData := make([]byte, len(samples)*bytesPerSample)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(pcmData[i*bytesPerSample:], uint16(sample))
	}
	return pcmData
}

// ConvertPCMToInt16 converts PCM bytes to []int16 samples (little-endian).
func ConvertPCMToInt16(pcmData []byte) ([]int16, error) {
	if len(pcmData)%bytesPerSample != 0 {
		return nil, fmt.Errorf("PCM data size %d not aligned to sample size %d", len(pcmData), bytesPerSample)
	}
	samples := make([]int16, len(pcmData)/bytesPerSample)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcmData[i*bytesPerSample:]))
	}
	return samples, nil
}

// GenerateSineWave generates PCM audio for a sine wave (useful for testing).
func GenerateSineWave(frequency float64, durationMs int, amplitude float64) []byte {
	if amplitude > 1.0 {
		amplitude = 1.0
	}

	numSamples := (InputSampleRate * durationMs) / 1000
	samples := make([]int16, numSamples)

	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(InputSampleRate)
		value := amplitude * math.Sin(2*math.Pi*frequency*t)
		samples[i] = int16(value * math.MaxInt16)
	}

	return ConvertInt16ToPCM(samples)
}

// ChunkDurationMs calculates the duration of a chunk size in milliseconds.
func ChunkDurationMs(chunkSize int) float64 {
	samplesPerChunk := chunkSize / bytesPerSample
	return float64(samplesPerChunk) / float64(InputSampleRate) * 1000.0
}
