package media

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/voxlabs/lenscore/logger"
)

// DefaultFrameInterval is the default capture cadence for video frames.
const DefaultFrameInterval = 1500 * time.Millisecond

// FrameSource captures one encoded JPEG frame from the host camera.
// External collaborator; the core only consumes the encoded bytes.
type FrameSource interface {
	CaptureFrame(ctx context.Context) ([]byte, error)
}

// JPEGEncoder captures frames at a fixed cadence and delivers them as
// base64-encoded chunks tagged image/jpeg.
type JPEGEncoder struct {
	source   FrameSource
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	seq    int64

	chunks chan Chunk
}

// NewJPEGEncoder creates a frame encoder. An interval of 0 or less uses
// DefaultFrameInterval.
func NewJPEGEncoder(source FrameSource, interval time.Duration) *JPEGEncoder {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &JPEGEncoder{
		source:   source,
		interval: interval,
		chunks:   make(chan Chunk, 4),
	}
}

// Start begins the capture loop. Idempotent: a second Start while running is a no-op.
func (e *JPEGEncoder) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.captureLoop(ctx)
}

// Stop halts the capture loop. Idempotent.
func (e *JPEGEncoder) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.cancel = nil
}

// Chunks implements Encoder.
func (e *JPEGEncoder) Chunks() <-chan Chunk {
	return e.chunks
}

func (e *JPEGEncoder) captureLoop(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := e.source.CaptureFrame(ctx)
			if err != nil {
				logger.Warn("frame capture failed", "error", err)
				continue
			}
			if len(frame) == 0 {
				continue
			}
			chunk := Chunk{
				MIMEType:    "image/jpeg",
				Data:        base64.StdEncoding.EncodeToString(frame),
				SequenceNum: e.nextSeq(),
				Timestamp:   time.Now(),
			}
			select {
			case e.chunks <- chunk:
			case <-ctx.Done():
				return
			default:
				// A stale frame is worthless; skip it.
			}
		}
	}
}

func (e *JPEGEncoder) nextSeq() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	seq := e.seq
	e.seq++
	return seq
}
