package media

import (
	"errors"
	"sync"

	"github.com/voxlabs/lenscore/logger"
)

// ErrCaptureCanceled rejects a pending query result when a newer capture
// supersedes it.
var ErrCaptureCanceled = errors.New("voice query capture canceled")

// Recognizer is a one-shot speech recognizer. Start begins transcribing and
// reports updates until Stop is called or a final transcript arrives. Stop
// must be safe to call when no recognition is running, and implementations
// may fire callbacks synchronously from Stop.
type Recognizer interface {
	Start(onUpdate func(text string, final bool), onError func(err error)) error
	Stop()
}

// QueryResult is the outcome of one voice query capture.
type QueryResult struct {
	Text string
	Err  error
}

// QueryCapture runs one-shot voice queries against a Recognizer. Only one
// capture is active at a time: starting a new capture cancels the active one
// and rejects its pending result with ErrCaptureCanceled.
type QueryCapture struct {
	rec Recognizer

	mu      sync.Mutex
	pending chan QueryResult
}

// NewQueryCapture creates a QueryCapture around the given recognizer.
func NewQueryCapture(rec Recognizer) *QueryCapture {
	return &QueryCapture{rec: rec}
}

// Capture starts transcribing and returns a channel that receives exactly one
// QueryResult: the final transcript, a recognizer error, or
// ErrCaptureCanceled if a later Capture supersedes this one.
func (q *QueryCapture) Capture() <-chan QueryResult {
	result := make(chan QueryResult, 1)

	// Swap in the new pending channel before touching the recognizer: Stop
	// may fire callbacks synchronously, and those must already look stale.
	q.mu.Lock()
	prev := q.pending
	q.pending = result
	q.mu.Unlock()

	if prev != nil {
		logger.Debug("voice query already active, canceling")
		q.rec.Stop()
		prev <- QueryResult{Err: ErrCaptureCanceled}
	}

	err := q.rec.Start(
		func(text string, final bool) {
			if !final {
				return
			}
			q.settle(result, QueryResult{Text: text})
		},
		func(err error) {
			q.settle(result, QueryResult{Err: err})
		},
	)
	if err != nil {
		q.settle(result, QueryResult{Err: err})
	}

	return result
}

// Active reports whether a capture is in flight.
func (q *QueryCapture) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending != nil
}

// settle resolves result exactly once and stops recognition for the capture
// that still owns the slot. Late callbacks from a superseded capture return
// without touching the recognizer, which may already be serving a newer
// capture. The recognizer is never called under q.mu.
func (q *QueryCapture) settle(result chan QueryResult, r QueryResult) {
	q.mu.Lock()
	if q.pending != result {
		q.mu.Unlock()
		return
	}
	q.pending = nil
	q.mu.Unlock()

	q.rec.Stop()
	result <- r
}
