package generation

import "sync"

// Handle is the completion handle returned by Pipeline.Submit. It settles
// exactly once, with either a Result or an error.
type Handle struct {
	requestID string
	prompt    string

	done chan struct{}

	mu     sync.Mutex
	result Result
	err    error
}

func newHandle(requestID, prompt string) *Handle {
	return &Handle{
		requestID: requestID,
		prompt:    prompt,
		done:      make(chan struct{}),
	}
}

// RequestID returns the identifier assigned at admission.
func (h *Handle) RequestID() string { return h.requestID }

// Prompt returns the submitted prompt.
func (h *Handle) Prompt() string { return h.prompt }

// Done is closed when the request reaches a terminal stage.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result blocks until the request settles, then returns the outcome.
func (h *Handle) Result() (Result, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// resolve settles the handle with a successful result. Later calls to
// resolve or reject are ignored.
func (h *Handle) resolve(res Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return
	default:
	}
	h.result = res
	close(h.done)
}

// reject settles the handle with an error. Later calls are ignored.
func (h *Handle) reject(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return
	default:
	}
	h.err = err
	close(h.done)
}
