package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voxlabs/lenscore/events"
	"github.com/voxlabs/lenscore/logger"
	"github.com/voxlabs/lenscore/metrics"
)

// DefaultTimeout bounds a single generation request end to end.
const DefaultTimeout = 120 * time.Second

// Pipeline admits at most one generation request at a time. A second
// submission while the slot is occupied is rejected immediately with ErrBusy;
// the slot is released exactly once, when the admitted request reaches a
// terminal stage.
type Pipeline struct {
	service Service
	factory PlaceholderFactory
	bus     *events.Bus
	timeout time.Duration

	// slot holds one token while the pipeline is free to admit a request.
	slot chan struct{}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// NewPipeline creates a pipeline around the given service. The factory may be
// nil when no visual placeholder is wanted; the bus may be nil to skip stage
// events.
func NewPipeline(service Service, factory PlaceholderFactory, bus *events.Bus, opts ...Option) *Pipeline {
	p := &Pipeline{
		service: service,
		factory: factory,
		bus:     bus,
		timeout: DefaultTimeout,
		slot:    make(chan struct{}, 1),
	}
	p.slot <- struct{}{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Busy reports whether the single slot is currently occupied.
func (p *Pipeline) Busy() bool {
	return len(p.slot) == 0
}

// Submit admits a request if the slot is free and returns its completion
// handle immediately. Stage consumption runs in the background; the handle
// settles when the request reaches refined_mesh, fails, or times out.
func (p *Pipeline) Submit(ctx context.Context, prompt string) (*Handle, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	select {
	case <-p.slot:
	default:
		logger.Warn("generation rejected, slot busy", "prompt", prompt)
		return nil, ErrBusy
	}

	requestID := uuid.NewString()
	handle := newHandle(requestID, prompt)
	logger.Info("generation admitted", "request_id", requestID, "prompt", prompt)
	metrics.GenerationsActive.Inc()

	var placeholder Placeholder
	if p.factory != nil {
		placeholder = p.factory.Create(prompt)
	}

	go p.run(ctx, handle, placeholder)

	return handle, nil
}

// run drives one admitted request to its terminal stage and releases the slot.
func (p *Pipeline) run(ctx context.Context, h *Handle, placeholder Placeholder) {
	start := time.Now()
	status := "error"

	// The slot must be free before the handle settles: a caller that waits on
	// Done() and submits again right away is admitted, not rejected. release
	// therefore runs ahead of resolve/reject on every terminal path; the
	// deferred call is a backstop and a no-op once released.
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		metrics.GenerationsActive.Dec()
		p.slot <- struct{}{}
	}
	defer func() {
		release()
		metrics.GenerationDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	runCtx := ctx
	var cancel context.CancelFunc
	if p.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	stages, err := p.service.Submit(runCtx, NewRequest(h.Prompt()))
	if err != nil {
		p.fail(h, placeholder, release, fmt.Errorf("submit failed: %w", err))
		return
	}

	lastRank := 0
	for {
		select {
		case <-runCtx.Done():
			err := runCtx.Err()
			if ctx.Err() == nil {
				err = fmt.Errorf("%w after %s", ErrTimeout, p.timeout)
			}
			p.fail(h, placeholder, release, err)
			return

		case ev, ok := <-stages:
			if !ok {
				p.fail(h, placeholder, release, ErrServiceClosed)
				return
			}
			if ev.Stage.rank() <= lastRank {
				logger.Warn("ignoring out-of-order stage",
					"request_id", h.RequestID(), "stage", ev.Stage)
				continue
			}
			lastRank = ev.Stage.rank()
			metrics.GenerationStagesTotal.WithLabelValues(string(ev.Stage)).Inc()
			p.publishStage(h, ev.Stage, ev.Err)

			switch ev.Stage {
			case StageImage:
				logger.Debug("preview image ready", "request_id", h.RequestID())
				if placeholder != nil {
					placeholder.SetPreview(ev.Data)
				}

			case StageBaseMesh:
				logger.Debug("base mesh ready", "request_id", h.RequestID())
				if placeholder != nil {
					placeholder.SetMesh(ev.Data, false)
				}

			case StageRefinedMesh:
				logger.Info("generation finished", "request_id", h.RequestID(),
					"duration", time.Since(start))
				if placeholder != nil {
					placeholder.SetMesh(ev.Data, true)
				}
				status = "success"
				release()
				h.resolve(Result{
					RequestID: h.RequestID(),
					Prompt:    h.Prompt(),
					Mesh:      ev.Data,
				})
				return

			case StageFailed:
				err := ev.Err
				if err == nil {
					err = fmt.Errorf("generation failed")
				}
				logger.Error("generation failed", "request_id", h.RequestID(), "error", err)
				if placeholder != nil {
					placeholder.Fail(err)
				}
				release()
				h.reject(err)
				return
			}
		}
	}
}

// fail publishes the failed stage, notifies the placeholder, frees the slot,
// and rejects the handle, in that order.
func (p *Pipeline) fail(h *Handle, placeholder Placeholder, release func(), err error) {
	logger.Error("generation failed", "request_id", h.RequestID(), "error", err)
	metrics.GenerationStagesTotal.WithLabelValues(string(StageFailed)).Inc()
	p.publishStage(h, StageFailed, err)
	if placeholder != nil {
		placeholder.Fail(err)
	}
	release()
	h.reject(err)
}

func (p *Pipeline) publishStage(h *Handle, stage Stage, err error) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.TypeGenerationStage, events.GenerationStageData{
		RequestID: h.RequestID(),
		Prompt:    h.Prompt(),
		Stage:     string(stage),
		Err:       err,
	})
}
