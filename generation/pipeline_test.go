package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlabs/lenscore/events"
)

// scriptedService hands tests the stage channel so they can drive delivery.
type scriptedService struct {
	mu        sync.Mutex
	stages    chan StageEvent
	submitErr error
	submits   int
	lastReq   Request
}

func newScriptedService() *scriptedService {
	return &scriptedService{stages: make(chan StageEvent, 8)}
}

func (s *scriptedService) Submit(_ context.Context, req Request) (<-chan StageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	s.lastReq = req
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return s.stages, nil
}

// recordingPlaceholder records every update.
type recordingPlaceholder struct {
	mu       sync.Mutex
	previews [][]byte
	meshes   []bool // refined flag per SetMesh call
	failures []error
}

func (p *recordingPlaceholder) SetPreview(image []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.previews = append(p.previews, image)
}

func (p *recordingPlaceholder) SetMesh(_ []byte, refined bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.meshes = append(p.meshes, refined)
}

func (p *recordingPlaceholder) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, err)
}

func (p *recordingPlaceholder) snapshot() (previews int, meshes []bool, failures []error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.previews), append([]bool(nil), p.meshes...), append([]error(nil), p.failures...)
}

type recordingFactory struct {
	mu      sync.Mutex
	created []*recordingPlaceholder
}

func (f *recordingFactory) Create(_ string) Placeholder {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &recordingPlaceholder{}
	f.created = append(f.created, p)
	return p
}

func (f *recordingFactory) last() *recordingPlaceholder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

func awaitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle never settled")
	}
}

func TestNewRequest_Defaults(t *testing.T) {
	req := NewRequest("a wizard hat")
	assert.Equal(t, "a wizard hat", req.Prompt)
	assert.Equal(t, "glb", req.Format)
	assert.True(t, req.Refine)
	assert.False(t, req.UseVertexColor)
}

func TestPipeline_FullStageProgression(t *testing.T) {
	svc := newScriptedService()
	factory := &recordingFactory{}
	bus := events.NewBus()
	var stageMu sync.Mutex
	var stages []string
	bus.Subscribe(events.TypeGenerationStage, func(ev *events.Event) {
		stageMu.Lock()
		defer stageMu.Unlock()
		stages = append(stages, ev.Data.(events.GenerationStageData).Stage)
	})

	p := NewPipeline(svc, factory, bus)
	handle, err := p.Submit(context.Background(), "a wizard hat")
	require.NoError(t, err)
	assert.True(t, p.Busy())

	svc.stages <- StageEvent{Stage: StageImage, Data: []byte("img")}
	svc.stages <- StageEvent{Stage: StageBaseMesh, Data: []byte("base")}
	svc.stages <- StageEvent{Stage: StageRefinedMesh, Data: []byte("refined")}

	awaitDone(t, handle)
	result, err := handle.Result()
	require.NoError(t, err)
	assert.Equal(t, []byte("refined"), result.Mesh)
	assert.Equal(t, "a wizard hat", result.Prompt)
	assert.NotEmpty(t, result.RequestID)

	previews, meshes, failures := factory.last().snapshot()
	assert.Equal(t, 1, previews)
	assert.Equal(t, []bool{false, true}, meshes)
	assert.Empty(t, failures)

	// Slot released before the handle settled.
	assert.False(t, p.Busy(), "slot must be free once the handle settles")

	// Events published in stage order, all delivered before settlement.
	stageMu.Lock()
	defer stageMu.Unlock()
	assert.Equal(t, []string{"image", "base_mesh", "refined_mesh"}, stages)
}

func TestPipeline_RejectsWhileBusy(t *testing.T) {
	svc := newScriptedService()
	p := NewPipeline(svc, nil, nil)

	handle, err := p.Submit(context.Background(), "first")
	require.NoError(t, err)

	_, err = p.Submit(context.Background(), "second")
	require.ErrorIs(t, err, ErrBusy)

	// The rejection must not have disturbed the admitted request.
	svc.stages <- StageEvent{Stage: StageRefinedMesh, Data: []byte("mesh")}
	awaitDone(t, handle)
	_, err = handle.Result()
	require.NoError(t, err)
	assert.Equal(t, 1, svc.submits)
}

func TestPipeline_SlotReusableAfterCompletion(t *testing.T) {
	svc := newScriptedService()
	p := NewPipeline(svc, nil, nil)

	h1, err := p.Submit(context.Background(), "first")
	require.NoError(t, err)
	svc.stages <- StageEvent{Stage: StageRefinedMesh, Data: []byte("m1")}
	awaitDone(t, h1)

	assert.False(t, p.Busy(), "slot must be free once the handle settles")

	svc.mu.Lock()
	svc.stages = make(chan StageEvent, 8)
	svc.mu.Unlock()

	h2, err := p.Submit(context.Background(), "second")
	require.NoError(t, err)
	svc.stages <- StageEvent{Stage: StageRefinedMesh, Data: []byte("m2")}
	awaitDone(t, h2)

	result, err := h2.Result()
	require.NoError(t, err)
	assert.Equal(t, []byte("m2"), result.Mesh)
}

func TestPipeline_SlotFreeWhenHandleSettles(t *testing.T) {
	svc := newScriptedService()
	p := NewPipeline(svc, nil, nil)

	// Submitting again the instant Done() closes must be admitted, never
	// rejected with ErrBusy. Cycle enough times to catch an ordering slip.
	for i := 0; i < 50; i++ {
		h, err := p.Submit(context.Background(), "hat")
		require.NoError(t, err, "cycle %d", i)
		svc.stages <- StageEvent{Stage: StageRefinedMesh, Data: []byte("m")}
		awaitDone(t, h)
		assert.False(t, p.Busy(), "cycle %d: slot still held after settlement", i)
	}
	assert.Equal(t, 50, svc.submits)
}

func TestPipeline_FailedStageRejectsHandle(t *testing.T) {
	svc := newScriptedService()
	factory := &recordingFactory{}
	p := NewPipeline(svc, factory, nil)

	handle, err := p.Submit(context.Background(), "a hat")
	require.NoError(t, err)

	svc.stages <- StageEvent{Stage: StageImage, Data: []byte("img")}
	svc.stages <- StageEvent{Stage: StageFailed, Err: errors.New("quota exceeded")}

	awaitDone(t, handle)
	_, err = handle.Result()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	_, _, failures := factory.last().snapshot()
	require.Len(t, failures, 1)

	assert.False(t, p.Busy(), "slot must be free once the handle settles")
}

func TestPipeline_SubmitFailureRejectsHandle(t *testing.T) {
	svc := newScriptedService()
	svc.submitErr = errors.New("service unreachable")
	factory := &recordingFactory{}
	p := NewPipeline(svc, factory, nil)

	handle, err := p.Submit(context.Background(), "a hat")
	require.NoError(t, err, "admission succeeds; the failure surfaces on the handle")

	awaitDone(t, handle)
	_, err = handle.Result()
	require.Error(t, err)

	_, _, failures := factory.last().snapshot()
	require.Len(t, failures, 1)
	assert.False(t, p.Busy(), "slot must be free once the handle settles")
}

func TestPipeline_OutOfOrderStagesIgnored(t *testing.T) {
	svc := newScriptedService()
	factory := &recordingFactory{}
	p := NewPipeline(svc, factory, nil)

	handle, err := p.Submit(context.Background(), "a hat")
	require.NoError(t, err)

	svc.stages <- StageEvent{Stage: StageBaseMesh, Data: []byte("base")}
	svc.stages <- StageEvent{Stage: StageImage, Data: []byte("late image")}
	svc.stages <- StageEvent{Stage: StageBaseMesh, Data: []byte("duplicate")}
	svc.stages <- StageEvent{Stage: StageRefinedMesh, Data: []byte("refined")}

	awaitDone(t, handle)
	_, err = handle.Result()
	require.NoError(t, err)

	previews, meshes, _ := factory.last().snapshot()
	assert.Zero(t, previews, "stage already passed")
	assert.Equal(t, []bool{false, true}, meshes)
}

func TestPipeline_ServiceStreamClosedEarly(t *testing.T) {
	svc := newScriptedService()
	p := NewPipeline(svc, nil, nil)

	handle, err := p.Submit(context.Background(), "a hat")
	require.NoError(t, err)

	svc.stages <- StageEvent{Stage: StageImage, Data: []byte("img")}
	close(svc.stages)

	awaitDone(t, handle)
	_, err = handle.Result()
	require.ErrorIs(t, err, ErrServiceClosed)
	assert.False(t, p.Busy(), "slot must be free once the handle settles")
}

func TestPipeline_Timeout(t *testing.T) {
	svc := newScriptedService()
	p := NewPipeline(svc, nil, nil, WithTimeout(50*time.Millisecond))

	handle, err := p.Submit(context.Background(), "a hat")
	require.NoError(t, err)

	// No terminal stage ever arrives.
	awaitDone(t, handle)
	_, err = handle.Result()
	require.ErrorIs(t, err, ErrTimeout)
	assert.False(t, p.Busy(), "slot must be free once the handle settles")
}

func TestPipeline_EmptyPromptRejected(t *testing.T) {
	p := NewPipeline(newScriptedService(), nil, nil)
	_, err := p.Submit(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyPrompt)
	assert.False(t, p.Busy())
}

func TestPipeline_RequestShape(t *testing.T) {
	svc := newScriptedService()
	p := NewPipeline(svc, nil, nil)

	_, err := p.Submit(context.Background(), "a red hat")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.submits == 1
	}, time.Second, 10*time.Millisecond)

	svc.mu.Lock()
	req := svc.lastReq
	svc.mu.Unlock()
	assert.Equal(t, NewRequest("a red hat"), req)

	svc.stages <- StageEvent{Stage: StageRefinedMesh}
}

func TestHandle_SettlesOnce(t *testing.T) {
	h := newHandle("id", "prompt")
	h.resolve(Result{RequestID: "id", Mesh: []byte("m")})
	h.reject(errors.New("late failure"))
	h.resolve(Result{RequestID: "id", Mesh: []byte("other")})

	result, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, []byte("m"), result.Mesh)
}
