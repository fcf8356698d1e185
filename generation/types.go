// Package generation implements the asynchronous 3D asset pipeline: a
// single-slot admission gate in front of a staged text-to-3D service, with
// placeholder objects updated as each stage arrives.
package generation

import (
	"context"
	"errors"
)

// Stage identifies a milestone in the asset lifecycle. Stages advance
// monotonically: image, then base mesh, then refined mesh; failed is terminal
// from any point.
type Stage string

const (
	// StageImage is the 2D preview render.
	StageImage Stage = "image"
	// StageBaseMesh is the first usable 3D mesh.
	StageBaseMesh Stage = "base_mesh"
	// StageRefinedMesh is the final high-quality mesh.
	StageRefinedMesh Stage = "refined_mesh"
	// StageFailed is the terminal failure stage.
	StageFailed Stage = "failed"
)

// rank orders stages for monotonicity checks. Failed ranks above all
// progress stages so a failure is always accepted.
func (s Stage) rank() int {
	switch s {
	case StageImage:
		return 1
	case StageBaseMesh:
		return 2
	case StageRefinedMesh:
		return 3
	case StageFailed:
		return 4
	default:
		return 0
	}
}

// Terminal reports whether the stage ends the request.
func (s Stage) Terminal() bool {
	return s == StageRefinedMesh || s == StageFailed
}

// StageEvent is one milestone emitted by a Service.
type StageEvent struct {
	Stage Stage
	// Data carries the stage artifact: encoded image bytes for StageImage,
	// mesh bytes for the mesh stages. Nil for StageFailed.
	Data []byte
	// Err is set only for StageFailed.
	Err error
}

// Request describes one text-to-3D submission.
type Request struct {
	Prompt         string `json:"prompt"`
	Format         string `json:"format"`
	Refine         bool   `json:"refine"`
	UseVertexColor bool   `json:"use_vertex_color"`
}

// NewRequest builds the standard submission for a prompt: GLB output with the
// refinement pass enabled.
func NewRequest(prompt string) Request {
	return Request{
		Prompt:         prompt,
		Format:         "glb",
		Refine:         true,
		UseVertexColor: false,
	}
}

// Result is the final outcome of a successful request.
type Result struct {
	RequestID string
	Prompt    string
	// Mesh is the refined mesh artifact.
	Mesh []byte
}

// Service produces staged 3D generation results. Submit returns a channel
// that delivers stage events in order and is closed after the terminal stage.
type Service interface {
	Submit(ctx context.Context, req Request) (<-chan StageEvent, error)
}

// Placeholder is the visual stand-in updated as stages arrive.
type Placeholder interface {
	// SetPreview shows the 2D preview image.
	SetPreview(image []byte)
	// SetMesh swaps in mesh data; refined marks the final pass.
	SetMesh(data []byte, refined bool)
	// Fail marks the placeholder as failed.
	Fail(err error)
}

// PlaceholderFactory creates a placeholder when a request is admitted.
type PlaceholderFactory interface {
	Create(prompt string) Placeholder
}

// Pipeline errors.
var (
	// ErrBusy rejects a submission while the single slot is occupied.
	ErrBusy = errors.New("a generation request is already in progress")
	// ErrTimeout reports a request whose terminal stage never arrived.
	ErrTimeout = errors.New("generation timed out")
	// ErrServiceClosed reports a stage channel closed before a terminal stage.
	ErrServiceClosed = errors.New("generation service closed the stream early")
	// ErrEmptyPrompt rejects a submission with no prompt text.
	ErrEmptyPrompt = errors.New("prompt must not be empty")
)
