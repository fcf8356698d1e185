package events

import "time"

// Type identifies the kind of event emitted by the runtime.
type Type string

const (
	// TypeUserSpeech carries a transcription of the wearer's speech.
	TypeUserSpeech Type = "assistant.user_speech"
	// TypeToolCall carries a backend-issued function invocation request.
	TypeToolCall Type = "assistant.tool_call"
	// TypeSessionStatus carries session lifecycle and connectivity changes.
	TypeSessionStatus Type = "assistant.status"
	// TypeActivationChanged carries UI activation state consumed by the session.
	TypeActivationChanged Type = "ui.activation_changed"
	// TypeGenerationStage carries 3D-generation progress checkpoints.
	TypeGenerationStage Type = "generation.stage"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Type      Type
	Timestamp time.Time
	Data      any
}

// UserSpeechData is the payload for TypeUserSpeech.
type UserSpeechData struct {
	Text      string
	Completed bool
}

// ToolCallData is the payload for TypeToolCall.
type ToolCallData struct {
	Name string
	Args map[string]any
	// CallID correlates the call with its tool response. May be empty.
	CallID string
}

// SessionStatusData is the payload for TypeSessionStatus.
type SessionStatusData struct {
	State   string
	Message string
	Err     error
}

// ActivationChangedData is the payload for TypeActivationChanged.
type ActivationChangedData struct {
	Active bool
}

// GenerationStageData is the payload for TypeGenerationStage.
type GenerationStageData struct {
	RequestID string
	Prompt    string
	Stage     string
	Err       error
}
