package assistant

import (
	"encoding/json"
	"fmt"
)

// MIME types for realtime input media chunks.
const (
	MimeAudioPCM  = "audio/pcm"
	MimeImageJPEG = "image/jpeg"
)

// SetupMessage is the first client message of a session (BidiGenerateContentSetup).
type SetupMessage struct {
	Setup Setup `json:"setup"`
}

// Setup carries the session parameters sent during the handshake.
type Setup struct {
	Model                    string                    `json:"model"`
	GenerationConfig         GenerationConfig          `json:"generation_config"`
	SystemInstruction        *Content                  `json:"system_instruction,omitempty"`
	Tools                    []Tool                    `json:"tools,omitempty"`
	ContextWindowCompression *ContextWindowCompression `json:"contextWindowCompression,omitempty"`
	InputAudioTranscription  *TranscriptionConfig      `json:"input_audio_transcription,omitempty"`
	OutputAudioTranscription *TranscriptionConfig      `json:"output_audio_transcription,omitempty"`
}

// GenerationConfig controls model response behavior. An empty (non-nil)
// ResponseModalities list suppresses spoken and text replies entirely.
type GenerationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
	Temperature        float64  `json:"temperature,omitempty"`
}

// ContextWindowCompression configures sliding-window context compression.
// TriggerTokens must be strictly greater than the sliding-window target.
type ContextWindowCompression struct {
	TriggerTokens int           `json:"triggerTokens"`
	SlidingWindow SlidingWindow `json:"slidingWindow"`
}

// SlidingWindow is the compression target size.
type SlidingWindow struct {
	TargetTokens int `json:"targetTokens"`
}

// TranscriptionConfig enables audio transcription (empty object per protocol).
type TranscriptionConfig struct{}

// Content is a parts container for instructions and turns.
type Content struct {
	Parts []TextPart `json:"parts"`
}

// TextPart is a single text content part.
type TextPart struct {
	Text string `json:"text"`
}

// Tool groups function declarations offered to the model.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"function_declarations"`
}

// FunctionDeclaration describes one callable function in the OpenAPI schema
// subset the backend accepts.
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// RealtimeInputMessage wraps encoded capture chunks for streaming input.
type RealtimeInputMessage struct {
	RealtimeInput RealtimeInput `json:"realtime_input"`
}

// RealtimeInput carries one or more media chunks.
type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"media_chunks"`
}

// MediaChunk is a single base64-encoded capture chunk.
type MediaChunk struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// NewRealtimeInputMessage builds the envelope for a single encoded chunk.
func NewRealtimeInputMessage(mimeType, data string) RealtimeInputMessage {
	return RealtimeInputMessage{
		RealtimeInput: RealtimeInput{
			MediaChunks: []MediaChunk{{MimeType: mimeType, Data: data}},
		},
	}
}

// ToolResponseMessage wraps function responses sent back to the model.
type ToolResponseMessage struct {
	ToolResponse ToolResponse `json:"tool_response"`
}

// ToolResponse carries one or more function responses.
type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"function_responses"`
}

// FunctionResponse is the result of one executed function call.
type FunctionResponse struct {
	Name     string          `json:"name"`
	Response ResponseContent `json:"response"`
}

// ResponseContent is the payload of a function response.
type ResponseContent struct {
	Content string `json:"content"`
}

// NewToolResponseMessage builds a tool-response envelope for a single function.
func NewToolResponseMessage(name, content string) ToolResponseMessage {
	return ToolResponseMessage{
		ToolResponse: ToolResponse{
			FunctionResponses: []FunctionResponse{
				{Name: name, Response: ResponseContent{Content: content}},
			},
		},
	}
}

// ServerMessage is the tagged union of server message shapes
// (BidiGenerateContentServerMessage). The variants are not mutually
// exclusive: a single message may carry several of them, and dispatch
// processes every populated branch.
type ServerMessage struct {
	SetupComplete *SetupComplete `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	ToolCall      *ToolCallMsg   `json:"toolCall,omitempty"`
}

// SetupComplete acknowledges the setup message (empty object per protocol).
type SetupComplete struct{}

// ServerContent is incremental model output and transcription state.
type ServerContent struct {
	ModelTurn           *ModelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

// Transcription is a fragment of transcribed audio.
type Transcription struct {
	Text string `json:"text,omitempty"`
}

// ModelTurn is a model response turn.
type ModelTurn struct {
	Parts []Part `json:"parts,omitempty"`
}

// Part is a content part (text or inline media).
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is base64-encoded inline media.
type InlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// ToolCallMsg carries function calls requested by the model.
type ToolCallMsg struct {
	FunctionCalls []FunctionCall `json:"functionCalls,omitempty"`
}

// FunctionCall is one requested function invocation.
type FunctionCall struct {
	Name string         `json:"name,omitempty"`
	ID   string         `json:"id,omitempty"`
	Args map[string]any `json:"args,omitempty"`
}

// DecodeServerMessage decodes a raw transport payload into the tagged union.
// Decoding happens once at the transport boundary; dispatch then matches on
// populated branches without re-parsing.
func DecodeServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse server message: %w", err)
	}
	return &msg, nil
}
