// Package assistant implements the realtime session to the multimodal
// assistant backend: the connection handshake, streaming input forwarding,
// server message dispatch, and tool-call routing.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxlabs/lenscore/events"
	"github.com/voxlabs/lenscore/logger"
	"github.com/voxlabs/lenscore/media"
	"github.com/voxlabs/lenscore/metrics"
	"github.com/voxlabs/lenscore/transport"
)

// DefaultURL is the bidirectional streaming endpoint of the assistant backend.
const DefaultURL = "wss://generativelanguage.googleapis.com/ws/" +
	"google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// Session defaults.
const (
	DefaultModel              = "gemini-2.0-flash-live-preview-04-09"
	DefaultSetupTimeout       = 10 * time.Second
	DefaultHeartbeatInterval  = 30 * time.Second
	DefaultCompressionTrigger = 20000
	DefaultCompressionTarget  = 16000
)

// Common session errors.
var (
	// ErrAlreadyStarted rejects a duplicate Start from any non-Idle state.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrSetupTimeout reports a handshake that never received setup acknowledgement.
	ErrSetupTimeout = errors.New("setup acknowledgement not received")
	// ErrInvalidCompression reports compression thresholds that are not
	// positive with trigger strictly above target.
	ErrInvalidCompression = errors.New("invalid context window compression thresholds")
)

// State is the session lifecycle state.
type State int

const (
	// StateIdle is the initial state before Start.
	StateIdle State = iota
	// StateConnecting covers the transport dial.
	StateConnecting
	// StateAwaitingSetupAck covers the window between the setup send and its
	// acknowledgement.
	StateAwaitingSetupAck
	// StateStreaming is the established session.
	StateStreaming
	// StateClosed is terminal after a clean close.
	StateClosed
	// StateErrored is the absorbing failure state.
	StateErrored
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingSetupAck:
		return "awaiting_setup_ack"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// StatusSource notifies the session of host connectivity changes.
type StatusSource interface {
	Online() bool
	Subscribe(func(online bool))
}

// Config configures an assistant session.
type Config struct {
	// URL is the websocket endpoint. Defaults to DefaultURL.
	URL string
	// APIKey authenticates the websocket handshake.
	APIKey string
	// Model is the model identifier; the "models/" prefix is added when missing.
	Model string
	// SystemInstruction is the system prompt for the model.
	SystemInstruction string
	// ResponseModalities selects model output kinds. Leave empty for silent
	// mode: the setup message then carries an empty list, which suppresses
	// spoken and text replies.
	ResponseModalities []string
	// Temperature is the sampling temperature.
	Temperature float64
	// Tools are the function declarations offered to the model.
	Tools []FunctionDeclaration
	// Compression overrides the context-window compression thresholds.
	// Nil uses DefaultCompressionTrigger/DefaultCompressionTarget.
	Compression *ContextWindowCompression

	// HaveVideoInput gates video streaming (static capability flag).
	HaveVideoInput bool
	// HaveAudioOutput gates playback initialization and InterruptOutput.
	HaveAudioOutput bool

	// SetupTimeout bounds the wait for setup acknowledgement. Defaults to
	// DefaultSetupTimeout; negative disables the guard.
	SetupTimeout time.Duration
	// HeartbeatInterval is the keepalive ping cadence. Defaults to
	// DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration
}

// Devices are the external capture and playback collaborators.
type Devices struct {
	// AudioIn is the microphone encoder. Required.
	AudioIn media.Encoder
	// VideoIn is the camera encoder. Used only when Config.HaveVideoInput.
	VideoIn media.Encoder
	// AudioOut is the playback sink. Nil means no audio output.
	AudioOut media.Output
	// Status is the host connectivity source. Optional.
	Status StatusSource
}

// Session owns one logical conversation with the assistant backend. A Session
// is single-use: after Closed or Errored, create a new Session to reconnect.
type Session struct {
	cfg     Config
	devices Devices
	bus     *events.Bus

	mu             sync.Mutex
	state          State
	conn           *transport.Conn
	ctx            context.Context
	cancel         context.CancelFunc
	audioStreaming bool
	videoStreaming bool

	forwardOnce sync.Once
}

// NewSession creates a session. The bus receives userSpeech, toolCall, and
// status events; the devices are not touched until Start.
func NewSession(cfg Config, devices Devices, bus *events.Bus) (*Session, error) {
	if devices.AudioIn == nil {
		return nil, fmt.Errorf("assistant: audio input encoder is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("assistant: event bus is required")
	}
	if cfg.Compression != nil {
		c := cfg.Compression
		if c.SlidingWindow.TargetTokens <= 0 || c.TriggerTokens <= c.SlidingWindow.TargetTokens {
			return nil, fmt.Errorf("%w: trigger %d, target %d",
				ErrInvalidCompression, c.TriggerTokens, c.SlidingWindow.TargetTokens)
		}
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SetupTimeout == 0 {
		cfg.SetupTimeout = DefaultSetupTimeout
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if devices.AudioOut == nil {
		devices.AudioOut = media.NopOutput{}
	}

	return &Session{
		cfg:     cfg,
		devices: devices,
		bus:     bus,
		state:   StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start opens the transport and runs the setup handshake. It returns once the
// setup message has been sent; the transition to Streaming happens when the
// backend acknowledges it. A duplicate Start from any non-Idle state is
// rejected with ErrAlreadyStarted.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, state)
	}
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()
	s.publishStatus(StateConnecting, "connecting", nil)

	if s.cfg.HaveAudioOutput {
		if err := s.devices.AudioOut.Initialize(media.OutputSampleRate); err != nil {
			logger.Warn("audio output initialization failed", "error", err)
		}
	}
	logger.Debug("audio initialized",
		"output_hz", media.OutputSampleRate, "input_hz", media.InputSampleRate)

	if s.devices.Status != nil {
		s.devices.Status.Subscribe(func(online bool) {
			msg := "reconnected to internet"
			if !online {
				msg = "no internet"
			}
			logger.Info("connectivity changed", "online", online)
			s.publishStatus(s.State(), msg, nil)
		})
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	headers := http.Header{}
	headers.Set("x-goog-api-key", s.cfg.APIKey)
	conn := transport.NewConn(&transport.Config{
		URL:               s.cfg.URL,
		Headers:           headers,
		HeartbeatInterval: s.cfg.HeartbeatInterval,
		Logger:            transportLogger{},
	})

	if err := conn.DialWithRetry(sessionCtx); err != nil {
		cancel()
		s.fail(fmt.Errorf("failed to connect: %w", err))
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.ctx = sessionCtx
	s.cancel = cancel
	s.setStateLocked(StateAwaitingSetupAck)
	s.mu.Unlock()
	s.publishStatus(StateAwaitingSetupAck, "websocket connected", nil)

	if err := conn.Send(s.buildSetup()); err != nil {
		_ = conn.Close()
		cancel()
		err = fmt.Errorf("failed to send setup message: %w", err)
		s.fail(err)
		return err
	}

	go s.receiveLoop(sessionCtx)
	if s.cfg.SetupTimeout > 0 {
		go s.watchSetup(sessionCtx)
	}

	return nil
}

// SetStreaming toggles capture-device streaming. Safe to call in any state
// and idempotent: encoders produce nothing until started, and no data is sent
// until the session reaches Streaming.
func (s *Session) SetStreaming(enabled bool) {
	s.mu.Lock()
	s.audioStreaming = enabled
	s.videoStreaming = enabled && s.cfg.HaveVideoInput
	video := s.videoStreaming
	s.mu.Unlock()

	if enabled {
		s.devices.AudioIn.Start()
		if video && s.devices.VideoIn != nil {
			s.devices.VideoIn.Start()
		}
	} else {
		s.devices.AudioIn.Stop()
		if s.cfg.HaveVideoInput && s.devices.VideoIn != nil {
			s.devices.VideoIn.Stop()
		}
	}
	logger.Debug("streaming toggled", "enabled", enabled, "video", video)
}

// SendToolResponse sends a tool-response envelope for one executed function.
// The session does not gate on state here: outside Streaming the transport
// rejects the write and that error is returned.
func (s *Session) SendToolResponse(functionName, content string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("send tool response: %w", transport.ErrNotConnected)
	}
	return conn.Send(NewToolResponseMessage(functionName, content))
}

// InterruptOutput requests a best-effort stop of in-progress audio playback.
// No-op when audio output is disabled.
func (s *Session) InterruptOutput() {
	if !s.cfg.HaveAudioOutput {
		logger.Debug("interrupt requested with audio output disabled")
		return
	}
	s.devices.AudioOut.Interrupt()
}

// Close terminates the session and the transport. Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.setStateLocked(StateClosed)
	conn := s.conn
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.publishStatus(StateClosed, "session closed", nil)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// buildSetup constructs the single setup envelope sent after the transport opens.
func (s *Session) buildSetup() SetupMessage {
	modalities := s.cfg.ResponseModalities
	if modalities == nil {
		// Explicit empty list: silent mode.
		modalities = []string{}
	}

	compression := s.cfg.Compression
	if compression == nil {
		compression = &ContextWindowCompression{
			TriggerTokens: DefaultCompressionTrigger,
			SlidingWindow: SlidingWindow{TargetTokens: DefaultCompressionTarget},
		}
	}

	setup := Setup{
		Model: modelPath(s.cfg.Model),
		GenerationConfig: GenerationConfig{
			ResponseModalities: modalities,
			Temperature:        s.cfg.Temperature,
		},
		ContextWindowCompression: compression,
		InputAudioTranscription:  &TranscriptionConfig{},
		OutputAudioTranscription: &TranscriptionConfig{},
	}

	if s.cfg.SystemInstruction != "" {
		setup.SystemInstruction = &Content{
			Parts: []TextPart{{Text: s.cfg.SystemInstruction}},
		}
	}
	if len(s.cfg.Tools) > 0 {
		setup.Tools = []Tool{{FunctionDeclarations: s.cfg.Tools}}
	}

	return SetupMessage{Setup: setup}
}

// modelPath ensures the model identifier is in models/{model} form.
func modelPath(model string) string {
	if len(model) >= 7 && model[:7] == "models/" {
		return model
	}
	return "models/" + model
}

// receiveLoop delivers transport messages in arrival order, each processed to
// completion before the next.
func (s *Session) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, err := s.conn.Receive(ctx)
		if err != nil {
			s.handleReceiveError(ctx, err)
			return
		}

		msg, err := DecodeServerMessage(data)
		if err != nil {
			logger.Warn("dropping undecodable server message", "error", err)
			continue
		}

		s.dispatch(msg)
	}
}

// dispatch inspects a decoded server message for its three non-exclusive
// branches and processes every populated one, in fixed order.
func (s *Session) dispatch(msg *ServerMessage) {
	if msg.SetupComplete != nil {
		metrics.ServerMessagesTotal.WithLabelValues("setup_complete").Inc()
		s.onSetupComplete()
	}

	if msg.ServerContent != nil {
		metrics.ServerMessagesTotal.WithLabelValues("server_content").Inc()
		s.onServerContent(msg.ServerContent)
	}

	if msg.ToolCall != nil {
		metrics.ServerMessagesTotal.WithLabelValues("tool_call").Inc()
		s.onToolCall(msg.ToolCall)
	}
}

// onSetupComplete applies the AwaitingSetupAck -> Streaming transition once
// and wires encoder chunk delivery to outbound realtime-input sends.
// Duplicate acknowledgements are ignored.
func (s *Session) onSetupComplete() {
	s.mu.Lock()
	if s.state != StateAwaitingSetupAck {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateStreaming)
	s.mu.Unlock()

	logger.Info("setup complete, streaming established")
	s.publishStatus(StateStreaming, "setup complete", nil)

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	s.forwardOnce.Do(func() {
		go s.forwardChunks(ctx, s.devices.AudioIn)
		if s.cfg.HaveVideoInput && s.devices.VideoIn != nil {
			go s.forwardChunks(ctx, s.devices.VideoIn)
		}
	})
}

// onServerContent emits a user-speech event for input transcriptions.
// Model-generated content is intentionally suppressed (silent-mode policy).
func (s *Session) onServerContent(content *ServerContent) {
	if t := content.InputTranscription; t != nil && t.Text != "" {
		logger.Debug("user speech transcribed", "text", t.Text)
		s.bus.Publish(events.TypeUserSpeech, events.UserSpeechData{
			Text:      t.Text,
			Completed: true,
		})
	}

	if content.ModelTurn != nil {
		logger.Debug("suppressing model turn", "parts", len(content.ModelTurn.Parts))
	}
}

// onToolCall emits one event per function call, in arrival order. Processing
// one call never blocks or drops subsequent calls in the same message.
func (s *Session) onToolCall(tc *ToolCallMsg) {
	for _, fc := range tc.FunctionCalls {
		callID := fc.ID
		if callID == "" {
			callID = uuid.NewString()
		}
		metrics.ToolCallsTotal.WithLabelValues(fc.Name).Inc()
		logger.Info("tool call received", "function", fc.Name, "call_id", callID)
		s.bus.Publish(events.TypeToolCall, events.ToolCallData{
			Name:   fc.Name,
			Args:   fc.Args,
			CallID: callID,
		})
	}
}

// forwardChunks wraps encoder chunks into realtime-input envelopes and sends
// them. Runs only after the Streaming transition, so nothing is sent before
// setup acknowledgement.
func (s *Session) forwardChunks(ctx context.Context, enc media.Encoder) {
	for {
		s.mu.Lock()
		conn := s.conn
		terminal := s.state == StateClosed || s.state == StateErrored
		s.mu.Unlock()
		if terminal || conn == nil {
			return
		}

		var chunk media.Chunk
		var ok bool
		select {
		case <-ctx.Done():
			return
		case chunk, ok = <-enc.Chunks():
			if !ok {
				return
			}
		}

		if err := conn.Send(NewRealtimeInputMessage(chunk.MIMEType, chunk.Data)); err != nil {
			metrics.RealtimeChunksTotal.WithLabelValues(chunk.MIMEType, "error").Inc()
			logger.Warn("failed to send realtime input", "mime_type", chunk.MIMEType, "error", err)
			continue
		}
		metrics.RealtimeChunksTotal.WithLabelValues(chunk.MIMEType, "sent").Inc()
	}
}

// watchSetup errors the session if the handshake never completes.
func (s *Session) watchSetup(ctx context.Context) {
	timer := time.NewTimer(s.cfg.SetupTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s.mu.Lock()
	stuck := s.state == StateAwaitingSetupAck
	conn := s.conn
	s.mu.Unlock()
	if !stuck {
		return
	}

	logger.Error("setup acknowledgement timed out", "timeout", s.cfg.SetupTimeout)
	s.fail(fmt.Errorf("%w within %s", ErrSetupTimeout, s.cfg.SetupTimeout))
	if conn != nil {
		_ = conn.Close()
	}
}

// handleReceiveError classifies a transport receive failure into the Closed
// or Errored terminal state.
func (s *Session) handleReceiveError(ctx context.Context, err error) {
	s.mu.Lock()
	alreadyTerminal := s.state == StateClosed || s.state == StateErrored
	s.mu.Unlock()
	if alreadyTerminal {
		return
	}

	if transport.IsNormalClose(err) || ctx.Err() != nil {
		s.mu.Lock()
		s.setStateLocked(StateClosed)
		s.mu.Unlock()
		logger.Info("connection closed", "reason", err)
		s.publishStatus(StateClosed, "connection closed", nil)
		return
	}

	s.fail(fmt.Errorf("websocket error: %w", err))
}

// fail moves the session to Errored and reports the failure. Not retried.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateErrored {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateErrored)
	s.mu.Unlock()

	logger.Error("session failed", "error", err)
	s.publishStatus(StateErrored, err.Error(), err)
}

// setStateLocked records a state transition. Caller holds s.mu.
func (s *Session) setStateLocked(state State) {
	s.state = state
	metrics.SessionStateChangesTotal.WithLabelValues(state.String()).Inc()
}

func (s *Session) publishStatus(state State, message string, err error) {
	s.bus.Publish(events.TypeSessionStatus, events.SessionStatusData{
		State:   state.String(),
		Message: message,
		Err:     err,
	})
}

// transportLogger adapts the package logger to the transport.Logger interface.
type transportLogger struct{}

// Debug implements transport.Logger.
func (transportLogger) Debug(msg string, keysAndValues ...interface{}) {
	logger.Debug(msg, append([]interface{}{"component", "transport"}, keysAndValues...)...)
}

// Info implements transport.Logger.
func (transportLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Info(msg, append([]interface{}{"component", "transport"}, keysAndValues...)...)
}

// Warn implements transport.Logger.
func (transportLogger) Warn(msg string, keysAndValues ...interface{}) {
	logger.Warn(msg, append([]interface{}{"component", "transport"}, keysAndValues...)...)
}

// Error implements transport.Logger.
func (transportLogger) Error(msg string, keysAndValues ...interface{}) {
	logger.Error(msg, append([]interface{}{"component", "transport"}, keysAndValues...)...)
}
