// Package main wires the assistant session, the generation pipeline, and the
// metrics exporter into a headless demo binary. Stand-ins replace the device
// capture sources; on real hardware those come from the host bridge.
//
// Run with:
//
//	export GEMINI_API_KEY=your-key
//	export SNAP3D_API_KEY=your-key
//	go run ./cmd/lenscore
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxlabs/lenscore/assistant"
	"github.com/voxlabs/lenscore/config"
	"github.com/voxlabs/lenscore/events"
	"github.com/voxlabs/lenscore/generation"
	"github.com/voxlabs/lenscore/logger"
	"github.com/voxlabs/lenscore/media"
	"github.com/voxlabs/lenscore/metrics"
)

const systemInstruction = "You are a realtime assistant on a pair of AR glasses. " +
	"Listen to the wearer. When they ask for an object, call the Snap3D tool with a " +
	"short descriptive prompt for it. Do not speak."

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddress != "" {
		exporter := metrics.NewExporter(cfg.MetricsAddress)
		exporter.Start()
		defer exporter.Stop(context.Background())
	}

	bus := events.NewBus()

	service := generation.NewHTTPService(cfg.Snap3DBaseURL, cfg.Snap3DAPIKey)
	pipeline := generation.NewPipeline(service, logPlaceholderFactory{}, bus,
		generation.WithTimeout(cfg.GenerationTimeout))

	instruction := cfg.SystemInstruction
	if instruction == "" {
		instruction = systemInstruction
	}

	session, err := assistant.NewSession(assistant.Config{
		APIKey:            cfg.GeminiAPIKey,
		Model:             cfg.GeminiModel,
		SystemInstruction: instruction,
		Tools: []assistant.FunctionDeclaration{{
			Name:        "Snap3D",
			Description: "Generate a 3D object from a short text prompt.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"prompt": map[string]any{
						"type":        "string",
						"description": "What to generate.",
					},
				},
				"required": []string{"prompt"},
			},
		}},
		SetupTimeout:    cfg.SetupTimeout,
		HaveVideoInput:  false,
		HaveAudioOutput: cfg.HaveAudioOutput,
	}, assistant.Devices{
		AudioIn: media.NewPCMEncoder(),
	}, bus)
	if err != nil {
		logger.Error("failed to create session", "error", err)
		os.Exit(1)
	}

	bus.Subscribe(events.TypeUserSpeech, func(ev *events.Event) {
		data := ev.Data.(events.UserSpeechData)
		fmt.Printf("🎤 %s\n", data.Text)
	})

	bus.Subscribe(events.TypeSessionStatus, func(ev *events.Event) {
		data := ev.Data.(events.SessionStatusData)
		logger.Info("session status", "state", data.State, "message", data.Message)
	})

	bus.Subscribe(events.TypeActivationChanged, func(ev *events.Event) {
		data := ev.Data.(events.ActivationChangedData)
		session.SetStreaming(data.Active)
	})

	bus.Subscribe(events.TypeGenerationStage, func(ev *events.Event) {
		data := ev.Data.(events.GenerationStageData)
		logger.Info("generation stage", "request_id", data.RequestID, "stage", data.Stage)
	})

	bus.Subscribe(events.TypeToolCall, func(ev *events.Event) {
		data := ev.Data.(events.ToolCallData)
		if data.Name != "Snap3D" {
			logger.Warn("unhandled tool call", "function", data.Name)
			return
		}
		prompt, _ := data.Args["prompt"].(string)

		handle, err := pipeline.Submit(ctx, prompt)
		if err != nil {
			logger.Warn("generation not started", "error", err)
			_ = session.SendToolResponse(data.Name, "Generation unavailable: "+err.Error())
			return
		}
		_ = session.SendToolResponse(data.Name, "Generating: "+prompt)

		go func() {
			if _, err := handle.Result(); err != nil {
				logger.Error("generation failed", "request_id", handle.RequestID(), "error", err)
				return
			}
			logger.Info("generation complete", "request_id", handle.RequestID())
		}()
	})

	if err := session.Start(ctx); err != nil {
		logger.Error("failed to start session", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	// Activate streaming once the connection is up, the way the host bridge
	// would on wearer activation.
	bus.Publish(events.TypeActivationChanged, events.ActivationChangedData{Active: true})

	<-ctx.Done()
	logger.Info("shutting down")

	// Give in-flight generation a moment to settle before exit.
	time.Sleep(100 * time.Millisecond)
}

// logPlaceholderFactory stands in for the renderer: it logs placeholder
// updates instead of displaying them.
type logPlaceholderFactory struct{}

func (logPlaceholderFactory) Create(prompt string) generation.Placeholder {
	logger.Info("placeholder created", "prompt", prompt)
	return logPlaceholder{prompt: prompt}
}

type logPlaceholder struct{ prompt string }

func (p logPlaceholder) SetPreview(image []byte) {
	logger.Info("placeholder preview ready", "prompt", p.prompt, "bytes", len(image))
}

func (p logPlaceholder) SetMesh(data []byte, refined bool) {
	logger.Info("placeholder mesh ready", "prompt", p.prompt, "bytes", len(data), "refined", refined)
}

func (p logPlaceholder) Fail(err error) {
	logger.Warn("placeholder failed", "prompt", p.prompt, "error", err)
}
