// Package metrics provides Prometheus collectors for the session core and
// generation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lenscore"

var (
	// ServerMessagesTotal counts inbound server messages by branch.
	ServerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_messages_total",
			Help:      "Total number of server messages processed by branch",
		},
		[]string{"branch"}, // branch: setup_complete, server_content, tool_call
	)

	// ToolCallsTotal counts tool-call events emitted to the UI layer.
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool-call events emitted",
		},
		[]string{"function"},
	)

	// RealtimeChunksTotal counts outbound realtime-input chunks by MIME type.
	RealtimeChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_chunks_total",
			Help:      "Total number of realtime-input chunks sent",
		},
		[]string{"mime_type", "status"}, // status: sent, error
	)

	// SessionStateChangesTotal counts session state transitions.
	SessionStateChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_state_changes_total",
			Help:      "Total number of session state transitions",
		},
		[]string{"state"},
	)

	// GenerationStagesTotal counts generation stage events by stage.
	GenerationStagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_stages_total",
			Help:      "Total number of generation stage events",
		},
		[]string{"stage"},
	)

	// GenerationDuration is a histogram of end-to-end generation duration.
	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Duration of 3D generation requests in seconds",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"}, // status: success, error
	)

	// GenerationsActive is a gauge of in-flight generation requests (0 or 1).
	GenerationsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generations_active",
			Help:      "Number of in-flight generation requests",
		},
	)

	// allMetrics is a list of all collectors for registration.
	allMetrics = []prometheus.Collector{
		ServerMessagesTotal,
		ToolCallsTotal,
		RealtimeChunksTotal,
		SessionStateChangesTotal,
		GenerationStagesTotal,
		GenerationDuration,
		GenerationsActive,
	}
)

// Register registers all collectors with the given registerer.
func Register(reg prometheus.Registerer) {
	for _, collector := range allMetrics {
		reg.MustRegister(collector)
	}
}
