package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { Register(reg) })

	ServerMessagesTotal.WithLabelValues("tool_call").Inc()
	GenerationsActive.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(ToolCallsTotal.WithLabelValues("Snap3D"))
	ToolCallsTotal.WithLabelValues("Snap3D").Inc()
	after := testutil.ToFloat64(ToolCallsTotal.WithLabelValues("Snap3D"))
	assert.Equal(t, before+1, after)
}
