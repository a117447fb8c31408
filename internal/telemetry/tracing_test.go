package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracingConfig{ServiceName: "test"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestCollectorsRegistered(t *testing.T) {
	CirculationRequests.WithLabelValues("borrow", "ok").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(CirculationRequests.WithLabelValues("borrow", "ok")), 1.0)

	OpenLoans.Set(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(OpenLoans))
}
