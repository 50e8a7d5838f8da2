package download

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/arscape/artifact-engine/internal/download"

// coordinatorMetrics wraps the OTel counters for the coordinator.
// All instruments come from the global meter provider and are no-ops when
// OTel is not configured.
type coordinatorMetrics struct {
	startedCtr   metric.Int64Counter
	completedCtr metric.Int64Counter
	failedCtr    metric.Int64Counter
	bytesCtr     metric.Int64Counter
}

func newCoordinatorMetrics() *coordinatorMetrics {
	m := otel.Meter(instrumentationName)

	started, _ := m.Int64Counter("download.transfers.started",
		metric.WithDescription("Total transfers started"))
	completed, _ := m.Int64Counter("download.transfers.completed",
		metric.WithDescription("Total transfers completed successfully"))
	failed, _ := m.Int64Counter("download.transfers.failed",
		metric.WithDescription("Total transfers failed or cancelled"))
	bytes, _ := m.Int64Counter("download.bytes",
		metric.WithDescription("Total bytes downloaded"))

	return &coordinatorMetrics{
		startedCtr:   started,
		completedCtr: completed,
		failedCtr:    failed,
		bytesCtr:     bytes,
	}
}

func (m *coordinatorMetrics) started(ctx context.Context)   { m.startedCtr.Add(ctx, 1) }
func (m *coordinatorMetrics) completed(ctx context.Context) { m.completedCtr.Add(ctx, 1) }
func (m *coordinatorMetrics) failed(ctx context.Context)    { m.failedCtr.Add(ctx, 1) }
func (m *coordinatorMetrics) bytes(ctx context.Context, n int64) {
	m.bytesCtr.Add(ctx, n)
}
