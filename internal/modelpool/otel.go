package modelpool

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/arscape/artifact-engine/internal/modelpool"

// poolMetrics wraps the OTel instruments for the pool. All instruments come
// from the global meter provider and are no-ops when OTel is not configured.
type poolMetrics struct {
	decodedCtr metric.Int64Counter
	failedCtr  metric.Int64Counter
	evictedCtr metric.Int64Counter
}

func newPoolMetrics(p *Pool) *poolMetrics {
	m := otel.Meter(instrumentationName)

	decoded, _ := m.Int64Counter("modelpool.decodes.completed",
		metric.WithDescription("Total model decodes completed"))
	failed, _ := m.Int64Counter("modelpool.decodes.failed",
		metric.WithDescription("Total model decodes failed"))
	evicted, _ := m.Int64Counter("modelpool.evictions",
		metric.WithDescription("Total pooled models evicted"))

	_, _ = m.Int64ObservableGauge("modelpool.resident",
		metric.WithDescription("Models resident in the pool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(p.Size()))
			return nil
		}))

	return &poolMetrics{
		decodedCtr: decoded,
		failedCtr:  failed,
		evictedCtr: evicted,
	}
}

func (m *poolMetrics) decodeCompleted(ctx context.Context) { m.decodedCtr.Add(ctx, 1) }
func (m *poolMetrics) decodeFailed(ctx context.Context)    { m.failedCtr.Add(ctx, 1) }
func (m *poolMetrics) evicted(ctx context.Context)         { m.evictedCtr.Add(ctx, 1) }
