package swap

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bookingswap/swapengine/observability"
)

type metrics struct {
	executions metric.Int64Counter
	duration   metric.Float64Histogram
	rollbacks  metric.Int64Counter
}

func newMetrics(mtr metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error
	if m.executions, err = mtr.Int64Counter("swap.executions",
		metric.WithDescription("Number of swap executions by outcome"),
		metric.WithUnit("{execution}")); err != nil {
		return nil, fmt.Errorf("creating executions counter: %w", err)
	}
	if m.duration, err = mtr.Float64Histogram("swap.duration",
		metric.WithDescription("How long it took to execute the swap"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30)); err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	if m.rollbacks, err = mtr.Int64Counter("swap.rollbacks",
		metric.WithDescription("Number of rollbacks by result"),
		metric.WithUnit("{rollback}")); err != nil {
		return nil, fmt.Errorf("creating rollbacks counter: %w", err)
	}
	return m, nil
}

func (m *metrics) recordExecution(ctx context.Context, res *SwapExecutionResult, start time.Time) {
	attr := []attribute.KeyValue{observability.Outcome(string(res.Outcome))}
	if res.Error != nil {
		attr = append(attr, observability.ErrorCode(string(res.Error.Code)))
	}
	set := metric.WithAttributeSet(attribute.NewSet(attr...))
	m.executions.Add(ctx, 1, set)
	m.duration.Record(ctx, time.Since(start).Seconds(), set)
}

func (m *metrics) recordRollback(ctx context.Context, final State) {
	m.rollbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", final.String())))
}
