package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	promexp "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	MetricsStdout     = "stdout"
	MetricsPrometheus = "prometheus"

	serviceName = "swapengine"
)

// Observability provides meters and logger to the components of the engine.
type Observability struct {
	mp       metric.MeterProvider
	gatherer prometheus.Gatherer
	log      *slog.Logger

	shutdown func(context.Context) error
}

/*
New creates observability with the given metrics exporter, one of "" (metrics
are not collected), "stdout" or "prometheus".
*/
func New(metrics, version string, log *slog.Logger) (*Observability, error) {
	if log == nil {
		return nil, errors.New("logger is nil")
	}
	o := NOP(log)
	if metrics == "" {
		return o, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		))
	if err != nil {
		return nil, fmt.Errorf("creating OTEL resource: %w", err)
	}
	reader, err := o.newReader(metrics)
	if err != nil {
		return nil, fmt.Errorf("initialize meter provider: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
		sdkmetric.WithView(swapDurationView),
	)
	o.mp = mp
	o.shutdown = mp.Shutdown
	return o, nil
}

// NOP returns observability which doesn't collect metrics.
func NOP(log *slog.Logger) *Observability {
	return &Observability{
		mp:       noop.NewMeterProvider(),
		log:      log,
		shutdown: func(context.Context) error { return nil },
	}
}

// Shutdown flushes the metrics, waits for the exporter at most five seconds.
func (o *Observability) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.shutdown(ctx); err != nil {
		return fmt.Errorf("observability shutdown: %w", err)
	}
	return nil
}

func (o *Observability) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return o.mp.Meter(name, opts...)
}

func (o *Observability) Logger() *slog.Logger {
	return o.log
}

// MetricsHandler returns handler for the Prometheus scrape endpoint, nil when Prometheus exporter is not used.
func (o *Observability) MetricsHandler() http.Handler {
	if o.gatherer == nil {
		return nil
	}
	return promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{MaxRequestsInFlight: 1})
}

func (o *Observability) newReader(exporter string) (sdkmetric.Reader, error) {
	switch exporter {
	case MetricsStdout:
		me, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(me), nil
	case MetricsPrometheus:
		reg := prometheus.NewRegistry()
		reader, err := promexp.New(promexp.WithRegisterer(reg), promexp.WithNamespace(serviceName))
		if err != nil {
			return nil, fmt.Errorf("creating Prometheus exporter: %w", err)
		}
		o.gatherer = reg
		return reader, nil
	default:
		return nil, fmt.Errorf("unsupported exporter %q", exporter)
	}
}

// swapDurationView drops the error code from the swap duration histogram,
// buckets per error code would multiply the series without telling much.
var swapDurationView = sdkmetric.NewView(
	sdkmetric.Instrument{
		Name:  "swap.duration",
		Scope: instrumentation.Scope{Name: "swap"},
	},
	sdkmetric.Stream{
		AttributeFilter: attribute.NewAllowKeysFilter(OutcomeKey),
	},
)
