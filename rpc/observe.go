package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/bookingswap/swapengine/observability"
)

// callMetrics are shared by the REST and gRPC instrumentation, each API gets
// its own instance from its own meter scope.
type callMetrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func newCallMetrics(mtr metric.Meter) (*callMetrics, error) {
	m := &callMetrics{}
	var err error
	if m.calls, err = mtr.Int64Counter("calls", metric.WithDescription("How many times the endpoint has been called")); err != nil {
		return nil, fmt.Errorf("creating calls counter: %w", err)
	}
	if m.duration, err = mtr.Float64Histogram("duration",
		metric.WithDescription("How long it took to serve the request"),
		metric.WithUnit("s"),
		// swap executions wait for several ledger rounds, hence the long tail
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30)); err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	if m.inFlight, err = mtr.Int64UpDownCounter("in_flight", metric.WithDescription("Number of requests being served")); err != nil {
		return nil, fmt.Errorf("creating in-flight counter: %w", err)
	}
	return m, nil
}

func (m *callMetrics) begin(ctx context.Context, route attribute.KeyValue) {
	m.inFlight.Add(ctx, 1, metric.WithAttributes(route))
}

func (m *callMetrics) end(ctx context.Context, route attribute.KeyValue, start time.Time, attrs ...attribute.KeyValue) {
	m.inFlight.Add(ctx, -1, metric.WithAttributes(route))
	set := attribute.NewSet(append(attrs, route)...)
	m.calls.Add(ctx, 1, metric.WithAttributeSet(set))
	m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributeSet(set))
}

/*
instrumentHTTP returns middleware recording the number of calls, the duration
and the number of in-flight requests per route template. Requests which do not
match a route are recorded under empty route.
*/
func instrumentHTTP(mtr metric.Meter) (mux.MiddlewareFunc, error) {
	m, err := newCallMetrics(mtr)
	if err != nil {
		return nil, err
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			var path string
			if route := mux.CurrentRoute(req); route != nil {
				path, _ = route.GetPathTemplate()
			}
			ctx := req.Context()
			route := semconv.HTTPRoute(path)
			start := time.Now()
			m.begin(ctx, route)
			snoop := httpsnoop.CaptureMetrics(next, w, req)
			m.end(ctx, route, start,
				semconv.HTTPRequestMethodKey.String(req.Method),
				semconv.HTTPResponseStatusCode(snoop.Code))
		})
	}, nil
}

func instrumentGRPC(mtr metric.Meter) (grpc.UnaryServerInterceptor, error) {
	m, err := newCallMetrics(mtr)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		method := attribute.String("rpc.method", info.FullMethod)
		start := time.Now()
		m.begin(ctx, method)
		rsp, err := handler(ctx, req)
		m.end(ctx, method, start,
			semconv.RPCSystemGRPC,
			semconv.RPCGRPCStatusCodeKey.Int(int(status.Code(err))),
			observability.ErrStatus(err))
		return rsp, err
	}, nil
}
