package rpc

import (
	"context"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/bookingswap/swapengine/observability"
	testlogger "github.com/bookingswap/swapengine/testutils/logger"
	testobserve "github.com/bookingswap/swapengine/testutils/observability"
)

func TestServerConfiguration_IsAddressEmpty(t *testing.T) {
	require.True(t, (&ServerConfiguration{}).IsAddressEmpty())
	require.True(t, (&ServerConfiguration{Address: "  "}).IsAddressEmpty())
	require.False(t, (&ServerConfiguration{Address: "localhost:8080"}).IsAddressEmpty())
}

func TestNewHTTPServer(t *testing.T) {
	t.Run("invalid API", func(t *testing.T) {
		conf := &ServerConfiguration{APIs: []API{{Namespace: "swap", Service: struct{}{}}}}
		srv, err := NewHTTPServer(conf, testobserve.Default(t))
		require.ErrorContains(t, err, "failed to register API")
		require.Nil(t, srv)
	})

	t.Run("defaults", func(t *testing.T) {
		conf := &ServerConfiguration{Address: "localhost:0"}
		srv, err := NewHTTPServer(conf, testobserve.Default(t), SwapEndpoints(&mockSwapService{}, &mockVerifier{}, testlogger.New(t)))
		require.NoError(t, err)
		require.Equal(t, "localhost:0", srv.Addr)

		// JSON-RPC and metrics are not enabled
		require.Equal(t, http.StatusNotFound, serve(srv.Handler, http.MethodPost, "/rpc", []byte("{}")).Code)
		require.Equal(t, http.StatusNotFound, serve(srv.Handler, http.MethodGet, "/metrics", nil).Code)
	})

	t.Run("body too large", func(t *testing.T) {
		conf := &ServerConfiguration{MaxBodyBytes: 16}
		srv, err := NewHTTPServer(conf, testobserve.Default(t), SwapEndpoints(&mockSwapService{}, &mockVerifier{}, testlogger.New(t)))
		require.NoError(t, err)
		body := `{"swapId":"` + strings.Repeat("x", 64) + `"}`
		rec := serve(srv.Handler, http.MethodPost, "/api/v1/swaps", []byte(body))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "request body too large")
	})

	t.Run("metrics", func(t *testing.T) {
		obs, err := observability.New(observability.MetricsPrometheus, "test", testlogger.New(t))
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, obs.Shutdown()) })

		svc := &mockSwapService{}
		srv, err := NewHTTPServer(&ServerConfiguration{}, obs, SwapEndpoints(svc, &mockVerifier{}, obs.Logger()))
		require.NoError(t, err)

		require.Equal(t, http.StatusOK, serve(srv.Handler, http.MethodGet, "/api/v1/swaps/active", nil).Code)
		rec := serve(srv.Handler, http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "swapengine_calls_total{")
		require.Contains(t, rec.Body.String(), `http_route="/api/v1/swaps/active"`)
	})
}

func TestNewGRPCServer(t *testing.T) {
	t.Run("invalid options", func(t *testing.T) {
		srv, hs, err := NewGRPCServer(testobserve.Default(t), WithMaxRecvMsgSize(0))
		require.EqualError(t, err, "max receive message size must be positive, got 0")
		require.Nil(t, srv)
		require.Nil(t, hs)
	})

	t.Run("health", func(t *testing.T) {
		srv, hs, err := NewGRPCServer(testobserve.Default(t), WithMaxRecvMsgSize(1024))
		require.NoError(t, err)

		listener := bufconn.Listen(1024 * 1024)
		go func() { _ = srv.Serve(listener) }()
		t.Cleanup(srv.Stop)

		ctx := context.Background()
		conn, err := grpc.DialContext(ctx, "bufnet",
			grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })

		client := healthpb.NewHealthClient(conn)
		rsp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: SwapServiceName})
		require.NoError(t, err)
		require.Equal(t, healthpb.HealthCheckResponse_SERVING, rsp.Status)

		hs.SetServingStatus(SwapServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		rsp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: SwapServiceName})
		require.NoError(t, err)
		require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, rsp.Status)

		_, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown"})
		require.ErrorContains(t, err, "unknown service")
	})
}
