package rpc

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/metric"

	"github.com/bookingswap/swapengine/pkg/restapi"
)

const (
	metricsScopeRESTAPI = "rest_api"
	MetricsScopeGRPCAPI = "grpc_api"

	DefaultMaxBodyBytes int64 = 1048576 // 1MB
)

var allowedCORSHeaders = []string{"Accept", "Accept-Language", "Content-Language", "Origin", restapi.ContentType}

type (
	// Registrar registers new HTTP handlers for given router.
	Registrar interface {
		Register(r *mux.Router)
	}

	// RegistrarFunc type is an adapter to allow the use of ordinary function as Registrar.
	RegistrarFunc func(r *mux.Router)

	Observability interface {
		Meter(name string, opts ...metric.MeterOption) metric.Meter
		MetricsHandler() http.Handler
		Logger() *slog.Logger
	}

	API struct {
		Namespace string
		Service   any
	}

	// ServerConfiguration is a common configuration for RPC servers.
	ServerConfiguration struct {
		// Address specifies the TCP address for the server to listen on, in the form "host:port".
		// Server isn't initialised if Address is empty.
		Address string

		// ReadTimeout is the maximum duration for reading the entire request, including the body. A zero or negative
		// value means there will be no timeout.
		ReadTimeout time.Duration

		// ReadHeaderTimeout is the amount of time allowed to read request headers. If ReadHeaderTimeout is zero, the
		// value of ReadTimeout is used. If both are zero, there is no timeout.
		ReadHeaderTimeout time.Duration

		// WriteTimeout is the maximum duration before timing out writes of the response. Swap execution waits
		// for several ledger rounds so it must be longer than the expected execution time.
		WriteTimeout time.Duration

		// IdleTimeout is the maximum amount of time to wait for the next request when keep-alive is enabled.
		IdleTimeout time.Duration

		// MaxBodyBytes controls the maximum number of bytes the server will read parsing the request body.
		MaxBodyBytes int64

		// APIs contains is an array of enabled JSON-RPC services.
		APIs []API
	}
)

func (c *ServerConfiguration) IsAddressEmpty() bool {
	return strings.TrimSpace(c.Address) == ""
}

/*
NewHTTPServer returns server which serves the REST endpoints of the registrars
under "/api/v1", the JSON-RPC APIs under "/rpc" and Prometheus metrics under
"/metrics" (when enabled).
*/
func NewHTTPServer(conf *ServerConfiguration, obs Observability, registrars ...Registrar) (*http.Server, error) {
	instrument, err := instrumentHTTP(obs.Meter(metricsScopeRESTAPI))
	if err != nil {
		return nil, fmt.Errorf("instrumenting REST API: %w", err)
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(http.NotFound)
	restRouter := router.PathPrefix("/api/v1").Subrouter()
	restRouter.Use(
		handlers.CORS(handlers.AllowedHeaders(allowedCORSHeaders)),
		instrument)
	for _, registrar := range registrars {
		registrar.Register(restRouter)
	}

	if len(conf.APIs) > 0 {
		rpcServer := rpc.NewServer()
		for _, api := range conf.APIs {
			if err := rpcServer.RegisterName(api.Namespace, api.Service); err != nil {
				return nil, fmt.Errorf("failed to register API: %w", err)
			}
		}
		rpcRouter := router.PathPrefix("/rpc").Subrouter()
		rpcRouter.Handle("", rpcServer)
		rpcRouter.Use(handlers.CORS(handlers.AllowedHeaders(allowedCORSHeaders)))
	}

	if h := obs.MetricsHandler(); h != nil {
		router.Handle("/metrics", h).Methods(http.MethodGet)
	}

	maxBody := conf.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &http.Server{
		Addr:              conf.Address,
		ReadTimeout:       conf.ReadTimeout,
		ReadHeaderTimeout: conf.ReadHeaderTimeout,
		WriteTimeout:      conf.WriteTimeout,
		IdleTimeout:       conf.IdleTimeout,
		Handler:           http.MaxBytesHandler(router, maxBody),
	}, nil
}

func (f RegistrarFunc) Register(r *mux.Router) {
	f(r)
}
