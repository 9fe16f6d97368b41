package cmd

import (
	"time"

	"github.com/spf13/cobra"
	grpckeepalive "google.golang.org/grpc/keepalive"

	"github.com/bookingswap/swapengine/rpc"
)

type (
	// httpServerFlags is a common configuration for HTTP servers.
	httpServerFlags struct {
		rpc.ServerConfiguration
	}

	// grpcServerConfiguration is the configuration of the gRPC health server.
	grpcServerConfiguration struct {
		// Listen address together with port, server isn't started when empty.
		Address string

		// Maximum number of bytes the incoming message may be.
		MaxRecvMsgSize int

		// MaxConnectionAgeMs is a duration for the maximum amount of time a
		// connection may exist before it will be closed by sending a GoAway. A
		// random jitter of +/-10% will be added to MaxConnectionAgeMs to spread out
		// connection storms.
		MaxConnectionAgeMs int64

		// MaxConnectionAgeGraceMs is an additive period after MaxConnectionAgeMs after
		// which the connection will be forcibly closed.
		MaxConnectionAgeGraceMs int64
	}
)

const (
	defaultMaxRecvMsgSize = 1024 * 1024 * 4
)

func (c *httpServerFlags) addHTTPServerFlags(cmd *cobra.Command, defaultAddr string) {
	cmd.Flags().StringVar(&c.Address, "address", defaultAddr, "HTTP server listen address with port, ie \"localhost:8080\".")
	cmd.Flags().DurationVar(&c.ReadTimeout, "server-read-timeout", 10*time.Second, "maximum duration for reading the entire request, including the body.")
	cmd.Flags().DurationVar(&c.ReadHeaderTimeout, "server-read-header-timeout", time.Second, "amount of time allowed to read request headers.")
	cmd.Flags().DurationVar(&c.WriteTimeout, "server-write-timeout", 5*time.Minute, "maximum duration before timing out writes of the response.")
	cmd.Flags().DurationVar(&c.IdleTimeout, "server-idle-timeout", time.Minute, "maximum amount of time to wait for the next request when keep-alive is enabled.")
	cmd.Flags().Int64Var(&c.MaxBodyBytes, "server-max-body", rpc.DefaultMaxBodyBytes, "maximum number of bytes the server will read parsing the request body.")
}

func (c *grpcServerConfiguration) addConfigurationFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.Address, "grpc-address", "", "gRPC health server listen address with port, server is not started when empty.")
	cmd.Flags().IntVar(&c.MaxRecvMsgSize, "grpc-max-recv-msg-size", defaultMaxRecvMsgSize, "Maximum number of bytes the incoming message may be.")
	cmd.Flags().Int64Var(&c.MaxConnectionAgeMs, "grpc-max-connection-age-ms", 0, "a duration for the maximum amount of time a connection may exist before it will be closed by sending a GoAway in milliseconds. 0 means forever.")
	cmd.Flags().Int64Var(&c.MaxConnectionAgeGraceMs, "grpc-max-connection-age-grace-ms", 0, "is an additive period after MaxConnectionAgeMs after which the connection will be forcibly closed in milliseconds. 0 means no grace period.")
	for _, name := range []string{"grpc-max-recv-msg-size", "grpc-max-connection-age-ms", "grpc-max-connection-age-grace-ms"} {
		if err := cmd.Flags().MarkHidden(name); err != nil {
			panic(err)
		}
	}
}

func (c *grpcServerConfiguration) GrpcKeepAliveServerParameters() grpckeepalive.ServerParameters {
	p := grpckeepalive.ServerParameters{}
	if c.MaxConnectionAgeMs != 0 {
		p.MaxConnectionAge = time.Duration(c.MaxConnectionAgeMs) * time.Millisecond
	}
	if c.MaxConnectionAgeGraceMs != 0 {
		p.MaxConnectionAgeGrace = time.Duration(c.MaxConnectionAgeGraceMs) * time.Millisecond
	}
	return p
}
