package rpc

import "google.golang.org/grpc/keepalive"

type (
	Options struct {
		maxRecvMsgSize int
		keepAlive      keepalive.ServerParameters
	}

	Option func(*Options)
)

func defaultOptions() *Options {
	return &Options{
		maxRecvMsgSize: 1024 * 1024 * 4,
	}
}

// WithMaxRecvMsgSize sets the maximum message size in bytes the gRPC server can receive.
func WithMaxRecvMsgSize(size int) Option {
	return func(c *Options) {
		c.maxRecvMsgSize = size
	}
}

func WithKeepAlive(params keepalive.ServerParameters) Option {
	return func(c *Options) {
		c.keepAlive = params
	}
}
