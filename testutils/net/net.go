package net

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

/*
FreeAddress returns "localhost:port" address where port was free at the time
of the call. Port may be taken by someone else before the caller binds to it.
*/
func FreeAddress(t testing.TB) string {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer l.Close()
	_, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	return net.JoinHostPort("localhost", port)
}
