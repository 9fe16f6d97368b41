package observability

import (
	"testing"

	"github.com/bookingswap/swapengine/observability"
	testlogger "github.com/bookingswap/swapengine/testutils/logger"
)

// Default returns observability for test t: metrics are not collected, log goes through t.Log.
func Default(t testing.TB) *observability.Observability {
	return observability.NOP(testlogger.New(t))
}
