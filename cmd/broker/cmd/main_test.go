package cmd

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies the background expiry sweeper's goroutine (started by
// runSweeper and stopped via context cancellation in runStart's shutdown
// path) never leaks past this package's test suite.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
