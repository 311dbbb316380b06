package audit

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies the audit writer's background retention-cleanup
// goroutine is always stopped by Close and never leaks past this package's
// test suite.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
