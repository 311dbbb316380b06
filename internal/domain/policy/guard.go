package policy

import (
	"time"

	"github.com/sentinel-gate/broker/internal/domain/identity"
)

// GuardContext is the activation a compiled guard expression evaluates
// against: (caller, op, target_descriptor, time.Now()) per SPEC_FULL
// §2a/§4.4. TargetDescriptor carries a handful of operation-scoped fields
// (e.g. the proposed username or risk flags) a policy author may want to
// predicate on, kept as a generic map since each operation type shapes its
// own payload.
type GuardContext struct {
	CallerID         string
	CallerName       string
	CallerRoles      []identity.Role
	Operation        OperationType
	TargetDescriptor map[string]any
	RequestTime      time.Time
}
