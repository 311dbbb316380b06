// Package approval defines the approval request state machine and history
// record shapes that back the broker's two-person-rule workflow: creation,
// approval, rejection, cancellation, expiry, and execution.
package approval

import (
	"time"

	"github.com/sentinel-gate/broker/internal/domain/identity"
	"github.com/sentinel-gate/broker/internal/domain/policy"
)

// Status is a state in the approval request FSM.
type Status string

const (
	StatusPending         Status = "pending"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusExpired         Status = "expired"
	StatusExecuted        Status = "executed"
	StatusExecutionFailed Status = "execution_failed"
	StatusCancelled       Status = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusExecuted, StatusExecutionFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Action identifies a history entry's transition event.
type Action string

const (
	ActionCreated         Action = "created"
	ActionApproved        Action = "approved"
	ActionRejected        Action = "rejected"
	ActionExpired         Action = "expired"
	ActionExecuted        Action = "executed"
	ActionExecutionFailed Action = "execution_failed"
	ActionCancelled       Action = "cancelled"
)

// Request is an approval request record, per the data model: created by an
// operator call, mutated only through FSM transitions, never deleted.
type Request struct {
	ID            string
	RequestType   policy.OperationType
	RequesterID   string
	RequesterName string
	Payload       map[string]any
	Reason        string
	Status        Status
	CreatedAt     time.Time
	ExpiresAt     time.Time

	ApprovedBy     string
	ApprovedByName string
	ApprovedAt     *time.Time

	RejectionReason string

	ExecutionResult *ExecutionResult
	ExecutedAt      *time.Time
	ExecutedBy      string
}

// ExecutionResult is the persisted outcome of running the request's wrapper
// invocation, stored verbatim as execution_result once the request reaches
// executed or execution_failed.
type ExecutionResult struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	DurationMS int64
	Parsed     map[string]any
	FailReason string // "", "timeout", "protocol", "spawn", "nonzero_exit", "overloaded"
}

// HistoryEntry is an append-only audit-history record for one FSM
// transition. Signature is computed by the audit log, never by callers.
type HistoryEntry struct {
	ID                int64
	ApprovalRequestID string
	Action            Action
	ActorID           string
	ActorName         string
	ActorRole         identity.Role
	Timestamp         time.Time
	Details           map[string]any
	PreviousStatus    Status
	NewStatus         Status
	Signature         []byte
}

// Transition error sentinels are defined in transitions.go, alongside the
// guard logic that produces them.
