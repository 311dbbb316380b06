package approval

import (
	"errors"
	"time"

	"github.com/sentinel-gate/broker/internal/domain/identity"
	"github.com/sentinel-gate/broker/internal/domain/policy"
)

// Guard errors. Callers translate these into brokererr kinds; this package
// stays free of the error taxonomy so it can be unit tested in isolation.
var (
	ErrNotPending        = errors.New("approval: request is not pending")
	ErrNotApproved       = errors.New("approval: request is not approved")
	ErrSelfApproval      = errors.New("approval: approver cannot be the requester")
	ErrNotApprover       = errors.New("approval: actor role is not an approver for this policy")
	ErrMissingPermission = errors.New("approval: actor lacks the required permission")
	ErrExpired           = errors.New("approval: request has already expired")
	ErrNotExpired        = errors.New("approval: request has not reached its expiry")
	ErrEmptyReason       = errors.New("approval: rejection reason must be non-empty")
	ErrNotOwner          = errors.New("approval: actor is not the requester")
	ErrAutoExecuteOnly   = errors.New("approval: request auto-executes and cannot be manually executed")
)

// Actor is the caller attempting a transition, reduced to the fields the
// guards need. Permission checks (the Z component) happen before a guard is
// consulted; these guards re-check only what the FSM itself requires.
type Actor struct {
	UserID string
	Name   string
	Role   identity.Role
}

// Approve validates and applies the pending -> approved transition. now is
// injected so tests can control expiry without a clock dependency. Returns
// the history entry to append; callers are responsible for persisting req
// and the entry atomically.
func Approve(req *Request, actor Actor, pol policy.Policy, now time.Time) (*HistoryEntry, error) {
	if req.Status != StatusPending {
		return nil, ErrNotPending
	}
	if now.After(req.ExpiresAt) || now.Equal(req.ExpiresAt) {
		return nil, ErrExpired
	}
	if actor.UserID == req.RequesterID {
		return nil, ErrSelfApproval
	}
	if !pol.ApproverAllowed(actor.Role) {
		return nil, ErrNotApprover
	}

	prev := req.Status
	req.Status = StatusApproved
	req.ApprovedBy = actor.UserID
	req.ApprovedByName = actor.Name
	approvedAt := now
	req.ApprovedAt = &approvedAt

	return &HistoryEntry{
		ApprovalRequestID: req.ID,
		Action:            ActionApproved,
		ActorID:           actor.UserID,
		ActorName:         actor.Name,
		ActorRole:         actor.Role,
		Timestamp:         now,
		PreviousStatus:    prev,
		NewStatus:         req.Status,
	}, nil
}

// Reject validates and applies the pending -> rejected transition.
func Reject(req *Request, actor Actor, pol policy.Policy, reason string, now time.Time) (*HistoryEntry, error) {
	if req.Status != StatusPending {
		return nil, ErrNotPending
	}
	if reason == "" {
		return nil, ErrEmptyReason
	}
	if !pol.ApproverAllowed(actor.Role) {
		return nil, ErrNotApprover
	}

	prev := req.Status
	req.Status = StatusRejected
	req.RejectionReason = reason

	return &HistoryEntry{
		ApprovalRequestID: req.ID,
		Action:            ActionRejected,
		ActorID:           actor.UserID,
		ActorName:         actor.Name,
		ActorRole:         actor.Role,
		Timestamp:         now,
		PreviousStatus:    prev,
		NewStatus:         req.Status,
		Details:           map[string]any{"reason": reason},
	}, nil
}

// Cancel validates and applies the pending -> cancelled transition. Only the
// original requester may cancel their own request.
func Cancel(req *Request, actor Actor, now time.Time) (*HistoryEntry, error) {
	if req.Status != StatusPending {
		return nil, ErrNotPending
	}
	if actor.UserID != req.RequesterID {
		return nil, ErrNotOwner
	}

	prev := req.Status
	req.Status = StatusCancelled

	return &HistoryEntry{
		ApprovalRequestID: req.ID,
		Action:            ActionCancelled,
		ActorID:           actor.UserID,
		ActorName:         actor.Name,
		ActorRole:         actor.Role,
		Timestamp:         now,
		PreviousStatus:    prev,
		NewStatus:         req.Status,
	}, nil
}

// Tick validates and applies the pending -> expired transition, driven by
// the background sweeper rather than a caller identity. Duplicate ticks on
// an already non-pending request are a no-op error, never a panic.
func Tick(req *Request, now time.Time) (*HistoryEntry, error) {
	if req.Status != StatusPending {
		return nil, ErrNotPending
	}
	if now.Before(req.ExpiresAt) {
		return nil, ErrNotExpired
	}

	prev := req.Status
	req.Status = StatusExpired

	return &HistoryEntry{
		ApprovalRequestID: req.ID,
		Action:            ActionExpired,
		ActorID:           "system",
		ActorName:         "system",
		ActorRole:         identity.RoleSystem,
		Timestamp:         now,
		PreviousStatus:    prev,
		NewStatus:         req.Status,
	}, nil
}

// BeginExecution validates the approved -> {executed, execution_failed}
// transition's precondition: req must be approved, and a manual execute is
// refused for an auto_execute policy. It returns only that check's error;
// actorID is not used. It does not itself set the terminal status; the
// caller does that once the wrapper result is known, via FinishExecution.
func BeginExecution(req *Request, pol policy.Policy, manual bool, actorID string) error {
	if req.Status != StatusApproved {
		return ErrNotApproved
	}
	if manual && pol.AutoExecute {
		return ErrAutoExecuteOnly
	}
	return nil
}

// FinishExecution records the outcome of a wrapper invocation against an
// approved request and returns the resulting history entry. success
// determines whether the terminal state is executed or execution_failed.
func FinishExecution(req *Request, result ExecutionResult, executedBy string, actorRole identity.Role, success bool, now time.Time) *HistoryEntry {
	prev := req.Status
	req.ExecutionResult = &result
	executedAt := now
	req.ExecutedAt = &executedAt
	req.ExecutedBy = executedBy

	action := ActionExecuted
	if success {
		req.Status = StatusExecuted
	} else {
		req.Status = StatusExecutionFailed
		action = ActionExecutionFailed
	}

	return &HistoryEntry{
		ApprovalRequestID: req.ID,
		Action:            action,
		ActorID:           executedBy,
		ActorName:         executedBy,
		ActorRole:         actorRole,
		Timestamp:         now,
		PreviousStatus:    prev,
		NewStatus:         req.Status,
		Details: map[string]any{
			"exit_code":   result.ExitCode,
			"duration_ms": result.DurationMS,
		},
	}
}

// NewCreatedEntry builds the history entry for a freshly created request.
func NewCreatedEntry(req *Request, actor Actor, now time.Time) *HistoryEntry {
	return &HistoryEntry{
		ApprovalRequestID: req.ID,
		Action:            ActionCreated,
		ActorID:           actor.UserID,
		ActorName:         actor.Name,
		ActorRole:         actor.Role,
		Timestamp:         now,
		PreviousStatus:    "",
		NewStatus:         StatusPending,
	}
}
