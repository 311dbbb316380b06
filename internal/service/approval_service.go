package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sentinel-gate/broker/internal/adapter/inbound/metrics"
	"github.com/sentinel-gate/broker/internal/adapter/outbound/authstore"
	"github.com/sentinel-gate/broker/internal/adapter/outbound/gateway"
	"github.com/sentinel-gate/broker/internal/domain/approval"
	"github.com/sentinel-gate/broker/internal/domain/audit"
	"github.com/sentinel-gate/broker/internal/domain/authz"
	"github.com/sentinel-gate/broker/internal/domain/brokererr"
	"github.com/sentinel-gate/broker/internal/domain/identity"
	"github.com/sentinel-gate/broker/internal/domain/policy"
)

// Signer computes and verifies a history entry's tamper-evident signature.
// Satisfied by *audit.Signer; narrowed to an interface so tests can stub it.
type Signer interface {
	Sign(entry *approval.HistoryEntry) []byte
}

// ApprovalService implements the Approval Engine (E): creation, the two-
// person-rule transitions, expiry, and post-approval execution via the
// Wrapper Gateway.
type ApprovalService struct {
	store    *authstore.ApprovalStore
	auditLog audit.Store
	signer   Signer
	authz    *AuthzService
	gateway  *gateway.Gateway
	table    policy.Table
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	cronAllowlist []string
}

// ApprovalOption configures an ApprovalService at construction time.
type ApprovalOption func(*ApprovalService)

// WithMetrics attaches a Prometheus metrics sink.
func WithMetrics(m *metrics.Metrics) ApprovalOption {
	return func(s *ApprovalService) { s.metrics = m }
}

// WithTracer attaches an OpenTelemetry tracer; a no-op tracer is used if
// never set.
func WithTracer(t trace.Tracer) ApprovalOption {
	return func(s *ApprovalService) { s.tracer = t }
}

// WithCronAllowlist configures the absolute command paths a cron_add or
// cron_modify payload may resolve to. Unset means no cron command is ever
// accepted.
func WithCronAllowlist(allowlist []string) ApprovalOption {
	return func(s *ApprovalService) { s.cronAllowlist = allowlist }
}

// NewApprovalService builds an ApprovalService over its persistence, audit,
// authorization, and execution dependencies.
func NewApprovalService(store *authstore.ApprovalStore, auditLog audit.Store, signer Signer, authz *AuthzService, gw *gateway.Gateway, table policy.Table, logger *slog.Logger, opts ...ApprovalOption) *ApprovalService {
	s := &ApprovalService{
		store:    store,
		auditLog: auditLog,
		signer:   signer,
		authz:    authz,
		gateway:  gw,
		table:    table,
		logger:   logger,
		tracer:   trace.NewNoopTracerProvider().Tracer("noop"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// recordAudit appends an audit event and treats a failed append as fatal,
// per the Audit Log component's durability contract (record() must be
// durable before the caller returns; a failed write is itself an error the
// caller surfaces, never swallows).
func (s *ApprovalService) recordAudit(ctx context.Context, kind audit.Kind, actor identity.Identity, target, outcome string, details map[string]any) error {
	event := audit.Event{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		ActorID:   actor.UserID,
		ActorName: actor.Username,
		ActorRole: audit.ActorRole(actor.Role),
		Target:    target,
		Outcome:   outcome,
		Details:   audit.RedactSensitiveArgs(details),
	}
	if err := s.auditLog.Append(ctx, event); err != nil {
		return brokererr.Wrap(brokererr.KindAuditFailure, err, "append audit event")
	}
	return nil
}

// auditKindForRejection maps a broker error kind to the audit kind §7's
// error table requires ("denied" for validation/permission/state-conflict
// rejections, "security" for a self-approval attempt or a missing policy),
// or ok=false when the kind carries no audit obligation (e.g. not_found).
func auditKindForRejection(k brokererr.Kind) (kind audit.Kind, ok bool) {
	switch k {
	case brokererr.KindValidation, brokererr.KindMissingPermission, brokererr.KindStateConflict:
		return audit.KindDenied, true
	case brokererr.KindForbiddenSelfApprove, brokererr.KindPolicyMissing:
		return audit.KindSecurity, true
	default:
		return "", false
	}
}

// auditRejection records the denied/security audit event §7 obligates for
// rejErr's kind, then returns rejErr unchanged -- unless the audit write
// itself fails, in which case that failure is fatal and takes its place,
// per recordAudit's durability contract.
func (s *ApprovalService) auditRejection(ctx context.Context, rejErr error, actor identity.Identity, target string, details map[string]any) error {
	kind, ok := auditKindForRejection(brokererr.KindOf(rejErr))
	if !ok {
		return rejErr
	}
	if auditErr := s.recordAudit(ctx, kind, actor, target, string(brokererr.KindOf(rejErr)), details); auditErr != nil {
		return auditErr
	}
	return rejErr
}

// Create validates a request's payload against its operation's policy and
// schema, then persists a new pending request -- the create() operation
// per SPEC_FULL §4.5.
func (s *ApprovalService) Create(ctx context.Context, requester identity.Identity, op policy.OperationType, payload map[string]any, reason string) (*approval.Request, error) {
	ctx, span := s.tracer.Start(ctx, "approval.create", trace.WithAttributes(attribute.String("operation", string(op))))
	defer span.End()

	target := "operation:" + string(op)

	if reason == "" {
		return nil, s.auditRejection(ctx, brokererr.New(brokererr.KindValidation, "reason must be non-empty"), requester, target, nil)
	}

	decision, err := s.authz.AuthorizeWrite(requester, op, payload)
	if err != nil {
		return nil, s.auditRejection(ctx, brokererr.Wrap(brokererr.KindPolicyMissing, err, "authorize create"), requester, target, nil)
	}
	if s.metrics != nil {
		s.metrics.AuthzDecisionsTotal.WithLabelValues(string(op), string(decision.Outcome)).Inc()
	}
	if decision.Outcome != authz.RequiresApproval {
		rejErr := brokererr.New(brokererr.KindMissingPermission, "operation does not require an approval request").
			WithDetails(map[string]any{"outcome": decision.Outcome})
		return nil, s.auditRejection(ctx, rejErr, requester, target, map[string]any{"outcome": decision.Outcome})
	}
	pol := *decision.Policy

	if err := approval.ValidatePayload(op, payload, s.cronAllowlist); err != nil {
		return nil, s.auditRejection(ctx, brokererr.Wrap(brokererr.KindValidation, err, "validate payload"), requester, target, nil)
	}

	now := time.Now().UTC()
	req := &approval.Request{
		ID:            uuid.New().String(),
		RequestType:   op,
		RequesterID:   requester.UserID,
		RequesterName: requester.Username,
		Payload:       payload,
		Reason:        reason,
		Status:        approval.StatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(pol.Timeout),
	}
	actor := approval.Actor{UserID: requester.UserID, Name: requester.Username, Role: requester.Role}
	entry := approval.NewCreatedEntry(req, actor, now)

	if err := s.store.Create(ctx, req, entry, s.signer.Sign); err != nil {
		return nil, brokererr.Wrap(brokererr.KindStorageError, err, "persist approval request")
	}
	if err := s.recordAudit(ctx, audit.KindAttempt, requester, "approval:"+req.ID, "created", map[string]any{"operation": string(op)}); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ApprovalRequestsTotal.WithLabelValues(string(op), string(approval.ActionCreated)).Inc()
		s.metrics.PendingApprovals.Inc()
	}
	return req, nil
}

// ApproveRequest applies the pending -> approved transition for id, acting
// as approver, and, unless the policy withholds auto-execution, runs the
// approved invocation immediately.
func (s *ApprovalService) ApproveRequest(ctx context.Context, approver identity.Identity, id string) (*approval.Request, error) {
	ctx, span := s.tracer.Start(ctx, "approval.approve", trace.WithAttributes(attribute.String("approval_id", id)))
	defer span.End()

	if !s.authz.CheckPermission(approver, "execute:approval") {
		rejErr := brokererr.New(brokererr.KindMissingPermission, "missing permission \"execute:approval\"")
		return nil, s.auditRejection(ctx, rejErr, approver, "approval:"+id, nil)
	}

	var pol policy.Policy
	actor := approval.Actor{UserID: approver.UserID, Name: approver.Username, Role: approver.Role}
	now := time.Now().UTC()

	err := s.store.Transition(ctx, id, s.signer.Sign, func(req *approval.Request) (*approval.HistoryEntry, error) {
		p, ok := s.table.Lookup(req.RequestType)
		if !ok {
			return nil, fmt.Errorf("approval: no policy for operation %q", req.RequestType)
		}
		pol = p
		return approval.Approve(req, actor, pol, now)
	})
	if err != nil {
		return nil, s.auditRejection(ctx, translateTransitionError(err), approver, "approval:"+id, nil)
	}

	if auditErr := s.recordAudit(ctx, audit.KindSuccess, approver, "approval:"+id, "approved", nil); auditErr != nil {
		return nil, auditErr
	}

	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.KindStorageError, err, "reload approved request")
	}
	if s.metrics != nil {
		s.metrics.ApprovalRequestsTotal.WithLabelValues(string(pol.OperationType), string(approval.ActionApproved)).Inc()
		s.metrics.ApprovalLatency.WithLabelValues(string(pol.OperationType)).Observe(now.Sub(req.CreatedAt).Seconds())
	}

	if pol.AutoExecute {
		if execErr := s.execute(ctx, req, pol, identity.Identity{UserID: "system", Username: "system", Role: identity.RoleSystem}, false); execErr != nil {
			if latest, getErr := s.store.Get(ctx, id); getErr == nil {
				return latest, execErr
			}
			return req, execErr
		}
		return s.store.Get(ctx, id)
	}
	return req, nil
}

// RejectRequest applies the pending -> rejected transition for id.
func (s *ApprovalService) RejectRequest(ctx context.Context, approver identity.Identity, id, reason string) error {
	ctx, span := s.tracer.Start(ctx, "approval.reject", trace.WithAttributes(attribute.String("approval_id", id)))
	defer span.End()

	if !s.authz.CheckPermission(approver, "execute:approval") {
		rejErr := brokererr.New(brokererr.KindMissingPermission, "missing permission \"execute:approval\"")
		return s.auditRejection(ctx, rejErr, approver, "approval:"+id, nil)
	}

	var pol policy.Policy
	var createdAt time.Time
	actor := approval.Actor{UserID: approver.UserID, Name: approver.Username, Role: approver.Role}
	now := time.Now().UTC()

	err := s.store.Transition(ctx, id, s.signer.Sign, func(req *approval.Request) (*approval.HistoryEntry, error) {
		p, ok := s.table.Lookup(req.RequestType)
		if !ok {
			return nil, fmt.Errorf("approval: no policy for operation %q", req.RequestType)
		}
		pol = p
		createdAt = req.CreatedAt
		return approval.Reject(req, actor, pol, reason, now)
	})
	if err != nil {
		return s.auditRejection(ctx, translateTransitionError(err), approver, "approval:"+id, nil)
	}

	if auditErr := s.recordAudit(ctx, audit.KindSuccess, approver, "approval:"+id, "rejected", map[string]any{"reason": reason}); auditErr != nil {
		return auditErr
	}
	if s.metrics != nil {
		s.metrics.ApprovalRequestsTotal.WithLabelValues(string(pol.OperationType), string(approval.ActionRejected)).Inc()
		s.metrics.ApprovalLatency.WithLabelValues(string(pol.OperationType)).Observe(now.Sub(createdAt).Seconds())
		s.metrics.PendingApprovals.Dec()
	}
	return nil
}

// CancelRequest applies the pending -> cancelled transition for id, only
// for the original requester.
func (s *ApprovalService) CancelRequest(ctx context.Context, requester identity.Identity, id string) error {
	ctx, span := s.tracer.Start(ctx, "approval.cancel", trace.WithAttributes(attribute.String("approval_id", id)))
	defer span.End()

	actor := approval.Actor{UserID: requester.UserID, Name: requester.Username, Role: requester.Role}
	now := time.Now().UTC()

	var op policy.OperationType
	err := s.store.Transition(ctx, id, s.signer.Sign, func(req *approval.Request) (*approval.HistoryEntry, error) {
		op = req.RequestType
		return approval.Cancel(req, actor, now)
	})
	if err != nil {
		return s.auditRejection(ctx, translateTransitionError(err), requester, "approval:"+id, nil)
	}

	if auditErr := s.recordAudit(ctx, audit.KindSuccess, requester, "approval:"+id, "cancelled", nil); auditErr != nil {
		return auditErr
	}
	if s.metrics != nil {
		s.metrics.ApprovalRequestsTotal.WithLabelValues(string(op), string(approval.ActionCancelled)).Inc()
		s.metrics.PendingApprovals.Dec()
	}
	return nil
}

// ExecuteRequest manually runs the wrapper invocation for an approved
// request whose policy does not auto-execute. Only an approver role may
// trigger manual execution.
func (s *ApprovalService) ExecuteRequest(ctx context.Context, actor identity.Identity, id string) (*approval.Request, error) {
	ctx, span := s.tracer.Start(ctx, "approval.execute", trace.WithAttributes(attribute.String("approval_id", id)))
	defer span.End()

	if !s.authz.CheckPermission(actor, "execute:approval") {
		rejErr := brokererr.New(brokererr.KindMissingPermission, "missing permission \"execute:approval\"")
		return nil, s.auditRejection(ctx, rejErr, actor, "approval:"+id, nil)
	}

	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.auditRejection(ctx, translateTransitionError(err), actor, "approval:"+id, nil)
	}
	pol, ok := s.table.Lookup(req.RequestType)
	if !ok {
		rejErr := brokererr.Newf(brokererr.KindPolicyMissing, "no policy for operation %q", req.RequestType)
		return nil, s.auditRejection(ctx, rejErr, actor, "approval:"+id, nil)
	}

	if err := s.execute(ctx, req, pol, actor, true); err != nil {
		return req, err
	}
	return s.store.Get(ctx, id)
}

// execute derives the wrapper invocation from req's payload, runs it
// through the gateway, and persists the terminal executed/execution_failed
// transition.
func (s *ApprovalService) execute(ctx context.Context, req *approval.Request, pol policy.Policy, actor identity.Identity, manual bool) error {
	if err := approval.BeginExecution(req, pol, manual, actor.UserID); err != nil {
		return s.auditRejection(ctx, translateTransitionError(err), actor, "approval:"+req.ID, nil)
	}

	id, argv, stdin, err := approval.BuildInvocation(req.RequestType, req.Payload)
	if err != nil {
		return s.auditRejection(ctx, brokererr.Wrap(brokererr.KindValidation, err, "derive invocation"), actor, "approval:"+req.ID, nil)
	}

	result, runErr := s.gateway.Run(ctx, req.RequesterID, id, argv, stdin)
	if runErr != nil {
		return brokererr.Wrap(brokererr.KindWrapperFailure, runErr, "run wrapper")
	}

	success := !result.Failed()
	now := time.Now().UTC()
	execResult := approval.ExecutionResult{
		ExitCode:   result.ExitCode,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		DurationMS: result.DurationMS,
		Parsed:     result.ParsedObject(),
		FailReason: string(result.FailReason),
	}

	txErr := s.store.Transition(ctx, req.ID, s.signer.Sign, func(r *approval.Request) (*approval.HistoryEntry, error) {
		if r.Status != approval.StatusApproved {
			return nil, approval.ErrNotApproved
		}
		return approval.FinishExecution(r, execResult, actor.UserID, actor.Role, success, now), nil
	})
	if txErr != nil {
		return s.auditRejection(ctx, translateTransitionError(txErr), actor, "approval:"+req.ID, nil)
	}

	outcome := "executed"
	kind := audit.KindSuccess
	if !success {
		outcome = "execution_failed"
		kind = audit.KindFailure
	}
	if auditErr := s.recordAudit(ctx, kind, actor, "wrapper:"+string(id), outcome, map[string]any{
		"exit_code": result.ExitCode, "duration_ms": result.DurationMS, "fail_reason": string(result.FailReason),
	}); auditErr != nil {
		return auditErr
	}
	if s.metrics != nil {
		action := approval.ActionExecuted
		if !success {
			action = approval.ActionExecutionFailed
		}
		s.metrics.ApprovalRequestsTotal.WithLabelValues(string(req.RequestType), string(action)).Inc()
		s.metrics.WrapperInvocations.WithLabelValues(string(id), outcome).Inc()
		s.metrics.WrapperDuration.WithLabelValues(string(id)).Observe(float64(result.DurationMS) / 1000)
		s.metrics.PendingApprovals.Dec()
	}
	if !success {
		return brokererr.Newf(brokererr.KindWrapperFailure, "wrapper %q failed: %s", id, result.FailReason)
	}
	return nil
}

// SweepExpired ticks every pending request whose deadline has passed,
// transitioning it to expired. It is the background loop's single unit of
// work, meant to be called on a fixed interval by the caller (e.g.
// cmd/broker's start command).
func (s *ApprovalService) SweepExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	ids, err := s.store.PendingExpired(ctx, now)
	if err != nil {
		return 0, brokererr.Wrap(brokererr.KindStorageError, err, "list pending-expired requests")
	}

	expired := 0
	for _, id := range ids {
		var op policy.OperationType
		err := s.store.Transition(ctx, id, s.signer.Sign, func(req *approval.Request) (*approval.HistoryEntry, error) {
			op = req.RequestType
			return approval.Tick(req, now)
		})
		if err != nil {
			// A concurrent transition (e.g. an approver just acted) makes
			// this id a benign no-op; any other error is logged and the
			// sweep continues with the next id rather than aborting.
			if err != approval.ErrNotPending {
				s.logger.Error("sweeper: tick failed", "approval_id", id, "error", err)
			}
			continue
		}
		if auditErr := s.recordAudit(ctx, audit.KindSecurity, identity.Identity{UserID: "system", Username: "system", Role: identity.RoleSystem}, "approval:"+id, "expired", nil); auditErr != nil {
			s.logger.Error("sweeper: audit append failed", "approval_id", id, "error", auditErr)
		}
		if s.metrics != nil {
			s.metrics.ApprovalRequestsTotal.WithLabelValues(string(op), string(approval.ActionExpired)).Inc()
			s.metrics.PendingApprovals.Dec()
		}
		expired++
	}
	return expired, nil
}

// translateTransitionError maps approval/authstore sentinels to their
// brokererr.Kind, per §7's error taxonomy.
func translateTransitionError(err error) error {
	switch err {
	case authstore.ErrNotFound:
		return brokererr.Wrap(brokererr.KindNotFound, err, "approval request not found")
	case approval.ErrSelfApproval:
		return brokererr.Wrap(brokererr.KindForbiddenSelfApprove, err, "approver cannot be the requester")
	case approval.ErrNotPending, approval.ErrNotApproved, approval.ErrExpired, approval.ErrNotExpired, approval.ErrAutoExecuteOnly:
		return brokererr.Wrap(brokererr.KindStateConflict, err, "invalid state transition")
	case approval.ErrNotApprover:
		return brokererr.Wrap(brokererr.KindMissingPermission, err, "actor is not an approver for this policy")
	case approval.ErrNotOwner:
		return brokererr.Wrap(brokererr.KindMissingPermission, err, "actor is not the requester")
	case approval.ErrEmptyReason:
		return brokererr.Wrap(brokererr.KindValidation, err, "rejection reason must be non-empty")
	default:
		return brokererr.Wrap(brokererr.KindStorageError, err, "approval transition")
	}
}

