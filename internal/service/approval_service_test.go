package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-gate/broker/internal/adapter/outbound/audit"
	"github.com/sentinel-gate/broker/internal/adapter/outbound/authstore"
	"github.com/sentinel-gate/broker/internal/adapter/outbound/gateway"
	"github.com/sentinel-gate/broker/internal/domain/approval"
	domainaudit "github.com/sentinel-gate/broker/internal/domain/audit"
	"github.com/sentinel-gate/broker/internal/domain/brokererr"
	"github.com/sentinel-gate/broker/internal/domain/identity"
	"github.com/sentinel-gate/broker/internal/domain/policy"
	"github.com/sentinel-gate/broker/internal/domain/wrapper"
)

// fakeAuditStore records every appended event for assertions; it never
// drops or batches, matching the durability contract the real file store
// honors.
type fakeAuditStore struct {
	mu     sync.Mutex
	events []domainaudit.Event
}

func (f *fakeAuditStore) Append(_ context.Context, events ...domainaudit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
	return nil
}
func (f *fakeAuditStore) Flush(context.Context) error { return nil }
func (f *fakeAuditStore) Close() error                { return nil }

func (f *fakeAuditStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeAuditStore) last() domainaudit.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[len(f.events)-1]
}

// approvalPolicyTable returns a small policy table covering the operations
// these tests exercise.
func approvalPolicyTable() policy.Table {
	return policy.Table{
		policy.OpUserAdd: {
			OperationType:    policy.OpUserAdd,
			ApprovalRequired: true,
			ApproverRoles:    []identity.Role{identity.RoleApprover, identity.RoleAdmin},
			ApprovalCount:    1,
			Timeout:          time.Hour,
			RiskLevel:        policy.RiskMedium,
		},
		policy.OpGroupAdd: {
			OperationType:    policy.OpGroupAdd,
			ApprovalRequired: false,
			RiskLevel:        policy.RiskLow,
		},
	}
}

// autoExecuteTable is like approvalPolicyTable but marks user_add as
// auto-executing, so an approval immediately runs the wrapper.
func autoExecuteTable() policy.Table {
	t := approvalPolicyTable()
	p := t[policy.OpUserAdd]
	p.AutoExecute = true
	t[policy.OpUserAdd] = p
	return t
}

// shortTimeoutTable gives user_add a timeout so small that a freshly
// created request is already expired by the time the sweeper looks at it.
func shortTimeoutTable() policy.Table {
	t := approvalPolicyTable()
	p := t[policy.OpUserAdd]
	p.Timeout = time.Nanosecond
	t[policy.OpUserAdd] = p
	return t
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o700))
	return path
}

type testEnv struct {
	approvals *ApprovalService
	audit     *fakeAuditStore
}

// newTestEnv builds an ApprovalService over a real in-memory sqlite-backed
// ApprovalStore, a real HMAC signer, a real AuthzService, and a real
// Gateway whose single registered wrapper ("user_add") runs scriptBody.
func newTestEnv(t *testing.T, table policy.Table, scriptBody string) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := authstore.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := authstore.NewApprovalStore(db)

	signer, err := audit.NewSigner([]byte("test-approval-service-hmac-key-32b"))
	require.NoError(t, err)

	auditStore := &fakeAuditStore{}

	authz, err := NewAuthzService(identity.DefaultRoleTable(), table, testLogger())
	require.NoError(t, err)

	script := writeScript(t, t.TempDir(), "user_add.sh", scriptBody)
	reg, err := wrapper.NewRegistry([]wrapper.Spec{{ID: "user_add", Path: script}})
	require.NoError(t, err)
	gw := gateway.New(reg, auditStore)

	svc := NewApprovalService(store, auditStore, signer, authz, gw, table, testLogger())
	return &testEnv{approvals: svc, audit: auditStore}
}

const successScript = "#!/bin/sh\necho '{\"ok\":true}'\nexit 0\n"
const failureScript = "#!/bin/sh\necho 'boom' >&2\nexit 1\n"

func validUserAddPayload() map[string]any {
	return map[string]any{"username": "deploy", "shell": "/bin/bash"}
}

func operator(id string) identity.Identity {
	return identity.Identity{UserID: id, Username: id, Role: identity.RoleOperator}
}

func approver(id string) identity.Identity {
	return identity.Identity{UserID: id, Username: id, Role: identity.RoleApprover}
}

func TestApprovalService_Create_PendingRequest(t *testing.T) {
	env := newTestEnv(t, approvalPolicyTable(), successScript)

	req, err := env.approvals.Create(context.Background(), operator("alice"), policy.OpUserAdd, validUserAddPayload(), "new hire onboarding")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, req.Status)
	assert.Equal(t, "alice", req.RequesterID)
	assert.NotEmpty(t, req.ID)
	assert.Positive(t, env.audit.count())
}

func TestApprovalService_Create_RejectsEmptyReason(t *testing.T) {
	env := newTestEnv(t, approvalPolicyTable(), successScript)

	_, err := env.approvals.Create(context.Background(), operator("alice"), policy.OpUserAdd, validUserAddPayload(), "")
	require.Error(t, err)
	assert.Equal(t, brokererr.KindValidation, brokererr.KindOf(err))
}

func TestApprovalService_Create_RejectsInvalidPayload(t *testing.T) {
	env := newTestEnv(t, approvalPolicyTable(), successScript)

	_, err := env.approvals.Create(context.Background(), operator("alice"), policy.OpUserAdd, map[string]any{"username": "deploy"}, "missing shell")
	require.Error(t, err)
	assert.Equal(t, brokererr.KindValidation, brokererr.KindOf(err))
	assert.Equal(t, domainaudit.KindDenied, env.audit.last().Kind)
}

func TestApprovalService_Create_RejectsOperationThatNeverRequiresApproval(t *testing.T) {
	env := newTestEnv(t, approvalPolicyTable(), successScript)

	_, err := env.approvals.Create(context.Background(), operator("alice"), policy.OpGroupAdd, map[string]any{"groupname": "webapps"}, "new group")
	require.Error(t, err)
	assert.Equal(t, brokererr.KindMissingPermission, brokererr.KindOf(err))
}

func TestApprovalService_ApproveRequest_ForbidsSelfApproval(t *testing.T) {
	env := newTestEnv(t, approvalPolicyTable(), successScript)
	ctx := context.Background()

	requester := approver("alice")
	req, err := env.approvals.Create(ctx, requester, policy.OpUserAdd, validUserAddPayload(), "onboarding")
	require.NoError(t, err)

	_, err = env.approvals.ApproveRequest(ctx, requester, req.ID)
	require.Error(t, err)
	assert.Equal(t, brokererr.KindForbiddenSelfApprove, brokererr.KindOf(err))
	assert.Equal(t, domainaudit.KindSecurity, env.audit.last().Kind, "a self-approval attempt must leave a security audit event")
}

func TestApprovalService_ApproveRequest_RequiresApproverRole(t *testing.T) {
	env := newTestEnv(t, approvalPolicyTable(), successScript)
	ctx := context.Background()

	req, err := env.approvals.Create(ctx, operator("alice"), policy.OpUserAdd, validUserAddPayload(), "onboarding")
	require.NoError(t, err)

	_, err = env.approvals.ApproveRequest(ctx, operator("bob"), req.ID)
	require.Error(t, err)
	assert.Equal(t, brokererr.KindMissingPermission, brokererr.KindOf(err))
	assert.Equal(t, domainaudit.KindDenied, env.audit.last().Kind)
}

func TestApprovalService_ApproveRequest_ManualPolicyLeavesRequestApproved(t *testing.T) {
	env := newTestEnv(t, approvalPolicyTable(), successScript)
	ctx := context.Background()

	req, err := env.approvals.Create(ctx, operator("alice"), policy.OpUserAdd, validUserAddPayload(), "onboarding")
	require.NoError(t, err)

	approved, err := env.approvals.ApproveRequest(ctx, approver("carol"), req.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, approved.Status)
	assert.Equal(t, "carol", approved.ApprovedBy)
	assert.Nil(t, approved.ExecutedAt)
}

func TestApprovalService_ApproveRequest_AutoExecuteRunsWrapper(t *testing.T) {
	env := newTestEnv(t, autoExecuteTable(), successScript)
	ctx := context.Background()

	req, err := env.approvals.Create(ctx, operator("alice"), policy.OpUserAdd, validUserAddPayload(), "onboarding")
	require.NoError(t, err)

	done, err := env.approvals.ApproveRequest(ctx, approver("carol"), req.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusExecuted, done.Status)
	require.NotNil(t, done.ExecutionResult)
	assert.Equal(t, 0, done.ExecutionResult.ExitCode)
}

func TestApprovalService_ApproveRequest_AutoExecuteWrapperFailureMarksExecutionFailed(t *testing.T) {
	env := newTestEnv(t, autoExecuteTable(), failureScript)
	ctx := context.Background()

	req, err := env.approvals.Create(ctx, operator("alice"), policy.OpUserAdd, validUserAddPayload(), "onboarding")
	require.NoError(t, err)

	done, err := env.approvals.ApproveRequest(ctx, approver("carol"), req.ID)
	require.Error(t, err)
	assert.Equal(t, brokererr.KindWrapperFailure, brokererr.KindOf(err))
	assert.Equal(t, approval.StatusExecutionFailed, done.Status)
}

func TestApprovalService_RejectRequest_RequiresReason(t *testing.T) {
	env := newTestEnv(t, approvalPolicyTable(), successScript)
	ctx := context.Background()

	req, err := env.approvals.Create(ctx, operator("alice"), policy.OpUserAdd, validUserAddPayload(), "onboarding")
	require.NoError(t, err)

	err = env.approvals.RejectRequest(ctx, approver("carol"), req.ID, "")
	require.Error(t, err)
	assert.Equal(t, brokererr.KindValidation, brokererr.KindOf(err))

	err = env.approvals.RejectRequest(ctx, approver("carol"), req.ID, "not needed")
	require.NoError(t, err)
}

func TestApprovalService_CancelRequest_OnlyOriginalRequester(t *testing.T) {
	env := newTestEnv(t, approvalPolicyTable(), successScript)
	ctx := context.Background()

	req, err := env.approvals.Create(ctx, operator("alice"), policy.OpUserAdd, validUserAddPayload(), "onboarding")
	require.NoError(t, err)

	err = env.approvals.CancelRequest(ctx, operator("bob"), req.ID)
	require.Error(t, err)
	assert.Equal(t, brokererr.KindMissingPermission, brokererr.KindOf(err))

	require.NoError(t, env.approvals.CancelRequest(ctx, operator("alice"), req.ID))
}

func TestApprovalService_ExecuteRequest_ManualPath(t *testing.T) {
	env := newTestEnv(t, approvalPolicyTable(), successScript)
	ctx := context.Background()

	req, err := env.approvals.Create(ctx, operator("alice"), policy.OpUserAdd, validUserAddPayload(), "onboarding")
	require.NoError(t, err)
	_, err = env.approvals.ApproveRequest(ctx, approver("carol"), req.ID)
	require.NoError(t, err)

	executed, err := env.approvals.ExecuteRequest(ctx, approver("carol"), req.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusExecuted, executed.Status)
}

func TestApprovalService_ExecuteRequest_RejectsAutoExecutePolicy(t *testing.T) {
	env := newTestEnv(t, autoExecuteTable(), successScript)
	ctx := context.Background()

	req, err := env.approvals.Create(ctx, operator("alice"), policy.OpUserAdd, validUserAddPayload(), "onboarding")
	require.NoError(t, err)
	approved, err := env.approvals.ApproveRequest(ctx, approver("carol"), req.ID)
	require.NoError(t, err)
	require.Equal(t, approval.StatusExecuted, approved.Status)

	_, err = env.approvals.ExecuteRequest(ctx, approver("carol"), req.ID)
	require.Error(t, err)
	assert.Equal(t, brokererr.KindStateConflict, brokererr.KindOf(err))
}

func TestApprovalService_SweepExpired_ExpiresOnlyPastDeadline(t *testing.T) {
	env := newTestEnv(t, shortTimeoutTable(), successScript)
	ctx := context.Background()

	expiring, err := env.approvals.Create(ctx, operator("alice"), policy.OpUserAdd, validUserAddPayload(), "will expire")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)

	n, err := env.approvals.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	req, err := env.approvals.store.Get(ctx, expiring.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusExpired, req.Status)

	n, err = env.approvals.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
