package service

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-gate/broker/internal/domain/authz"
	"github.com/sentinel-gate/broker/internal/domain/identity"
	"github.com/sentinel-gate/broker/internal/domain/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func basicTable() policy.Table {
	return policy.Table{
		policy.OpUserAdd: {
			OperationType:    policy.OpUserAdd,
			ApprovalRequired: true,
			ApproverRoles:    []identity.Role{identity.RoleApprover, identity.RoleAdmin},
			ApprovalCount:    1,
			Timeout:          time.Hour,
			RiskLevel:        policy.RiskHigh,
		},
		policy.OpServiceStop: {
			OperationType:    policy.OpServiceStop,
			ApprovalRequired: false,
			RiskLevel:        policy.RiskMedium,
		},
	}
}

func newTestAuthz(t *testing.T, table policy.Table) *AuthzService {
	t.Helper()
	svc, err := NewAuthzService(identity.DefaultRoleTable(), table, testLogger())
	require.NoError(t, err)
	return svc
}

func TestAuthzService_DeniesMissingPermission(t *testing.T) {
	svc := newTestAuthz(t, basicTable())
	caller := identity.Identity{UserID: "u1", Role: identity.RoleViewer}

	decision, err := svc.AuthorizeWrite(caller, policy.OpUserAdd, nil)
	require.NoError(t, err)
	assert.Equal(t, authz.Deny, decision.Outcome)
	assert.Equal(t, "missing_permission", decision.Reason)
}

func TestAuthzService_RequiresApprovalWhenPolicyDemandsIt(t *testing.T) {
	svc := newTestAuthz(t, basicTable())
	caller := identity.Identity{UserID: "u1", Role: identity.RoleOperator}

	decision, err := svc.AuthorizeWrite(caller, policy.OpUserAdd, nil)
	require.NoError(t, err)
	assert.Equal(t, authz.RequiresApproval, decision.Outcome)
	require.NotNil(t, decision.Policy)
}

func TestAuthzService_AllowsWhenApprovalNotRequired(t *testing.T) {
	svc := newTestAuthz(t, basicTable())
	caller := identity.Identity{UserID: "u1", Role: identity.RoleOperator}

	decision, err := svc.AuthorizeWrite(caller, policy.OpServiceStop, nil)
	require.NoError(t, err)
	assert.Equal(t, authz.Allow, decision.Outcome)
}

func TestAuthzService_GuardNarrowsAllowToDeny(t *testing.T) {
	table := basicTable()
	p := table[policy.OpServiceStop]
	p.GuardExpression = `target_arg(target, "service") != "sshd"`
	p.GuardOnReject = policy.GuardDeny
	table[policy.OpServiceStop] = p

	svc := newTestAuthz(t, table)
	caller := identity.Identity{UserID: "u1", Role: identity.RoleOperator}

	decision, err := svc.AuthorizeWrite(caller, policy.OpServiceStop, map[string]any{"service": "sshd"})
	require.NoError(t, err)
	assert.Equal(t, authz.Deny, decision.Outcome)
	assert.Equal(t, "policy_guard", decision.Reason)
}

func TestAuthzService_GuardNarrowsAllowToRequiresApproval(t *testing.T) {
	table := basicTable()
	p := table[policy.OpServiceStop]
	p.GuardExpression = `target_arg(target, "service") != "sshd"`
	p.GuardOnReject = policy.GuardRequiresApproval
	table[policy.OpServiceStop] = p

	svc := newTestAuthz(t, table)
	caller := identity.Identity{UserID: "u1", Role: identity.RoleOperator}

	decision, err := svc.AuthorizeWrite(caller, policy.OpServiceStop, map[string]any{"service": "sshd"})
	require.NoError(t, err)
	assert.Equal(t, authz.RequiresApproval, decision.Outcome)
}

func TestAuthzService_DecisionIsCached(t *testing.T) {
	svc := newTestAuthz(t, basicTable())
	caller := identity.Identity{UserID: "u1", Role: identity.RoleOperator}

	_, err := svc.AuthorizeWrite(caller, policy.OpServiceStop, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.cache.Size())

	_, err = svc.AuthorizeWrite(caller, policy.OpServiceStop, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.cache.Size(), "second identical call should hit cache, not grow it")
}

func TestAuthzService_CheckApprover(t *testing.T) {
	svc := newTestAuthz(t, basicTable())
	pol, _ := svc.table.Lookup(policy.OpUserAdd)

	assert.True(t, svc.CheckApprover(pol, identity.Identity{Role: identity.RoleApprover}))
	assert.False(t, svc.CheckApprover(pol, identity.Identity{Role: identity.RoleOperator}))
}

func TestAuthzService_Reload_ClearsCacheAndRecompilesGuards(t *testing.T) {
	svc := newTestAuthz(t, basicTable())
	caller := identity.Identity{UserID: "u1", Role: identity.RoleOperator}
	_, err := svc.AuthorizeWrite(caller, policy.OpServiceStop, nil)
	require.NoError(t, err)
	require.Equal(t, 1, svc.cache.Size())

	table := basicTable()
	p := table[policy.OpServiceStop]
	p.GuardExpression = `false`
	p.GuardOnReject = policy.GuardDeny
	table[policy.OpServiceStop] = p

	require.NoError(t, svc.Reload(table))
	assert.Equal(t, 0, svc.cache.Size())

	decision, err := svc.AuthorizeWrite(caller, policy.OpServiceStop, nil)
	require.NoError(t, err)
	assert.Equal(t, authz.Deny, decision.Outcome)
}
