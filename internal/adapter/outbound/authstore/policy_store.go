package authstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentinel-gate/broker/internal/domain/identity"
	"github.com/sentinel-gate/broker/internal/domain/policy"
)

// PolicyStore persists the operation policy table. Policies are read-only
// at runtime from the perspective of every other component; only startup
// seeding and an explicit operator action write here.
type PolicyStore struct {
	db *DB
}

func NewPolicyStore(db *DB) *PolicyStore {
	return &PolicyStore{db: db}
}

// Seed inserts each policy in table that is not already present. Existing
// rows are left untouched -- seeding never overwrites an operator's
// runtime edits.
func (s *PolicyStore) Seed(ctx context.Context, table policy.Table) error {
	tx, err := s.db.BeginSerializable(ctx)
	if err != nil {
		return fmt.Errorf("authstore: seed policies: begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, p := range table {
		roles, err := json.Marshal(p.ApproverRoles)
		if err != nil {
			return fmt.Errorf("authstore: marshal approver_roles: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO approval_policies
				(operation_type, description, approval_required, approver_roles,
				 approval_count, timeout_hours, auto_execute, risk_level,
				 guard_expression, guard_on_reject, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(p.OperationType), p.Description, boolToInt(p.ApprovalRequired), string(roles),
			p.ApprovalCount, int(p.Timeout.Hours()), boolToInt(p.AutoExecute), string(p.RiskLevel),
			p.GuardExpression, string(p.GuardOnReject), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("authstore: seed policy %q: %w", p.OperationType, err)
		}
	}
	return tx.Commit()
}

// Load reads the full policy table back out of storage.
func (s *PolicyStore) Load(ctx context.Context) (policy.Table, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation_type, description, approval_required, approver_roles,
		       approval_count, timeout_hours, auto_execute, risk_level,
		       guard_expression, guard_on_reject
		FROM approval_policies`)
	if err != nil {
		return nil, fmt.Errorf("authstore: load policies: %w", err)
	}
	defer rows.Close()

	table := make(policy.Table)
	for rows.Next() {
		var (
			opType, desc, rolesJSON, risk, guardExpr, guardAction string
			approvalRequired, autoExecute                         int
			approvalCount, timeoutHours                           int
		)
		if err := rows.Scan(&opType, &desc, &approvalRequired, &rolesJSON,
			&approvalCount, &timeoutHours, &autoExecute, &risk, &guardExpr, &guardAction); err != nil {
			return nil, fmt.Errorf("authstore: scan policy row: %w", err)
		}
		var roles []identity.Role
		if err := json.Unmarshal([]byte(rolesJSON), &roles); err != nil {
			return nil, fmt.Errorf("authstore: unmarshal approver_roles: %w", err)
		}
		op := policy.OperationType(opType)
		table[op] = policy.Policy{
			OperationType:    op,
			Description:      desc,
			ApprovalRequired: approvalRequired != 0,
			ApproverRoles:    roles,
			ApprovalCount:    approvalCount,
			Timeout:          time.Duration(timeoutHours) * time.Hour,
			AutoExecute:      autoExecute != 0,
			RiskLevel:        policy.RiskLevel(risk),
			GuardExpression:  guardExpr,
			GuardOnReject:    policy.GuardAction(guardAction),
		}
	}
	return table, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
