// Package defaultpolicy provides the broker's built-in operation policy
// table, seeded into the approval store on first boot when no policies
// exist yet.
package defaultpolicy

import (
	"time"

	"github.com/sentinel-gate/broker/internal/domain/identity"
	"github.com/sentinel-gate/broker/internal/domain/policy"
)

// Table returns the broker's default operation policy table. It is not
// mutated in place; callers that need to customize it should copy entries
// out into their own policy.Table.
//
// user_delete is seeded with a 24h timeout: the source material this
// policy was distilled from disagreed between an initial 24h seed and a
// later 12h document; this implementation picks the more conservative
// (longer review window) value for a destructive operation. See
// DESIGN.md for the full rationale.
func Table() policy.Table {
	return policy.Table{
		policy.OpUserAdd: {
			OperationType:    policy.OpUserAdd,
			Description:      "Create a new local user account",
			ApprovalRequired: true,
			ApproverRoles:    []identity.Role{identity.RoleApprover, identity.RoleAdmin},
			ApprovalCount:    1,
			Timeout:          24 * time.Hour,
			AutoExecute:      false,
			RiskLevel:        policy.RiskMedium,
		},
		policy.OpUserDelete: {
			OperationType:    policy.OpUserDelete,
			Description:      "Delete a local user account",
			ApprovalRequired: true,
			ApproverRoles:    []identity.Role{identity.RoleApprover, identity.RoleAdmin},
			ApprovalCount:    1,
			Timeout:          24 * time.Hour,
			AutoExecute:      false,
			RiskLevel:        policy.RiskHigh,
		},
		policy.OpUserModify: {
			OperationType:    policy.OpUserModify,
			Description:      "Modify a local user account's shell, groups, or home",
			ApprovalRequired: true,
			ApproverRoles:    []identity.Role{identity.RoleApprover, identity.RoleAdmin},
			ApprovalCount:    1,
			Timeout:          12 * time.Hour,
			AutoExecute:      false,
			RiskLevel:        policy.RiskMedium,
		},
		policy.OpUserPasswd: {
			OperationType:    policy.OpUserPasswd,
			Description:      "Reset a local user account's password",
			ApprovalRequired: true,
			ApproverRoles:    []identity.Role{identity.RoleApprover, identity.RoleAdmin},
			ApprovalCount:    1,
			Timeout:          4 * time.Hour,
			AutoExecute:      false,
			RiskLevel:        policy.RiskMedium,
		},
		policy.OpGroupAdd: {
			OperationType:    policy.OpGroupAdd,
			Description:      "Create a new local group",
			ApprovalRequired: false,
			ApproverRoles:    nil,
			ApprovalCount:    1,
			Timeout:          24 * time.Hour,
			AutoExecute:      false,
			RiskLevel:        policy.RiskLow,
		},
		policy.OpGroupDelete: {
			OperationType:    policy.OpGroupDelete,
			Description:      "Delete a local group",
			ApprovalRequired: true,
			ApproverRoles:    []identity.Role{identity.RoleApprover, identity.RoleAdmin},
			ApprovalCount:    1,
			Timeout:          24 * time.Hour,
			AutoExecute:      false,
			RiskLevel:        policy.RiskMedium,
		},
		policy.OpGroupModify: {
			OperationType:    policy.OpGroupModify,
			Description:      "Modify a local group's membership",
			ApprovalRequired: false,
			ApproverRoles:    nil,
			ApprovalCount:    1,
			Timeout:          12 * time.Hour,
			AutoExecute:      false,
			RiskLevel:        policy.RiskLow,
		},
		policy.OpCronAdd: {
			OperationType:    policy.OpCronAdd,
			Description:      "Install a new scheduled cron job",
			ApprovalRequired: true,
			ApproverRoles:    []identity.Role{identity.RoleApprover, identity.RoleAdmin},
			ApprovalCount:    1,
			Timeout:          12 * time.Hour,
			AutoExecute:      false,
			RiskLevel:        policy.RiskMedium,
		},
		policy.OpCronDelete: {
			OperationType:    policy.OpCronDelete,
			Description:      "Remove a scheduled cron job",
			ApprovalRequired: false,
			ApproverRoles:    nil,
			ApprovalCount:    1,
			Timeout:          12 * time.Hour,
			AutoExecute:      false,
			RiskLevel:        policy.RiskLow,
		},
		policy.OpCronModify: {
			OperationType:    policy.OpCronModify,
			Description:      "Modify a scheduled cron job",
			ApprovalRequired: true,
			ApproverRoles:    []identity.Role{identity.RoleApprover, identity.RoleAdmin},
			ApprovalCount:    1,
			Timeout:          12 * time.Hour,
			AutoExecute:      false,
			RiskLevel:        policy.RiskMedium,
		},
		policy.OpServiceStop: {
			OperationType:    policy.OpServiceStop,
			Description:      "Stop a system service",
			ApprovalRequired: true,
			ApproverRoles:    []identity.Role{identity.RoleApprover, identity.RoleAdmin},
			ApprovalCount:    1,
			Timeout:          4 * time.Hour,
			AutoExecute:      false,
			RiskLevel:        policy.RiskHigh,
		},
		policy.OpFirewallModify: {
			OperationType:    policy.OpFirewallModify,
			Description:      "Modify a host firewall rule set",
			ApprovalRequired: true,
			ApproverRoles:    []identity.Role{identity.RoleApprover, identity.RoleAdmin},
			ApprovalCount:    1,
			Timeout:          4 * time.Hour,
			AutoExecute:      false,
			RiskLevel:        policy.RiskCritical,
		},
	}
}
