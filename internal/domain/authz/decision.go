// Package authz defines the Authorization component's decision value: the
// outcome of evaluating (caller, op, target_descriptor) against the static
// role/permission map, the operation policy table, and an optional CEL
// guard expression.
package authz

import "github.com/sentinel-gate/broker/internal/domain/policy"

// Outcome is the three-way result of an authorization decision.
type Outcome string

const (
	Allow            Outcome = "allow"
	RequiresApproval Outcome = "requires_approval"
	Deny             Outcome = "deny"
)

// Decision is a value, not a side effect: all logging and state mutation
// happens at the caller, per the algorithm's own contract.
type Decision struct {
	Outcome Outcome
	Reason  string // machine-readable reason token, e.g. "missing_permission", "policy_guard"
	Policy  *policy.Policy
}

// NewAllow builds an Allow decision.
func NewAllow() Decision { return Decision{Outcome: Allow} }

// NewDeny builds a Deny decision tagged with a machine-readable reason.
func NewDeny(reason string) Decision { return Decision{Outcome: Deny, Reason: reason} }

// NewRequiresApproval builds a RequiresApproval decision carrying the
// policy the caller must route the request through.
func NewRequiresApproval(p policy.Policy, reason string) Decision {
	return Decision{Outcome: RequiresApproval, Reason: reason, Policy: &p}
}
