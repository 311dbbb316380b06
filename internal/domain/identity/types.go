// Package identity defines the broker's notion of a caller: their role and
// the permission set that role carries.
package identity

// Role is one of the four privilege tiers a caller may hold. Roles are
// totally ordered by privilege; the permission set of a higher role is a
// superset of a lower role's (see Permissions).
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleApprover Role = "approver"
	RoleAdmin    Role = "admin"

	// RoleSystem identifies the broker itself as the actor of an automatic
	// transition (e.g. the expiry sweeper, or an auto_execute policy).
	// It never appears in the role->permission table and can never be the
	// role of an HTTP caller.
	RoleSystem Role = "system"
)

// rank orders roles by privilege, lowest first.
var rank = map[Role]int{
	RoleViewer:   0,
	RoleOperator: 1,
	RoleApprover: 2,
	RoleAdmin:    3,
}

// Valid reports whether r is one of the four caller-assignable roles.
func (r Role) Valid() bool {
	_, ok := rank[r]
	return ok
}

// Rank returns the role's privilege rank; higher is more privileged.
// RoleSystem and any unknown role rank below RoleViewer.
func (r Role) Rank() int {
	if v, ok := rank[r]; ok {
		return v
	}
	return -1
}

// AtLeast reports whether r is at least as privileged as other.
func (r Role) AtLeast(other Role) bool {
	return r.Rank() >= other.Rank()
}

// Permission is a lowercase "verb:object" token, e.g. "write:cron",
// "execute:approval". Permissions are data, not code.
type Permission string

// PermissionSet is an immutable set of permissions resolved for a role.
type PermissionSet map[Permission]struct{}

// Has reports whether the set contains perm.
func (s PermissionSet) Has(perm Permission) bool {
	_, ok := s[perm]
	return ok
}

// NewPermissionSet builds a PermissionSet from a permission list.
func NewPermissionSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// Identity is an authenticated caller: an opaque user id, a display name,
// and a single role. The derived permission set is resolved on demand
// through a RoleTable rather than carried on the struct, so that a role's
// permissions can never drift out of sync with the static table.
type Identity struct {
	UserID   string
	Username string
	Role     Role
}

// RoleTable maps each role to its resolved permission set. It is built once
// at startup (see internal/config) and never mutated afterward.
type RoleTable map[Role]PermissionSet

// Permissions resolves the identity's permission set from the table.
// An identity whose role is absent from the table has no permissions.
func (i Identity) Permissions(table RoleTable) PermissionSet {
	if set, ok := table[i.Role]; ok {
		return set
	}
	return PermissionSet{}
}

// DefaultRoleTable is the broker's built-in role->permission mapping.
// Admin's permission set is a strict superset of Approver's, which is a
// strict superset of Operator's, which is a strict superset of Viewer's,
// matching the totally-ordered-roles invariant.
func DefaultRoleTable() RoleTable {
	viewerPerms := []Permission{
		"read:processes", "read:users", "read:groups", "read:cron", "read:services", "read:firewall",
		"view:approval_pending", "view:approval_history", "view:approval_policies", "view:approval_stats",
	}
	operatorPerms := append(append([]Permission{}, viewerPerms...),
		"write:users", "write:groups", "write:cron", "write:services", "write:firewall",
		"request:approval",
	)
	approverPerms := append(append([]Permission{}, operatorPerms...),
		"execute:approval", "export:approval_history",
	)
	adminPerms := append(append([]Permission{}, approverPerms...),
		"execute:approved_action",
	)

	return RoleTable{
		RoleViewer:   NewPermissionSet(viewerPerms...),
		RoleOperator: NewPermissionSet(operatorPerms...),
		RoleApprover: NewPermissionSet(approverPerms...),
		RoleAdmin:    NewPermissionSet(adminPerms...),
	}
}
