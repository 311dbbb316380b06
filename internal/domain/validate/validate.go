// Package validate provides the broker's pure format predicates: username
// and groupname shape, bcrypt hash shape, the forbidden-character screen,
// allowed shells, home directories, cron schedules, and reason strings.
// Every predicate rejects with a typed *brokererr.Error and none ever
// panics on malformed input -- the forbidden-character set and the
// reserved-name tables defined here are the single source of truth that
// every other broker component consumes.
package validate

import (
	"regexp"
	"strings"

	"github.com/sentinel-gate/broker/internal/domain/brokererr"
)

// ForbiddenChars is the 23-character superset mandated for the
// forbidden-character screen. It exists to resolve an ambiguity in the
// lineage this broker was distilled from, which carried two competing sets
// (13-char and 21-char); this implementation always uses the superset.
const ForbiddenChars = ";|&$() `><*?{}[]\\'\"\n\r\t\x00"

var (
	usernamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)
	bcryptPattern   = regexp.MustCompile(`^\$2[aby]\$[0-9]{2}\$.{53}$`)
	allowedShells   = map[string]struct{}{
		"/bin/bash":          {},
		"/bin/sh":            {},
		"/usr/bin/zsh":       {},
		"/usr/sbin/nologin":  {},
		"/bin/false":         {},
	}
)

func validationErr(field, rule string) *brokererr.Error {
	return brokererr.Newf(brokererr.KindValidation, "%s: failed rule %q", field, rule)
}

// IsUsername reports whether s is a syntactically valid username.
func IsUsername(s string) error {
	if !usernamePattern.MatchString(s) {
		return validationErr("username", "is_username")
	}
	return nil
}

// IsGroupname applies the same shape rule as IsUsername.
func IsGroupname(s string) error {
	if !usernamePattern.MatchString(s) {
		return validationErr("groupname", "is_groupname")
	}
	return nil
}

// IsBcryptHash reports whether s has the shape of a bcrypt hash
// ($2a$/$2b$/$2y$, two-digit cost, 53-char salt+hash payload). It never
// attempts to verify the hash itself -- that is the wrapper's job.
func IsBcryptHash(s string) error {
	if !bcryptPattern.MatchString(s) {
		return validationErr("password_hash", "is_bcrypt_hash")
	}
	return nil
}

// IsForbiddenCharFree reports whether s contains none of the forbidden
// characters in ForbiddenChars.
func IsForbiddenCharFree(s string) error {
	if strings.ContainsAny(s, ForbiddenChars) {
		return validationErr("value", "is_forbidden_char_free")
	}
	return nil
}

// IsAllowedShell reports whether s is an exact match in the fixed shell
// allowlist.
func IsAllowedShell(s string) error {
	if _, ok := allowedShells[s]; !ok {
		return validationErr("shell", "is_allowed_shell")
	}
	return nil
}

// IsHomeDir reports whether s is a well-formed home directory path:
// starts with /home/, exactly one extra path segment, no "..", no
// trailing slash.
func IsHomeDir(s string) error {
	const prefix = "/home/"
	if !strings.HasPrefix(s, prefix) {
		return validationErr("home", "is_home_dir")
	}
	rest := s[len(prefix):]
	if rest == "" || strings.HasSuffix(s, "/") {
		return validationErr("home", "is_home_dir")
	}
	if strings.Contains(rest, "/") || strings.Contains(rest, "..") {
		return validationErr("home", "is_home_dir")
	}
	return nil
}

// IsReason reports whether s is a valid request reason: 1-1000 characters,
// forbidden-char free.
func IsReason(s string) error {
	if len(s) < 1 || len(s) > 1000 {
		return validationErr("reason", "is_reason_length")
	}
	if err := IsForbiddenCharFree(s); err != nil {
		return validationErr("reason", "is_reason_chars")
	}
	return nil
}

// NotForbiddenUser reports whether s is absent from the reserved username
// table.
func NotForbiddenUser(s string) error {
	if _, ok := reservedUsernames[s]; ok {
		return validationErr("username", "not_forbidden_user")
	}
	return nil
}

// NotForbiddenGroup reports whether s is absent from the reserved group
// table.
func NotForbiddenGroup(s string) error {
	if _, ok := reservedGroups[s]; ok {
		return validationErr("groupname", "not_forbidden_group")
	}
	return nil
}

// UserGroupCollisionFree reports whether a proposed group name is also
// absent from the reserved username table -- a group may not silently
// reuse a reserved user identity.
func UserGroupCollisionFree(groupname string) error {
	if _, ok := reservedUsernames[groupname]; ok {
		return validationErr("groupname", "user_group_collision_free")
	}
	return nil
}
