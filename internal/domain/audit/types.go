// Package audit contains domain types for the broker's audit trail: the
// record() operation's Event shape (attempt/success/denied/failure/
// security) and the redaction helper every caller runs Details through
// before appending.
package audit

import (
	"strings"
	"time"
)

// Kind categorizes an audit event, per the Audit Log component contract.
type Kind string

const (
	KindAttempt  Kind = "attempt"
	KindSuccess  Kind = "success"
	KindDenied   Kind = "denied"
	KindFailure  Kind = "failure"
	KindSecurity Kind = "security"
)

// ActorRole mirrors identity.Role for audit entries that outlive any
// particular identity package version; kept as a plain string so the audit
// trail never breaks if role names are renamed upstream.
type ActorRole string

// Event is a single audit record: one call to record(kind, actor, target,
// outcome, details). It never carries secret material -- callers are
// responsible for running Details through RedactSensitiveArgs, and must
// never place stdin bytes or bcrypt hashes in Details at all.
type Event struct {
	Timestamp time.Time
	Kind      Kind
	ActorID   string
	ActorName string
	ActorRole ActorRole
	Target    string // e.g. "wrapper:user_add", "approval:<id>"
	Outcome   string // short machine-readable outcome token
	RequestID string
	Details   map[string]any
}

// Filter specifies query parameters for a Store's Query implementation.
type Filter struct {
	StartTime time.Time
	EndTime   time.Time
	ActorID   string
	Kind      Kind
	Target    string
	Limit     int
	Cursor    string
}

// KindStats aggregates event counts by kind for a time window.
type KindStats struct {
	Attempt  int64
	Success  int64
	Denied   int64
	Failure  int64
	Security int64
}

// sensitiveKeywords lists substrings that indicate a sensitive detail key.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey", "stdin", "hash",
}

// RedactSensitiveArgs returns a copy of args with sensitive values masked.
// A key is considered sensitive if it contains any of the sensitiveKeywords
// (case-insensitive). Values are replaced with "***REDACTED***".
func RedactSensitiveArgs(args map[string]any) map[string]any {
	if len(args) == 0 {
		return args
	}
	redacted := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
