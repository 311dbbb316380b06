package wrapper

import "encoding/json"

// FailReason distinguishes the ways a wrapper invocation can fail, so
// callers can decide whether to retry or surface a specific message.
type FailReason string

const (
	FailNone       FailReason = ""
	FailTimeout    FailReason = "timeout"
	FailSpawn      FailReason = "spawn"
	FailNonzero    FailReason = "nonzero_exit"
	FailProtocol   FailReason = "protocol"
	FailOverloaded FailReason = "overloaded"
)

// Invocation is the ephemeral, not-persisted-beyond-an-audit-entry record
// of one call into the gateway. stdin is deliberately unexported from any
// logging path: callers must not format this struct wholesale into a log
// record.
type Invocation struct {
	WrapperID ID
	Argv      []string
	Stdin     []byte // secret-bearing; gateway forgets it after the call
}

// Result is the outcome of running a wrapper, returned to the Approval
// Engine's execution step and, scrubbed of secrets, persisted as
// execution_result.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	DurationMS int64
	Parsed     json.RawMessage // nil unless Stdout was a valid JSON object
	FailReason FailReason
}

// Failed reports whether the invocation did not succeed -- either a
// nonzero exit or a distinguished spawn/timeout/protocol failure.
func (r Result) Failed() bool {
	return r.ExitCode != 0 || r.FailReason != FailNone
}

// ParsedObject unmarshals Parsed into a generic map, returning nil if
// Parsed is empty or not a JSON object.
func (r Result) ParsedObject() map[string]any {
	if len(r.Parsed) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(r.Parsed, &m); err != nil {
		return nil
	}
	return m
}
