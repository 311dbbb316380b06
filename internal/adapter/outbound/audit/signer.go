package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sentinel-gate/broker/internal/domain/approval"
)

// minKeyLen is the minimum HMAC key length the configuration loader
// enforces; kept here too so a signer can never be constructed unsafely
// even if the config validation layer is bypassed in a test.
const minKeyLen = 32

// Signer computes and verifies the HMAC-SHA256 signature over an approval
// history entry's canonical non-signature fields, keyed by a process-wide
// secret. This is the record_history()/verify_history() half of the Audit
// Log component; FileStore (record()) is the other half.
type Signer struct {
	key []byte
}

// NewSigner constructs a Signer. key must be at least 32 bytes.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) < minKeyLen {
		return nil, fmt.Errorf("audit: HMAC key must be at least %d bytes, got %d", minKeyLen, len(key))
	}
	return &Signer{key: key}, nil
}

// canonicalFields is the ordered, serializable view of a HistoryEntry's
// non-signature fields. Field order is fixed so the signature is stable
// across Go map-iteration nondeterminism and struct-field reordering.
type canonicalFields struct {
	ApprovalRequestID string         `json:"approval_request_id"`
	Action            string         `json:"action"`
	ActorID           string         `json:"actor_id"`
	ActorName         string         `json:"actor_name"`
	ActorRole         string         `json:"actor_role"`
	TimestampUnixNano int64          `json:"timestamp_unix_nano"`
	Details           map[string]any `json:"details,omitempty"`
	PreviousStatus    string         `json:"previous_status"`
	NewStatus         string         `json:"new_status"`
}

func canonicalize(entry *approval.HistoryEntry) ([]byte, error) {
	cf := canonicalFields{
		ApprovalRequestID: entry.ApprovalRequestID,
		Action:            string(entry.Action),
		ActorID:           entry.ActorID,
		ActorName:         entry.ActorName,
		ActorRole:         string(entry.ActorRole),
		TimestampUnixNano: entry.Timestamp.UTC().UnixNano(),
		Details:           sortedCopy(entry.Details),
		PreviousStatus:    string(entry.PreviousStatus),
		NewStatus:         string(entry.NewStatus),
	}
	return json.Marshal(cf)
}

// sortedCopy returns a copy of m; json.Marshal already sorts map keys for
// map[string]any, but an explicit copy keeps this function's contract
// independent of that encoding/json implementation detail.
func sortedCopy(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(m))
	for _, k := range keys {
		out[k] = m[k]
	}
	return out
}

// Sign computes the signature for entry. Callers pass this as the sign
// callback into authstore's Create/Transition methods.
func (s *Signer) Sign(entry *approval.HistoryEntry) []byte {
	canon, err := canonicalize(entry)
	if err != nil {
		// canonicalFields is built entirely from this package's own types;
		// a marshal failure here indicates a programming error, not a
		// runtime condition callers can recover from.
		panic(fmt.Sprintf("audit: canonicalize history entry: %v", err))
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(canon)
	return mac.Sum(nil)
}

// Verify recomputes entry's signature and reports whether it matches
// entry.Signature, in constant time.
func (s *Signer) Verify(entry *approval.HistoryEntry) bool {
	want := s.Sign(entry)
	return subtle.ConstantTimeCompare(want, entry.Signature) == 1
}

// VerifyHistory recomputes signatures for a batch of entries and returns
// the indices of any that fail verification -- the verify_history(range)
// operation. An empty result means the entire range is intact.
func (s *Signer) VerifyHistory(entries []*approval.HistoryEntry) []int {
	var mismatches []int
	for i, e := range entries {
		if !s.Verify(e) {
			mismatches = append(mismatches, i)
		}
	}
	return mismatches
}
