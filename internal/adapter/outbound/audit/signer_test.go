package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-gate/broker/internal/domain/approval"
	"github.com/sentinel-gate/broker/internal/domain/identity"
)

func TestNewSigner_RejectsShortKey(t *testing.T) {
	_, err := NewSigner([]byte("too-short"))
	assert.Error(t, err)
}

func TestSigner_SignAndVerify(t *testing.T) {
	signer, err := NewSigner([]byte("a-sufficiently-long-test-hmac-key"))
	require.NoError(t, err)

	entry := &approval.HistoryEntry{
		ApprovalRequestID: "req-1",
		Action:            approval.ActionApproved,
		ActorID:           "bob",
		ActorName:         "Bob",
		ActorRole:         identity.RoleApprover,
		Timestamp:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		PreviousStatus:    approval.StatusPending,
		NewStatus:         approval.StatusApproved,
	}
	entry.Signature = signer.Sign(entry)

	assert.True(t, signer.Verify(entry))
}

func TestSigner_DetectsTamper(t *testing.T) {
	signer, err := NewSigner([]byte("a-sufficiently-long-test-hmac-key"))
	require.NoError(t, err)

	entry := &approval.HistoryEntry{
		ApprovalRequestID: "req-1",
		Action:            approval.ActionApproved,
		ActorID:           "bob",
		Timestamp:         time.Now(),
		PreviousStatus:    approval.StatusPending,
		NewStatus:         approval.StatusApproved,
	}
	entry.Signature = signer.Sign(entry)

	entry.NewStatus = approval.StatusExecuted // tamper after signing
	assert.False(t, signer.Verify(entry))
}

func TestSigner_VerifyHistory_ReportsMismatchIndices(t *testing.T) {
	signer, err := NewSigner([]byte("a-sufficiently-long-test-hmac-key"))
	require.NoError(t, err)

	good := &approval.HistoryEntry{ApprovalRequestID: "req-1", Action: approval.ActionCreated, Timestamp: time.Now()}
	good.Signature = signer.Sign(good)

	bad := &approval.HistoryEntry{ApprovalRequestID: "req-2", Action: approval.ActionCreated, Timestamp: time.Now()}
	bad.Signature = signer.Sign(bad)
	bad.ActorID = "tampered"

	mismatches := signer.VerifyHistory([]*approval.HistoryEntry{good, bad})
	assert.Equal(t, []int{1}, mismatches)
}
