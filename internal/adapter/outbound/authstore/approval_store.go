package authstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sentinel-gate/broker/internal/domain/approval"
	"github.com/sentinel-gate/broker/internal/domain/identity"
	"github.com/sentinel-gate/broker/internal/domain/policy"
)

// ErrNotFound is returned when an approval request id has no matching row.
var ErrNotFound = errors.New("authstore: approval request not found")

// ApprovalStore persists approval requests and their history. Every
// mutating method re-reads inside a serializable transaction and commits
// the new state together with its history entry atomically, per the
// Approval Engine's transition discipline.
type ApprovalStore struct {
	db *DB
}

func NewApprovalStore(db *DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

// Create inserts a new pending request together with its "created"
// history entry in one transaction.
func (s *ApprovalStore) Create(ctx context.Context, req *approval.Request, entry *approval.HistoryEntry, sign func(*approval.HistoryEntry) []byte) error {
	tx, err := s.db.BeginSerializable(ctx)
	if err != nil {
		return fmt.Errorf("authstore: create request: begin: %w", err)
	}
	defer tx.Rollback()

	if err := insertRequest(ctx, tx, req); err != nil {
		return err
	}
	if err := appendHistory(ctx, tx, entry, sign); err != nil {
		return err
	}
	return tx.Commit()
}

// Get reads a single request by id.
func (s *ApprovalStore) Get(ctx context.Context, id string) (*approval.Request, error) {
	return getRequestTx(ctx, s.db.DB, id)
}

// Transition runs fn against the persisted, freshly re-read request inside
// a serializable transaction: fn mutates req in place and returns the
// history entry to append, or an error to abort without any write. This is
// the single choke point every FSM transition (approve/reject/cancel/
// tick/execute) goes through, guaranteeing re-read-then-guard-then-write
// against the persisted state rather than a caller's stale copy.
func (s *ApprovalStore) Transition(ctx context.Context, id string, sign func(*approval.HistoryEntry) []byte, fn func(*approval.Request) (*approval.HistoryEntry, error)) error {
	tx, err := s.db.BeginSerializable(ctx)
	if err != nil {
		return fmt.Errorf("authstore: transition: begin: %w", err)
	}
	defer tx.Rollback()

	req, err := getRequestTx(ctx, tx, id)
	if err != nil {
		return err
	}

	entry, err := fn(req)
	if err != nil {
		return err
	}

	if err := updateRequest(ctx, tx, req); err != nil {
		return err
	}
	if err := appendHistory(ctx, tx, entry, sign); err != nil {
		return err
	}
	return tx.Commit()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRequest(ctx context.Context, q querier, req *approval.Request) error {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("authstore: marshal payload: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO approval_requests
			(id, request_type, requester_id, requester_name, request_payload, reason,
			 status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, string(req.RequestType), req.RequesterID, req.RequesterName, string(payload), req.Reason,
		string(req.Status), fmtTime(req.CreatedAt), fmtTime(req.ExpiresAt))
	if err != nil {
		return fmt.Errorf("authstore: insert request: %w", err)
	}
	return nil
}

func updateRequest(ctx context.Context, q querier, req *approval.Request) error {
	var execResult []byte
	if req.ExecutionResult != nil {
		var err error
		execResult, err = json.Marshal(req.ExecutionResult)
		if err != nil {
			return fmt.Errorf("authstore: marshal execution_result: %w", err)
		}
	}
	_, err := q.ExecContext(ctx, `
		UPDATE approval_requests SET
			status = ?, approved_by = ?, approved_by_name = ?, approved_at = ?,
			rejection_reason = ?, execution_result = ?, executed_at = ?, executed_by = ?
		WHERE id = ?`,
		string(req.Status), nullStr(req.ApprovedBy), nullStr(req.ApprovedByName), nullTime(req.ApprovedAt),
		nullStr(req.RejectionReason), nullBytes(execResult), nullTime(req.ExecutedAt), nullStr(req.ExecutedBy),
		req.ID)
	if err != nil {
		return fmt.Errorf("authstore: update request %s: %w", req.ID, err)
	}
	return nil
}

func getRequestTx(ctx context.Context, q querier, id string) (*approval.Request, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, request_type, requester_id, requester_name, request_payload, reason,
		       status, created_at, expires_at, approved_by, approved_by_name, approved_at,
		       rejection_reason, execution_result, executed_at, executed_by
		FROM approval_requests WHERE id = ?`, id)

	var (
		req                                      approval.Request
		requestType, status                      string
		payloadJSON, createdAt, expiresAt        string
		approvedBy, approvedByName, approvedAt   sql.NullString
		rejectionReason, executedAt, executedBy  sql.NullString
		execResult                               sql.NullString
	)
	err := row.Scan(&req.ID, &requestType, &req.RequesterID, &req.RequesterName, &payloadJSON, &req.Reason,
		&status, &createdAt, &expiresAt, &approvedBy, &approvedByName, &approvedAt,
		&rejectionReason, &execResult, &executedAt, &executedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("authstore: get request %s: %w", id, err)
	}

	req.RequestType = policy.OperationType(requestType)
	req.Status = approval.Status(status)
	req.CreatedAt = parseTime(createdAt)
	req.ExpiresAt = parseTime(expiresAt)
	req.ApprovedBy = approvedBy.String
	req.ApprovedByName = approvedByName.String
	req.RejectionReason = rejectionReason.String
	req.ExecutedBy = executedBy.String
	if approvedAt.Valid {
		t := parseTime(approvedAt.String)
		req.ApprovedAt = &t
	}
	if executedAt.Valid {
		t := parseTime(executedAt.String)
		req.ExecutedAt = &t
	}
	if err := json.Unmarshal([]byte(payloadJSON), &req.Payload); err != nil {
		return nil, fmt.Errorf("authstore: unmarshal payload for %s: %w", id, err)
	}
	if execResult.Valid {
		var r approval.ExecutionResult
		if err := json.Unmarshal([]byte(execResult.String), &r); err != nil {
			return nil, fmt.Errorf("authstore: unmarshal execution_result for %s: %w", id, err)
		}
		req.ExecutionResult = &r
	}
	return &req, nil
}

func appendHistory(ctx context.Context, q querier, entry *approval.HistoryEntry, sign func(*approval.HistoryEntry) []byte) error {
	var detailsJSON []byte
	if entry.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("authstore: marshal history details: %w", err)
		}
	}
	entry.Signature = sign(entry)

	_, err := q.ExecContext(ctx, `
		INSERT INTO approval_history
			(approval_request_id, action, actor_id, actor_name, actor_role, timestamp,
			 details, previous_status, new_status, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ApprovalRequestID, string(entry.Action), entry.ActorID, entry.ActorName, string(entry.ActorRole),
		fmtTime(entry.Timestamp), nullBytes(detailsJSON), string(entry.PreviousStatus), string(entry.NewStatus),
		entry.Signature)
	if err != nil {
		return fmt.Errorf("authstore: append history for %s: %w", entry.ApprovalRequestID, err)
	}
	return nil
}

// PendingExpired returns the ids of every pending request whose deadline
// has passed, for the sweeper to tick.
func (s *ApprovalStore) PendingExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM approval_requests WHERE status = 'pending' AND expires_at <= ?`,
		fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("authstore: pending expired: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("authstore: scan pending-expired id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HistoryRange returns every approval history entry whose timestamp falls
// in [from, to], ordered oldest first, for the audit signature-chain
// verification command. A zero from/to leaves that bound open.
func (s *ApprovalStore) HistoryRange(ctx context.Context, from, to time.Time) ([]*approval.HistoryEntry, error) {
	lo := "0000-01-01T00:00:00Z"
	if !from.IsZero() {
		lo = fmtTime(from)
	}
	hi := "9999-12-31T23:59:59.999999999Z"
	if !to.IsZero() {
		hi = fmtTime(to)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT approval_request_id, action, actor_id, actor_name, actor_role, timestamp,
		       details, previous_status, new_status, signature
		FROM approval_history
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, id ASC`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("authstore: history range: %w", err)
	}
	defer rows.Close()

	var entries []*approval.HistoryEntry
	for rows.Next() {
		var e approval.HistoryEntry
		var action, actorRole, ts, prevStatus, newStatus string
		var details sql.NullString
		if err := rows.Scan(&e.ApprovalRequestID, &action, &e.ActorID, &e.ActorName, &actorRole,
			&ts, &details, &prevStatus, &newStatus, &e.Signature); err != nil {
			return nil, fmt.Errorf("authstore: scan history row: %w", err)
		}
		e.Action = approval.Action(action)
		e.ActorRole = identity.Role(actorRole)
		e.Timestamp = parseTime(ts)
		e.PreviousStatus = approval.Status(prevStatus)
		e.NewStatus = approval.Status(newStatus)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("authstore: unmarshal history details: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

