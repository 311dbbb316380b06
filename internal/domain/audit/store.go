package audit

import (
	"context"
	"errors"
	"time"
)

// ErrDateRangeExceeded is returned when a Query's date range exceeds the
// maximum allowed span for a single request.
var ErrDateRangeExceeded = errors.New("audit: date range exceeds maximum of 7 days")

// Store persists audit events. Append must be durable before it returns --
// the calling path treats a failed Append as a fatal error, never a
// silently dropped record.
type Store interface {
	// Append stores events. Must be non-blocking beyond the durability
	// guarantee above; batched writes are an acceptable implementation.
	Append(ctx context.Context, events ...Event) error

	// Flush forces pending events to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// QueryStore provides read access to the audit trail.
type QueryStore interface {
	// Query retrieves events matching filter, newest first, returning the
	// next page's cursor (empty if no more pages). Returns
	// ErrDateRangeExceeded if EndTime - StartTime exceeds 7 days.
	Query(ctx context.Context, filter Filter) ([]Event, string, error)

	// QueryStats returns per-kind counts for a time range.
	QueryStats(ctx context.Context, start, end time.Time) (*KindStats, error)
}
