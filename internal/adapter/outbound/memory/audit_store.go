// Package memory provides in-memory outbound adapter implementations,
// used in place of the durable sqlite/file-backed adapters for development
// mode and for tests that want a real audit.Store without file I/O.
package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sentinel-gate/broker/internal/domain/audit"
)

const defaultRecentCap = 1000

// AuditStore implements audit.Store and audit.QueryStore with a bounded
// in-memory ring buffer. Every appended event is also JSON-encoded to an
// underlying writer (stdout by default), so a developer running with
// --dev still sees a live audit feed without the file rotation/retention
// machinery audit.FileStore carries for production use.
type AuditStore struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
	recent  []audit.Event
	cap     int
}

func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return defaultRecentCap
}

// NewAuditStore creates an audit store writing events to stdout.
func NewAuditStore(capacity ...int) *AuditStore {
	return NewAuditStoreWithWriter(os.Stdout, capacity...)
}

// NewAuditStoreWithWriter creates an audit store writing events to w.
func NewAuditStoreWithWriter(w io.Writer, capacity ...int) *AuditStore {
	cap := resolveCapacity(capacity...)
	return &AuditStore{
		encoder: json.NewEncoder(w),
		writer:  w,
		recent:  make([]audit.Event, 0, cap),
		cap:     cap,
	}
}

// Append implements audit.Store.
func (s *AuditStore) Append(ctx context.Context, events ...audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if err := s.encoder.Encode(e); err != nil {
			return err
		}
		if len(s.recent) >= s.cap {
			copy(s.recent, s.recent[1:])
			s.recent[len(s.recent)-1] = e
		} else {
			s.recent = append(s.recent, e)
		}
	}
	return nil
}

// Flush is a no-op: Append is unbuffered.
func (s *AuditStore) Flush(ctx context.Context) error {
	return nil
}

// Close closes the underlying writer, unless it is stdout/stderr.
func (s *AuditStore) Close() error {
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// Query implements audit.QueryStore against the in-memory ring buffer.
// It never returns ErrDateRangeExceeded -- the 7-day cap is a production
// storage-cost concern that doesn't apply to a bounded ring buffer.
func (s *AuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Event, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var result []audit.Event
	for i := len(s.recent) - 1; i >= 0 && len(result) < limit; i-- {
		e := s.recent[i]
		if !filter.StartTime.IsZero() && e.Timestamp.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && e.Timestamp.After(filter.EndTime) {
			continue
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if filter.Target != "" && e.Target != filter.Target {
			continue
		}
		if filter.ActorID != "" && e.ActorID != filter.ActorID {
			continue
		}
		result = append(result, e)
	}
	return result, "", nil
}

// QueryStats implements audit.QueryStore.
func (s *AuditStore) QueryStats(ctx context.Context, start, end time.Time) (*audit.KindStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &audit.KindStats{}
	for _, e := range s.recent {
		if !start.IsZero() && e.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && e.Timestamp.After(end) {
			continue
		}
		switch e.Kind {
		case audit.KindAttempt:
			stats.Attempt++
		case audit.KindSuccess:
			stats.Success++
		case audit.KindDenied:
			stats.Denied++
		case audit.KindFailure:
			stats.Failure++
		case audit.KindSecurity:
			stats.Security++
		}
	}
	return stats, nil
}

var (
	_ audit.Store      = (*AuditStore)(nil)
	_ audit.QueryStore = (*AuditStore)(nil)
)
