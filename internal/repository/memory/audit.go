package memory

import (
	"context"
	"sort"
	"time"

	"github.com/NordCoder/Herald/internal/domain/audit"
)

var _ audit.Repo = (*AuditRepo)(nil)

type AuditRepo struct{ s *Store }

func (r *AuditRepo) Append(_ context.Context, e *audit.Entry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cp := *e
	r.s.audit = append(r.s.audit, &cp)
	return nil
}

func (r *AuditRepo) ListByNotification(_ context.Context, notificationID string) ([]*audit.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*audit.Entry
	for _, e := range r.s.audit {
		if e.NotificationID == notificationID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// All returns every entry in append order.
func (r *AuditRepo) All() []*audit.Entry {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]*audit.Entry, 0, len(r.s.audit))
	for _, e := range r.s.audit {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

func (r *AuditRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	kept := r.s.audit[:0]
	var c int64
	for _, e := range r.s.audit {
		if e.CreatedAt.Before(cutoff) {
			c++
			continue
		}
		kept = append(kept, e)
	}
	r.s.audit = kept
	return c, nil
}
