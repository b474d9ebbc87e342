// Package memory implements every storage port in process. It backs unit
// tests and local single-node runs; state is lost on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/Herald/internal/domain"
	"github.com/NordCoder/Herald/internal/domain/audit"
	"github.com/NordCoder/Herald/internal/domain/notification"
	"github.com/NordCoder/Herald/internal/domain/preference"
)

type prefKey struct{ user, workspace string }

type rateKey struct {
	workspace string
	window    time.Time
}

type dedupeKey struct{ recipient, key string }

// Store holds all tables behind one lock, so every method is atomic the way a
// single SQL statement is.
type Store struct {
	mu sync.Mutex

	notifications map[string]*notification.Notification
	dedupe        map[dedupeKey]string
	prefs         map[prefKey]*preference.Preference
	counters      map[rateKey]int
	audit         []*audit.Entry
	members       map[string][]string
	emails        map[string]string

	// txMu serialises WithTx bodies. It is separate from mu so a body can call
	// any repo method.
	txMu sync.Mutex
}

func New() *Store {
	return &Store{
		notifications: make(map[string]*notification.Notification),
		dedupe:        make(map[dedupeKey]string),
		prefs:         make(map[prefKey]*preference.Preference),
		counters:      make(map[rateKey]int),
		members:       make(map[string][]string),
		emails:        make(map[string]string),
	}
}

func (s *Store) Notifications() *NotificationRepo { return &NotificationRepo{s: s} }
func (s *Store) Preferences() *PreferenceRepo     { return &PreferenceRepo{s: s} }
func (s *Store) RateLimits() *RateLimitRepo       { return &RateLimitRepo{s: s} }
func (s *Store) Audit() *AuditRepo                { return &AuditRepo{s: s} }
func (s *Store) Directory() *Directory            { return &Directory{s: s} }
func (s *Store) Transactor() *Transactor          { return &Transactor{s: s} }

type txKey struct{}

var _ domain.Transactor = (*Transactor)(nil)

// Transactor gives WithTx bodies mutual exclusion. There is no rollback:
// writes made before an error stay.
type Transactor struct{ s *Store }

func (t *Transactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	t.s.txMu.Lock()
	defer t.s.txMu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, struct{}{}))
}
