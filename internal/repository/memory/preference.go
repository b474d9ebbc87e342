package memory

import (
	"context"

	"github.com/NordCoder/Herald/internal/domain/preference"
)

var _ preference.Repo = (*PreferenceRepo)(nil)

type PreferenceRepo struct{ s *Store }

func (r *PreferenceRepo) Get(_ context.Context, userID, workspaceID string) (*preference.Preference, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.prefs[prefKey{userID, workspaceID}]
	if !ok {
		return nil, preference.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *PreferenceRepo) CreateIfMissing(_ context.Context, p *preference.Preference) (*preference.Preference, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	k := prefKey{p.UserID, p.WorkspaceID}
	if cur, ok := r.s.prefs[k]; ok {
		cp := *cur
		return &cp, nil
	}
	stored := *p
	stored.Persisted = true
	r.s.prefs[k] = &stored
	cp := stored
	return &cp, nil
}

func (r *PreferenceRepo) Upsert(_ context.Context, p *preference.Preference) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	k := prefKey{p.UserID, p.WorkspaceID}
	stored := *p
	if cur, ok := r.s.prefs[k]; ok {
		stored.CreatedAt = cur.CreatedAt
	}
	stored.Persisted = true
	r.s.prefs[k] = &stored
	p.CreatedAt = stored.CreatedAt
	p.Persisted = true
	return nil
}
