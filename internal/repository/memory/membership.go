package memory

import (
	"context"
	"slices"

	"github.com/NordCoder/Herald/internal/domain/membership"
)

var (
	_ membership.Directory   = (*Directory)(nil)
	_ membership.AddressBook = (*Directory)(nil)
)

// Directory serves both membership and email lookups.
type Directory struct{ s *Store }

// AddMember is how tests and local runs seed workspaces.
func (d *Directory) AddMember(workspaceID string, userIDs ...string) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	for _, u := range userIDs {
		if !slices.Contains(d.s.members[workspaceID], u) {
			d.s.members[workspaceID] = append(d.s.members[workspaceID], u)
		}
	}
}

func (d *Directory) RemoveMember(workspaceID, userID string) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	d.s.members[workspaceID] = slices.DeleteFunc(d.s.members[workspaceID], func(u string) bool { return u == userID })
}

func (d *Directory) SetEmail(userID, email string) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	d.s.emails[userID] = email
}

func (d *Directory) Members(_ context.Context, workspaceID string) ([]string, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	out := slices.Clone(d.s.members[workspaceID])
	slices.Sort(out)
	return out, nil
}

func (d *Directory) IsMember(_ context.Context, workspaceID, userID string) (bool, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	return slices.Contains(d.s.members[workspaceID], userID), nil
}

func (d *Directory) EmailOf(_ context.Context, userID string) (string, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	e, ok := d.s.emails[userID]
	if !ok || e == "" {
		return "", membership.ErrNoAddress
	}
	return e, nil
}
