package preference

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("preference not found")
	ErrInvalidPatch = errors.New("invalid preference patch")
)

type Repo interface {
	// Get returns the row for exactly this scope; workspaceID "" is global.
	Get(ctx context.Context, userID, workspaceID string) (*Preference, error)
	// CreateIfMissing inserts p unless a row for its scope exists, then
	// returns the stored row.
	CreateIfMissing(ctx context.Context, p *Preference) (*Preference, error)
	Upsert(ctx context.Context, p *Preference) error
}
