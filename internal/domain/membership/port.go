package membership

import (
	"context"
	"errors"
)

// ErrNoAddress means the user has no email on file.
var ErrNoAddress = errors.New("no email address")

// Directory answers workspace membership. Membership itself is managed by the
// tenant service; this side only reads it.
type Directory interface {
	Members(ctx context.Context, workspaceID string) ([]string, error)
	IsMember(ctx context.Context, workspaceID, userID string) (bool, error)
}

// AddressBook resolves a user's email address for the email channel.
type AddressBook interface {
	EmailOf(ctx context.Context, userID string) (string, error)
}
