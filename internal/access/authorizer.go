// Package access checks the acting user against workspace membership before
// a service touches workspace data.
package access

import (
	"context"
	"fmt"

	"github.com/NordCoder/Herald/internal/domain/membership"
	"github.com/NordCoder/Herald/internal/domain/notification"
)

type Authorizer interface {
	// RequireMember fails with notification.ErrForbidden unless userID
	// belongs to workspaceID.
	RequireMember(ctx context.Context, workspaceID, userID string) error
}

type MembershipAuthorizer struct {
	dir membership.Directory
}

func NewMembershipAuthorizer(dir membership.Directory) *MembershipAuthorizer {
	return &MembershipAuthorizer{dir: dir}
}

func (a *MembershipAuthorizer) RequireMember(ctx context.Context, workspaceID, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: anonymous caller", notification.ErrForbidden)
	}
	ok, err := a.dir.IsMember(ctx, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s in %s", notification.ErrForbidden, userID, workspaceID)
	}
	return nil
}
