package postgres

import (
	"context"
	"fmt"

	"github.com/NordCoder/Herald/internal/domain/membership"
)

var _ membership.Directory = (*MembershipRepo)(nil)

// MembershipRepo reads workspace_members, which the tenant service owns.
type MembershipRepo struct{ db *DB }

func NewMembershipRepo(db *DB) *MembershipRepo { return &MembershipRepo{db: db} }

const (
	qMembers  = `SELECT user_id FROM workspace_members WHERE workspace_id = $1 ORDER BY user_id;`
	qIsMember = `SELECT EXISTS (SELECT 1 FROM workspace_members WHERE workspace_id = $1 AND user_id = $2);`
)

func (r *MembershipRepo) Members(ctx context.Context, workspaceID string) ([]string, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qMembers, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *MembershipRepo) IsMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var ok bool
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qIsMember, workspaceID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("is member: %w", err)
	}
	return ok, nil
}
