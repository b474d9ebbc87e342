package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Herald/internal/domain/membership"
)

var _ membership.AddressBook = (*UserRepo)(nil)

type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const qUserEmail = `
SELECT email
FROM users
WHERE id = $1;`

func (r *UserRepo) EmailOf(ctx context.Context, userID string) (string, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var email string
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qUserEmail, userID).Scan(&email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", membership.ErrNoAddress
		}
		return "", fmt.Errorf("user email: %w", err)
	}
	if email == "" {
		return "", membership.ErrNoAddress
	}
	return email, nil
}
