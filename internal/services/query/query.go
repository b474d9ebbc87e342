// Package query serves the recipient's notification feed with keyset
// pagination over (created_at desc, id desc).
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NordCoder/Herald/internal/access"
	"github.com/NordCoder/Herald/internal/clock"
	"github.com/NordCoder/Herald/internal/domain"
	"github.com/NordCoder/Herald/internal/domain/audit"
	"github.com/NordCoder/Herald/internal/domain/notification"
)

var ErrInvalidFilter = errors.New("invalid list filter")

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type ListRequest struct {
	UserID          string
	WorkspaceID     string
	PageSize        int
	Cursor          string
	UnreadOnly      bool
	Category        string
	Priority        string
	IncludeArchived bool
}

type Page struct {
	Items      []*notification.Notification `json:"items"`
	NextCursor string                       `json:"next_cursor,omitempty"`
	HasMore    bool                         `json:"has_more"`
}

type Service struct {
	repo  notification.Repo
	audit audit.Repo
	tx    domain.Transactor
	auth  access.Authorizer
	clock clock.Clock
	log   *zap.Logger
}

func New(repo notification.Repo, auditRepo audit.Repo, tx domain.Transactor, auth access.Authorizer, clk clock.Clock, log *zap.Logger) *Service {
	return &Service{
		repo:  repo,
		audit: auditRepo,
		tx:    tx,
		auth:  auth,
		clock: clk,
		log:   log.With(zap.String("component", "query")),
	}
}

func (s *Service) List(ctx context.Context, req ListRequest) (Page, error) {
	f, err := s.filter(ctx, req)
	if err != nil {
		return Page{}, err
	}
	pageSize := f.Limit
	f.Limit = pageSize + 1

	rows, err := s.repo.List(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("list: %w", err)
	}

	page := Page{Items: rows}
	if len(rows) > pageSize {
		page.Items = rows[:pageSize]
		page.HasMore = true
	}
	if page.HasMore {
		page.NextCursor = notification.CursorOf(page.Items[len(page.Items)-1]).Encode()
	}
	if page.Items == nil {
		page.Items = []*notification.Notification{}
	}
	return page, nil
}

func (s *Service) filter(ctx context.Context, req ListRequest) (notification.ListFilter, error) {
	if req.UserID == "" {
		return notification.ListFilter{}, fmt.Errorf("%w: anonymous caller", notification.ErrForbidden)
	}
	if req.WorkspaceID != "" {
		if err := s.auth.RequireMember(ctx, req.WorkspaceID, req.UserID); err != nil {
			return notification.ListFilter{}, err
		}
	}

	f := notification.ListFilter{
		RecipientID:     req.UserID,
		WorkspaceID:     req.WorkspaceID,
		UnreadOnly:      req.UnreadOnly,
		IncludeArchived: req.IncludeArchived,
		Limit:           clampPageSize(req.PageSize),
	}

	after, err := notification.DecodeCursor(req.Cursor)
	if err != nil {
		return notification.ListFilter{}, err
	}
	f.After = after

	if req.Category != "" {
		c, ok := notification.ParseCategory(req.Category)
		if !ok {
			return notification.ListFilter{}, fmt.Errorf("%w: category %q", ErrInvalidFilter, req.Category)
		}
		f.Category = c
	}
	if req.Priority != "" {
		p, ok := notification.ParsePriority(req.Priority)
		if !ok {
			return notification.ListFilter{}, fmt.Errorf("%w: %v", ErrInvalidFilter, notification.ErrInvalidPriority)
		}
		f.Priority = &p
	}
	return f, nil
}

func clampPageSize(n int) int {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n > MaxPageSize:
		return MaxPageSize
	default:
		return n
	}
}

func (s *Service) UnreadCount(ctx context.Context, userID, workspaceID string) (int, error) {
	if workspaceID != "" {
		if err := s.auth.RequireMember(ctx, workspaceID, userID); err != nil {
			return 0, err
		}
	}
	n, err := s.repo.UnreadCount(ctx, userID, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

// Delete removes one of the user's notifications, but only once it is read.
// Unread rows leave only through expiry.
func (s *Service) Delete(ctx context.Context, id, userID string) (bool, error) {
	var deleted bool
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		n, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if n.RecipientID != userID {
			return notification.ErrNotFound
		}
		if !n.Read {
			return fmt.Errorf("%w: unread notifications cannot be deleted", notification.ErrInvalidTransition)
		}
		ok, err := s.repo.DeleteRead(ctx, id, userID)
		if err != nil || !ok {
			return err
		}
		deleted = true
		return s.audit.Append(ctx, &audit.Entry{
			ID:             uuid.NewString(),
			NotificationID: n.ID,
			WorkspaceID:    n.WorkspaceID,
			Action:         audit.ActionDeleted,
			PrevStatus:     n.Status,
			Actor:          userID,
			CreatedAt:      s.clock.Now(),
		})
	})
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	return deleted, nil
}

// Get returns one notification of the user.
func (s *Service) Get(ctx context.Context, id, userID string) (*notification.Notification, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if n.RecipientID != userID {
		return nil, fmt.Errorf("get %s: %w", id, notification.ErrNotFound)
	}
	return n, nil
}
