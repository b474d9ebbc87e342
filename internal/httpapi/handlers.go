package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NordCoder/Herald/internal/access"
	"github.com/NordCoder/Herald/internal/domain/notification"
	"github.com/NordCoder/Herald/internal/domain/preference"
	"github.com/NordCoder/Herald/internal/services/fanout"
	"github.com/NordCoder/Herald/internal/services/query"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, req fanout.Request) ([]string, error)
}

type Feed interface {
	List(ctx context.Context, req query.ListRequest) (query.Page, error)
	Get(ctx context.Context, id, userID string) (*notification.Notification, error)
	UnreadCount(ctx context.Context, userID, workspaceID string) (int, error)
	Delete(ctx context.Context, id, userID string) (bool, error)
}

type Lifecycle interface {
	MarkSeen(ctx context.Context, id, userID string) (bool, error)
	MarkAcknowledged(ctx context.Context, id, userID string) (bool, error)
	MarkRead(ctx context.Context, id, userID string) (bool, error)
	MarkAllRead(ctx context.Context, userID, workspaceID string) (int, error)
}

type Preferences interface {
	GetEffectivePreferences(ctx context.Context, userID, workspaceID string) (preference.Preference, error)
	UpdatePreferences(ctx context.Context, userID, workspaceID string, patch preference.Patch) (preference.Preference, error)
}

type Handler struct {
	dispatch Dispatcher
	feed     Feed
	life     Lifecycle
	prefs    Preferences
	auth     access.Authorizer
}

type dispatchBody struct {
	EventType  string                     `json:"event_type" binding:"required"`
	Title      string                     `json:"title" binding:"required"`
	Body       string                     `json:"body"`
	Priority   string                     `json:"priority" binding:"omitempty,oneof=low normal high urgent"`
	Entity     *notification.LinkedEntity `json:"entity"`
	Recipients []string                   `json:"recipients"`
	Exclude    []string                   `json:"exclude"`
	DedupeKey  string                     `json:"dedupe_key"`
	ExpiresAt  *time.Time                 `json:"expires_at"`
}

// Dispatch fans an event out to the workspace. The caller must be a member.
func (h *Handler) Dispatch(c *gin.Context) {
	ctx := c.Request.Context()
	ws := c.Param("ws")

	var body dispatchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, ErrBadRequest.WithMessage(err.Error()).WithInternal(err))
		return
	}
	if err := h.auth.RequireMember(ctx, ws, userID(c)); err != nil {
		fail(c, err)
		return
	}
	prio, ok := notification.ParsePriority(body.Priority)
	if !ok {
		fail(c, notification.ErrInvalidPriority)
		return
	}

	ids, err := h.dispatch.Dispatch(ctx, fanout.Request{
		WorkspaceID: ws,
		EventType:   body.EventType,
		Title:       body.Title,
		Body:        body.Body,
		Priority:    prio,
		Entity:      body.Entity,
		Recipients:  body.Recipients,
		Exclude:     body.Exclude,
		ActorID:     userID(c),
		DedupeKey:   body.DedupeKey,
		ExpiresAt:   body.ExpiresAt,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	success(c, http.StatusCreated, gin.H{"ids": ids})
}

func (h *Handler) List(c *gin.Context) {
	size, err := intQuery(c, "page_size")
	if err != nil {
		fail(c, err)
		return
	}
	page, err := h.feed.List(c.Request.Context(), query.ListRequest{
		UserID:          userID(c),
		WorkspaceID:     c.Query("workspace_id"),
		PageSize:        size,
		Cursor:          c.Query("cursor"),
		UnreadOnly:      boolQuery(c, "unread_only"),
		Category:        c.Query("category"),
		Priority:        c.Query("priority"),
		IncludeArchived: boolQuery(c, "include_archived"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, page)
}

func (h *Handler) Get(c *gin.Context) {
	n, err := h.feed.Get(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, n)
}

func (h *Handler) UnreadCount(c *gin.Context) {
	n, err := h.feed.UnreadCount(c.Request.Context(), userID(c), c.Query("workspace_id"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"unread": n})
}

func (h *Handler) Delete(c *gin.Context) {
	ok, err := h.feed.Delete(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"deleted": ok})
}

type markFunc func(ctx context.Context, id, userID string) (bool, error)

func (h *Handler) mark(fn markFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		changed, err := fn(c.Request.Context(), c.Param("id"), userID(c))
		if err != nil {
			fail(c, err)
			return
		}
		success(c, http.StatusOK, gin.H{"changed": changed})
	}
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	ctx := c.Request.Context()
	ws := c.Query("workspace_id")
	if ws != "" {
		if err := h.auth.RequireMember(ctx, ws, userID(c)); err != nil {
			fail(c, err)
			return
		}
	}
	n, err := h.life.MarkAllRead(ctx, userID(c), ws)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"changed": n})
}

func (h *Handler) GetPreferences(c *gin.Context) {
	ctx := c.Request.Context()
	ws := c.Query("workspace_id")
	if ws != "" {
		if err := h.auth.RequireMember(ctx, ws, userID(c)); err != nil {
			fail(c, err)
			return
		}
	}
	p, err := h.prefs.GetEffectivePreferences(ctx, userID(c), ws)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, p)
}

func (h *Handler) UpdatePreferences(c *gin.Context) {
	ctx := c.Request.Context()
	ws := c.Query("workspace_id")

	var patch preference.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, ErrBadRequest.WithMessage(err.Error()).WithInternal(err))
		return
	}
	if ws != "" {
		if err := h.auth.RequireMember(ctx, ws, userID(c)); err != nil {
			fail(c, err)
			return
		}
	}
	p, err := h.prefs.UpdatePreferences(ctx, userID(c), ws, patch)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, p)
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ErrBadRequest.WithMessage(key + " must be an integer").WithInternal(err)
	}
	return v, nil
}

func boolQuery(c *gin.Context, key string) bool {
	v, _ := strconv.ParseBool(c.Query(key))
	return v
}
