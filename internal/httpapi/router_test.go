package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Herald/internal/access"
	"github.com/NordCoder/Herald/internal/clock"
	"github.com/NordCoder/Herald/internal/domain/notification"
	"github.com/NordCoder/Herald/internal/domain/preference"
	"github.com/NordCoder/Herald/internal/repository/memory"
	"github.com/NordCoder/Herald/internal/services/delivery"
	"github.com/NordCoder/Herald/internal/services/fanout"
	"github.com/NordCoder/Herald/internal/services/limiter"
	"github.com/NordCoder/Herald/internal/services/query"
	"github.com/NordCoder/Herald/internal/services/resolver"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope[T any] struct {
	Success bool       `json:"success"`
	Data    T          `json:"data"`
	Error   *ErrorInfo `json:"error"`
}

type server struct {
	t      *testing.T
	router *gin.Engine
	st     *memory.Store
}

func newServer(t *testing.T) *server {
	t.Helper()
	st := memory.New()
	st.Directory().AddMember("ws1", "alice", "bob")
	st.Directory().AddMember("ws2", "carol")

	clk := clock.NewManual(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	res := resolver.New(st.Preferences(), st.Transactor(), clk, log)
	auth := access.NewMembershipAuthorizer(st.Directory())

	eng := fanout.New(fanout.Deps{
		Notifications: st.Notifications(),
		Audit:         st.Audit(),
		Directory:     st.Directory(),
		Limiter:       limiter.New(st.RateLimits(), clk),
		Resolver:      res,
		Tx:            st.Transactor(),
		Clock:         clk,
		Log:           log,
	}, 100)
	machine := delivery.New(delivery.Deps{
		Notifications: st.Notifications(),
		Audit:         st.Audit(),
		Tx:            st.Transactor(),
		Clock:         clk,
		Log:           log,
	}, delivery.Config{})
	feed := query.New(st.Notifications(), st.Audit(), st.Transactor(), auth, clk, log)

	r := NewRouter(Deps{
		Dispatcher:  eng,
		Feed:        feed,
		Lifecycle:   machine,
		Preferences: res,
		Auth:        auth,
		Log:         log,
	})
	return &server{t: t, router: r, st: st}
}

func (s *server) do(method, path, user string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

type idsData struct {
	IDs []string `json:"ids"`
}

type changedData struct {
	Changed int `json:"changed"`
}

type flagData struct {
	Changed bool `json:"changed"`
}

func (s *server) dispatch(user string, body map[string]any) []string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/v1/workspaces/ws1/dispatch", user, body)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[idsData](s.t, rec).Data.IDs
}

func TestIdentityRequired(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodGet, "/v1/notifications", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	env := decode[any](t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, ErrUnauthorized.Code, env.Error.Code)
}

func TestDispatchAndList(t *testing.T) {
	s := newServer(t)
	ids := s.dispatch("alice", map[string]any{
		"event_type": "deal_won",
		"title":      "Deal closed",
		"priority":   "high",
		"exclude":    []string{"alice"},
	})
	require.Len(t, ids, 1)

	rec := s.do(http.MethodGet, "/v1/notifications?workspace_id=ws1&category=deals", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[query.Page](t, rec).Data
	require.Len(t, page.Items, 1)
	assert.Equal(t, ids[0], page.Items[0].ID)
	assert.Equal(t, notification.CategoryDeals, page.Items[0].Category)
	assert.Equal(t, notification.PriorityHigh, page.Items[0].Priority)
	assert.False(t, page.HasMore)

	rec = s.do(http.MethodGet, "/v1/notifications?workspace_id=ws1&category=tasks", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[query.Page](t, rec).Data.Items)

	rec = s.do(http.MethodGet, "/v1/notifications", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[query.Page](t, rec).Data.Items, "excluded actor gets nothing")
}

func TestDispatchErrors(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/v1/workspaces/ws1/dispatch", "carol", map[string]any{
		"event_type": "mention", "title": "hi",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/v1/workspaces/ws1/dispatch", "alice", map[string]any{"title": "no type"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/v1/workspaces/ws1/dispatch", "alice", map[string]any{
		"event_type": "mention", "title": "hi", "priority": "critical",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLifecycleRoutes(t *testing.T) {
	s := newServer(t)
	ids := s.dispatch("alice", map[string]any{
		"event_type": "mention", "title": "ping", "recipients": []string{"bob"},
	})
	require.Len(t, ids, 1)
	id := ids[0]

	rec := s.do(http.MethodPost, "/v1/notifications/"+id+"/ack", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "only the recipient may act")

	rec = s.do(http.MethodDelete, "/v1/notifications/"+id, "bob", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "unread rows are not deletable")

	rec = s.do(http.MethodPost, "/v1/notifications/"+id+"/ack", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[flagData](t, rec).Data.Changed)

	rec = s.do(http.MethodGet, "/v1/notifications/"+id, "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	n := decode[notification.Notification](t, rec).Data
	assert.Equal(t, notification.StatusAcknowledged, n.Status)
	assert.True(t, n.Read)

	rec = s.do(http.MethodDelete, "/v1/notifications/"+id, "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/v1/notifications/"+id, "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadAllAndUnreadCount(t *testing.T) {
	s := newServer(t)
	for i := 0; i < 3; i++ {
		s.dispatch("alice", map[string]any{"event_type": "task_updated", "title": "t", "recipients": []string{"bob"}})
	}

	rec := s.do(http.MethodGet, "/v1/notifications/unread-count?workspace_id=ws1", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[map[string]int](t, rec).Data["unread"])

	rec = s.do(http.MethodPost, "/v1/notifications/read-all?workspace_id=ws1", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[changedData](t, rec).Data.Changed)

	rec = s.do(http.MethodGet, "/v1/notifications/unread-count", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[map[string]int](t, rec).Data["unread"])

	rec = s.do(http.MethodPost, "/v1/notifications/read-all?workspace_id=ws2", "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListRejectsBadInput(t *testing.T) {
	s := newServer(t)
	for _, q := range []string{"cursor=!!", "page_size=ten", "category=gossip", "priority=critical"} {
		rec := s.do(http.MethodGet, "/v1/notifications?"+q, "bob", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	rec := s.do(http.MethodGet, "/v1/notifications?workspace_id=ws2", "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPreferences(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodGet, "/v1/preferences?workspace_id=ws1", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p := decode[preference.Preference](t, rec).Data
	assert.True(t, p.InApp)
	assert.True(t, p.Topics.DealWon)

	rec = s.do(http.MethodPatch, "/v1/preferences?workspace_id=ws1", "bob", map[string]any{
		"notify_deal_won":     false,
		"quiet_hours_start":   "21:30",
		"quiet_hours_enabled": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p = decode[preference.Preference](t, rec).Data
	assert.False(t, p.Topics.DealWon)
	assert.True(t, p.Quiet.Enabled)
	assert.Equal(t, preference.ClockTime{Hour: 21, Minute: 30}, p.Quiet.Start)
	assert.Equal(t, "ws1", p.WorkspaceID)

	ids := s.dispatch("alice", map[string]any{"event_type": "deal_won", "title": "won", "recipients": []string{"bob"}})
	assert.Empty(t, ids, "opted-out category creates nothing")

	rec = s.do(http.MethodPatch, "/v1/preferences", "bob", map[string]any{"email_digest": "hourly"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/v1/preferences?workspace_id=ws2", "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodGet, "/v2/nothing", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFromError(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, FromError(notification.ErrForbidden).StatusCode)
	assert.Equal(t, http.StatusUnprocessableEntity, FromError(fanout.ErrInvalidWorkspace).StatusCode)
	assert.Equal(t, http.StatusBadRequest, FromError(query.ErrInvalidFilter).StatusCode)
	assert.Equal(t, http.StatusInternalServerError, FromError(assert.AnError).StatusCode)
	assert.Nil(t, FromError(nil))
}
