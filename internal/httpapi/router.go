// Package httpapi exposes the notification engine over HTTP. The acting user
// arrives in the X-User-ID header set by the upstream gateway.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/NordCoder/Herald/internal/access"
	"github.com/NordCoder/Herald/internal/obs"
)

type Deps struct {
	Dispatcher  Dispatcher
	Feed        Feed
	Lifecycle   Lifecycle
	Preferences Preferences
	Auth        access.Authorizer
	Log         *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	log := d.Log.With(zap.String("component", "http"))
	h := &Handler{
		dispatch: d.Dispatcher,
		feed:     d.Feed,
		life:     d.Lifecycle,
		prefs:    d.Preferences,
		auth:     d.Auth,
	}

	r := gin.New()
	r.Use(Recovery(log), AccessLog(log))
	r.NoRoute(func(c *gin.Context) {
		fail(c, ErrNotFound.WithMessage("route "+c.Request.URL.Path+" not found"))
	})

	v1 := r.Group("/v1", Identity())
	{
		v1.POST("/workspaces/:ws/dispatch", h.Dispatch)

		n := v1.Group("/notifications")
		n.GET("", h.List)
		n.GET("/unread-count", h.UnreadCount)
		n.POST("/read-all", h.MarkAllRead)
		n.GET("/:id", h.Get)
		n.DELETE("/:id", h.Delete)
		n.POST("/:id/seen", h.mark(d.Lifecycle.MarkSeen))
		n.POST("/:id/ack", h.mark(d.Lifecycle.MarkAcknowledged))
		n.POST("/:id/read", h.mark(d.Lifecycle.MarkRead))

		v1.GET("/preferences", h.GetPreferences)
		v1.PATCH("/preferences", h.UpdatePreferences)
	}
	return r
}

// NewHandler wraps the router in server tracing.
func NewHandler(d Deps) http.Handler {
	return obs.HTTPHandler(NewRouter(d), "herald.api")
}
