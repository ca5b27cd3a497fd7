package viewer

import (
	"github.com/gin-gonic/gin"

	"github.com/gaslight/leakview/internal/middleware"
	"github.com/gaslight/leakview/internal/realtime"
	"github.com/gaslight/leakview/internal/sessionlog"
)

// Mount registers the page, the websocket and the session API on r.
func (h *Handler) Mount(r gin.IRouter, attempts *sessionlog.Handler) {
	r.GET("/", Page)
	r.POST("/sessions", h.Create)

	// Session routes (bearer token scoped to :id)
	s := r.Group("/sessions/:id")
	s.Use(middleware.JWT(h.jwt))
	{
		s.GET("", h.Get)
		s.PUT("/file", h.SelectFile)
		s.POST("/submit", h.Submit)
		s.POST("/cancel", h.Cancel)
		s.GET("/rows", h.Rows)
		s.POST("/rows/:index/activate", h.ActivateRow)
		s.DELETE("", h.Delete)
		if attempts != nil {
			s.GET("/attempts", attempts.List)
		}
	}

	// WebSocket (token in query; no Authorization header required)
	r.GET("/ws", realtime.ServeWs(h.hub, h.logger, h.PageHooks()))
}
