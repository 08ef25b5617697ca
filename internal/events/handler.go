package events

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/auth"
)

// RegisterRoutes exposes the event stream. Anonymous subscribers are accepted
// since events only carry public contract state.
func (h *Hub) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/events/ws", func(c *gin.Context) {
		caller, _ := auth.CallerFromContext(c)
		if err := h.HandleConnection(c.Writer, c.Request, caller); err != nil {
			h.logger.Warn("Websocket connection refused", zap.Error(err))
		}
	})
}
