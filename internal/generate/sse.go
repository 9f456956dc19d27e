package generate

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// EventsHandler は GET /api/generate/:id/events のハンドラーを返します。
// Server-Sent Events で公開ビューを配信し、終端状態で閉じます。
func EventsHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-store")
		c.Header("Connection", "keep-alive")
		c.Writer.WriteHeader(http.StatusOK)
		c.Writer.Flush()

		_ = svc.Watch(c.Request.Context(), c.Param("id"), PollInterval, func(event *StreamEvent) error {
			if err := c.Request.Context().Err(); err != nil {
				return err
			}
			c.SSEvent("message", event)
			c.Writer.Flush()
			return nil
		})
	}
}
