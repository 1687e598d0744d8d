package events

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

// GinHandlers streams broker events over server sent events.
type GinHandlers struct {
	broker    *Broker
	keepAlive time.Duration
}

func NewGinHandlers(broker *Broker) *GinHandlers {
	return &GinHandlers{
		broker:    broker,
		keepAlive: 15 * time.Second,
	}
}

// StreamHandler handles GET requests for an account's event stream
// URL parameter: account_id
func (h *GinHandlers) StreamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")

		sub := h.broker.Subscribe(accountID)
		defer sub.Cancel()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()

		c.Stream(func(w io.Writer) bool {
			select {
			case <-c.Request.Context().Done():
				return false
			case e, ok := <-sub.C:
				if !ok {
					return false
				}
				c.SSEvent(string(e.Type), e)
				return true
			case <-ticker.C:
				c.SSEvent("ping", gin.H{"timestamp": time.Now()})
				return true
			}
		})
	}
}
