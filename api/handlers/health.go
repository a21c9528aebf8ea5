package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/customeros/rfqstack/interfaces"
)

type PollerStatusProvider interface {
	Status() interfaces.PollerStatus
}

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Status returns the mailbox poller status. A halted poller answers 503 so probes notice it.
func Status(poller PollerStatusProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := poller.Status()
		code := http.StatusOK
		if status.Halted {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	}
}
