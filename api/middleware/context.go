package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/customeros/rfqstack/internal/utils"
)

const OperatorHeader = "X-RFQSTACK-OPERATOR"

// CustomContextMiddleware adds the app source and the calling operator to the request context
func CustomContextMiddleware(appSource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if operator := strings.TrimSpace(c.GetHeader(OperatorHeader)); operator != "" {
			c.Set("Operator", operator)
		}
		ctx := utils.WithCustomContextFromGinRequest(c, appSource)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
