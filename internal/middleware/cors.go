package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// The upload surface only serves GET and POST; uploads send multipart
// bodies, everything else is JSON.
const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Content-Type, X-Request-Id"
	corsExposeHeader = "X-Request-Id"
	corsMaxAge       = "600"
)

// CORS allows browser clients from the listed origins; an empty
// allowlist opens the surface to any origin.
func CORS(allowlist []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowlist))
	for _, origin := range allowlist {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}
	allowAll := len(allowed) == 0
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			header := c.Writer.Header()
			switch {
			case allowAll:
				header.Set("Access-Control-Allow-Origin", "*")
			default:
				if _, ok := allowed[origin]; !ok {
					if c.Request.Method == http.MethodOptions {
						c.AbortWithStatus(http.StatusNoContent)
						return
					}
					c.Next()
					return
				}
				header.Set("Access-Control-Allow-Origin", origin)
				header.Add("Vary", "Origin")
			}
			header.Set("Access-Control-Allow-Methods", corsAllowMethods)
			header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			header.Set("Access-Control-Expose-Headers", corsExposeHeader)
			header.Set("Access-Control-Max-Age", corsMaxAge)
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
