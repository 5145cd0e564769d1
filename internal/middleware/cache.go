package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// CacheControl marks read-mostly authenticated responses as privately
// cacheable. The exam catalog changes rarely once published; letting the
// browser hold it briefly cuts polling load without a shared-cache risk.
func CacheControl(maxAgeSeconds int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", fmt.Sprintf("private, max-age=%d", maxAgeSeconds))
		c.Next()
	}
}
