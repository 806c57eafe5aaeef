package middleware

import (
	"github.com/gin-gonic/gin"
)

// SecurityHeaders adds various security headers to the response
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Protect against XSS
		c.Header("X-XSS-Protection", "1; mode=block")

		// Protect against content sniffing
		c.Header("X-Content-Type-Options", "nosniff")

		// Protect against clickjacking
		c.Header("X-Frame-Options", "DENY")

		// Referrer policy
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		c.Next()
	}
}
