// Package validation provides input validation middleware and helpers for
// the API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB).
const MaxRequestSize = 1 << 20

// MaxStringLength is the maximum length for free-text string fields.
const MaxStringLength = 10000

// idRegex matches the prefixed IDs idgen produces (e.g. pay_1a2b...).
var idRegex = regexp.MustCompile(`^[a-z]{2,5}_[a-f0-9]{24}$`)

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID checks whether a string looks like one of our entity IDs.
func IsValidID(s string) bool {
	return idRegex.MatchString(s)
}

// SanitizeString trims, bounds, and strips null bytes from free text.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// IDParamMiddleware rejects malformed :id URL parameters early, before any
// handler runs a lookup on them.
func IDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_id",
				"message": "id must be a prefixed entity id",
			})
			return
		}
		c.Next()
	}
}
