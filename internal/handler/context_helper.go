package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// actorFromContext resolves the acting staff member for audit trails.
// Identity is asserted upstream by the platform gateway and forwarded in a
// header; an absent header falls back to a generic system actor.
func actorFromContext(c *gin.Context) string {
	actor := strings.TrimSpace(c.GetHeader("X-Actor-ID"))
	if actor == "" {
		return "system"
	}
	return actor
}
