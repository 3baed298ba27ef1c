package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports liveness and which backends are active.
type HealthHandler struct {
	storage    string
	aiProvider string
}

// NewHealthHandler creates a HealthHandler. aiProvider is "" when no model
// is configured.
func NewHealthHandler(storage, aiProvider string) *HealthHandler {
	return &HealthHandler{storage: storage, aiProvider: aiProvider}
}

// Health handles GET /api/health.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"aiConfigured": h.aiProvider != "",
		"aiProvider":   h.aiProvider,
		"storage":      h.storage,
		"timestamp":    time.Now().UTC().Format(time.RFC3339Nano),
	})
}
