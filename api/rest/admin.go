package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/aiquest/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultAttemptLimit = 50
	maxAttemptLimit     = 500
)

// AdminHandler serves admin reporting endpoints.
// Routes should be protected by the AdminAuth middleware.
type AdminHandler struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler. db is nil when the active
// storage backend is not relational.
func NewAdminHandler(db *gorm.DB, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, logger: logger}
}

// Attempts lists recent answer attempts, newest first.
// GET /api/admin/attempts?questId=&sessionId=&limit=
func (h *AdminHandler) Attempts(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false, "attempts": []model.AnswerAttempt{}})
		return
	}

	limit := defaultAttemptLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxAttemptLimit)
	}

	q := h.db.WithContext(c.Request.Context()).Model(&model.AnswerAttempt{})
	if id := c.Query("questId"); id != "" {
		q = q.Where("quest_id = ?", id)
	}
	if sid := c.Query("sessionId"); sid != "" {
		q = q.Where("session_id = ?", sid)
	}

	var rows []model.AnswerAttempt
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		h.logger.Error("list attempts failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "attempts": rows})
}
