package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/aiquest/llm"
	mw "github.com/kasuganosora/aiquest/middleware"
	"github.com/kasuganosora/aiquest/quest"
	"go.uber.org/zap"
)

// fail maps domain errors onto HTTP statuses. Anything unrecognised is a
// store or provider failure and is logged before a 500 goes out.
func fail(c *gin.Context, logger *zap.Logger, err error, msg string) {
	switch {
	case errors.Is(err, quest.ErrQuestNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Quest not found"})
	case errors.Is(err, quest.ErrStepNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Step not found"})
	case errors.Is(err, quest.ErrInvalidQuest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, llm.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "AI provider not configured"})
	default:
		logger.Error(msg,
			zap.String("trace_id", mw.GetTraceID(c)),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
