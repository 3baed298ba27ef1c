package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/aiquest/audit"
	mw "github.com/kasuganosora/aiquest/middleware"
	"github.com/kasuganosora/aiquest/quest"
	"go.uber.org/zap"
)

// ProgressHandler exposes the progression engine for the caller's session.
type ProgressHandler struct {
	engine *quest.Engine
	audit  *audit.Service
	logger *zap.Logger
}

// NewProgressHandler creates a ProgressHandler. audit may be nil.
func NewProgressHandler(engine *quest.Engine, auditSvc *audit.Service, logger *zap.Logger) *ProgressHandler {
	return &ProgressHandler{engine: engine, audit: auditSvc, logger: logger}
}

// Get handles GET /api/progress/:questId.
func (h *ProgressHandler) Get(c *gin.Context) {
	p, err := h.engine.Progress(c.Request.Context(), mw.GetSessionID(c), c.Param("questId"))
	if err != nil {
		fail(c, h.logger, err, "Failed to fetch progress")
		return
	}
	c.JSON(http.StatusOK, p)
}

type answerRequest struct {
	Answer *string `json:"answer" binding:"required"`
}

// Answer handles POST /api/progress/:questId/answer.
func (h *ProgressHandler) Answer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "answer is required"})
		return
	}

	sid := mw.GetSessionID(c)
	questID := c.Param("questId")
	start := time.Now()
	out, err := h.engine.Submit(c.Request.Context(), sid, questID, *req.Answer)
	if err != nil {
		fail(c, h.logger, err, "Failed to update progress")
		return
	}

	if h.audit != nil {
		h.audit.Record(audit.Attempt{
			TraceID:    mw.GetTraceID(c),
			SessionID:  sid,
			QuestID:    questID,
			StepIndex:  out.StepIndex,
			Outcome:    string(out.Kind),
			Strategy:   string(out.Strategy),
			Fallback:   out.Fallback,
			Answer:     *req.Answer,
			DurationMs: int(time.Since(start).Milliseconds()),
		})
	}
	c.JSON(http.StatusOK, out)
}

// Reset handles POST /api/progress/:questId/reset.
func (h *ProgressHandler) Reset(c *gin.Context) {
	p, err := h.engine.Reset(c.Request.Context(), mw.GetSessionID(c), c.Param("questId"))
	if err != nil {
		fail(c, h.logger, err, "Failed to reset progress")
		return
	}
	c.JSON(http.StatusOK, p)
}

type validateRequest struct {
	QuestID   string  `json:"questId" binding:"required"`
	StepIndex *int    `json:"stepIndex" binding:"required"`
	Answer    *string `json:"answer" binding:"required"`
}

// Validate handles POST /api/validate-answer. It never touches progress.
func (h *ProgressHandler) Validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.engine.CheckStep(c.Request.Context(), req.QuestID, *req.StepIndex, *req.Answer)
	if err != nil {
		fail(c, h.logger, err, "Failed to validate answer")
		return
	}
	c.JSON(http.StatusOK, res)
}
