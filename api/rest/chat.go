package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/aiquest/quest"
	"go.uber.org/zap"
)

// ChatHandler relays player messages to the quest guide persona.
type ChatHandler struct {
	guide  *quest.Guide
	logger *zap.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(guide *quest.Guide, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{guide: guide, logger: logger}
}

type chatRequest struct {
	Message     string `json:"message" binding:"required,max=2000"`
	QuestID     string `json:"questId" binding:"required"`
	CurrentStep int    `json:"currentStep" binding:"min=0"`
}

// Chat handles POST /api/chat.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, err := h.guide.Reply(c.Request.Context(), req.QuestID, req.CurrentStep, req.Message)
	if err != nil {
		fail(c, h.logger, err, "Failed to process chat message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": reply})
}
