package rest

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/aiquest/quest"
	"go.uber.org/zap"
)

const maxQuestBody = 1 << 20

// QuestHandler serves quest reads, the password gate and admin CRUD.
type QuestHandler struct {
	svc    *quest.Service
	logger *zap.Logger
}

// NewQuestHandler creates a QuestHandler.
func NewQuestHandler(svc *quest.Service, logger *zap.Logger) *QuestHandler {
	return &QuestHandler{svc: svc, logger: logger}
}

// List handles GET /api/quests. ?active=true keeps only active quests.
func (h *QuestHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.List(c.Request.Context(), c.Query("active") == "true"))
}

// Get handles GET /api/quests/:id.
func (h *QuestHandler) Get(c *gin.Context) {
	q, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.logger, err, "Failed to fetch quest")
		return
	}
	c.JSON(http.StatusOK, q.Public())
}

type passwordRequest struct {
	Password string `json:"password"`
}

// CheckPassword handles POST /api/quests/:id/password.
func (h *QuestHandler) CheckPassword(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.CheckPassword(c.Request.Context(), c.Param("id"), req.Password)
	if err != nil {
		fail(c, h.logger, err, "Failed to check password")
		return
	}
	c.JSON(http.StatusOK, res)
}

// Create handles POST /api/quests.
func (h *QuestHandler) Create(c *gin.Context) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	q, err := h.svc.Create(c.Request.Context(), raw)
	if err != nil {
		fail(c, h.logger, err, "Failed to create quest")
		return
	}
	c.JSON(http.StatusCreated, q)
}

// Update handles PUT /api/quests/:id.
func (h *QuestHandler) Update(c *gin.Context) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	q, err := h.svc.Update(c.Request.Context(), c.Param("id"), raw)
	if err != nil {
		fail(c, h.logger, err, "Failed to update quest")
		return
	}
	c.JSON(http.StatusOK, q)
}

// Delete handles DELETE /api/quests/:id.
func (h *QuestHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, h.logger, err, "Failed to delete quest")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Quest deleted successfully"})
}

// AdminList handles GET /api/admin/quests. Passwords are included.
func (h *QuestHandler) AdminList(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.ListAdmin(c.Request.Context()))
}

func readBody(c *gin.Context) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxQuestBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return nil, false
	}
	return raw, true
}
