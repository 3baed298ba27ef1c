package rest

import (
	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/aiquest/middleware"
	"golang.org/x/time/rate"
)

// Handlers groups everything Mount wires onto the router.
type Handlers struct {
	Health   *HealthHandler
	Quest    *QuestHandler
	Progress *ProgressHandler
	Chat     *ChatHandler
	Auth     *AuthHandler
	Admin    *AdminHandler
	Events   gin.HandlerFunc // SSE stream; nil leaves the route unmounted
	Socket   gin.HandlerFunc // player websocket; nil leaves the route unmounted

	AdminAuth gin.HandlerFunc
	AdminIPs  gin.HandlerFunc // nil allows any address
	// AnswerLimit throttles answer submissions per session; nil disables it.
	AnswerLimit gin.HandlerFunc
}

// NewAnswerLimit limits answer submissions per session.
func NewAnswerLimit(rps float64, burst int) gin.HandlerFunc {
	return mw.RateLimitBy(rate.Limit(rps), burst, mw.GetSessionID)
}

// Mount registers the /api routes.
func Mount(r gin.IRouter, h Handlers) {
	pass := func(c *gin.Context) { c.Next() }
	if h.AdminIPs == nil {
		h.AdminIPs = pass
	}
	if h.AnswerLimit == nil {
		h.AnswerLimit = pass
	}

	api := r.Group("/api")
	api.GET("/health", h.Health.Health)

	api.GET("/quests", h.Quest.List)
	api.GET("/quests/:id", h.Quest.Get)
	api.POST("/quests/:id/password", h.Quest.CheckPassword)

	api.GET("/progress/:questId", h.Progress.Get)
	api.POST("/progress/:questId/answer", h.AnswerLimit, h.Progress.Answer)
	api.POST("/progress/:questId/reset", h.Progress.Reset)
	api.POST("/validate-answer", h.AnswerLimit, h.Progress.Validate)
	api.POST("/chat", h.AnswerLimit, h.Chat.Chat)
	if h.Socket != nil {
		api.GET("/ws", h.Socket)
	}

	api.POST("/admin/authenticate", h.AdminIPs, h.Auth.Authenticate)
	api.GET("/admin/check", h.Auth.Check)
	api.POST("/admin/logout", h.Auth.Logout)

	admin := api.Group("", h.AdminIPs, h.AdminAuth)
	admin.POST("/quests", h.Quest.Create)
	admin.PUT("/quests/:id", h.Quest.Update)
	admin.DELETE("/quests/:id", h.Quest.Delete)
	admin.GET("/admin/quests", h.Quest.AdminList)
	admin.GET("/admin/attempts", h.Admin.Attempts)
	if h.Events != nil {
		admin.GET("/admin/events", h.Events)
	}
}
