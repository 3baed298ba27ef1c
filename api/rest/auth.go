package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/aiquest/cache"
	mw "github.com/kasuganosora/aiquest/middleware"
	"go.uber.org/zap"
)

const (
	loginFailPrefix  = "admin_login_fail:"
	maxLoginFailures = 5
	loginFailWindow  = 15 * time.Minute
)

// AuthConfig configures the admin session endpoints.
type AuthConfig struct {
	Password     string // plaintext or bcrypt hash
	Secret       string
	TTL          time.Duration
	SecureCookie bool
}

// AuthHandler handles admin authentication REST endpoints.
type AuthHandler struct {
	cache  cache.Cache
	cfg    AuthConfig
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(c cache.Cache, cfg AuthConfig, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{cache: c, cfg: cfg, logger: logger}
}

type authenticateRequest struct {
	Password string `json:"password" binding:"required,max=256"`
}

// Authenticate handles POST /api/admin/authenticate. Repeated failures from
// one address are locked out for loginFailWindow.
func (h *AuthHandler) Authenticate(c *gin.Context) {
	if h.cfg.Password == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "admin password not configured"})
		return
	}
	var req authenticateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failKey := loginFailPrefix + c.ClientIP()
	if raw, err := h.cache.Get(ctx, failKey); err == nil {
		if n, _ := strconv.Atoi(raw); n >= maxLoginFailures {
			c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "Too many failed attempts, try again later"})
			return
		}
	}

	if !mw.VerifyPassword(h.cfg.Password, req.Password) {
		n, err := h.cache.Incr(ctx, failKey, loginFailWindow)
		if err != nil {
			h.logger.Warn("count admin login failure", zap.Error(err))
		}
		h.logger.Warn("admin login rejected",
			zap.String("client_ip", c.ClientIP()),
			zap.Int64("failures", n))
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid password"})
		return
	}
	_ = h.cache.Del(ctx, failKey)

	token, err := mw.GenerateToken("admin", mw.RoleAdmin, h.cfg.Secret, h.cfg.TTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "token error"})
		return
	}

	if err := h.cache.Set(ctx, mw.AdminSessionPrefix+token, "1", h.cfg.TTL); err != nil {
		h.logger.Error("store admin session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "session error"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(mw.AdminCookie, token, int(h.cfg.TTL.Seconds()), "/", "", h.cfg.SecureCookie, true)
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}

// Check handles GET /api/admin/check.
func (h *AuthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"authenticated": mw.IsAdmin(c, h.cfg.Secret, h.cache)})
}

// Logout handles POST /api/admin/logout. It succeeds without a session too.
func (h *AuthHandler) Logout(c *gin.Context) {
	if token := mw.AdminToken(c); token != "" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		_ = h.cache.Del(ctx, mw.AdminSessionPrefix+token)
	}
	c.SetCookie(mw.AdminCookie, "", -1, "/", "", h.cfg.SecureCookie, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
