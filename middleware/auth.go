package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/aiquest/cache"
	"golang.org/x/crypto/bcrypt"
)

const (
	AdminCookie        = "aq_admin"
	AdminKeyHeader     = "X-Admin-Key"
	AdminSessionPrefix = "admin_session:"
)

// AdminConfig holds what AdminAuth needs to recognise an admin.
type AdminConfig struct {
	Key         string // static key accepted in X-Admin-Key; empty disables it
	Secret      string // JWT signing secret
	PasswordSet bool   // an admin password is configured
}

// AdminAuth admits requests carrying the static admin key, or an admin JWT
// (Bearer header or cookie) whose session is still present in the cache.
// With neither a key nor a password configured every admin route answers 503.
func AdminAuth(cfg AdminConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if cfg.Key == "" && !cfg.PasswordSet {
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_password or server.admin_key"})
			return
		}
		if cfg.Key != "" {
			if k := ctx.GetHeader(AdminKeyHeader); k != "" &&
				subtle.ConstantTimeCompare([]byte(k), []byte(cfg.Key)) == 1 {
				ctx.Next()
				return
			}
		}
		if !IsAdmin(ctx, cfg.Secret, c) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx.Next()
	}
}

// IsAdmin reports whether the request carries a live admin session token.
func IsAdmin(ctx *gin.Context, secret string, c cache.Cache) bool {
	tokenStr := AdminToken(ctx)
	if tokenStr == "" {
		return false
	}
	claims, err := ParseToken(tokenStr, secret)
	if err != nil || claims.Role != RoleAdmin {
		return false
	}

	// Logout deletes the key, so a still-valid JWT is not enough.
	cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := c.Exists(cacheCtx, AdminSessionPrefix+tokenStr)
	return err == nil && exists
}

// AdminToken returns the admin token from the Authorization header or cookie.
func AdminToken(ctx *gin.Context) string {
	if header := ctx.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if v, err := ctx.Cookie(AdminCookie); err == nil {
		return v
	}
	return ""
}

// VerifyPassword checks given against the configured admin password, which
// may be stored as plaintext or as a bcrypt hash.
func VerifyPassword(configured, given string) bool {
	if configured == "" {
		return false
	}
	if strings.HasPrefix(configured, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(given)) == 1
}
