package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	SessionIDKey  = "session_id"
	SessionCookie = "aq_session"
)

// Session resolves the caller's session id from a signed cookie, minting a
// new one when absent or invalid. Without a secret the client address is used.
func Session(secret string, ttl time.Duration, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Set(SessionIDKey, c.ClientIP())
			c.Next()
			return
		}

		if raw, err := c.Cookie(SessionCookie); err == nil {
			if claims, err := ParseToken(raw, secret); err == nil && claims.Role == RoleSession && claims.Subject != "" {
				c.Set(SessionIDKey, claims.Subject)
				c.Next()
				return
			}
		}

		sid := uuid.NewString()
		token, err := GenerateToken(sid, RoleSession, secret, ttl)
		if err != nil {
			sid = c.ClientIP()
		} else {
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(SessionCookie, token, int(ttl.Seconds()), "/", "", secure, true)
		}
		c.Set(SessionIDKey, sid)
		c.Next()
	}
}

// GetSessionID returns the session id resolved by Session, falling back to the
// client address.
func GetSessionID(c *gin.Context) string {
	if v, ok := c.Get(SessionIDKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return c.ClientIP()
}
