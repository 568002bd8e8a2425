package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/keystone/internal/auth"
	"github.com/suPer8Hu/keystone/internal/common"
)

const (
	UserIDKey = "user_id"
	ClaimsKey = "claims"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Claims, error)
}

// AuthRequired accepts "Authorization: Bearer <jwt>" and stores the caller's
// user id and claims on the context.
func AuthRequired(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(h, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			common.Fail(c, http.StatusUnauthorized, 40100, "missing bearer token")
			return
		}

		claims, err := a.Authenticate(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}

		c.Set(UserIDKey, claims.Subject)
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// AuthOptional behaves like AuthRequired when a valid bearer token is sent
// and otherwise lets the request through anonymously.
func AuthOptional(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if found && strings.TrimSpace(token) != "" {
			if claims, err := a.Authenticate(c.Request.Context(), strings.TrimSpace(token)); err == nil {
				c.Set(UserIDKey, claims.Subject)
				c.Set(ClaimsKey, claims)
			}
		}
		c.Next()
	}
}
