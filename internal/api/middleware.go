package api

import (
	"net/http"
	"strings"

	"github.com/dyluth/guidepost/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	principalKey    = "guidepost_principal"
	requestIDHeader = "X-Request-ID"
)

// SetPrincipal stores the authenticated principal in the gin context.
func SetPrincipal(c *gin.Context, p config.Principal) {
	c.Set(principalKey, p)
}

// GetPrincipal returns the authenticated principal, if any.
func GetPrincipal(c *gin.Context) (config.Principal, bool) {
	v, exists := c.Get(principalKey)
	if !exists {
		return config.Principal{}, false
	}
	p, ok := v.(config.Principal)
	return p, ok
}

// RequestID echoes the caller's X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// Authenticate resolves the bearer token to a configured principal.
// Missing or unknown tokens are rejected with 401.
func Authenticate(auth *config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		p, ok := auth.Authenticate(token)
		if !ok {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "unknown bearer token")
			return
		}

		SetPrincipal(c, p)
		c.Next()
	}
}

// RequirePrivileged rejects principals whose role may not edit with 403.
// Must run after Authenticate.
func RequirePrivileged(auth *config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "not authenticated")
			return
		}
		if !auth.IsPrivileged(p.Role) {
			abortWithError(c, http.StatusForbidden, "forbidden", "role "+p.Role+" may not edit guides")
			return
		}
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
