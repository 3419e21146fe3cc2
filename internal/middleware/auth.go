package middleware

import (
	"net/http"
	"strings"

	"chunkupload/internal/pkg/jwt"
	"chunkupload/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// Context keys read by the upload handlers.
const (
	OwnerKindKey = "owner_kind"
	OwnerIDKey   = "owner_id"
)

// JWTAuth identifies the caller from a bearer token. Requests without an
// Authorization header pass through anonymously; a header that is present
// but invalid is rejected.
func JWTAuth(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			response.Abort(c, http.StatusUnauthorized, "INVALID_AUTH_FORMAT", "Authorization header must be 'Bearer <token>'")
			return
		}

		claims, err := jwtService.ValidateToken(parts[1])
		if err != nil {
			response.Abort(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			return
		}

		c.Set(OwnerKindKey, claims.OwnerKind)
		c.Set(OwnerIDKey, claims.Subject)
		c.Next()
	}
}

// RequireOwner rejects anonymous requests.
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(OwnerIDKey) == "" {
			response.Abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
		c.Next()
	}
}
