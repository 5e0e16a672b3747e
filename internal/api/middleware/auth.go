package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/code-and-chill/chessmate-sub001/internal/config"
	jwtutil "github.com/code-and-chill/chessmate-sub001/pkg/jwt"
)

// Auth validates the bearer token and stores the caller's identity on
// the context.
func Auth(cfg *config.Config) gin.HandlerFunc {
	jwtManager := jwtutil.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")

		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization header format",
			})
			c.Abort()
			return
		}

		claims, err := jwtManager.Verify(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		tenantID := claims.TenantID
		if tenantID == "" {
			tenantID = "default"
		}

		c.Set("userId", claims.UserID)
		c.Set("tenantId", tenantID)
		c.Set("username", claims.Username)

		c.Next()
	}
}

// ServiceAuth guards the internal endpoints with a shared service
// token. Comparison is constant time.
func ServiceAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-Service-Token")
		if token == "" || cfg.ServiceToken == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Missing service token",
			})
			c.Abort()
			return
		}
		// A token that is present but wrong is a caller we recognize as
		// unauthorized, not unauthenticated.
		if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.ServiceToken)) != 1 {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Invalid service token",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
