package middleware

import (
	"strings"

	"RouterGate/pkg/response"
	"RouterGate/pkg/utils"

	"github.com/gin-gonic/gin"
)

const (
	CtxUserID   = "userID"
	CtxUsername = "username"
	CtxTenantID = "tenantID"
	CtxRole     = "role"
)

// JWTAuthMiddleware accepts "Authorization: Bearer <token>" or, for browser
// WebSockets that cannot set headers, a ?token= query parameter.
func JWTAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, msg := tokenFromRequest(c)
		if token == "" {
			response.ReplyUnauthorized(c, msg)
			c.Abort()
			return
		}
		claims, err := utils.ParseToken(token)
		if err != nil {
			response.ReplyUnauthorized(c, "Invalid token: "+err.Error())
			c.Abort()
			return
		}
		SetClaims(c, claims)
		c.Next()
	}
}

func tokenFromRequest(c *gin.Context) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if q := c.Query("token"); q != "" {
			return q, ""
		}
		return "", "Authorization header is required"
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", "Authorization header format must be Bearer {token}"
	}
	return parts[1], ""
}

// SetClaims stores the caller identity on the gin context.
func SetClaims(c *gin.Context, claims *utils.JWTClaims) {
	c.Set(CtxUserID, claims.UserID)
	c.Set(CtxUsername, claims.UserName)
	c.Set(CtxTenantID, claims.TenantID)
	c.Set(CtxRole, claims.Role)
}

// RequireRole lets only callers with one of roles through.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(CtxRole)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		response.ReplyForbidden(c, "insufficient role")
		c.Abort()
	}
}
