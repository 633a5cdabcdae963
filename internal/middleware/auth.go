// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"finreport-qa/pkg/log"
	"finreport-qa/pkg/token"

	"github.com/gin-gonic/gin"
)

// ContextUserID 是认证后用户 ID 在 gin 上下文中的键。
const ContextUserID = "userID"

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头中提取 token，验证其有效性，并把用户 ID 存入 Gin 的上下文中。
// WebSocket 请求无法设置请求头，允许通过 token 查询参数传递。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		authHeader := c.GetHeader("Authorization")
		const bearerPrefix = "Bearer "
		switch {
		case strings.HasPrefix(authHeader, bearerPrefix):
			tokenString = strings.TrimPrefix(authHeader, bearerPrefix)
		case authHeader != "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "code": "Unauthenticated", "message": "无效的授权头格式"})
			return
		default:
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "code": "Unauthenticated", "message": "请求未包含授权头"})
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			log.Warnf("[Auth] token 校验失败: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "code": "Unauthenticated", "message": "无效或已过期的 token"})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set("claims", claims)
		c.Next()
	}
}

// UserID 返回认证中间件写入的用户 ID。
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
