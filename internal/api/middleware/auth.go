package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/vipgate_server/internal/pkg/jwt"
	"github.com/qs3c/vipgate_server/internal/pkg/response"
)

const (
	TenantIDKey = "tenantID"
)

// Auth 运营后台 JWT 认证，通过后请求级 logger 带上 tenant_id
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.AuthError(c, "请提供认证信息")
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		if err != nil {
			response.AuthError(c, "认证失败或已过期")
			c.Abort()
			return
		}

		c.Set(TenantIDKey, claims.TenantID)
		c.Set(loggerKey, GetLogger(c).WithField("tenant_id", claims.TenantID))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// GetTenantID 从上下文获取租户 ID
func GetTenantID(c *gin.Context) (int64, bool) {
	v, exists := c.Get(TenantIDKey)
	if !exists {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
