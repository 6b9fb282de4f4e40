package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// context key；后续模块统一用这俩 key 读取
const (
	CtxDeviceKey = "deviceId"
	CtxTokenKey  = "authToken"
)

// DeviceHeaders 把握手头里的设备标识与 Bearer token 提前写进 gin context。
// 只做提取，不做校验；校验在 websocket 入口完成。
func DeviceHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		if device := strings.TrimSpace(c.GetHeader("Device-Id")); device != "" {
			c.Set(CtxDeviceKey, device)
		}
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				c.Set(CtxTokenKey, strings.TrimSpace(authz[len("bearer "):]))
			}
		}
		c.Next()
	}
}

// RequireDevice 强制要求 Device-Id；挂在需要设备身份的路由上
func RequireDevice() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(CtxDeviceKey); !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing device-id"})
			return
		}
		c.Next()
	}
}
