package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"XiaoChat/logger"
)

// AccessLog 请求访问日志；websocket 升级请求只在断开后打一条
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Infof("[http] %s %s status=%d cost=%s remote=%s",
			c.Request.Method, path, c.Writer.Status(),
			time.Since(start).Round(time.Millisecond), c.ClientIP())
	}
}
