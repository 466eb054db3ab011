package routes

import (
	"time"

	"ai_voice_bridge/internal/handlers"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, wsHandler *handlers.VoiceWSHandler, httpHandler *handlers.VoiceHTTPHandler) {

	// 根路由
	r.GET("/", func(c *gin.Context) {
		c.String(200, "AI Voice Bridge Server Running")
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// 指标路由
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket语音中继路由
	wsHandler.RegisterRoutes(r)

	// 分块HTTP语音中继路由
	httpHandler.RegisterRoutes(r)
}
