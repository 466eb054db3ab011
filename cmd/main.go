package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai_voice_bridge/internal/config"
	"ai_voice_bridge/internal/handlers"
	"ai_voice_bridge/internal/middleware"
	"ai_voice_bridge/internal/routes"
	"ai_voice_bridge/internal/servers"
	"ai_voice_bridge/internal/service/relay"
	"ai_voice_bridge/internal/session"

	"github.com/gin-gonic/gin"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("AI语音中继服务启动中...")

	configFile := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置，文件不存在时使用默认配置
	var cfg *config.Config
	if _, err := os.Stat(*configFile); err == nil {
		cfg, err = config.Load(*configFile)
		if err != nil {
			log.Fatalf("加载配置失败: %v", err)
		}
	} else {
		log.Printf("[WARN] 配置文件%s不存在，使用默认配置", *configFile)
		cfg = config.Default()
	}
	if cfg.Gemini.APIKey == "" {
		log.Printf("[WARN] 未配置API密钥，会话启动将返回错误")
	}

	// 创建会话注册表和编排器
	registry := session.NewRegistry()
	orchestrator := relay.NewOrchestrator(cfg, registry, nil)

	// 创建Gin引擎并注册中间件和路由
	r := gin.New()
	middleware.Setup(r)
	routes.RegisterRoutes(r,
		handlers.NewVoiceWSHandler(orchestrator, cfg.WebSocket),
		handlers.NewVoiceHTTPHandler(orchestrator),
	)

	// 启动空闲会话检查循环
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orchestrator.RunWatchdog(ctx)

	// 启动HTTP服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := servers.NewHTTPServer(addr, r)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("收到退出信号，正在关闭...")

	// 先关会话再关服务器，让进行中的请求看到会话已清理
	cancel()
	orchestrator.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("[WARN] 关闭HTTP服务器失败: %v", err)
	}
	log.Println("服务已退出")
}
