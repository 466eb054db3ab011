// Package servers 提供HTTP服务器生命周期管理
package servers

import (
	"context"
	"log"
	"net/http"
	"time"
)

// HTTPServer 带优雅关闭的HTTP服务器
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer 创建HTTP服务器
func NewHTTPServer(addr string, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start 启动服务器，阻塞直到服务器关闭
func (s *HTTPServer) Start() error {
	log.Printf("[INFO] 正在启动HTTP服务器，监听地址: %s", s.server.Addr)

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		log.Printf("[ERROR] HTTP服务器错误: %v", err)
		return err
	}
	return nil
}

// Stop 停止服务器，等待进行中的请求完成
func (s *HTTPServer) Stop(ctx context.Context) error {
	log.Printf("[INFO] 正在停止HTTP服务器")
	return s.server.Shutdown(ctx)
}
