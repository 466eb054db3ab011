// Package handlers 实现客户端接入层：WebSocket与分块HTTP两种传输模式
package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"ai_voice_bridge/internal/config"
	"ai_voice_bridge/internal/service/relay"
	"ai_voice_bridge/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// newUpgrader 按配置构建升级器，缓冲区需要容纳完整音频帧
func newUpgrader(cfg config.WebSocketConfig) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// wsTransport 持久WebSocket传输。写操作加锁，
// 排空goroutine和读循环可能并发写同一个连接。
type wsTransport struct {
	id       string
	conn     *websocket.Conn
	writeMux sync.Mutex
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{
		id:   uuid.New().String(),
		conn: conn,
	}
}

// ID 传输标识
func (t *wsTransport) ID() string {
	return t.id
}

// SendEvent 以文本帧推送JSON消息
func (t *wsTransport) SendEvent(event types.ServerEvent) error {
	t.writeMux.Lock()
	defer t.writeMux.Unlock()
	return t.conn.WriteJSON(event)
}

// SendAudio 以二进制帧推送WAV音频
func (t *wsTransport) SendAudio(wav []byte) error {
	t.writeMux.Lock()
	defer t.writeMux.Unlock()
	return t.conn.WriteMessage(websocket.BinaryMessage, wav)
}

// ping 发送心跳帧
func (t *wsTransport) ping() error {
	t.writeMux.Lock()
	defer t.writeMux.Unlock()
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

// VoiceWSHandler WebSocket语音中继处理器
type VoiceWSHandler struct {
	orchestrator *relay.Orchestrator
	upgrader     websocket.Upgrader
	pingPeriod   time.Duration
	pongWait     time.Duration
}

// NewVoiceWSHandler 创建WebSocket语音中继处理器
func NewVoiceWSHandler(orchestrator *relay.Orchestrator, wsConfig config.WebSocketConfig) *VoiceWSHandler {
	return &VoiceWSHandler{
		orchestrator: orchestrator,
		upgrader:     newUpgrader(wsConfig),
		pingPeriod:   wsConfig.PingPeriod,
		pongWait:     wsConfig.PongWait,
	}
}

// HandleWebSocket 处理WebSocket连接
func (h *VoiceWSHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[ERROR] 升级WebSocket连接失败: %v", err)
		return
	}

	transport := newWSTransport(conn)
	log.Printf("[INFO] 客户端连接建立: %s", transport.ID())

	// 连接断开等同于取消：关闭上游并刷出已累积的音频
	stopPing := make(chan struct{})
	defer func() {
		close(stopPing)
		h.orchestrator.HandleTransportClose(transport.ID())
		conn.Close()
		log.Printf("[INFO] 客户端连接关闭: %s", transport.ID())
	}()

	h.startHeartbeat(conn, transport, stopPing)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[WARN] 读取WebSocket消息错误: %v", err)
			}
			break
		}

		h.handleMessage(c.Request.Context(), transport, messageType, message)
	}
}

// startHeartbeat 周期性发送心跳帧，pong超时的连接被读循环感知后关闭
func (h *VoiceWSHandler) startHeartbeat(conn *websocket.Conn, transport *wsTransport, stop <-chan struct{}) {
	if h.pingPeriod <= 0 || h.pongWait <= 0 {
		return
	}

	conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	ticker := time.NewTicker(h.pingPeriod)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := transport.ping(); err != nil {
					return
				}
			}
		}
	}()
}

// handleMessage 按帧类型分发消息。
// 部分客户端把JSON控制消息标成二进制帧发送，所以二进制帧先尝试
// 按控制消息解析，解析失败才当作音频数据。
func (h *VoiceWSHandler) handleMessage(ctx context.Context, transport *wsTransport, messageType int, message []byte) {
	switch messageType {
	case websocket.TextMessage:
		h.handleControl(ctx, transport, message)

	case websocket.BinaryMessage:
		if control, ok := parseControl(message); ok {
			h.dispatchControl(ctx, transport, control)
			return
		}
		h.orchestrator.ForwardAudioBySocket(transport.ID(), message)
	}
}

// handleControl 处理文本控制消息
func (h *VoiceWSHandler) handleControl(ctx context.Context, transport *wsTransport, message []byte) {
	control, ok := parseControl(message)
	if !ok {
		log.Printf("[WARN] 无法解析的控制消息: %s", string(message))
		if err := transport.SendEvent(types.ServerEvent{
			Type:  types.EventTypeError,
			Error: "无法解析的控制消息",
		}); err != nil {
			log.Printf("[WARN] 发送错误消息失败: %v", err)
		}
		return
	}
	h.dispatchControl(ctx, transport, control)
}

// dispatchControl 分发控制消息
func (h *VoiceWSHandler) dispatchControl(ctx context.Context, transport *wsTransport, control types.ControlMessage) {
	switch control.Type {
	case types.ControlTypeStart:
		if _, err := h.orchestrator.StartSession(control.SessionID, transport); err != nil {
			log.Printf("[ERROR] 启动会话失败: %v", err)
		}

	case types.ControlTypeEnd:
		h.orchestrator.EndSession(ctx, control.SessionID)

	default:
		log.Printf("[WARN] 未知的控制消息类型: %s", control.Type)
		if err := transport.SendEvent(types.ServerEvent{
			Type:      types.EventTypeError,
			SessionID: control.SessionID,
			Error:     "未知的控制消息类型: " + control.Type,
		}); err != nil {
			log.Printf("[WARN] 发送错误消息失败: %v", err)
		}
	}
}

// parseControl 尝试把消息按JSON控制消息解析
func parseControl(message []byte) (types.ControlMessage, bool) {
	var control types.ControlMessage
	if err := json.Unmarshal(message, &control); err != nil {
		return types.ControlMessage{}, false
	}
	if control.Type == "" {
		return types.ControlMessage{}, false
	}
	return control, true
}

// RegisterRoutes 注册路由
func (h *VoiceWSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws/voice", h.HandleWebSocket)
}
