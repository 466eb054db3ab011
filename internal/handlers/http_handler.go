package handlers

import (
	"io"
	"log"
	"net/http"
	"sync"

	"ai_voice_bridge/internal/service/relay"
	"ai_voice_bridge/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// httpTransport 分块HTTP传输。没有持久连接可以推送，
// 完成的轮次和事件先排队，等客户端轮询时取走。
type httpTransport struct {
	id     string
	mu     sync.Mutex
	audio  [][]byte
	events []types.ServerEvent
}

func newHTTPTransport() *httpTransport {
	return &httpTransport{id: "http-" + uuid.New().String()}
}

// ID 传输标识
func (t *httpTransport) ID() string {
	return t.id
}

// SendEvent 把JSON消息排队等待轮询
func (t *httpTransport) SendEvent(event types.ServerEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
	return nil
}

// SendAudio 把WAV音频排队等待轮询
func (t *httpTransport) SendAudio(wav []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.audio = append(t.audio, wav)
	return nil
}

// nextAudio 取出最早排队的WAV音频
func (t *httpTransport) nextAudio() ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.audio) == 0 {
		return nil, false
	}
	buf := t.audio[0]
	t.audio = t.audio[1:]
	return buf, true
}

// drainEvents 取出所有排队的JSON消息
func (t *httpTransport) drainEvents() []types.ServerEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	events := t.events
	t.events = nil
	return events
}

// VoiceHTTPHandler 分块HTTP语音中继处理器。
// 面向不方便用WebSocket的客户端：启动会话后分块上传音频，
// 轮询下载完成的轮次。断开不可观察，清理依赖空闲超时检查。
type VoiceHTTPHandler struct {
	orchestrator *relay.Orchestrator
	transports   map[string]*httpTransport // 会话ID到传输的映射
	mu           sync.Mutex
}

// NewVoiceHTTPHandler 创建分块HTTP语音中继处理器
func NewVoiceHTTPHandler(orchestrator *relay.Orchestrator) *VoiceHTTPHandler {
	return &VoiceHTTPHandler{
		orchestrator: orchestrator,
		transports:   make(map[string]*httpTransport),
	}
}

// HandleStart 启动会话
func (h *VoiceHTTPHandler) HandleStart(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	// 空请求体等同于让服务端生成会话ID
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法解析请求体"})
		return
	}

	transport := newHTTPTransport()
	sessionID, err := h.orchestrator.StartSession(req.SessionID, transport)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
		return
	}

	h.mu.Lock()
	h.transports[sessionID] = transport
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID})
}

// HandleAudio 接收一块音频并转发到上游
func (h *VoiceHTTPHandler) HandleAudio(c *gin.Context) {
	sessionID := c.Param("id")
	if _, ok := h.transport(sessionID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
		return
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "读取音频数据失败"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "音频数据为空"})
		return
	}

	mimeType := ""
	if contentType := c.ContentType(); contentType != "" && contentType != "application/octet-stream" {
		mimeType = contentType
	}

	h.orchestrator.ForwardAudio(sessionID, data, mimeType)
	c.Status(http.StatusAccepted)
}

// HandlePoll 轮询已完成的轮次。
// 优先返回WAV音频，其次返回排队的JSON消息，都没有时返回204。
func (h *VoiceHTTPHandler) HandlePoll(c *gin.Context) {
	sessionID := c.Param("id")
	transport, ok := h.transport(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
		return
	}

	if buf, ok := transport.nextAudio(); ok {
		c.Data(http.StatusOK, "audio/wav", buf)
		return
	}

	if events := transport.drainEvents(); len(events) > 0 {
		c.JSON(http.StatusOK, gin.H{"events": events})
		return
	}

	// 会话已被空闲超时清理且队列排空，顺手移除传输映射
	if _, alive := h.orchestrator.Registry().Get(sessionID); !alive {
		h.removeTransport(sessionID)
		c.JSON(http.StatusGone, gin.H{"error": "会话已关闭"})
		return
	}

	c.Status(http.StatusNoContent)
}

// HandleEnd 结束会话并返回最后一个轮次的WAV音频
func (h *VoiceHTTPHandler) HandleEnd(c *gin.Context) {
	sessionID := c.Param("id")
	if _, ok := h.transport(sessionID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
		return
	}

	buf := h.orchestrator.EndSession(c.Request.Context(), sessionID)
	h.removeTransport(sessionID)
	log.Printf("[INFO] 分块HTTP会话%s已结束", sessionID)

	if buf == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(http.StatusOK, "audio/wav", buf)
}

// transport 查找会话对应的传输
func (h *VoiceHTTPHandler) transport(sessionID string) (*httpTransport, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.transports[sessionID]
	return t, ok
}

// removeTransport 移除会话对应的传输
func (h *VoiceHTTPHandler) removeTransport(sessionID string) {
	h.mu.Lock()
	delete(h.transports, sessionID)
	h.mu.Unlock()
}

// RegisterRoutes 注册路由
func (h *VoiceHTTPHandler) RegisterRoutes(r *gin.Engine) {
	group := r.Group("/voice/sessions")
	group.POST("", h.HandleStart)
	group.POST("/:id/audio", h.HandleAudio)
	group.GET("/:id/poll", h.HandlePoll)
	group.POST("/:id/end", h.HandleEnd)
}
