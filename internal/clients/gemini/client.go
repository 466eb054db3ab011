package gemini

import (
	"encoding/base64"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 双向流式生成接口的路径
const bidiPath = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// Config 上游客户端配置
type Config struct {
	APIKey             string // API密钥
	Host               string // 上游服务器地址
	Model              string // 模型名称
	Voice              string // 语音名称
	MediaResolution    string // 媒体分辨率
	CompressionTrigger int    // 上下文压缩触发token数
	CompressionTarget  int    // 上下文压缩目标token数
	Endpoint           string // 完整连接地址，设置后不再按Host拼接，联调时指向本地假上游
	HandshakeTimeout   time.Duration
}

// Callbacks 连接生命周期回调。
// OnMessage在接收循环内同步调用，实现必须是非阻塞的，
// 消费方通过会话的待处理队列解耦，避免拖慢上游接收循环。
type Callbacks struct {
	OnOpen    func()
	OnMessage func(msg *ServerMessage)
	OnError   func(err error)
	OnClose   func()
}

// Client 单个会话独占的上游流式连接
type Client struct {
	config    Config
	callbacks Callbacks

	connLock sync.Mutex
	conn     *websocket.Conn
	opened   bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient 创建新的上游客户端
func NewClient(config Config, callbacks Callbacks) *Client {
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	return &Client{
		config:    config,
		callbacks: callbacks,
		done:      make(chan struct{}),
	}
}

// Connect 建立WebSocket连接并发送会话配置帧。
// 配置完成标记到达后触发OnOpen，在那之前不允许转发音频。
func (c *Client) Connect() error {
	if c.config.APIKey == "" {
		return fmt.Errorf("缺少API密钥")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.HandshakeTimeout,
	}

	conn, resp, err := dialer.Dial(c.endpoint(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("连接上游失败: 状态码=%d %v", resp.StatusCode, err)
		}
		return fmt.Errorf("连接上游失败: %v", err)
	}

	c.connLock.Lock()
	c.conn = conn
	c.connLock.Unlock()

	// 发送会话配置帧
	if err := c.writeJSON(c.setupMessage()); err != nil {
		c.Close()
		return fmt.Errorf("发送会话配置失败: %v", err)
	}

	// 启动goroutine接收上游消息
	go c.receiveLoop()

	return nil
}

// endpoint 构建带鉴权参数的连接地址
func (c *Client) endpoint() string {
	if c.config.Endpoint != "" {
		return c.config.Endpoint
	}
	u := url.URL{
		Scheme:   "wss",
		Host:     c.config.Host,
		Path:     bidiPath,
		RawQuery: url.Values{"key": {c.config.APIKey}}.Encode(),
	}
	return u.String()
}

// setupMessage 构建会话配置帧
func (c *Client) setupMessage() SetupMessage {
	setup := Setup{
		Model: c.config.Model,
		GenerationConfig: &GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			MediaResolution:    c.config.MediaResolution,
		},
		// 所有输入音频都视为当前轮次的连续输入
		RealtimeInputConfig: &RealtimeInputConfig{
			ActivityHandling: "NO_INTERRUPTION",
		},
	}
	if c.config.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &SpeechConfig{
			VoiceConfig: &VoiceConfig{
				PrebuiltVoiceConfig: &PrebuiltVoiceConfig{VoiceName: c.config.Voice},
			},
		}
	}
	if c.config.CompressionTrigger > 0 {
		setup.ContextWindowCompression = &ContextWindowCompression{
			TriggerTokens: c.config.CompressionTrigger,
		}
		if c.config.CompressionTarget > 0 {
			setup.ContextWindowCompression.SlidingWindow = &SlidingWindow{
				TargetTokens: c.config.CompressionTarget,
			}
		}
	}
	return SetupMessage{Setup: setup}
}

// SendAudio 向上游发送一段PCM音频
func (c *Client) SendAudio(data []byte, mimeType string) error {
	frame := ClientContentMessage{
		ClientContent: ClientContent{
			Turns: []Turn{{
				Role: "user",
				Parts: []Part{{
					InlineData: &InlineData{
						MimeType: mimeType,
						Data:     base64.StdEncoding.EncodeToString(data),
					},
				}},
			}},
		},
	}
	return c.writeJSON(frame)
}

// SendToolResponse 向上游回复工具调用响应
func (c *Client) SendToolResponse(responses []FunctionResponse) error {
	return c.writeJSON(ToolResponseMessage{
		ToolResponse: ToolResponse{FunctionResponses: responses},
	})
}

// writeJSON 序列化并发送消息，写操作互斥
func (c *Client) writeJSON(v interface{}) error {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.conn == nil {
		return fmt.Errorf("上游连接未建立")
	}
	return c.conn.WriteJSON(v)
}

// Close 关闭上游连接，可重复调用
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.connLock.Lock()
		if c.conn != nil {
			err = c.conn.Close()
			c.conn = nil
		}
		c.connLock.Unlock()

		if c.callbacks.OnClose != nil {
			c.callbacks.OnClose()
		}
	})
	return err
}

// closed 判断连接是否已主动关闭
func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// receiveLoop 接收并分发上游消息
func (c *Client) receiveLoop() {
	for {
		c.connLock.Lock()
		conn := c.conn
		c.connLock.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.closed() {
				log.Printf("[ERROR] 读取上游消息失败: %v", err)
				if c.callbacks.OnError != nil {
					c.callbacks.OnError(err)
				}
			}
			// 错误不妨碍注册表清理，关闭回调总会触发
			c.Close()
			return
		}

		msg, err := ParseServerMessage(data)
		if err != nil {
			log.Printf("[WARN] 解析上游消息失败，跳过: %v", err)
			continue
		}

		if msg.SetupComplete != nil {
			if !c.opened {
				c.opened = true
				if c.callbacks.OnOpen != nil {
					c.callbacks.OnOpen()
				}
			}
			continue
		}

		if msg.GoAway != nil {
			// 上游随后会主动断开，关闭回调负责清理
			log.Printf("[WARN] 上游预告断开连接，剩余时间: %s", msg.GoAway.TimeLeft)
			continue
		}

		if c.callbacks.OnMessage != nil {
			c.callbacks.OnMessage(msg)
		}
	}
}
