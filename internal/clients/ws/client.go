// Package ws 提供语音中继服务的WebSocket客户端实现
package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"ai_voice_bridge/internal/types"

	"github.com/gorilla/websocket"
)

// EventHandler JSON消息处理函数类型
type EventHandler func(event types.ServerEvent) error

// AudioHandler 二进制WAV音频处理函数类型
type AudioHandler func(wav []byte) error

// Config WebSocket客户端配置
type Config struct {
	URL               string            // 中继服务地址
	Headers           map[string]string // 自定义请求头
	HandshakeTimeout  time.Duration     // 握手超时
	HeartbeatInterval time.Duration     // 心跳间隔，0表示不发心跳
}

// Client 语音中继WebSocket客户端。
// 文本帧按消息类型分发给注册的处理器，二进制帧作为WAV音频交给音频处理器。
type Client struct {
	url      string
	headers  map[string]string
	conn     *websocket.Conn
	connLock sync.Mutex

	handshakeTimeout  time.Duration
	heartbeatInterval time.Duration

	handlers     map[string]EventHandler
	audioHandler AudioHandler

	done     chan struct{}
	doneOnce sync.Once
}

// NewClient 创建新的语音中继客户端
func NewClient(config Config) *Client {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	return &Client{
		url:               config.URL,
		headers:           config.Headers,
		handshakeTimeout:  config.HandshakeTimeout,
		heartbeatInterval: config.HeartbeatInterval,
		handlers:          make(map[string]EventHandler),
		done:              make(chan struct{}),
	}
}

// OnEvent 注册JSON消息处理器
func (c *Client) OnEvent(eventType string, handler EventHandler) {
	c.handlers[eventType] = handler
}

// OnAudio 注册二进制音频处理器
func (c *Client) OnAudio(handler AudioHandler) {
	c.audioHandler = handler
}

// Connect 连接到中继服务
func (c *Client) Connect() error {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	log.Printf("[INFO] 正在连接中继服务: %s", c.url)

	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("解析URL失败: %v", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.handshakeTimeout,
	}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("连接中继服务失败: %v", err)
	}

	c.conn = conn
	c.startHeartbeat()
	go c.receiveLoop()

	log.Printf("[INFO] 已连接到中继服务: %s", c.url)
	return nil
}

// Close 关闭连接
func (c *Client) Close() error {
	c.doneOnce.Do(func() { close(c.done) })

	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// Done 连接关闭后该通道被关闭
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// StartSession 发送start控制消息
func (c *Client) StartSession(sessionID string) error {
	return c.SendControl(types.ControlMessage{
		Type:      types.ControlTypeStart,
		SessionID: sessionID,
	})
}

// EndSession 发送end控制消息
func (c *Client) EndSession(sessionID string) error {
	return c.SendControl(types.ControlMessage{
		Type:      types.ControlTypeEnd,
		SessionID: sessionID,
	})
}

// SendControl 以文本帧发送JSON控制消息
func (c *Client) SendControl(control types.ControlMessage) error {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.conn == nil {
		return fmt.Errorf("WebSocket未连接")
	}

	data, err := json.Marshal(control)
	if err != nil {
		return fmt.Errorf("消息序列化失败: %v", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendAudio 以二进制帧发送一块PCM音频
func (c *Client) SendAudio(data []byte) error {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.conn == nil {
		return fmt.Errorf("WebSocket未连接")
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// startHeartbeat 启动心跳
func (c *Client) startHeartbeat() {
	if c.heartbeatInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.heartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				c.connLock.Lock()
				conn := c.conn
				if conn != nil {
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						log.Printf("[WARN] 发送心跳失败: %v", err)
					}
				}
				c.connLock.Unlock()
			}
		}
	}()
}

// receiveLoop 接收消息循环，连接出错或关闭时退出
func (c *Client) receiveLoop() {
	defer c.Close()

	for {
		c.connLock.Lock()
		conn := c.conn
		c.connLock.Unlock()
		if conn == nil {
			return
		}

		messageType, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Printf("[WARN] 读取消息失败: %v", err)
			}
			return
		}

		if err := c.dispatch(messageType, message); err != nil {
			log.Printf("[WARN] 处理消息失败: %v", err)
		}
	}
}

// dispatch 按帧类型分发消息
func (c *Client) dispatch(messageType int, message []byte) error {
	switch messageType {
	case websocket.BinaryMessage:
		if c.audioHandler == nil {
			return nil
		}
		return c.audioHandler(message)

	case websocket.TextMessage:
		var event types.ServerEvent
		if err := json.Unmarshal(message, &event); err != nil {
			return fmt.Errorf("解析消息失败: %v", err)
		}
		if handler, ok := c.handlers[event.Type]; ok {
			return handler(event)
		}
		log.Printf("[DEBUG] 未注册处理器的消息类型: %s", event.Type)
	}
	return nil
}
