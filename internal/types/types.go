// Package types 定义基本类型
package types

// SessionStatus 会话状态
type SessionStatus int

// 定义会话状态常量
const (
	SessionStatusCreating SessionStatus = iota // 创建中，上游连接尚未就绪
	SessionStatusReady                         // 就绪，可以转发音频
	SessionStatusStreaming                     // 正在转发音频
	SessionStatusIdle                          // 空闲
	SessionStatusClosing                       // 正在关闭
	SessionStatusClosed                        // 已关闭
	SessionStatusErrored                       // 出错
)

// String 返回状态的可读名称
func (s SessionStatus) String() string {
	switch s {
	case SessionStatusCreating:
		return "creating"
	case SessionStatusReady:
		return "ready"
	case SessionStatusStreaming:
		return "streaming"
	case SessionStatusIdle:
		return "idle"
	case SessionStatusClosing:
		return "closing"
	case SessionStatusClosed:
		return "closed"
	case SessionStatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal 判断是否为终止状态
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusClosed || s == SessionStatusErrored
}

// 客户端控制消息类型常量
const (
	ControlTypeStart = "start"
	ControlTypeEnd   = "end"
)

// 中继发往客户端的消息类型常量
const (
	EventTypeSessionStarted = "session-started"
	EventTypeError          = "error"
	EventTypeText           = "text"
	EventTypeToolCall       = "tool-call"
)

// ControlMessage 客户端发来的JSON控制消息
type ControlMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// ServerEvent 中继发往客户端的JSON消息
type ServerEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Text      string `json:"text,omitempty"`
	Name      string `json:"name,omitempty"`
	Error     string `json:"error,omitempty"`
	Details   string `json:"details,omitempty"`
}

// ClientTransport 客户端传输能力集。
// 持久socket和分块HTTP两种传输模式都实现该接口，
// 会话逻辑只通过它向客户端推送结果，不控制底层连接的生命周期。
type ClientTransport interface {
	// ID 传输标识，用于socket身份到会话的映射
	ID() string

	// SendEvent 推送JSON消息
	SendEvent(event ServerEvent) error

	// SendAudio 推送完整的WAV音频缓冲
	SendAudio(wav []byte) error
}
