// Package session 提供会话注册表和轮次重组功能
package session

import (
	"sync"
	"time"

	"ai_voice_bridge/internal/clients/gemini"
	"ai_voice_bridge/internal/types"
)

// UpstreamHandle 会话独占的上游连接句柄
type UpstreamHandle interface {
	SendAudio(data []byte, mimeType string) error
	SendToolResponse(responses []gemini.FunctionResponse) error
	Close() error
}

// Session 单次语音交互的全部状态。
// 分块HTTP模式下请求之间的状态完全保存在这里，不依赖局部变量。
type Session struct {
	ID string

	mu           sync.Mutex
	status       types.SessionStatus
	upstream     UpstreamHandle
	pending      []*gemini.ServerMessage // 上游消息待处理队列，FIFO
	fragments    []string                // 当前轮次累积的base64音频片段
	transport    types.ClientTransport   // 客户端传输句柄，非拥有引用
	contentType  string                  // 模型输出音频的MIME描述符
	lastActivity time.Time

	// 队列非空通知，容量1，丢弃重复信号
	notify chan struct{}

	// 会话终止信号，关闭后排空循环退出
	done     chan struct{}
	doneOnce sync.Once
}

// newSession 创建新会话，初始状态为creating
func newSession(id string) *Session {
	return &Session{
		ID:           id,
		status:       types.SessionStatusCreating,
		lastActivity: time.Now(),
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Done 返回会话终止通道
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// MarkDone 发出会话终止信号，可重复调用
func (s *Session) MarkDone() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

// Status 返回当前状态
func (s *Session) Status() types.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus 无条件设置状态
func (s *Session) SetStatus(status types.SessionStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// CompareAndSetStatus 状态比较交换，避免会话同时处于"关闭中"和"接收音频"
func (s *Session) CompareAndSetStatus(from, to types.SessionStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != from {
		return false
	}
	s.status = to
	return true
}

// Upstream 返回上游句柄，连接建立前为nil
func (s *Session) Upstream() UpstreamHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream
}

// swapUpstream 替换上游句柄并返回旧句柄，由注册表负责关闭旧连接
func (s *Session) swapUpstream(handle UpstreamHandle) UpstreamHandle {
	s.mu.Lock()
	old := s.upstream
	s.upstream = handle
	s.mu.Unlock()
	return old
}

// Transport 返回客户端传输句柄
func (s *Session) Transport() types.ClientTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// SetTransport 绑定客户端传输句柄
func (s *Session) SetTransport(transport types.ClientTransport) {
	s.mu.Lock()
	s.transport = transport
	s.mu.Unlock()
}

// BoundTo 确认会话仍然绑定在指定传输上，防止重连后跨会话投递
func (s *Session) BoundTo(transportID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil && s.transport.ID() == transportID
}

// ContentType 返回模型输出音频的MIME描述符
func (s *Session) ContentType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentType
}

// SetContentType 记录模型输出音频的MIME描述符
func (s *Session) SetContentType(mimeType string) {
	s.mu.Lock()
	s.contentType = mimeType
	s.mu.Unlock()
}

// PushMessage 追加上游消息到待处理队列并发出通知。
// 在上游接收循环内调用，必须是非阻塞的。
func (s *Session) PushMessage(msg *gemini.ServerMessage) {
	s.mu.Lock()
	s.pending = append(s.pending, msg)
	s.lastActivity = time.Now()
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// PopMessage 非阻塞弹出队首消息
func (s *Session) PopMessage() (*gemini.ServerMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, false
	}
	msg := s.pending[0]
	s.pending = s.pending[1:]
	return msg, true
}

// PendingCount 返回待处理消息数
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Notify 返回队列通知通道
func (s *Session) Notify() <-chan struct{} {
	return s.notify
}

// AppendFragment 追加当前轮次的音频片段，保持追加顺序
func (s *Session) AppendFragment(fragment string) {
	s.mu.Lock()
	s.fragments = append(s.fragments, fragment)
	s.mu.Unlock()
}

// TakeFragments 取出并清空累积的音频片段
func (s *Session) TakeFragments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	fragments := s.fragments
	s.fragments = nil
	return fragments
}

// FragmentCount 返回累积的音频片段数
func (s *Session) FragmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fragments)
}

// Touch 更新最后活动时间
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IdleFor 返回距最后一次活动的时长
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}
