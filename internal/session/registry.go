package session

import (
	"log"
	"sync"
)

// Registry 进程级会话注册表，唯一的共享可变资源。
// 在进程启动时构造一次并注入编排器，测试可以独立实例化。
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry 创建新的会话注册表
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Create 创建会话。对同一ID的快速重复start采取"先关后建"策略：
// 旧会话的上游连接被显式关闭，绝不静默泄漏。
func (r *Registry) Create(id string) *Session {
	r.mu.Lock()
	old, exists := r.sessions[id]
	s := newSession(id)
	r.sessions[id] = s
	r.mu.Unlock()

	if exists {
		log.Printf("[WARN] 会话%s已存在，关闭旧会话后重建", id)
		if upstream := old.swapUpstream(nil); upstream != nil {
			if err := upstream.Close(); err != nil {
				log.Printf("[WARN] 关闭旧上游连接失败: %v", err)
			}
		}
		// 旧会话的排空goroutine靠done信号退出
		old.MarkDone()
	}

	return s
}

// Get 按ID查找会话
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Delete 删除会话。已不存在时无操作，保证清理路径幂等。
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// SetUpstream 绑定上游句柄。每个会话最多一个活跃上游连接，
// 再次绑定会关闭前一个句柄。
func (r *Registry) SetUpstream(id string, handle UpstreamHandle) bool {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	if old := s.swapUpstream(handle); old != nil {
		log.Printf("[WARN] 会话%s已有上游连接，关闭旧连接", id)
		if err := old.Close(); err != nil {
			log.Printf("[WARN] 关闭旧上游连接失败: %v", err)
		}
	}
	return true
}

// BySocket 按传输标识解析会话。一个socket同一时刻最多对应一个活跃会话。
func (r *Registry) BySocket(transportID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.BoundTo(transportID) {
			return s, true
		}
	}
	return nil, false
}

// Each 遍历所有会话，供空闲检查使用
func (r *Registry) Each(fn func(s *Session)) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}

// Len 返回当前会话数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
