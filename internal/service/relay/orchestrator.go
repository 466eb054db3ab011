// Package relay 实现会话编排：启动、音频转发、结束和超时清理
package relay

import (
	"context"
	"fmt"
	"log"
	"time"

	"ai_voice_bridge/internal/clients/gemini"
	"ai_voice_bridge/internal/config"
	"ai_voice_bridge/internal/session"
	"ai_voice_bridge/internal/types"

	"github.com/google/uuid"
)

// UpstreamFactory 为会话创建上游连接。测试中可以替换为假实现。
type UpstreamFactory func(s *session.Session, callbacks gemini.Callbacks) (session.UpstreamHandle, error)

// Orchestrator 会话编排器，串联注册表、上游桥接和轮次重组器
type Orchestrator struct {
	cfg         *config.Config
	registry    *session.Registry
	reassembler *session.Reassembler
	factory     UpstreamFactory
}

// NewOrchestrator 创建会话编排器。factory为nil时使用真实上游客户端。
func NewOrchestrator(cfg *config.Config, registry *session.Registry, factory UpstreamFactory) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		registry:    registry,
		reassembler: session.NewReassembler(cfg.Gemini.OutputSampleRate),
		factory:     factory,
	}
	if o.factory == nil {
		o.factory = o.geminiFactory
	}
	return o
}

// Registry 返回编排器使用的会话注册表
func (o *Orchestrator) Registry() *session.Registry {
	return o.registry
}

// geminiFactory 默认上游工厂
func (o *Orchestrator) geminiFactory(s *session.Session, callbacks gemini.Callbacks) (session.UpstreamHandle, error) {
	client := gemini.NewClient(gemini.Config{
		APIKey:             o.cfg.Gemini.APIKey,
		Host:               o.cfg.Gemini.Host,
		Model:              o.cfg.Gemini.Model,
		Voice:              o.cfg.Gemini.Voice,
		MediaResolution:    o.cfg.Gemini.MediaResolution,
		CompressionTrigger: o.cfg.Gemini.CompressionTrigger,
		CompressionTarget:  o.cfg.Gemini.CompressionTarget,
	}, callbacks)

	if err := client.Connect(); err != nil {
		return nil, err
	}
	return client, nil
}

// StartSession 启动会话：注册表创建、打开上游连接、
// 连接就绪后回发session-started确认。返回会话ID。
func (o *Orchestrator) StartSession(sessionID string, transport types.ClientTransport) (string, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	// 缺少凭证在会话启动时立即报告，绝不留到音频路径上静默失败
	if o.cfg.Gemini.APIKey == "" {
		o.sendError(transport, sessionID, "缺少API密钥", config.ErrMissingAPIKey.Error())
		return sessionID, config.ErrMissingAPIKey
	}

	s := o.registry.Create(sessionID)
	s.SetTransport(transport)

	callbacks := gemini.Callbacks{
		OnOpen: func() {
			// 上游就绪前到达的音频会被丢弃，不会发到空句柄上
			if s.CompareAndSetStatus(types.SessionStatusCreating, types.SessionStatusReady) {
				log.Printf("[INFO] 会话%s上游连接就绪", s.ID)
				if err := transport.SendEvent(types.ServerEvent{
					Type:      types.EventTypeSessionStarted,
					SessionID: s.ID,
				}); err != nil {
					log.Printf("[WARN] 会话%s发送启动确认失败: %v", s.ID, err)
				}
			}
		},
		OnMessage: func(msg *gemini.ServerMessage) {
			// 只追加队列，重组器单独排空，慢消费不会反压上游接收循环
			s.PushMessage(msg)
		},
		OnError: func(err error) {
			log.Printf("[ERROR] 会话%s上游错误: %v", s.ID, err)
			sessionErrors.Inc()
			o.sendError(transport, s.ID, "上游连接错误", err.Error())
			o.teardown(s, types.SessionStatusErrored)
		},
		OnClose: func() {
			o.teardown(s, types.SessionStatusClosed)
		},
	}

	handle, err := o.factory(s, callbacks)
	if err != nil {
		sessionErrors.Inc()
		o.sendError(transport, s.ID, "连接语音模型失败", err.Error())
		s.SetStatus(types.SessionStatusErrored)
		s.MarkDone()
		o.registry.Delete(s.ID)
		return s.ID, fmt.Errorf("打开上游连接失败: %v", err)
	}

	o.registry.SetUpstream(s.ID, handle)
	activeSessions.Inc()

	// 每个会话一个排空goroutine，把完成的轮次推给客户端
	go o.drainLoop(s)

	log.Printf("[INFO] 会话%s已启动", s.ID)
	return s.ID, nil
}

// drainLoop 持续排空会话队列，按轮次交付WAV音频
func (o *Orchestrator) drainLoop(s *session.Session) {
	for {
		buf, err := o.reassembler.DrainAvailable(s)
		if err != nil {
			log.Printf("[ERROR] 会话%s重组轮次失败: %v", s.ID, err)
		}
		if buf != nil {
			o.deliver(s, buf)
			continue // 队列里可能还有下一个轮次
		}

		select {
		case <-s.Notify():
		case <-s.Done():
			return
		}
	}
}

// deliver 把完成的轮次推给客户端传输
func (o *Orchestrator) deliver(s *session.Session, wav []byte) {
	turnsCompleted.Inc()
	transport := s.Transport()
	if transport == nil {
		log.Printf("[WARN] 会话%s没有客户端传输，丢弃%d字节音频", s.ID, len(wav))
		return
	}
	if err := transport.SendAudio(wav); err != nil {
		log.Printf("[WARN] 会话%s交付音频失败: %v", s.ID, err)
		return
	}
	log.Printf("[DEBUG] 会话%s交付轮次音频: %d字节", s.ID, len(wav))
}

// ForwardAudio 把客户端音频转发到上游。
// 会话缺失或未就绪时记录警告后丢弃，一个坏帧不能拖垮传输层。
func (o *Orchestrator) ForwardAudio(sessionID string, data []byte, mimeType string) {
	s, ok := o.registry.Get(sessionID)
	if !ok {
		log.Printf("[WARN] 会话%s不存在，丢弃%d字节音频", sessionID, len(data))
		return
	}

	switch s.Status() {
	case types.SessionStatusReady, types.SessionStatusIdle:
		s.SetStatus(types.SessionStatusStreaming)
	case types.SessionStatusStreaming:
	default:
		log.Printf("[WARN] 会话%s状态为%s，丢弃音频", sessionID, s.Status())
		return
	}

	upstream := s.Upstream()
	if upstream == nil {
		log.Printf("[WARN] 会话%s上游连接未就绪，丢弃音频", sessionID)
		return
	}

	if mimeType == "" {
		mimeType = fmt.Sprintf("audio/pcm;rate=%d", o.cfg.Gemini.InputSampleRate)
	}

	s.Touch()
	if err := upstream.SendAudio(data, mimeType); err != nil {
		log.Printf("[ERROR] 会话%s转发音频失败: %v", sessionID, err)
		return
	}
	audioBytesForwarded.Add(float64(len(data)))
}

// ForwardAudioBySocket 按传输标识解析会话后转发音频。
// 二进制帧找不到归属会话时静默丢弃，对端可能已经超时。
func (o *Orchestrator) ForwardAudioBySocket(transportID string, data []byte) {
	s, ok := o.registry.BySocket(transportID)
	if !ok {
		log.Printf("[WARN] 传输%s没有归属会话，丢弃%d字节音频", transportID, len(data))
		return
	}
	o.ForwardAudio(s.ID, data, "")
}

// EndSession 结束会话：等待最后一个轮次并交付，然后关闭上游、
// 删除注册表项。对已清理的会话重复调用是无操作。
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) []byte {
	s, ok := o.registry.Get(sessionID)
	if !ok {
		// 上游错误路径可能已经抢先清理
		log.Printf("[DEBUG] 会话%s不存在，end无操作", sessionID)
		return nil
	}

	if s.Status().Terminal() || !o.enterClosing(s) {
		return nil
	}

	// 先停掉排空goroutine，结束阶段由当前调用独占消费队列
	s.MarkDone()

	buf, err := o.reassembler.AwaitFinalTurn(ctx, s, o.cfg.Session.FinalTurnTimeout)
	if err != nil {
		log.Printf("[WARN] 会话%s等待最后轮次失败: %v", sessionID, err)
	}
	if buf == nil {
		// 轮次未完成也要尽力刷出已累积的音频
		buf, err = o.reassembler.FlushPartial(s)
		if err != nil {
			log.Printf("[WARN] 会话%s刷出未完成片段失败: %v", sessionID, err)
		}
	}
	if buf != nil {
		o.deliver(s, buf)
	}

	o.teardown(s, types.SessionStatusClosed)
	log.Printf("[INFO] 会话%s已结束", sessionID)
	return buf
}

// enterClosing 尝试从任一非终止状态进入closing
func (o *Orchestrator) enterClosing(s *session.Session) bool {
	for _, from := range []types.SessionStatus{
		types.SessionStatusStreaming,
		types.SessionStatusReady,
		types.SessionStatusIdle,
		types.SessionStatusCreating,
	} {
		if s.CompareAndSetStatus(from, types.SessionStatusClosing) {
			return true
		}
	}
	return false
}

// HandleTransportClose 客户端传输关闭时取消关联会话。
// 没有显式end也必须清理，否则上游连接和排队音频会永久泄漏。
func (o *Orchestrator) HandleTransportClose(transportID string) {
	s, ok := o.registry.BySocket(transportID)
	if !ok {
		return
	}
	log.Printf("[INFO] 传输%s关闭，取消会话%s", transportID, s.ID)

	// 轮次中途断开也要尽力刷出已累积的音频
	if buf, err := o.reassembler.FlushPartial(s); err == nil && buf != nil {
		o.deliver(s, buf)
	}
	o.teardown(s, types.SessionStatusClosed)
}

// teardown 关闭上游并删除注册表项。错误路径和显式end都会到达这里，
// 必须幂等：第二次调用发现会话已不在注册表时不再重复计数。
func (o *Orchestrator) teardown(s *session.Session, status types.SessionStatus) {
	if _, ok := o.registry.Get(s.ID); ok {
		o.registry.Delete(s.ID)
		activeSessions.Dec()
	}

	if !s.Status().Terminal() {
		s.SetStatus(status)
	}
	s.MarkDone()

	if upstream := s.Upstream(); upstream != nil {
		if err := upstream.Close(); err != nil {
			log.Printf("[WARN] 会话%s关闭上游连接失败: %v", s.ID, err)
		}
	}
}

// RunWatchdog 空闲会话检查循环，直到ctx取消。
// 分块HTTP模式没有可观察的连接关闭事件，空闲超时是那里唯一可靠的清理路径。
func (o *Orchestrator) RunWatchdog(ctx context.Context) {
	if o.cfg.Session.IdleTimeout <= 0 {
		log.Printf("[WARN] 空闲超时已禁用，异常断开的会话将依赖传输关闭事件清理")
		return
	}

	ticker := time.NewTicker(o.cfg.Session.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweepIdleSessions()
		}
	}
}

// sweepIdleSessions 强制关闭超过空闲时限的会话
func (o *Orchestrator) sweepIdleSessions() {
	o.registry.Each(func(s *session.Session) {
		if s.Status().Terminal() || s.IdleFor() < o.cfg.Session.IdleTimeout {
			return
		}
		log.Printf("[WARN] 会话%s空闲超过%v，强制关闭", s.ID, o.cfg.Session.IdleTimeout)
		idleTimeouts.Inc()

		if buf, err := o.reassembler.FlushPartial(s); err == nil && buf != nil {
			o.deliver(s, buf)
		}
		o.teardown(s, types.SessionStatusClosed)
	})
}

// CloseAll 关闭所有会话，进程退出前调用
func (o *Orchestrator) CloseAll() {
	o.registry.Each(func(s *session.Session) {
		o.teardown(s, types.SessionStatusClosed)
	})
}

// sendError 向客户端发送结构化错误消息，失败只记录日志
func (o *Orchestrator) sendError(transport types.ClientTransport, sessionID, message, details string) {
	if transport == nil {
		return
	}
	if err := transport.SendEvent(types.ServerEvent{
		Type:      types.EventTypeError,
		SessionID: sessionID,
		Error:     message,
		Details:   details,
	}); err != nil {
		log.Printf("[WARN] 发送错误消息失败: %v", err)
	}
}
