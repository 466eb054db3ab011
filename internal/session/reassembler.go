package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"ai_voice_bridge/internal/clients/gemini"
	"ai_voice_bridge/internal/codec"
	"ai_voice_bridge/internal/types"
)

// Reassembler 轮次重组器。
// 从会话的待处理队列中按FIFO顺序消费上游消息，
// 累积内联音频片段直到轮次完成标记，编码为WAV后交给调用方。
type Reassembler struct {
	// OutputSampleRate 模型输出片段缺少rate参数时的会话默认采样率
	OutputSampleRate int
}

// NewReassembler 创建轮次重组器
func NewReassembler(outputSampleRate int) *Reassembler {
	return &Reassembler{OutputSampleRate: outputSampleRate}
}

// DrainAvailable 非阻塞地排空可用消息。
// 一次调用最多返回一个完成的轮次，绝不把两个轮次合并，
// 否则会打乱播放顺序。队列耗尽且没有轮次完成标记时返回nil。
func (r *Reassembler) DrainAvailable(s *Session) ([]byte, error) {
	for {
		msg, ok := s.PopMessage()
		if !ok {
			return nil, nil
		}

		if msg.ToolCall != nil {
			r.handleToolCall(s, msg.ToolCall)
			continue
		}

		content := msg.ServerContent
		if content == nil {
			continue
		}

		if content.ModelTurn != nil {
			for _, part := range content.ModelTurn.Parts {
				switch {
				case part.InlineData != nil:
					s.AppendFragment(part.InlineData.Data)
					if part.InlineData.MimeType != "" {
						s.SetContentType(part.InlineData.MimeType)
					}
				case part.Text != "":
					// 文本作为旁路事件转发，不进入音频路径
					r.sendEvent(s, types.ServerEvent{
						Type:      types.EventTypeText,
						SessionID: s.ID,
						Text:      part.Text,
					})
				}
			}
		}

		if content.TurnComplete && s.FragmentCount() > 0 {
			return r.encodeTurn(s)
		}
	}
}

// AwaitFinalTurn 阻塞等待最后一个轮次，仅在会话结束时使用。
// 用队列通知代替固定间隔轮询，超时语义不变。
func (r *Reassembler) AwaitFinalTurn(ctx context.Context, s *Session, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		buf, err := r.DrainAvailable(s)
		if err != nil || buf != nil {
			return buf, err
		}

		select {
		case <-s.Notify():
			// 队列有新消息，继续排空
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// FlushPartial 强制刷出未完成轮次的音频片段。
// 传输断开或显式end到达时，已累积的音频仍应让用户听到，
// 而不是直接丢弃。没有片段时返回nil。
func (r *Reassembler) FlushPartial(s *Session) ([]byte, error) {
	if s.FragmentCount() == 0 {
		return nil, nil
	}
	log.Printf("[INFO] 会话%s在轮次中途关闭，刷出%d个未完成片段", s.ID, s.FragmentCount())
	return r.encodeTurn(s)
}

// encodeTurn 编码并清空当前累积的片段
func (r *Reassembler) encodeTurn(s *Session) ([]byte, error) {
	mimeType := s.ContentType()
	if mimeType == "" {
		mimeType = fmt.Sprintf("audio/L16;rate=%d", r.OutputSampleRate)
	}

	opts, err := codec.ParseMimeType(mimeType, r.OutputSampleRate)
	if err != nil {
		return nil, fmt.Errorf("解析音频MIME类型失败: %v", err)
	}

	fragments := s.TakeFragments()
	buf, err := codec.Encode(fragments, opts)
	if err != nil {
		return nil, fmt.Errorf("编码WAV失败: %v", err)
	}
	return buf, nil
}

// handleToolCall 处理上游工具调用。
// 对观察到的每个调用必须回复响应，否则轮次会无限期停滞；
// 这里统一合成占位响应，同时把调用作为旁路事件通知客户端。
func (r *Reassembler) handleToolCall(s *Session, toolCall *gemini.ToolCall) {
	if len(toolCall.FunctionCalls) == 0 {
		return
	}

	responses := make([]gemini.FunctionResponse, 0, len(toolCall.FunctionCalls))
	for _, call := range toolCall.FunctionCalls {
		log.Printf("[INFO] 会话%s收到工具调用: id=%s name=%s", s.ID, call.ID, call.Name)
		responses = append(responses, gemini.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: map[string]any{"output": "ok"},
		})
		r.sendEvent(s, types.ServerEvent{
			Type:      types.EventTypeToolCall,
			SessionID: s.ID,
			Name:      call.Name,
		})
	}

	upstream := s.Upstream()
	if upstream == nil {
		log.Printf("[WARN] 会话%s上游连接不存在，无法回复工具调用", s.ID)
		return
	}
	if err := upstream.SendToolResponse(responses); err != nil {
		log.Printf("[ERROR] 会话%s回复工具调用失败: %v", s.ID, err)
	}
}

// sendEvent 向客户端发送旁路事件，失败只记录日志
func (r *Reassembler) sendEvent(s *Session, event types.ServerEvent) {
	transport := s.Transport()
	if transport == nil {
		return
	}
	if err := transport.SendEvent(event); err != nil {
		log.Printf("[WARN] 会话%s发送事件失败: %v", s.ID, err)
	}
}
