package handlers

import (
	"encoding/base64"
	"sync"
	"time"

	"ai_voice_bridge/internal/clients/gemini"
	"ai_voice_bridge/internal/config"
	"ai_voice_bridge/internal/service/relay"
	"ai_voice_bridge/internal/session"
)

// fakeUpstream 测试用上游句柄
type fakeUpstream struct {
	mu          sync.Mutex
	closed      bool
	audioFrames [][]byte
}

func (f *fakeUpstream) SendAudio(data []byte, mimeType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioFrames = append(f.audioFrames, data)
	return nil
}

func (f *fakeUpstream) SendToolResponse(responses []gemini.FunctionResponse) error {
	return nil
}

func (f *fakeUpstream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeUpstream) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audioFrames)
}

// fakeBridge 捕获回调的假上游工厂。
// 创建后立即触发OnOpen，模拟瞬间完成的上游握手。
type fakeBridge struct {
	mu        sync.Mutex
	upstreams []*fakeUpstream
	callbacks []gemini.Callbacks
}

func (b *fakeBridge) factory(s *session.Session, callbacks gemini.Callbacks) (session.UpstreamHandle, error) {
	b.mu.Lock()
	upstream := &fakeUpstream{}
	b.upstreams = append(b.upstreams, upstream)
	b.callbacks = append(b.callbacks, callbacks)
	b.mu.Unlock()

	go callbacks.OnOpen()
	return upstream, nil
}

func (b *fakeBridge) lastUpstream() (*fakeUpstream, gemini.Callbacks) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.upstreams)
	return b.upstreams[n-1], b.callbacks[n-1]
}

// pushTurn 通过捕获的回调注入一段模型音频和轮次完成标记
func (b *fakeBridge) pushTurn(pcm []byte) {
	_, callbacks := b.lastUpstream()
	callbacks.OnMessage(&gemini.ServerMessage{
		ServerContent: &gemini.ServerContent{
			ModelTurn: &gemini.ModelTurn{
				Parts: []gemini.Part{{
					InlineData: &gemini.InlineData{
						MimeType: "audio/L16;rate=24000",
						Data:     base64.StdEncoding.EncodeToString(pcm),
					},
				}},
			},
		},
	})
	callbacks.OnMessage(&gemini.ServerMessage{
		ServerContent: &gemini.ServerContent{TurnComplete: true},
	})
}

// newTestOrchestrator 用假上游工厂构造编排器
func newTestOrchestrator() (*relay.Orchestrator, *fakeBridge) {
	cfg := config.Default()
	cfg.Gemini.APIKey = "test-key"
	cfg.Session.FinalTurnTimeout = 300 * time.Millisecond

	bridge := &fakeBridge{}
	return relay.NewOrchestrator(cfg, session.NewRegistry(), bridge.factory), bridge
}
