package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 中继运行指标
var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_bridge_active_sessions",
		Help: "当前活跃会话数",
	})

	audioBytesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_audio_bytes_forwarded_total",
		Help: "转发到上游的音频字节数",
	})

	turnsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_turns_completed_total",
		Help: "完成并交付的轮次数",
	})

	sessionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_session_errors_total",
		Help: "会话错误数",
	})

	idleTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_idle_timeouts_total",
		Help: "因空闲超时被强制关闭的会话数",
	})
)
