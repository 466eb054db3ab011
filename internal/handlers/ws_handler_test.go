package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ai_voice_bridge/internal/config"
	"ai_voice_bridge/internal/service/relay"
	"ai_voice_bridge/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWSTestServer(t *testing.T) (*httptest.Server, *relay.Orchestrator, *fakeBridge) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	orchestrator, bridge := newTestOrchestrator()
	handler := NewVoiceWSHandler(orchestrator, config.Default().WebSocket)

	r := gin.New()
	handler.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, orchestrator, bridge
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/voice"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent 读取下一条JSON消息
func readEvent(t *testing.T, conn *websocket.Conn) types.ServerEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event types.ServerEvent
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestWSStartSession(t *testing.T) {
	srv, _, _ := newWSTestServer(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(types.ControlMessage{Type: types.ControlTypeStart, SessionID: "s1"}))

	event := readEvent(t, conn)
	assert.Equal(t, types.EventTypeSessionStarted, event.Type)
	assert.Equal(t, "s1", event.SessionID)
}

func TestWSAudioRoundTrip(t *testing.T) {
	srv, _, bridge := newWSTestServer(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(types.ControlMessage{Type: types.ControlTypeStart, SessionID: "s1"}))
	require.Equal(t, types.EventTypeSessionStarted, readEvent(t, conn).Type)

	// 二进制帧作为音频转发到上游
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}))
	upstream, _ := bridge.lastUpstream()
	require.Eventually(t, func() bool {
		return upstream.frameCount() == 1
	}, time.Second, 10*time.Millisecond)

	// 模型回复的轮次以二进制WAV帧回推
	bridge.pushTurn([]byte{9, 8, 7})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	messageType, message, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, messageType)
	require.Greater(t, len(message), 44)
	assert.Equal(t, []byte("RIFF"), message[:4])
	assert.Equal(t, []byte{9, 8, 7}, message[44:])
}

func TestWSBinaryControlMessage(t *testing.T) {
	srv, _, _ := newWSTestServer(t)
	conn := dialWS(t, srv)

	// 有些客户端把JSON控制消息标成二进制帧，必须照常识别
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage,
		[]byte(`{"type":"start","sessionId":"s1"}`)))

	event := readEvent(t, conn)
	assert.Equal(t, types.EventTypeSessionStarted, event.Type)
}

func TestWSUnknownControlType(t *testing.T) {
	srv, _, _ := newWSTestServer(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(types.ControlMessage{Type: "unknown", SessionID: "s1"}))

	event := readEvent(t, conn)
	assert.Equal(t, types.EventTypeError, event.Type)
}

func TestWSEndSession(t *testing.T) {
	srv, orchestrator, bridge := newWSTestServer(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(types.ControlMessage{Type: types.ControlTypeStart, SessionID: "s1"}))
	require.Equal(t, types.EventTypeSessionStarted, readEvent(t, conn).Type)

	require.NoError(t, conn.WriteJSON(types.ControlMessage{Type: types.ControlTypeEnd, SessionID: "s1"}))

	upstream, _ := bridge.lastUpstream()
	require.Eventually(t, func() bool {
		return orchestrator.Registry().Len() == 0
	}, 2*time.Second, 20*time.Millisecond)

	upstream.mu.Lock()
	closed := upstream.closed
	upstream.mu.Unlock()
	assert.True(t, closed)
}

func TestWSDisconnectCancelsSession(t *testing.T) {
	srv, orchestrator, _ := newWSTestServer(t)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(types.ControlMessage{Type: types.ControlTypeStart, SessionID: "s1"}))
	require.Equal(t, types.EventTypeSessionStarted, readEvent(t, conn).Type)

	// 连接断开没有显式end也必须清理会话
	conn.Close()
	require.Eventually(t, func() bool {
		return orchestrator.Registry().Len() == 0
	}, 2*time.Second, 20*time.Millisecond)
}
