package gemini

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeUpstreamServer 模拟上游语音服务：记录收到的帧，
// 收到配置帧后回复setupComplete。
type fakeUpstreamServer struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	frames []map[string]json.RawMessage
}

func newFakeUpstreamServer(t *testing.T) (*fakeUpstreamServer, string) {
	t.Helper()
	server := &fakeUpstreamServer{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		server.mu.Lock()
		server.conn = conn
		server.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var frame map[string]json.RawMessage
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			server.mu.Lock()
			server.frames = append(server.frames, frame)
			server.mu.Unlock()

			if _, ok := frame["setup"]; ok {
				conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`))
			}
		}
	}))
	t.Cleanup(srv.Close)

	return server, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// send 向客户端下发一条消息
func (s *fakeUpstreamServer) send(t *testing.T, message string) {
	t.Helper()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	require.NotNil(t, conn)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(message)))
}

// frameWith 查找携带指定键的帧
func (s *fakeUpstreamServer) frameWith(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, frame := range s.frames {
		if raw, ok := frame[key]; ok {
			return raw, true
		}
	}
	return nil, false
}

func TestConnectSendsSetup(t *testing.T) {
	server, endpoint := newFakeUpstreamServer(t)

	opened := make(chan struct{})
	client := NewClient(Config{
		APIKey:             "test-key",
		Model:              "models/test-model",
		Voice:              "Puck",
		CompressionTrigger: 25600,
		CompressionTarget:  12800,
		Endpoint:           endpoint,
	}, Callbacks{
		OnOpen: func() { close(opened) },
	})
	require.NoError(t, client.Connect())
	defer client.Close()

	// setupComplete到达后OnOpen触发
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("等待OnOpen超时")
	}

	raw, ok := server.frameWith("setup")
	require.True(t, ok)
	var setup Setup
	require.NoError(t, json.Unmarshal(raw, &setup))
	assert.Equal(t, "models/test-model", setup.Model)
	assert.Equal(t, []string{"AUDIO"}, setup.GenerationConfig.ResponseModalities)
	assert.Equal(t, "Puck", setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	assert.Equal(t, 25600, setup.ContextWindowCompression.TriggerTokens)
	assert.Equal(t, 12800, setup.ContextWindowCompression.SlidingWindow.TargetTokens)
}

func TestConnectMissingAPIKey(t *testing.T) {
	client := NewClient(Config{Model: "models/test-model"}, Callbacks{})
	assert.Error(t, client.Connect())
}

func TestSendAudioFrame(t *testing.T) {
	server, endpoint := newFakeUpstreamServer(t)

	opened := make(chan struct{})
	client := NewClient(Config{
		APIKey:   "test-key",
		Model:    "models/test-model",
		Endpoint: endpoint,
	}, Callbacks{
		OnOpen: func() { close(opened) },
	})
	require.NoError(t, client.Connect())
	defer client.Close()
	<-opened

	require.NoError(t, client.SendAudio([]byte{1, 2, 3}, "audio/pcm;rate=44100"))

	require.Eventually(t, func() bool {
		_, ok := server.frameWith("clientContent")
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	raw, _ := server.frameWith("clientContent")
	var content ClientContent
	require.NoError(t, json.Unmarshal(raw, &content))
	require.Len(t, content.Turns, 1)
	assert.Equal(t, "user", content.Turns[0].Role)
	require.Len(t, content.Turns[0].Parts, 1)
	part := content.Turns[0].Parts[0]
	assert.Equal(t, "audio/pcm;rate=44100", part.InlineData.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), part.InlineData.Data)
}

func TestServerContentDispatch(t *testing.T) {
	server, endpoint := newFakeUpstreamServer(t)

	opened := make(chan struct{})
	messages := make(chan *ServerMessage, 4)
	client := NewClient(Config{
		APIKey:   "test-key",
		Model:    "models/test-model",
		Endpoint: endpoint,
	}, Callbacks{
		OnOpen:    func() { close(opened) },
		OnMessage: func(msg *ServerMessage) { messages <- msg },
	})
	require.NoError(t, client.Connect())
	defer client.Close()
	<-opened

	server.send(t, `{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/L16;rate=24000","data":"AAEC"}}]}}}`)
	server.send(t, `{"serverContent":{"turnComplete":true}}`)

	msg := <-messages
	require.NotNil(t, msg.ServerContent)
	require.NotNil(t, msg.ServerContent.ModelTurn)
	require.Len(t, msg.ServerContent.ModelTurn.Parts, 1)
	assert.Equal(t, "AAEC", msg.ServerContent.ModelTurn.Parts[0].InlineData.Data)

	msg = <-messages
	require.NotNil(t, msg.ServerContent)
	assert.True(t, msg.ServerContent.TurnComplete)
}

func TestCloseIdempotent(t *testing.T) {
	_, endpoint := newFakeUpstreamServer(t)

	var closeCount int
	var mu sync.Mutex
	client := NewClient(Config{
		APIKey:   "test-key",
		Model:    "models/test-model",
		Endpoint: endpoint,
	}, Callbacks{
		OnClose: func() {
			mu.Lock()
			closeCount++
			mu.Unlock()
		},
	})
	require.NoError(t, client.Connect())

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, closeCount)
}
