package websocket

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/strangers/internal/chatserver"
	"github.com/cory-johannsen/strangers/internal/config"
	"github.com/cory-johannsen/strangers/internal/protocol"
	"github.com/cory-johannsen/strangers/internal/regions"
	"github.com/cory-johannsen/strangers/internal/transport"
)

type stack struct {
	srv  *Server
	ctrl *chatserver.Controller
	url  string
}

func testConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		Host:            "127.0.0.1",
		Port:            0,
		Path:            "/ws",
		MaxMessageBytes: 4096,
		PongWait:        5 * time.Second,
		PingInterval:    4 * time.Second,
		WriteTimeout:    2 * time.Second,
	}
}

func newServer(t *testing.T, cfg config.WebSocketConfig, limits config.RateLimitConfig) (*Server, *chatserver.Controller) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	hub := transport.NewHub(transport.DefaultBufferSize, logger)
	catalog := regions.DefaultCatalog()
	ctrl := chatserver.NewController(hub, catalog, nil, chatserver.DefaultOptions(), logger)
	return NewServer(cfg, limits, ctrl, hub, catalog, logger), ctrl
}

func newStack(t *testing.T, cfg config.WebSocketConfig, limits config.RateLimitConfig) *stack {
	t.Helper()
	srv, ctrl := newServer(t, cfg, limits)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Stop()
		ts.Close()
	})
	return &stack{srv: srv, ctrl: ctrl, url: ts.URL}
}

func (s *stack) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := s.tryDial(header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *stack) tryDial(header http.Header) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.url, "http")+"/ws", header)
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame := map[string]any{"event": event}
	if data != nil {
		frame["data"] = data
	}
	require.NoError(t, conn.WriteJSON(frame))
}

// expect reads until an envelope named event arrives, skipping others.
func expect(t *testing.T, conn *websocket.Conn, event string) protocol.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Event == event {
			return env
		}
	}
}

func payload[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, env.DecodeData(&v))
	return v
}

func login(t *testing.T, conn *websocket.Conn, name string) {
	t.Helper()
	send(t, conn, protocol.EventLogin, map[string]any{"name": name, "age": 30})
	assert.Equal(t, name, payload[protocol.LoginSuccess](t, expect(t, conn, protocol.EventLoginSuccess)).Name)
}

func TestServer_PairConversation(t *testing.T) {
	s := newStack(t, testConfig(), config.RateLimitConfig{})
	alice := s.dial(t, nil)
	bob := s.dial(t, nil)
	login(t, alice, "Alice")
	login(t, bob, "Bob")

	send(t, alice, protocol.EventJoinPair, nil)
	expect(t, alice, protocol.EventWaiting)
	send(t, bob, protocol.EventJoinQueue, nil)

	am := payload[protocol.Matched](t, expect(t, alice, protocol.EventMatched))
	bm := payload[protocol.Matched](t, expect(t, bob, protocol.EventMatched))
	assert.Equal(t, "Bob", am.Partner)
	assert.Equal(t, "Alice", bm.Partner)
	assert.True(t, am.IsCaller)
	assert.False(t, bm.IsCaller)
	assert.Equal(t, am.Room, bm.Room)

	send(t, alice, protocol.EventSendMessage, map[string]any{"text": "hi bob"})
	got := payload[protocol.ChatMessage](t, expect(t, bob, protocol.EventMessage))
	assert.Equal(t, "hi bob", got.Text)
	assert.Equal(t, "Alice", got.User)
	assert.False(t, got.IsSelf)
	echo := payload[protocol.ChatMessage](t, expect(t, alice, protocol.EventMessage))
	assert.True(t, echo.IsSelf)

	voice := []byte{0x4f, 0x67, 0x67, 0x53}
	require.NoError(t, bob.WriteMessage(websocket.BinaryMessage, voice))
	audio := payload[protocol.ChatMessage](t, expect(t, alice, protocol.EventMessage))
	assert.Equal(t, voice, audio.Audio)
	assert.Equal(t, "Bob", audio.User)

	require.NoError(t, alice.Close())
	notice := payload[protocol.Notice](t, expect(t, bob, protocol.EventUserDisconnected))
	assert.NotEmpty(t, notice.Message)
	assert.Eventually(t, func() bool { return s.srv.Active() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_MalformedFrame(t *testing.T) {
	s := newStack(t, testConfig(), config.RateLimitConfig{})
	conn := s.dial(t, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	notice := payload[protocol.ErrorNotice](t, expect(t, conn, protocol.EventError))
	assert.Equal(t, protocol.CodeInvalidEvent, notice.Code)

	send(t, conn, protocol.EventJoinPair, nil)
	notice = payload[protocol.ErrorNotice](t, expect(t, conn, protocol.EventError))
	assert.Equal(t, protocol.CodeLoginRequired, notice.Code)
}

func TestServer_LoginWithoutAge(t *testing.T) {
	s := newStack(t, testConfig(), config.RateLimitConfig{})
	conn := s.dial(t, nil)

	for _, data := range []map[string]any{
		{"name": "Eve"},
		{"name": "Eve", "age": ""},
	} {
		send(t, conn, protocol.EventLogin, data)
		notice := payload[protocol.Notice](t, expect(t, conn, protocol.EventLoginError))
		assert.Contains(t, notice.Message, "please enter your age")
	}
}

func TestServer_RateLimit(t *testing.T) {
	s := newStack(t, testConfig(), config.RateLimitConfig{EventsPerSecond: 0.01, Burst: 2})
	conn := s.dial(t, nil)

	login(t, conn, "Hasty")
	send(t, conn, protocol.EventJoinPair, nil)
	expect(t, conn, protocol.EventWaiting)
	send(t, conn, protocol.EventLeave, nil)

	notice := payload[protocol.ErrorNotice](t, expect(t, conn, protocol.EventError))
	assert.Equal(t, protocol.CodeRateLimited, notice.Code)
	assert.Equal(t, 1, s.ctrl.Stats().Queued)
}

func TestServer_OversizeFrameClosesConnection(t *testing.T) {
	s := newStack(t, testConfig(), config.RateLimitConfig{})
	conn := s.dial(t, nil)

	big := `{"event":"send_message","data":{"text":"` + strings.Repeat("x", 8192) + `"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var err error
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		assert.Equal(t, websocket.CloseMessageTooBig, closeErr.Code)
	}
	assert.Eventually(t, func() bool { return s.ctrl.Stats().Connections == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_OriginAllowList(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://Chat.Example"}
	s := newStack(t, cfg, config.RateLimitConfig{})

	_, resp, err := s.tryDial(http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	conn := s.dial(t, http.Header{"Origin": {"https://chat.example"}})
	login(t, conn, "Welcome")
}

func TestServer_Health(t *testing.T) {
	s := newStack(t, testConfig(), config.RateLimitConfig{})
	conn := s.dial(t, nil)
	login(t, conn, "Counted")

	resp, err := http.Get(s.url + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Connections)
	assert.Equal(t, 1, body.LoggedIn)
}

func TestServer_Regions(t *testing.T) {
	s := newStack(t, testConfig(), config.RateLimitConfig{})

	resp, err := http.Get(s.url + "/regions")
	require.NoError(t, err)
	defer resp.Body.Close()

	var views []regionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	require.NotEmpty(t, views)
	assert.Equal(t, regions.GlobalID, views[0].ID)
	assert.Equal(t, "group_global", views[0].Room)
}

func TestServer_IndexPage(t *testing.T) {
	s := newStack(t, testConfig(), config.RateLimitConfig{})

	resp, err := http.Get(s.url + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<title>Strangers</title>")
	assert.NotContains(t, string(body), `Number($("age").value)`, "an empty age field must not be sent as 0")
}

func TestServer_StopSendsGoingAway(t *testing.T) {
	srv, ctrl := newServer(t, testConfig(), config.RateLimitConfig{})
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	select {
	case <-srv.Ready():
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	}

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.Active() == 1 }, 2*time.Second, 10*time.Millisecond)

	srv.Stop()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.NoError(t, <-errCh)
	assert.Equal(t, 0, ctrl.Stats().Connections)
	assert.Equal(t, 0, srv.Active())
}
