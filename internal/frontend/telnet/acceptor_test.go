package telnet

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/strangers/internal/config"
)

// echoHandler echoes lines back until the client types quit.
type echoHandler struct {
	sessions atomic.Int32
}

func (h *echoHandler) HandleSession(_ context.Context, conn *Conn) error {
	h.sessions.Add(1)
	for {
		line, err := conn.ReadLine()
		if err != nil {
			return err
		}
		if line == "quit" {
			_ = conn.WriteLine("bye")
			return nil
		}
		_ = conn.WriteLine("echo: " + line)
	}
}

func startAcceptor(t *testing.T, handler SessionHandler) *Acceptor {
	t.Helper()
	cfg := config.TelnetConfig{
		Host:         "127.0.0.1",
		Port:         0,
		LoginTimeout: 5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	acc := NewAcceptor(cfg, handler, zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	go func() { errCh <- acc.Start() }()

	select {
	case <-acc.Ready():
	case err := <-errCh:
		t.Fatalf("acceptor failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("acceptor did not start in time")
	}
	t.Cleanup(func() {
		acc.Stop()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Start did not return after Stop")
		}
	})
	return acc
}

func dial(t *testing.T, acc *Acceptor) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", acc.Addr(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	r := bufio.NewReader(conn)
	negotiation := make([]byte, 3)
	_, err = r.Read(negotiation)
	require.NoError(t, err)
	assert.Equal(t, []byte{IAC, WILL, OptSuppressGoAhead}, negotiation)
	return conn, r
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\r\n")
}

func TestAcceptor_EchoSession(t *testing.T) {
	handler := &echoHandler{}
	acc := startAcceptor(t, handler)
	conn, r := dial(t, acc)

	_, err := conn.Write([]byte("hello\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", readLine(t, r))

	_, err = conn.Write([]byte("quit\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "bye", readLine(t, r))
	assert.Equal(t, int32(1), handler.sessions.Load())
}

func TestAcceptor_StopNotifiesOpenSessions(t *testing.T) {
	acc := startAcceptor(t, &echoHandler{})
	conn, r := dial(t, acc)

	_, err := conn.Write([]byte("ping\n"))
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", readLine(t, r))
	require.Eventually(t, func() bool { return acc.Active() == 1 }, time.Second, 10*time.Millisecond)

	acc.Stop()

	assert.Contains(t, StripANSI(readLine(t, r)), ShutdownNotice)
	_, err = r.ReadByte()
	assert.Error(t, err)
	assert.Equal(t, 0, acc.Active())
}

func TestAcceptor_StopBeforeStart(t *testing.T) {
	acc := NewAcceptor(config.TelnetConfig{Host: "127.0.0.1"}, &echoHandler{}, zaptest.NewLogger(t))
	acc.Stop()
	assert.NoError(t, acc.Start())
	assert.Empty(t, acc.Addr())
}

func TestAcceptor_ListenError(t *testing.T) {
	acc := NewAcceptor(config.TelnetConfig{Host: "256.0.0.1", Port: 1}, &echoHandler{}, zaptest.NewLogger(t))
	err := acc.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on")
}
