//go:build linux || darwin

package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/rtpmidid/rtpio/internal/netutil"
	"github.com/rtpmidid/rtpio/protocol"
	"github.com/rtpmidid/rtpio/reactor"
	"github.com/rtpmidid/rtpio/server"
)

type echoServer struct{}

func (echoServer) OnOpen(*server.Conn)         {}
func (echoServer) OnClose(*server.Conn, error) {}

func (echoServer) OnMessage(c *server.Conn, api uint16, msg []byte) error {
	return c.Write(api, msg)
}

type recorder struct {
	opened   int
	msgs     []string
	closed   int
	closeErr error
	onOpen   func(c *Client)
}

func (h *recorder) OnOpen(c *Client) {
	h.opened++
	if h.onOpen != nil {
		h.onOpen(c)
	}
}

func (h *recorder) OnMessage(_ *Client, _ uint16, msg []byte) error {
	h.msgs = append(h.msgs, string(msg))
	return nil
}

func (h *recorder) OnClose(_ *Client, err error) {
	h.closed++
	h.closeErr = err
}

func newReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r, err := reactor.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func pump(t *testing.T, r *reactor.Reactor, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		require.True(t, time.Now().Before(deadline), "timed out")
		require.NoError(t, r.ScheduleAfter(5*time.Millisecond, reactor.TimerFunc(func() error { return nil })))
		require.NoError(t, r.Wait())
	}
}

func startServer(t *testing.T, r *reactor.Reactor) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.IdleTimeout = 0
	s, err := server.New(r, cfg, echoServer{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestClient_Echo(t *testing.T) {
	r := newReactor(t)
	s := startServer(t, r)

	h := &recorder{}
	h.onOpen = func(c *Client) {
		require.NoError(t, c.Write(1, []byte("clock")))
	}
	c, err := Dial(r, "tcp", s.Addr(), h, Options{Compress: true})
	require.NoError(t, err)
	// 建立前写入的数据在建立后发出
	require.NoError(t, c.WriteBatch([]protocol.BatchItem{{Api: 2, Payload: []byte("journal")}}))

	pump(t, r, func() bool { return len(h.msgs) == 2 })
	assert.Equal(t, 1, h.opened)
	assert.True(t, c.Connected())
	assert.Equal(t, s.Addr(), c.Addr())
	assert.ElementsMatch(t, []string{"clock", "journal"}, h.msgs)
	assert.Equal(t, 0, c.Pending())

	require.NoError(t, c.Close())
	assert.Equal(t, 1, h.closed)
	assert.NoError(t, h.closeErr)
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Write(1, nil), ErrClosed)
	pump(t, r, func() bool { return s.NumConns() == 0 })
}

func TestClient_Refused(t *testing.T) {
	r := newReactor(t)
	lfd, err := netutil.Listen("tcp", "127.0.0.1:0", false)
	require.NoError(t, err)
	addr, err := netutil.LocalAddr(lfd)
	require.NoError(t, err)
	require.NoError(t, unix.Close(lfd))

	h := &recorder{}
	c, err := Dial(r, "tcp", addr, h, Options{})
	if err != nil {
		assert.ErrorIs(t, err, unix.ECONNREFUSED)
		return
	}
	pump(t, r, func() bool { return h.closed == 1 })
	assert.Zero(t, h.opened)
	assert.ErrorIs(t, h.closeErr, unix.ECONNREFUSED)
	assert.False(t, c.Connected())
}

func TestClient_IdleTimeout(t *testing.T) {
	r := newReactor(t)
	s := startServer(t, r)

	h := &recorder{}
	_, err := Dial(r, "tcp", s.Addr(), h, Options{IdleTimeout: 40 * time.Millisecond})
	require.NoError(t, err)

	pump(t, r, func() bool { return h.opened == 1 })
	start := time.Now()
	pump(t, r, func() bool { return h.closed == 1 })
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.ErrorIs(t, h.closeErr, ErrIdleTimeout)
}

func TestClient_BadNetwork(t *testing.T) {
	r := newReactor(t)
	_, err := Dial(r, "udp", "127.0.0.1:1", &recorder{}, Options{})
	assert.ErrorIs(t, err, netutil.ErrUnsupportedNetwork)
	assert.Equal(t, 0, r.Registered())
}

func TestClient_IdleTimerDrainsAfterClose(t *testing.T) {
	r := newReactor(t)
	s := startServer(t, r)

	h := &recorder{}
	c, err := Dial(r, "tcp", s.Addr(), h, Options{IdleTimeout: 30 * time.Millisecond})
	require.NoError(t, err)
	pump(t, r, func() bool { return h.opened == 1 })
	require.NoError(t, c.Close())
	pump(t, r, func() bool { return s.NumConns() == 0 })

	// 空闲检测到期一次后不再续期
	deadline := time.Now().Add(3 * time.Second)
	for r.PendingTimers() > 0 {
		require.True(t, time.Now().Before(deadline), "timed out")
		require.NoError(t, r.Wait())
	}
	require.NoError(t, s.Close())
	assert.ErrorIs(t, r.Wait(), reactor.ErrIdle)
	assert.Equal(t, 1, h.closed)
	assert.NoError(t, h.closeErr)
}
