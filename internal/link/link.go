//go:build linux || darwin

// Package link 实现由 Reactor 驱动的非阻塞分帧连接：
// 接收端以环形缓冲累积并按帧解析，发送端以队列缓存未写完的帧，
// 有待发送数据时关注可写，写空后收窄为只读。
package link

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/eapache/queue"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"

	"github.com/rtpmidid/rtpio/internal/netutil"
	"github.com/rtpmidid/rtpio/internal/ring"
	"github.com/rtpmidid/rtpio/protocol"
	"github.com/rtpmidid/rtpio/reactor"
)

const DefaultRxRingSize = 64 << 10

var ErrClosed = errors.New("link: closed")

// Handler 接收连接事件；所有回调都在 Reactor 的 goroutine 上执行。
type Handler interface {
	OnOpen(c *Conn)
	// OnMessage 返回错误时连接以该错误关闭。msg 仅在回调期间有效。
	OnMessage(c *Conn, api uint16, msg []byte) error
	// OnClose 恰好调用一次。err 为 nil 表示本端主动关闭，io.EOF 表示对端关闭。
	OnClose(c *Conn, err error)
}

type Config struct {
	RxRingSize int
	MaxPayload int
	Compress   bool // 单帧是否压缩
	Logger     *logiface.Logger[logiface.Event]
}

type Conn struct {
	fd    int
	r     *reactor.Reactor
	h     Handler
	cfg   Config
	ready reactor.Handler

	rx    *ring.Buffer
	maxRx int
	prs   *protocol.Parser
	enc   *protocol.Encoder

	wq   *queue.Queue // 待发送的完整帧 []byte
	woff int          // 队首帧已写出的字节数

	interest   reactor.Interest
	connecting bool
	closed     bool
	lastActive time.Time
	remote     string
}

// Open 接管 fd（须为非阻塞），注册到 r 并回调 OnOpen。
// connecting 为 true 时先等待非阻塞 connect 完成，再回调 OnOpen。
// 注册失败时关闭 fd 并返回错误，不会回调 Handler。
func Open(r *reactor.Reactor, fd int, cfg Config, h Handler, connecting bool) (*Conn, error) {
	if cfg.RxRingSize <= 0 {
		cfg.RxRingSize = DefaultRxRingSize
	}
	prs := protocol.NewParser(cfg.MaxPayload)
	c := &Conn{
		fd:         fd,
		r:          r,
		h:          h,
		cfg:        cfg,
		rx:         ring.New(cfg.RxRingSize),
		maxRx:      4 + protocol.ApiLen + prs.MaxPayload(),
		prs:        prs,
		enc:        protocol.NewEncoder(),
		wq:         queue.New(),
		connecting: connecting,
		lastActive: r.Now(),
	}
	c.ready = reactor.HandlerFunc(c.onReady)

	in := reactor.Readable
	if connecting {
		in = reactor.Writable
	}
	if err := r.Register(fd, in, c.ready); err != nil {
		unix.Close(fd)
		return nil, err
	}
	c.interest = in
	if !connecting {
		c.opened()
	}
	return c, nil
}

func (c *Conn) FD() int { return c.fd }

// RemoteAddr 连接建立前为空。
func (c *Conn) RemoteAddr() string { return c.remote }

// LastActive 返回最近一次读到或写出数据的时间（Reactor 时钟）。
func (c *Conn) LastActive() time.Time { return c.lastActive }

func (c *Conn) Closed() bool { return c.closed }

// Connecting 报告非阻塞 connect 是否仍未完成。
func (c *Conn) Connecting() bool { return c.connecting }

// Pending 返回尚未完全写出的帧数。
func (c *Conn) Pending() int { return c.wq.Length() }

// Write 编码一帧并发送；内核缓冲已满时排队，等待可写后继续。
func (c *Conn) Write(api uint16, msg []byte) error {
	if c.closed {
		return ErrClosed
	}
	frame, err := c.enc.EncodeSingle(api, msg, c.cfg.Compress)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

// WriteBatch 将多条消息编码为一个批量帧发送。
func (c *Conn) WriteBatch(items []protocol.BatchItem) error {
	if c.closed {
		return ErrClosed
	}
	frame, err := c.enc.EncodeBatch(items)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

// Close 关闭连接，丢弃未发送的数据，并以 nil 回调 OnClose。
func (c *Conn) Close() error {
	if c.closed {
		return ErrClosed
	}
	c.closeWith(nil)
	return nil
}

// CloseWithError 关闭连接并以 err 回调 OnClose。
func (c *Conn) CloseWithError(err error) error {
	if c.closed {
		return ErrClosed
	}
	c.closeWith(err)
	return nil
}

func (c *Conn) opened() {
	c.remote, _ = netutil.PeerAddr(c.fd)
	c.cfg.Logger.Info().Int("fd", c.fd).Str("remote", c.remote).Log("link: open")
	c.h.OnOpen(c)
}

func (c *Conn) enqueue(frame []byte) error {
	c.wq.Add(frame)
	if c.connecting {
		return nil
	}
	if err := c.flush(); err != nil {
		c.closeWith(err)
		return err
	}
	return nil
}

func (c *Conn) onReady(int) error {
	if c.closed {
		return nil
	}
	if c.connecting {
		return c.finishConnect()
	}
	if c.wq.Length() > 0 {
		if err := c.flush(); err != nil {
			c.closeWith(err)
			return nil
		}
	}
	if c.closed {
		return nil
	}
	c.readOnce()
	return nil
}

func (c *Conn) finishConnect() error {
	if err := netutil.SocketError(c.fd); err != nil {
		c.closeWith(fmt.Errorf("link: connect: %w", err))
		return nil
	}
	c.connecting = false
	c.lastActive = c.r.Now()
	c.opened()
	if c.closed {
		return nil
	}
	if err := c.flush(); err != nil {
		c.closeWith(err)
	}
	return nil
}

// flush 尽量写出队列中的帧，然后按是否仍有积压调整关注方向。
func (c *Conn) flush() error {
	for c.wq.Length() > 0 {
		frame := c.wq.Peek().([]byte)
		n, err := unix.Write(c.fd, frame[c.woff:])
		if n > 0 {
			c.lastActive = c.r.Now()
			c.woff += n
			if c.woff == len(frame) {
				c.wq.Remove()
				c.woff = 0
			}
			continue
		}
		if err == nil || netutil.IsTemporary(err) {
			break
		}
		return err
	}
	return c.updateInterest()
}

// updateInterest 水平触发下只在确有积压时关注可写，否则会空转。
func (c *Conn) updateInterest() error {
	want := reactor.Readable
	if c.wq.Length() > 0 {
		want = reactor.ReadWrite
	}
	if want == c.interest {
		return nil
	}
	if err := c.r.Register(c.fd, want, c.ready); err != nil {
		return err
	}
	c.interest = want
	return nil
}

// readOnce 每次就绪只读一次；剩余数据由下一次 Wait 再次通知。
func (c *Conn) readOnce() {
	sp := c.rx.WriteSpace()
	if len(sp) == 0 {
		if c.rx.Cap() >= c.maxRx {
			c.closeWith(fmt.Errorf("%w: %d buffered bytes", protocol.ErrTooLarge, c.rx.Len()))
			return
		}
		c.rx.Grow(min(c.rx.Cap()*2, c.maxRx))
		sp = c.rx.WriteSpace()
	}
	n, err := unix.Read(c.fd, sp)
	switch {
	case n > 0:
		c.rx.Commit(n)
		c.lastActive = c.r.Now()
		c.parse()
	case n == 0 && err == nil:
		c.closeWith(io.EOF)
	case netutil.IsTemporary(err):
	default:
		c.closeWith(err)
	}
}

func (c *Conn) parse() {
	consumed, err := c.prs.Parse(c.rx.Peek(c.rx.Len()), c.onFrame)
	if c.closed {
		return
	}
	c.rx.Discard(consumed)
	if err != nil {
		c.closeWith(err)
	}
}

func (c *Conn) onFrame(api uint16, msg []byte) error {
	if c.closed {
		return ErrClosed
	}
	return c.h.OnMessage(c, api, msg)
}

func (c *Conn) closeWith(err error) {
	if c.closed {
		return
	}
	c.closed = true
	if c.r.IsOpen() {
		if uerr := c.r.Unregister(c.fd); uerr != nil && !errors.Is(uerr, reactor.ErrNotRegistered) {
			c.cfg.Logger.Err().Err(uerr).Int("fd", c.fd).Log("link: unregister failed")
		}
	}
	_ = unix.Close(c.fd)
	c.interest = 0
	for c.wq.Length() > 0 {
		c.wq.Remove()
	}
	c.woff = 0
	c.rx.Reset()

	b := c.cfg.Logger.Info().Int("fd", c.fd).Str("remote", c.remote)
	if err != nil {
		b = b.Err(err)
	}
	b.Log("link: close")
	c.h.OnClose(c, err)
}
