// Package cursor 提供对调用方缓冲区的有界大端读写视图。
//
// Cursor 不持有缓冲区，只维护 start/end/pos 三个位置；
// 任何读写都不会越过 end，失败时 pos 保持不变。
package cursor

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrBufferOverrun 读写/前进将越过 end
	ErrBufferOverrun = errors.New("cursor: buffer overrun")

	// ErrInvalidPosition 当前位置已到达或越过 end
	ErrInvalidPosition = errors.New("cursor: invalid position")
)

// Cursor 是 buf[start:end) 上可移动的读写位置。
// 零值不可用，使用 New 或 NewRange 构造。
type Cursor struct {
	buf   []byte
	start int
	end   int // 不含
	pos   int
}

// New 返回覆盖整个 buf 的 Cursor，位置位于起点。
func New(buf []byte) *Cursor {
	return &Cursor{buf: buf, end: len(buf)}
}

// NewRange 以显式的 start/end/pos 构造 Cursor。
// 要求 0 <= start <= pos <= end <= len(buf)。
func NewRange(buf []byte, start, end, pos int) (*Cursor, error) {
	if start < 0 || start > pos || pos > end || end > len(buf) {
		return nil, fmt.Errorf("%w: start=%d pos=%d end=%d len=%d", ErrInvalidPosition, start, pos, end, len(buf))
	}
	return &Cursor{buf: buf, start: start, end: end, pos: pos}, nil
}

func (c *Cursor) Pos() int       { return c.pos }
func (c *Cursor) Start() int     { return c.start }
func (c *Cursor) End() int       { return c.end }
func (c *Cursor) Remaining() int { return c.end - c.pos }

// Consumed 返回已处理的字节数（pos - start）。
func (c *Cursor) Consumed() int { return c.pos - c.start }

// Bytes 返回已处理区间 buf[start:pos]，与底层缓冲区共享内存。
func (c *Cursor) Bytes() []byte { return c.buf[c.start:c.pos] }

// need 检查剩余空间是否足够 n 字节
func (c *Cursor) need(n int) error {
	if n < 0 || c.end-c.pos < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrBufferOverrun, n, c.end-c.pos)
	}
	return nil
}

// CheckPosition 在 pos >= end 时返回 ErrInvalidPosition。
func (c *Cursor) CheckPosition() error {
	if c.pos >= c.end {
		return fmt.Errorf("%w: pos=%d end=%d", ErrInvalidPosition, c.pos, c.end)
	}
	return nil
}

// Peek 返回当前位置的字节，不前进。
func (c *Cursor) Peek() (byte, error) {
	if err := c.CheckPosition(); err != nil {
		return 0, err
	}
	return c.buf[c.pos], nil
}

// Advance 前进一个字节；新位置到达或越过 end 时失败。
// 与 Peek 配合逐字节扫描时，成功返回意味着新位置仍可解引用。
func (c *Cursor) Advance() error {
	if c.pos+1 >= c.end {
		return fmt.Errorf("%w: advance to %d, end %d", ErrBufferOverrun, c.pos+1, c.end)
	}
	c.pos++
	return nil
}

func (c *Cursor) ReadU8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *Cursor) ReadU16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *Cursor) ReadU32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

// ReadBytes 返回接下来的 n 个字节（共享底层内存）并前进。
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := c.buf[c.pos : c.pos+n : c.pos+n]
	c.pos += n
	return b, nil
}

// ReadCString 读取以 0 结尾的字符串，位置越过结尾的 0。
// 在 end 之前找不到 0 时返回 ErrBufferOverrun，位置不变。
func (c *Cursor) ReadCString() (string, error) {
	for i := c.pos; i < c.end; i++ {
		if c.buf[i] == 0 {
			s := string(c.buf[c.pos:i])
			c.pos = i + 1
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: unterminated string at %d", ErrBufferOverrun, c.pos)
}

func (c *Cursor) WriteU8(v uint8) error {
	if err := c.need(1); err != nil {
		return err
	}
	c.buf[c.pos] = v
	c.pos++
	return nil
}

func (c *Cursor) WriteU16(v uint16) error {
	if err := c.need(2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(c.buf[c.pos:], v)
	c.pos += 2
	return nil
}

func (c *Cursor) WriteU32(v uint32) error {
	if err := c.need(4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(c.buf[c.pos:], v)
	c.pos += 4
	return nil
}

func (c *Cursor) WriteBytes(p []byte) error {
	if err := c.need(len(p)); err != nil {
		return err
	}
	c.pos += copy(c.buf[c.pos:c.end], p)
	return nil
}

// WriteCString 写入 s 的全部字节以及结尾的 0。
// 整体容量（len(s)+1）先行检查，不足时不写入任何字节。
func (c *Cursor) WriteCString(s string) error {
	if err := c.need(len(s) + 1); err != nil {
		return err
	}
	n := copy(c.buf[c.pos:c.end], s)
	c.buf[c.pos+n] = 0
	c.pos += n + 1
	return nil
}

// PutU16 将 v 以大端写入 dst 前两个字节，返回剩余部分。
// dst 长度不足 2 时 panic，与 binary.BigEndian 一致。
func PutU16(dst []byte, v uint16) []byte {
	binary.BigEndian.PutUint16(dst, v)
	return dst[2:]
}
