// Package ring 提供接收端累积用的环形字节缓冲。
package ring

import (
	"errors"
)

var ErrTooLarge = errors.New("ring: write too large")

// Buffer 是容量为 2 的幂次的环形字节缓冲。
// 不加锁，仅在 Reactor 所在 goroutine 中使用。
type Buffer struct {
	buf      []byte
	mask     int
	readPos  int
	writePos int
}

// New 返回容量为 2 的幂次的环形缓冲。若 cap 非 2 的幂则向上取整。
func New(capacity int) *Buffer {
	capPow2 := roundPow2(capacity)
	return &Buffer{buf: make([]byte, capPow2), mask: capPow2 - 1}
}

func roundPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (b *Buffer) Cap() int { return len(b.buf) }

func (b *Buffer) Len() int { return b.writePos - b.readPos }

func (b *Buffer) Free() int { return b.Cap() - b.Len() }

// Reset 丢弃所有未读数据。
func (b *Buffer) Reset() { b.readPos, b.writePos = 0, 0 }

// Write 将数据写入环形缓冲；当数据长度超过剩余空间时返回错误。
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Free() {
		return 0, ErrTooLarge
	}
	n := len(p)
	start := b.writePos & b.mask
	end := start + n
	if end <= len(b.buf) {
		copy(b.buf[start:end], p)
	} else {
		l := len(b.buf) - start
		copy(b.buf[start:], p[:l])
		copy(b.buf[:end-l], p[l:])
	}
	b.writePos += n
	return n, nil
}

// WriteSpace 返回从写指针开始的一段连续空闲区域，供 read(2) 直接写入；
// 写入后须调用 Commit。缓冲已满时返回空切片。
func (b *Buffer) WriteSpace() []byte {
	free := b.Free()
	if free == 0 {
		return nil
	}
	start := b.writePos & b.mask
	end := min(start+free, len(b.buf))
	return b.buf[start:end]
}

// Commit 确认 WriteSpace 中已写入 n 字节。
func (b *Buffer) Commit(n int) {
	if n < 0 || n > b.Free() {
		panic("ring: commit out of range")
	}
	b.writePos += n
}

// Grow 保证容量至少为 n，保留未读数据。
func (b *Buffer) Grow(n int) {
	if n <= len(b.buf) {
		return
	}
	capPow2 := roundPow2(n)
	nb := make([]byte, capPow2)
	ln := b.Len()
	copy(nb, b.Peek(ln))
	b.buf, b.mask = nb, capPow2-1
	b.readPos, b.writePos = 0, ln
}

// Peek 读取最多 n 字节但不前进读指针。
// 数据跨越环尾时返回拷贝，否则返回内部视图。
func (b *Buffer) Peek(n int) []byte {
	if n <= 0 {
		return nil
	}
	ln := b.Len()
	if n > ln {
		n = ln
	}
	start := b.readPos & b.mask
	end := start + n
	if end <= len(b.buf) {
		return b.buf[start:end]
	}
	// 分段视图需要拷贝为连续切片
	buf := make([]byte, n)
	l := len(b.buf) - start
	copy(buf[:l], b.buf[start:])
	copy(buf[l:], b.buf[:end-l])
	return buf
}

// Discard 前进读指针。读空后指针归零，减少跨尾拷贝。
func (b *Buffer) Discard(n int) int {
	ln := b.Len()
	if n > ln {
		n = ln
	}
	b.readPos += n
	if b.readPos == b.writePos {
		b.Reset()
	}
	return n
}
