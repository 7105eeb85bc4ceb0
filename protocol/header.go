package protocol

import (
	"errors"
	"fmt"

	"github.com/rtpmidid/rtpio/cursor"
)

// LenFlags 头部编码：
// 短头（2B，BE）：
//   bit15: Compressed
//   bit14: Batched (隐含 Compressed=1)
//   bit13: Ext=0 (短头)
//   bit12..0: Len13 (0..8191)
// 长头（4B，BE）：
//   bit31: Compressed
//   bit30: Batched (隐含 Compressed=1)
//   bit29: Ext=1 (长头)
//   bit28..0: Len29 (0..(1<<29)-1)

const (
	shortHeadMaxLen = (1 << 13) - 1 // 8191
	longHeadMaxLen  = (1 << 29) - 1

	// ApiLen 非批量帧中 api 字段长度
	ApiLen = 2
)

var (
	// ErrIncomplete 数据不足一个完整帧，需要更多字节
	ErrIncomplete = errors.New("protocol: incomplete frame")

	// ErrMalformed 帧内容与声明的长度不符
	ErrMalformed = errors.New("protocol: malformed frame")

	ErrTooLarge = errors.New("protocol: frame too large")

	errLengthOutOfRange = errors.New("protocol: length out of range")
)

// HeaderLen 返回长度为 length 的负载所需的头部字节数。
func HeaderLen(length int) int {
	if length <= shortHeadMaxLen {
		return 2
	}
	return 4
}

// EncodeLenFlags 将头部写入 c（2 或 4 字节），返回是否为长头。
// 空间不足时返回 cursor.ErrBufferOverrun，c 不变。
func EncodeLenFlags(c *cursor.Cursor, length int, compressed, batched bool) (isLong bool, _ error) {
	if length < 0 || length > longHeadMaxLen {
		return false, errLengthOutOfRange
	}
	if batched {
		compressed = true // 规则：Batched 隐含 Compressed
	}
	if length <= shortHeadMaxLen {
		var v uint16
		if compressed {
			v |= 1 << 15
		}
		if batched {
			v |= 1 << 14
		}
		// bit13=0 表示短头
		v |= uint16(length) & 0x1FFF
		return false, c.WriteU16(v)
	}
	var v uint32 = 1 << 29 // Ext=1
	if compressed {
		v |= 1 << 31
	}
	if batched {
		v |= 1 << 30
	}
	v |= uint32(length) & 0x1FFFFFFF
	return true, c.WriteU32(v)
}

// DecodeLenFlags 从 c 解码头部。数据不足时返回 ErrIncomplete，c 不变。
func DecodeLenFlags(c *cursor.Cursor) (length int, compressed, batched bool, _ error) {
	first, err := c.Peek()
	if err != nil {
		return 0, false, false, ErrIncomplete
	}
	// Ext 位于首字节 bit5
	if first&0x20 == 0 {
		v16, err := c.ReadU16()
		if err != nil {
			return 0, false, false, ErrIncomplete
		}
		return int(v16 & 0x1FFF), v16&(1<<15) != 0, v16&(1<<14) != 0, nil
	}
	v32, err := c.ReadU32()
	if err != nil {
		return 0, false, false, ErrIncomplete
	}
	return int(v32 & 0x1FFFFFFF), v32&(1<<31) != 0, v32&(1<<30) != 0, nil
}

// WriteApi 写入 api(uint16, BE)。
func WriteApi(c *cursor.Cursor, api uint16) error { return c.WriteU16(api) }

// ReadApi 读取 api(uint16, BE)。
func ReadApi(c *cursor.Cursor) (uint16, error) {
	api, err := c.ReadU16()
	if err != nil {
		return 0, fmt.Errorf("%w: api: %w", ErrIncomplete, err)
	}
	return api, nil
}
