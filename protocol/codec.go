package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"

	"github.com/rtpmidid/rtpio/cursor"
)

// DefaultMaxPayload 解析端默认允许的最大负载（压缩前后均适用）
const DefaultMaxPayload = 4 << 20

// BatchItem 用于批前镜像编码。
type BatchItem struct {
	Api     uint16
	Payload []byte
}

// 批前镜像：count(u16) + N * (api(u16) + len(u32) + payload)
const (
	batchCountLen = 2
	batchItemHead = 2 + 4
)

// Encoder 提供单帧/批量帧编码。
// 注：批量帧总是压缩（Batched => Compressed）。
type Encoder struct{}

func NewEncoder() *Encoder { return &Encoder{} }

// FrameLen 返回单帧编码后的总长度（body 为压缩后的负载）。
func FrameLen(bodyLen int) int { return HeaderLen(bodyLen) + ApiLen + bodyLen }

// EncodeSingle 返回：头部 + api + payload（压缩可选）。
func (e *Encoder) EncodeSingle(api uint16, payload []byte, compressed bool) ([]byte, error) {
	body := payload
	if compressed {
		zw := getEncoder()
		body = zw.EncodeAll(payload, nil)
		putEncoder(zw)
	}
	out := make([]byte, FrameLen(len(body)))
	c := cursor.New(out)
	if _, err := EncodeLenFlags(c, len(body), compressed, false); err != nil {
		return nil, err
	}
	if err := WriteApi(c, api); err != nil {
		return nil, err
	}
	if err := c.WriteBytes(body); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeBatch 将一批消息编码为批前镜像并压缩，返回单帧（Batched=1，隐含 Compressed=1，无 Api 字段）。
func (e *Encoder) EncodeBatch(items []BatchItem) ([]byte, error) {
	if len(items) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d batch items", ErrTooLarge, len(items))
	}
	size := batchCountLen
	for _, it := range items {
		if uint64(len(it.Payload)) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: batch item of %d bytes", ErrTooLarge, len(it.Payload))
		}
		size += batchItemHead + len(it.Payload)
	}
	pre := make([]byte, size)
	c := cursor.New(pre)
	if err := c.WriteU16(uint16(len(items))); err != nil {
		return nil, err
	}
	for _, it := range items {
		if err := c.WriteU16(it.Api); err != nil {
			return nil, err
		}
		if err := c.WriteU32(uint32(len(it.Payload))); err != nil {
			return nil, err
		}
		if err := c.WriteBytes(it.Payload); err != nil {
			return nil, err
		}
	}

	// 压缩 pre-image
	zw := getEncoder()
	body := zw.EncodeAll(pre, nil)
	putEncoder(zw)

	out := make([]byte, HeaderLen(len(body))+len(body))
	c = cursor.New(out)
	if _, err := EncodeLenFlags(c, len(body), true, true); err != nil {
		return nil, err
	}
	if err := c.WriteBytes(body); err != nil {
		return nil, err
	}
	return out, nil
}

// Parser 按帧解析；对批量帧进行解压并回调每条消息。
// 回调返回错误时终止解析。
type Parser struct {
	maxPayload int
}

// NewParser maxPayload <= 0 时使用 DefaultMaxPayload。
func NewParser(maxPayload int) *Parser {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Parser{maxPayload: maxPayload}
}

// MaxPayload 返回单帧（或批内单条）允许的最大字节数。
func (p *Parser) MaxPayload() int { return p.maxPayload }

// Parse 尝试从 buf 解析尽可能多的完整帧；返回已消费字节数。
// 末尾不完整的帧不消费、不报错，等待更多数据。
// onMessage(api, payload) 在非批量时直接回调；在批量时对每条批内消息回调。
// payload 可能引用 buf，回调返回后不应继续持有。
func (p *Parser) Parse(buf []byte, onMessage func(api uint16, payload []byte) error) (consumed int, _ error) {
	c := cursor.New(buf)
	for {
		start := c.Pos()
		length, compressed, batched, err := DecodeLenFlags(c)
		if errors.Is(err, ErrIncomplete) {
			return start, nil
		}
		if err != nil {
			return start, err
		}
		if length > p.maxPayload {
			return start, fmt.Errorf("%w: %d > %d", ErrTooLarge, length, p.maxPayload)
		}

		if !batched {
			// 非批量：长度不包含 Api
			if c.Remaining() < ApiLen+length {
				return start, nil
			}
			api, err := ReadApi(c)
			if err != nil {
				return start, fmt.Errorf("%w: %w", ErrMalformed, err)
			}
			msg, err := c.ReadBytes(length)
			if err != nil {
				return start, fmt.Errorf("%w: payload: %w", ErrMalformed, err)
			}
			if compressed {
				if msg, err = p.decompress(msg); err != nil {
					return start, err
				}
			}
			if err := onMessage(api, msg); err != nil {
				// 该帧已交付，视为已消费
				return c.Pos(), err
			}
			continue
		}

		// 批量：负载为压缩后的 pre-image
		body, err := c.ReadBytes(length)
		if err != nil {
			return start, nil
		}
		pre, err := p.decompress(body)
		if err != nil {
			return start, err
		}
		if err := p.parseBatch(pre, onMessage); err != nil {
			// 批内回调可能已执行，整帧视为已消费
			return c.Pos(), err
		}
	}
}

func (p *Parser) parseBatch(pre []byte, onMessage func(api uint16, payload []byte) error) error {
	c := cursor.New(pre)
	num, err := c.ReadU16()
	if err != nil {
		return fmt.Errorf("%w: batch count: %w", ErrMalformed, err)
	}
	for j := 0; j < int(num); j++ {
		api, err := c.ReadU16()
		if err != nil {
			return fmt.Errorf("%w: batch item %d api: %w", ErrMalformed, j, err)
		}
		ln, err := c.ReadU32()
		if err != nil {
			return fmt.Errorf("%w: batch item %d len: %w", ErrMalformed, j, err)
		}
		msg, err := c.ReadBytes(int(ln))
		if err != nil {
			return fmt.Errorf("%w: batch item %d payload: %w", ErrMalformed, j, err)
		}
		if err := onMessage(api, msg); err != nil {
			return err
		}
	}
	if c.Remaining() != 0 {
		return fmt.Errorf("%w: %d trailing bytes in batch", ErrMalformed, c.Remaining())
	}
	return nil
}

// decompress 解压时最多产出 maxPayload+1 字节，超出即判为过大。
func (p *Parser) decompress(body []byte) ([]byte, error) {
	var h zstd.Header
	if err := h.Decode(body); err != nil {
		return nil, fmt.Errorf("%w: zstd header: %w", ErrMalformed, err)
	}
	if h.HasFCS && h.FrameContentSize > uint64(p.maxPayload) {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrTooLarge, h.FrameContentSize)
	}

	dz := getDecoder()
	defer putDecoder(dz)
	if err := dz.Reset(bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("%w: zstd: %w", ErrMalformed, err)
	}
	out, err := io.ReadAll(io.LimitReader(dz, int64(p.maxPayload)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %w", ErrMalformed, err)
	}
	if len(out) > p.maxPayload {
		return nil, fmt.Errorf("%w: decompressed more than %d bytes", ErrTooLarge, p.maxPayload)
	}
	return out, nil
}
