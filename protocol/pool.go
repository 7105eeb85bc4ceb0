package protocol

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// 解压上限：超过单帧可能的最大长度即视为异常输入
const maxDecoderMemory = 1 << 29

// 编码端窗口为 8MiB，更大的窗口只可能来自异常输入
const maxDecoderWindow = 8 << 20

var (
	encoderPool = sync.Pool{New: func() any {
		enc, _ := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithEncoderConcurrency(1),
		)
		return enc
	}}
	decoderPool = sync.Pool{New: func() any {
		dec, _ := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(maxDecoderMemory),
			zstd.WithDecoderMaxWindow(maxDecoderWindow),
		)
		return dec
	}}
)

func getEncoder() *zstd.Encoder  { return encoderPool.Get().(*zstd.Encoder) }
func putEncoder(e *zstd.Encoder) { encoderPool.Put(e) }
func getDecoder() *zstd.Decoder  { return decoderPool.Get().(*zstd.Decoder) }
func putDecoder(d *zstd.Decoder) { decoderPool.Put(d) }
