package protocol

import (
	"bytes"
	"errors"
	"runtime"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpmidid/rtpio/cursor"
)

type msg struct {
	api     uint16
	payload string
}

func parseAll(t *testing.T, p *Parser, buf []byte) ([]msg, int) {
	t.Helper()
	var got []msg
	n, err := p.Parse(buf, func(api uint16, payload []byte) error {
		got = append(got, msg{api, string(payload)})
		return nil
	})
	require.NoError(t, err)
	return got, n
}

func TestLenFlags_ShortAndLong(t *testing.T) {
	for _, tc := range []struct {
		length     int
		compressed bool
		batched    bool
		hdr        int
	}{
		{0, false, false, 2},
		{8191, true, false, 2},
		{8192, false, false, 4},
		{1 << 20, true, true, 4},
	} {
		buf := make([]byte, 4)
		c := cursor.New(buf)
		isLong, err := EncodeLenFlags(c, tc.length, tc.compressed, tc.batched)
		require.NoError(t, err)
		assert.Equal(t, tc.hdr == 4, isLong)
		assert.Equal(t, tc.hdr, c.Consumed())
		assert.Equal(t, tc.hdr, HeaderLen(tc.length))

		r := cursor.New(buf[:tc.hdr])
		length, compressed, batched, err := DecodeLenFlags(r)
		require.NoError(t, err)
		assert.Equal(t, tc.length, length)
		assert.Equal(t, tc.compressed || tc.batched, compressed)
		assert.Equal(t, tc.batched, batched)
		assert.Equal(t, 0, r.Remaining())
	}
}

func TestLenFlags_OutOfRange(t *testing.T) {
	c := cursor.New(make([]byte, 4))
	_, err := EncodeLenFlags(c, -1, false, false)
	assert.Error(t, err)
	_, err = EncodeLenFlags(c, longHeadMaxLen+1, false, false)
	assert.Error(t, err)
	assert.Equal(t, 0, c.Consumed())
}

func TestLenFlags_NoRoom(t *testing.T) {
	c := cursor.New(make([]byte, 3))
	_, err := EncodeLenFlags(c, 9000, false, false)
	assert.ErrorIs(t, err, cursor.ErrBufferOverrun)
	assert.Equal(t, 0, c.Consumed())
}

func TestDecodeLenFlags_Incomplete(t *testing.T) {
	buf := make([]byte, 4)
	_, err := EncodeLenFlags(cursor.New(buf), 9000, false, false)
	require.NoError(t, err)

	for _, n := range []int{0, 1, 2, 3} {
		c := cursor.New(buf[:n])
		_, _, _, err := DecodeLenFlags(c)
		assert.ErrorIs(t, err, ErrIncomplete, "n=%d", n)
		assert.Equal(t, 0, c.Pos(), "n=%d", n)
	}
}

func TestEncodeSingle_Layout(t *testing.T) {
	frame, err := NewEncoder().EncodeSingle(0x0102, []byte("MIDI"), false)
	require.NoError(t, err)
	// 头部 0x0004，api 0x0102
	assert.Equal(t, []byte{0x00, 0x04, 0x01, 0x02, 'M', 'I', 'D', 'I'}, frame)
}

func TestParse_SingleRoundTrip(t *testing.T) {
	enc := NewEncoder()
	big := bytes.Repeat([]byte("note-on "), 2000)

	var stream []byte
	for _, tc := range []struct {
		api        uint16
		payload    []byte
		compressed bool
	}{
		{1, []byte("a"), false},
		{2, []byte(""), false},
		{3, big, false},
		{4, big, true},
		{5, []byte("zz"), true},
	} {
		f, err := enc.EncodeSingle(tc.api, tc.payload, tc.compressed)
		require.NoError(t, err)
		stream = append(stream, f...)
	}

	got, n := parseAll(t, NewParser(0), stream)
	assert.Equal(t, len(stream), n)
	require.Len(t, got, 5)
	assert.Equal(t, msg{1, "a"}, got[0])
	assert.Equal(t, msg{2, ""}, got[1])
	assert.Equal(t, msg{3, string(big)}, got[2])
	assert.Equal(t, msg{4, string(big)}, got[3])
	assert.Equal(t, msg{5, "zz"}, got[4])
}

func TestParse_PartialFrames(t *testing.T) {
	enc := NewEncoder()
	f1, err := enc.EncodeSingle(7, []byte("first"), false)
	require.NoError(t, err)
	f2, err := enc.EncodeSingle(8, []byte("second"), true)
	require.NoError(t, err)
	stream := append(append([]byte{}, f1...), f2...)

	p := NewParser(0)
	// 任意截断点都只消费完整帧
	for cut := 0; cut <= len(stream); cut++ {
		got, n := parseAll(t, p, stream[:cut])
		switch {
		case cut < len(f1):
			assert.Equal(t, 0, n, "cut=%d", cut)
			assert.Empty(t, got, "cut=%d", cut)
		case cut < len(stream):
			assert.Equal(t, len(f1), n, "cut=%d", cut)
			assert.Equal(t, []msg{{7, "first"}}, got, "cut=%d", cut)
		default:
			assert.Equal(t, len(stream), n)
			assert.Equal(t, []msg{{7, "first"}, {8, "second"}}, got)
		}
	}
}

func TestParse_Batch(t *testing.T) {
	items := []BatchItem{
		{Api: 10, Payload: []byte("one")},
		{Api: 11, Payload: nil},
		{Api: 12, Payload: bytes.Repeat([]byte{0xF8}, 300)},
	}
	frame, err := NewEncoder().EncodeBatch(items)
	require.NoError(t, err)

	c := cursor.New(frame)
	_, compressed, batched, err := DecodeLenFlags(c)
	require.NoError(t, err)
	assert.True(t, compressed)
	assert.True(t, batched)

	got, n := parseAll(t, NewParser(0), frame)
	assert.Equal(t, len(frame), n)
	assert.Equal(t, []msg{
		{10, "one"},
		{11, ""},
		{12, string(items[2].Payload)},
	}, got)

	// 截断的批量帧不消费
	got, n = parseAll(t, NewParser(0), frame[:len(frame)-1])
	assert.Equal(t, 0, n)
	assert.Empty(t, got)
}

func TestParse_TooLarge(t *testing.T) {
	frame, err := NewEncoder().EncodeSingle(1, make([]byte, 100), false)
	require.NoError(t, err)
	_, err = NewParser(64).Parse(frame, func(uint16, []byte) error { return nil })
	assert.ErrorIs(t, err, ErrTooLarge)

	// 压缩后很小，解压后超过上限
	frame, err = NewEncoder().EncodeSingle(1, make([]byte, 4096), true)
	require.NoError(t, err)
	n, err := NewParser(1024).Parse(frame, func(uint16, []byte) error { return nil })
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, 0, n)
}

// allocDuring 返回 fn 执行期间累计分配的字节数
func allocDuring(fn func()) uint64 {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	fn()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

func TestParse_DecompressionBounded(t *testing.T) {
	const (
		limit = 1 << 20
		huge  = 128 << 20
	)
	zeros := make([]byte, huge)

	// 帧头声明了内容长度
	declared, err := NewEncoder().EncodeSingle(1, zeros, true)
	require.NoError(t, err)
	require.Less(t, len(declared), limit)

	// 流式压缩，帧头不含内容长度
	var body bytes.Buffer
	zw, err := zstd.NewWriter(&body)
	require.NoError(t, err)
	_, err = zw.Write(zeros)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	var h zstd.Header
	require.NoError(t, h.Decode(body.Bytes()))
	require.False(t, h.HasFCS)
	streamed := make([]byte, FrameLen(body.Len()))
	c := cursor.New(streamed)
	_, err = EncodeLenFlags(c, body.Len(), true, false)
	require.NoError(t, err)
	require.NoError(t, WriteApi(c, 1))
	require.NoError(t, c.WriteBytes(body.Bytes()))

	for name, frame := range map[string][]byte{"declared": declared, "streamed": streamed} {
		t.Run(name, func(t *testing.T) {
			p := NewParser(limit)
			var (
				n   int
				err error
			)
			calls := 0
			alloc := allocDuring(func() {
				n, err = p.Parse(frame, func(uint16, []byte) error { calls++; return nil })
			})
			assert.ErrorIs(t, err, ErrTooLarge)
			assert.Equal(t, 0, n)
			assert.Zero(t, calls)
			assert.Less(t, alloc, uint64(48<<20))
		})
	}
}

func TestParse_MalformedCompressedBody(t *testing.T) {
	buf := make([]byte, 2+ApiLen+4)
	c := cursor.New(buf)
	_, err := EncodeLenFlags(c, 4, true, false)
	require.NoError(t, err)
	require.NoError(t, WriteApi(c, 1))
	require.NoError(t, c.WriteBytes([]byte{1, 2, 3, 4}))

	_, err = NewParser(0).Parse(buf, func(uint16, []byte) error { return nil })
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseBatch_Malformed(t *testing.T) {
	p := NewParser(0)
	noop := func(uint16, []byte) error { return nil }

	// 声明 2 条，只有 1 条
	pre := make([]byte, 2+6+1)
	c := cursor.New(pre)
	require.NoError(t, c.WriteU16(2))
	require.NoError(t, c.WriteU16(1))
	require.NoError(t, c.WriteU32(1))
	require.NoError(t, c.WriteU8('x'))
	err := p.parseBatch(pre, noop)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.ErrorIs(t, err, cursor.ErrBufferOverrun)

	// 多余的尾部字节
	pre = append(pre[:0:0], 0, 0, 0xFF)
	assert.ErrorIs(t, p.parseBatch(pre, noop), ErrMalformed)

	assert.ErrorIs(t, p.parseBatch(nil, noop), ErrMalformed)
}

func TestParse_CallbackErrorStops(t *testing.T) {
	enc := NewEncoder()
	f1, _ := enc.EncodeSingle(1, []byte("a"), false)
	f2, _ := enc.EncodeSingle(2, []byte("b"), false)
	stop := errors.New("stop")

	calls := 0
	n, err := NewParser(0).Parse(append(f1, f2...), func(api uint16, _ []byte) error {
		calls++
		if api == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)
	// 出错的帧已交付，计入已消费
	assert.Equal(t, len(f1)+len(f2), n)

	// 出错时第一帧即计入
	calls = 0
	n, err = NewParser(0).Parse(append(f1, f2...), func(uint16, []byte) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
	assert.Equal(t, len(f1), n)
}

func TestReadApi_Short(t *testing.T) {
	c := cursor.New([]byte{0x01})
	_, err := ReadApi(c)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.ErrorIs(t, err, cursor.ErrBufferOverrun)
	assert.Equal(t, 0, c.Pos())
}
