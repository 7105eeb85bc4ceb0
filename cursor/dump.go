package cursor

import (
	"bufio"
	"io"
	"strings"
)

const (
	dumpGroup = 4
	dumpLine  = 16
	// 每行十六进制列宽：每字节 "XX " 加每组一个额外空格
	dumpHexWidth = dumpLine*3 + dumpLine/dumpGroup
)

const hexDigits = "0123456789ABCDEF"

// Dump 以十六进制与可打印 ASCII 并排的形式输出已处理区间 [start, pos)，
// 每行 16 字节、4 字节一组。仅用于诊断，不影响位置。
func (c *Cursor) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	data := c.Bytes()
	for off := 0; off < len(data); off += dumpLine {
		row := data[off:min(off+dumpLine, len(data))]
		n := 0
		for i, b := range row {
			bw.WriteByte(hexDigits[b>>4])
			bw.WriteByte(hexDigits[b&0x0F])
			bw.WriteByte(' ')
			n += 3
			if i%dumpGroup == dumpGroup-1 {
				bw.WriteByte(' ')
				n++
			}
		}
		for ; n < dumpHexWidth; n++ {
			bw.WriteByte(' ')
		}
		bw.WriteString("| ")
		for i, b := range row {
			if b >= 0x20 && b < 0x7F {
				bw.WriteByte(b)
			} else {
				bw.WriteByte('.')
			}
			if i%dumpGroup == dumpGroup-1 && i != len(row)-1 {
				bw.WriteByte(' ')
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// String 返回 Dump 的文本形式。
func (c *Cursor) String() string {
	var sb strings.Builder
	_ = c.Dump(&sb)
	return sb.String()
}
