package bytecode

import (
	"fmt"
	"io"
	"strings"
)

const hexColumns = 16

// HexDump writes data as rows of 16 bytes: offset, hex bytes, printable characters.
func HexDump(w io.Writer, data []byte) error {
	var sb strings.Builder
	for row := 0; row < len(data); row += hexColumns {
		end := row + hexColumns
		if end > len(data) {
			end = len(data)
		}
		sb.WriteString(fmt.Sprintf("%04X  ", row))
		for i := row; i < row+hexColumns; i++ {
			if i < end {
				sb.WriteString(fmt.Sprintf("%02X ", data[i]))
			} else {
				sb.WriteString("   ")
			}
			if i == row+7 {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(" |")
		for _, b := range data[row:end] {
			if b >= 0x20 && b < 0x7F {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("|\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// DumpData writes a data segment as rows of four floats with their metadata.
func DumpData(w io.Writer, data []float32, metadata []byte) error {
	var sb strings.Builder
	for i := 0; i < len(data); i += 4 {
		sb.WriteString(fmt.Sprintf("%04d ", i))
		for j := i; j < i+4 && j < len(data); j++ {
			width, t := 0, Numeric
			if j < len(metadata) {
				width, t = DecodeMetadata(metadata[j])
			}
			sb.WriteString(fmt.Sprintf(" %12g [%d %-6s]", data[j], width, t))
		}
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
