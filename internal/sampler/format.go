package sampler

import "strings"

// FormatHex renders bytes as [0xCA, 0xFE, ...] for log lines.
func FormatHex(p []byte) string {
	const digits = "0123456789ABCDEF"
	var sb strings.Builder
	sb.Grow(2 + len(p)*6)
	sb.WriteByte('[')
	for i, b := range p {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("0x")
		sb.WriteByte(digits[b>>4])
		sb.WriteByte(digits[b&0x0F])
	}
	sb.WriteByte(']')
	return sb.String()
}
