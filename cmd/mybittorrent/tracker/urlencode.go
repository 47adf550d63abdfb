package tracker

import "strings"

const upperHex = "0123456789ABCDEF"

// EncodeBytes percent-encodes raw bytes for a query string. Unreserved
// characters pass through, a space becomes '+', and everything else becomes
// %XX. The input need not be valid UTF-8.
func EncodeBytes(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for _, c := range b {
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			c == '.', c == '-', c == '_', c == '~':
			sb.WriteByte(c)
		case c == ' ':
			sb.WriteByte('+')
		default:
			sb.WriteByte('%')
			sb.WriteByte(upperHex[c>>4])
			sb.WriteByte(upperHex[c&0x0F])
		}
	}
	return sb.String()
}
