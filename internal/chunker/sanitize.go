package chunker

import "strings"

// DefaultMaxInputBytes bounds the input accepted by the chunker.
const DefaultMaxInputBytes = 1 << 20

// Sanitize truncates content to maxBytes, then strips NUL bytes and replaces
// invalid UTF-8 sequences with U+FFFD. maxBytes <= 0 disables truncation.
func Sanitize(content []byte, maxBytes int) string {
	if maxBytes > 0 && len(content) > maxBytes {
		content = content[:maxBytes]
	}
	s := string(content)
	if strings.IndexByte(s, 0) >= 0 {
		s = strings.ReplaceAll(s, "\x00", "")
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}
