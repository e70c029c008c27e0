package protocol

import (
	"bytes"
	"fmt"
)

// ValidToken reports whether token is a legal command: one or more of [A-Za-z_].
func ValidToken(token string) bool {
	if token == "" {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		isLetter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if !isLetter && c != '_' {
			return false
		}
	}
	return true
}

// FormatLine renders one complete wire line including the trailing Delimiter.
func FormatLine(token string, blob []byte) ([]byte, error) {
	if !ValidToken(token) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	enc := Encode(blob)
	line := make([]byte, 0, len(token)+len(enc)+2)
	line = append(line, token...)
	line = append(line, Separator)
	line = append(line, enc...)
	line = append(line, Delimiter)
	return line, nil
}

// SplitLine separates a raw line (without Delimiter) at the first Separator.
// The payload is still escaped. A line with no Separator is all token.
func SplitLine(line []byte) (string, []byte) {
	idx := bytes.IndexByte(line, Separator)
	if idx < 0 {
		return string(line), nil
	}
	return string(line[:idx]), line[idx+1:]
}
