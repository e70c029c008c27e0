package protocol

import "bytes"

const (
	// Delimiter terminates every line on the wire.
	Delimiter byte = '\n'
	// Separator splits the command token from its payload.
	Separator byte = ' '

	escapeByte byte = '\\'
)

// Encode escapes blob so it never contains Delimiter.
//
//	'\\' -> "\\/"
//	'\n' -> "\\n"
func Encode(blob []byte) []byte {
	n := bytes.Count(blob, []byte{escapeByte}) + bytes.Count(blob, []byte{Delimiter})
	if n == 0 {
		out := make([]byte, len(blob))
		copy(out, blob)
		return out
	}
	out := make([]byte, 0, len(blob)+n)
	for _, c := range blob {
		switch c {
		case escapeByte:
			out = append(out, escapeByte, '/')
		case Delimiter:
			out = append(out, escapeByte, 'n')
		default:
			out = append(out, c)
		}
	}
	return out
}

// Decode is the exact inverse of Encode. Unknown or dangling escapes
// return ErrBadEscape.
func Decode(text []byte) ([]byte, error) {
	if bytes.IndexByte(text, escapeByte) < 0 {
		out := make([]byte, len(text))
		copy(out, text)
		return out, nil
	}
	out := make([]byte, 0, len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != escapeByte {
			out = append(out, c)
			continue
		}
		if i+1 >= len(text) {
			return nil, ErrBadEscape
		}
		i++
		switch text[i] {
		case '/':
			out = append(out, escapeByte)
		case 'n':
			out = append(out, Delimiter)
		default:
			return nil, ErrBadEscape
		}
	}
	return out, nil
}
