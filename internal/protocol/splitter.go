package protocol

import "bytes"

// DefaultMaxLineBytes bounds one buffered, not yet terminated line.
const DefaultMaxLineBytes = 8 * 1024 * 1024

// Splitter reassembles Delimiter-terminated lines from arbitrary read chunks.
// Not safe for concurrent use; each receiver owns one.
type Splitter struct {
	buf []byte
	max int
}

func NewSplitter(maxLineBytes int) *Splitter {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	return &Splitter{max: maxLineBytes}
}

// Feed appends p and returns every completed line without its Delimiter.
// The trailing partial segment is retained for the next call. Returned
// slices do not alias the internal buffer.
func (s *Splitter) Feed(p []byte) ([][]byte, error) {
	s.buf = append(s.buf, p...)
	var lines [][]byte
	for {
		idx := bytes.IndexByte(s.buf, Delimiter)
		if idx < 0 {
			break
		}
		line := make([]byte, idx)
		copy(line, s.buf[:idx])
		lines = append(lines, line)
		s.buf = s.buf[idx+1:]
	}
	if len(s.buf) > s.max {
		return lines, ErrLineTooLong
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return lines, nil
}

// Buffered returns the size of the retained partial line.
func (s *Splitter) Buffered() int {
	return len(s.buf)
}
