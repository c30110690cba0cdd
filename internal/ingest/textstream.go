package ingest

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// newTextReader strips a leading UTF-8 BOM and replaces invalid UTF-8 bytes
// with '?' as the stream is read. Memory use is bounded by the buffer size.
func newTextReader(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return &utf8Sanitizer{br: br}
}

// utf8Sanitizer decodes rune by rune so a multi-byte sequence split across
// reads of the underlying reader is never mistaken for an invalid one.
type utf8Sanitizer struct {
	br    *bufio.Reader
	carry []byte // encoded bytes that did not fit the caller's buffer
	err   error
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := copy(p, s.carry)
	s.carry = s.carry[n:]
	if s.err != nil {
		if n == 0 {
			return 0, s.err
		}
		return n, nil
	}

	var buf [utf8.UTFMax]byte
	for n < len(p) {
		// Don't block on the underlying reader once we have something to return.
		if n > 0 && s.br.Buffered() == 0 {
			break
		}
		r, size, err := s.br.ReadRune()
		if err != nil {
			if n > 0 {
				s.err = err
				return n, nil
			}
			return 0, err
		}

		enc := buf[:0]
		if r == utf8.RuneError && size == 1 {
			enc = append(enc, '?')
		} else {
			enc = utf8.AppendRune(enc, r)
		}

		c := copy(p[n:], enc)
		n += c
		if c < len(enc) {
			s.carry = append(s.carry[:0], enc[c:]...)
			break
		}
	}
	return n, nil
}
