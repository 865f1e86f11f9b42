package core

// streaming.go provides memory-efficient streaming readers for CSV processing.
//
// These readers wrap io.Reader to handle common CSV issues without loading
// the entire file into memory:
//
//   - skipBOM: Removes the UTF-8 byte order mark written by Windows tools
//   - NewDecodingReader: Decodes legacy charsets (windows-1252, latin1, ...) to UTF-8
//   - UTF8Sanitizer: Replaces invalid UTF-8 bytes with '?'
//   - LineEndingNormalizer: Rewrites CRLF and bare CR line endings to LF
//   - CountingReader / LineCounter: Track bytes and lines while spooling
//
// Use WrapForStreaming to apply the transforms in the correct order.

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// skipBOM drops a leading UTF-8 BOM if present.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// isUTF8Label reports whether label names UTF-8 or is empty.
func isUTF8Label(label string) bool {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8", "unicode-1-1-utf-8":
		return true
	}
	return false
}

// NewDecodingReader converts r from the named charset (a WHATWG label such
// as "windows-1252" or "iso-8859-1") to UTF-8. UTF-8 input is returned as is.
func NewDecodingReader(r io.Reader, label string) (io.Reader, error) {
	if isUTF8Label(label) {
		return r, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("encoding error: unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(r), nil
}

// ValidateEncoding checks a charset label without reading anything.
func ValidateEncoding(label string) error {
	_, err := NewDecodingReader(strings.NewReader(""), label)
	return err
}

// UTF8Sanitizer replaces invalid UTF-8 bytes with '?' as data streams
// through. A multi-byte sequence split across reads is carried over to the
// next call. Callers must read with buffers of at least utf8.UTFMax bytes.
type UTF8Sanitizer struct {
	r       io.Reader
	pending []byte
}

// NewUTF8Sanitizer wraps r.
func NewUTF8Sanitizer(r io.Reader) *UTF8Sanitizer {
	return &UTF8Sanitizer{r: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *UTF8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n := copy(p, s.pending)
	s.pending = s.pending[:0]

	m, err := s.r.Read(p[n:])
	n += m
	if n == 0 {
		return 0, err
	}
	atEOF := err == io.EOF

	w := 0
	for i := 0; i < n; {
		c := p[i]
		if c < utf8.RuneSelf {
			p[w] = c
			w++
			i++
			continue
		}
		if !atEOF && !utf8.FullRune(p[i:n]) {
			s.pending = append(s.pending, p[i:n]...)
			break
		}
		r, size := utf8.DecodeRune(p[i:n])
		if r == utf8.RuneError && size == 1 {
			p[w] = '?'
			w++
			i++
			continue
		}
		copy(p[w:], p[i:i+size])
		w += size
		i += size
	}
	return w, err
}

// LineEndingNormalizer rewrites "\r\n" and lone "\r" to "\n".
type LineEndingNormalizer struct {
	r         io.Reader
	pendingCR bool
}

// NewLineEndingNormalizer wraps r.
func NewLineEndingNormalizer(r io.Reader) *LineEndingNormalizer {
	return &LineEndingNormalizer{r: r}
}

func (l *LineEndingNormalizer) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	w := 0
	for i := 0; i < n; i++ {
		c := p[i]
		if l.pendingCR {
			l.pendingCR = false
			if c == '\n' {
				continue
			}
		}
		if c == '\r' {
			c = '\n'
			l.pendingCR = true
		}
		p[w] = c
		w++
	}
	return w, err
}

// WrapForStreaming applies, in order: BOM removal, charset decoding,
// UTF-8 sanitising and line-ending normalisation.
//
// The BOM must go first because it is only meaningful at byte zero.
// Sanitising runs after decoding so that it sees UTF-8.
func WrapForStreaming(r io.Reader, encoding string) (io.Reader, error) {
	decoded, err := NewDecodingReader(skipBOM(r), encoding)
	if err != nil {
		return nil, err
	}
	return NewLineEndingNormalizer(NewUTF8Sanitizer(decoded)), nil
}

// CountingReader tracks bytes read and fails once more than Limit bytes
// have passed through. A zero Limit disables the check.
type CountingReader struct {
	r         io.Reader
	BytesRead int64
	Limit     int64
}

// NewCountingReader wraps r.
func NewCountingReader(r io.Reader, limit int64) *CountingReader {
	return &CountingReader{r: r, Limit: limit}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.BytesRead += int64(n)
	if c.Limit > 0 && c.BytesRead > c.Limit {
		return n, ErrFileTooLarge
	}
	return n, err
}

// LineCounter is an io.Writer that counts lines terminated by "\n", "\r\n"
// or "\r", plus a final unterminated line.
type LineCounter struct {
	lines  int
	lastCR bool
	inLine bool
}

func (lc *LineCounter) Write(p []byte) (int, error) {
	for _, c := range p {
		switch {
		case c == '\n' && lc.lastCR:
			lc.lastCR = false
		case c == '\n':
			lc.lines++
			lc.inLine = false
		case c == '\r':
			lc.lines++
			lc.lastCR = true
			lc.inLine = false
		default:
			lc.lastCR = false
			lc.inLine = true
		}
	}
	return len(p), nil
}

// Lines returns the number of lines seen so far.
func (lc *LineCounter) Lines() int {
	if lc.inLine {
		return lc.lines + 1
	}
	return lc.lines
}

// EstimateRows returns the data row estimate for a file with a header:
// line count minus one, never negative.
func (lc *LineCounter) EstimateRows() int {
	return max(lc.Lines()-1, 0)
}
