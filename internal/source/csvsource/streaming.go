package csvsource

// streaming.go holds the io.Reader layers a CSV file passes through before
// it reaches encoding/csv:
//
//	file -> countingReader -> bomSkipper -> charset decoder or utf8Sanitizer -> csv.Reader
//
// Every layer works on the stream, so memory use does not grow with the
// file size.

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// skipBOM returns a reader positioned after a leading UTF-8 byte order mark,
// if there is one.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// utf8Sanitizer replaces invalid UTF-8 bytes with '?' on the fly. A
// multi-byte sequence split across two reads is held back until the next
// read completes it.
type utf8Sanitizer struct {
	r       io.Reader
	pending []byte
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := copy(p, s.pending)
	s.pending = s.pending[:copy(s.pending, s.pending[offset:])]

	n, err := s.r.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	return s.sanitize(p[:n], err == io.EOF), err
}

// sanitize rewrites data in place and returns the number of bytes to hand
// out. Replacements never grow the data.
func (s *utf8Sanitizer) sanitize(data []byte, atEOF bool) int {
	if !atEOF {
		if tail := incompleteTail(data); tail > 0 {
			s.pending = append(s.pending, data[len(data)-tail:]...)
			data = data[:len(data)-tail]
		}
	}
	if utf8.Valid(data) {
		return len(data)
	}

	w := 0
	for r := 0; r < len(data); {
		ru, size := utf8.DecodeRune(data[r:])
		if ru == utf8.RuneError && size == 1 {
			data[w] = '?'
			w++
			r++
			continue
		}
		w += copy(data[w:], data[r:r+size])
		r += size
	}
	return w
}

// incompleteTail returns the length of a truncated multi-byte sequence at
// the end of data, or 0.
func incompleteTail(data []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b&0xC0 == 0x80 {
			continue // continuation byte
		}
		if b < 0xC0 {
			return 0
		}
		want := 2
		switch {
		case b >= 0xF0:
			want = 4
		case b >= 0xE0:
			want = 3
		}
		if i < want {
			return i
		}
		return 0
	}
	return 0
}

// countingReader counts the bytes read through it. The count may be read
// from another goroutine.
type countingReader struct {
	r     io.Reader
	n     atomic.Int64
	total int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// Progress reports bytes read so far and the expected total (0 if unknown).
type Progress struct {
	BytesRead  int64 `json:"bytes_read"`
	BytesTotal int64 `json:"bytes_total"`
}

// Percent returns the read progress as a percentage (0-100).
func (p Progress) Percent() int {
	if p.BytesTotal <= 0 {
		return 0
	}
	pct := int(p.BytesRead * 100 / p.BytesTotal)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Supported encodings. The empty string means UTF-8.
const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1252 = "windows-1252"
	EncodingWindows1251 = "windows-1251"
	EncodingISO88591    = "iso-8859-1"
)

// lookupEncoding returns the decoder for a non-UTF-8 charset, nil for UTF-8.
func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EncodingUTF8, "utf8":
		return nil, nil
	case EncodingWindows1252, "cp1252":
		return charmap.Windows1252, nil
	case EncodingWindows1251, "cp1251":
		return charmap.Windows1251, nil
	case EncodingISO88591, "latin1", "latin-1":
		return charmap.ISO8859_1, nil
	}
	return nil, fmt.Errorf("encoding error: unsupported encoding %q", name)
}

// ValidEncoding reports whether name is a supported encoding.
func ValidEncoding(name string) bool {
	_, err := lookupEncoding(name)
	return err == nil
}

// decode wraps r so that it yields valid UTF-8 in the given encoding.
func decode(r io.Reader, enc encoding.Encoding) io.Reader {
	r = skipBOM(r)
	if enc != nil {
		return enc.NewDecoder().Reader(r)
	}
	return newUTF8Sanitizer(r)
}
