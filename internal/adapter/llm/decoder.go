package llm

import (
	"errors"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// textDecoder incrementally decodes UTF-8 across chunk boundaries.
// An incomplete trailing code point is held back until the next chunk;
// invalid sequences decode to U+FFFD.
type textDecoder struct {
	t       transform.Transformer
	pending []byte
	buf     []byte
}

func newTextDecoder() *textDecoder {
	return &textDecoder{
		t:   unicode.UTF8.NewDecoder(),
		buf: make([]byte, 4096),
	}
}

// Decode converts p to text. With atEOF set, held-back bytes are flushed.
func (d *textDecoder) Decode(p []byte, atEOF bool) (string, error) {
	src := make([]byte, 0, len(d.pending)+len(p))
	src = append(src, d.pending...)
	src = append(src, p...)
	d.pending = nil

	var out []byte
	for {
		nDst, nSrc, err := d.t.Transform(d.buf, src, atEOF)
		out = append(out, d.buf[:nDst]...)
		src = src[nSrc:]

		switch {
		case err == nil:
			if atEOF {
				d.t.Reset()
			}
			return string(out), nil
		case errors.Is(err, transform.ErrShortDst):
			continue
		case errors.Is(err, transform.ErrShortSrc) && !atEOF:
			d.pending = append(d.pending, src...)
			return string(out), nil
		default:
			return string(out), err
		}
	}
}
