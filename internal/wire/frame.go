// Package wire implements sstash's line-oriented wire protocol: a stream of
// length-prefixed tokens ("<decimal_length>\r\n<bytes>") that are assembled
// into commands and replies. Decoding is resumable — a partial trailing
// token is buffered until more bytes arrive, so a fragmented read never
// loses or misparses a command.
package wire

import (
	"bytes"
	"errors"
	"fmt"
)

// MaxTokenLength bounds the length prefix accepted for a single token,
// guarding against a corrupt length field forcing an unbounded allocation.
const MaxTokenLength = 1 << 20 // 1 MiB

// ErrProtocol marks a framing-level protocol violation (as opposed to an
// incomplete read, which is not an error).
var ErrProtocol = errors.New("sstash: protocol error")

// Decoder turns a byte stream into a sequence of tokens, buffering any
// partial trailing token until Feed supplies the rest.
type Decoder struct {
	buf []byte
}

// Feed appends chunk to the internal buffer.
func (d *Decoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Decode drains as many complete tokens as are currently buffered, in
// order. The decoder retains any incomplete trailing token for the next
// call after a further Feed.
func (d *Decoder) Decode() ([][]byte, error) {
	var tokens [][]byte
	for {
		tok, n, err := decodeToken(d.buf)
		if err != nil {
			return tokens, err
		}
		if n == 0 {
			break
		}
		tokens = append(tokens, tok)
		d.buf = d.buf[n:]
	}
	return tokens, nil
}

// Reset discards any buffered, undecoded bytes. The server's connection
// loop does not call it: it drops its Decoder, and with it any dangling
// partial command, when the connection closes.
func (d *Decoder) Reset() {
	d.buf = nil
}

func decodeToken(buf []byte) (tok []byte, n int, err error) {
	idx := bytes.Index(buf, []byte("\r\n"))
	if idx < 0 {
		if len(buf) > 20 {
			return nil, 0, fmt.Errorf("%w: length prefix too long", ErrProtocol)
		}
		return nil, 0, nil
	}
	if idx == 0 {
		return nil, 0, fmt.Errorf("%w: empty length prefix", ErrProtocol)
	}
	length := 0
	for _, c := range buf[:idx] {
		if c < '0' || c > '9' {
			return nil, 0, fmt.Errorf("%w: non-numeric length prefix", ErrProtocol)
		}
		length = length*10 + int(c-'0')
		if length > MaxTokenLength {
			return nil, 0, fmt.Errorf("%w: length prefix exceeds maximum", ErrProtocol)
		}
	}
	total := idx + 2 + length
	if len(buf) < total {
		return nil, 0, nil
	}
	tok = buf[idx+2 : total]
	return tok, total, nil
}

// EncodeToken frames b as a single length-prefixed token.
func EncodeToken(b []byte) []byte {
	prefix := fmt.Appendf(nil, "%d\r\n", len(b))
	out := make([]byte, 0, len(prefix)+len(b))
	out = append(out, prefix...)
	out = append(out, b...)
	return out
}
