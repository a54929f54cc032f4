// Package eventstream decodes the chat backend's incremental response body. A Decoder turns raw body
// chunks into complete text lines, and a Parser classifies those lines into the semantic events a
// streaming session reacts to.
package eventstream

import (
	"bytes"
	"errors"
	"io"
	"iter"
	"strings"
	"unicode/utf8"
)

const readChunkSize = 4096

// Decoder splits a byte stream into newline-delimited lines. Text after the last newline is kept in
// the decode buffer until a later chunk completes it. Because lines are only cut at '\n', a multi-byte
// UTF-8 sequence split across chunks is carried over as raw bytes and decodes the same as if it had
// arrived in one piece.
//
// A Decoder belongs to a single stream and must not be reused.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode appends chunk to the decode buffer and returns every line completed by it, in order. Line
// terminators ("\n" or "\r\n") are stripped. Invalid UTF-8 inside a complete line is replaced with
// U+FFFD.
func (d *Decoder) Decode(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := d.buf[:idx]
		line = bytes.TrimSuffix(line, []byte("\r"))
		lines = append(lines, toText(line))
		d.buf = d.buf[idx+1:]
	}

	// Reclaim the consumed prefix once nothing is pending.
	if len(d.buf) == 0 {
		d.buf = nil
	}

	return lines
}

// Pending reports the number of bytes waiting for a line terminator.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// Flush discards the unterminated remainder at end of stream and returns how many bytes were dropped.
func (d *Decoder) Flush() int {
	n := len(d.buf)
	d.buf = nil
	return n
}

func toText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}

// Lines reads r chunk by chunk through a fresh Decoder and yields each complete line. An unterminated
// trailing line is dropped at EOF. A read error other than io.EOF is yielded once and ends the
// sequence.
func Lines(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		dec := NewDecoder()
		chunk := make([]byte, readChunkSize)
		for {
			n, err := r.Read(chunk)
			if n > 0 {
				for _, line := range dec.Decode(chunk[:n]) {
					if !yield(line, nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				dec.Flush()
				return
			}
			if err != nil {
				yield("", err)
				return
			}
		}
	}
}
