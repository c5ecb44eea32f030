// Package framer splits an unbounded byte stream into newline-delimited
// records. It holds partial lines across chunk boundaries and never emits a
// line split across two calls.
package framer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const readChunkSize = 32 * 1024

// Framer accumulates chunks and emits complete lines. The zero value is ready
// to use. A Framer is not safe for concurrent use; it is meant to be owned by
// the single reader of a stream.
type Framer struct {
	buf []byte
}

// Feed appends chunk to the internal buffer and returns every complete line
// now available, in arrival order, with the newline (and a trailing carriage
// return) stripped. Whitespace-only lines are dropped. Any trailing partial
// line stays buffered for the next call.
func (f *Framer) Feed(chunk []byte) []string {
	f.buf = append(f.buf, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(string(f.buf[:idx]), "\r")
		f.buf = f.buf[idx+1:]
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}

	// Reclaim consumed capacity once the buffer is drained.
	if len(f.buf) == 0 {
		f.buf = f.buf[:0:0]
	}
	return lines
}

// Flush returns the buffered partial line, if it is not blank, and resets the
// Framer. It is called once the stream reaches EOF.
func (f *Framer) Flush() []string {
	rest := strings.TrimSuffix(string(f.buf), "\r")
	f.buf = nil
	if strings.TrimSpace(rest) == "" {
		return nil
	}
	return []string{rest}
}

// Buffered reports the number of bytes held for an incomplete line.
func (f *Framer) Buffered() int { return len(f.buf) }

// Pump reads r in chunks until EOF, ctx cancellation or a read error and
// calls fn for every record, sequentially and in arrival order. A clean EOF
// returns nil after flushing the final unterminated line.
func Pump(ctx context.Context, r io.Reader, fn func(record string)) error {
	var f Framer
	chunk := make([]byte, readChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(chunk)
		if n > 0 {
			for _, line := range f.Feed(chunk[:n]) {
				fn(line)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				for _, line := range f.Flush() {
					fn(line)
				}
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
	}
}
