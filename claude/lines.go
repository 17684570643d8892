package claude

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
)

// readChunkSize is the size of each Read from a process pipe.
const readChunkSize = 32 * 1024

// Line is one reassembled line of output.
type Line struct {
	Text string
	// Partial marks residue flushed at end-of-stream with no trailing newline.
	// The process may have died mid-write, so the text can be truncated.
	Partial bool
}

// TailPolicy decides what happens to unterminated residue at end-of-stream.
type TailPolicy int

const (
	// TailDecode emits the residue as a final Partial line (default).
	TailDecode TailPolicy = iota
	// TailDrop discards the residue.
	TailDrop
)

// LineReassembler turns arbitrarily chunked bytes into trimmed, non-blank
// lines. The same byte sequence yields the same lines no matter how it was
// split into chunks. Not safe for concurrent use; each read loop owns one.
type LineReassembler struct {
	Tail TailPolicy
	buf  []byte
}

// Write appends chunk and returns every line it completed.
func (r *LineReassembler) Write(chunk []byte) []Line {
	r.buf = append(r.buf, chunk...)

	var lines []Line
	start := 0
	for {
		i := bytes.IndexByte(r.buf[start:], '\n')
		if i < 0 {
			break
		}
		text := strings.TrimSpace(string(r.buf[start : start+i]))
		start += i + 1
		if text != "" {
			lines = append(lines, Line{Text: text})
		}
	}

	if start > 0 {
		n := copy(r.buf, r.buf[start:])
		r.buf = r.buf[:n]
	}
	return lines
}

// Pending returns the number of buffered bytes not yet terminated by a newline.
func (r *LineReassembler) Pending() int {
	return len(r.buf)
}

// Flush empties the buffer and returns its non-blank residue according to
// the tail policy.
func (r *LineReassembler) Flush() (Line, bool) {
	text := strings.TrimSpace(string(r.buf))
	r.buf = r.buf[:0]
	if text == "" || r.Tail == TailDrop {
		return Line{}, false
	}
	return Line{Text: text, Partial: true}, true
}

// ReadLines drains src through r, calling emit for each line in order.
// End-of-stream, a closed pipe (the process was killed) and context
// cancellation all end the loop normally. Any other read failure is
// returned as a *StreamReadError.
func ReadLines(ctx context.Context, src io.Reader, r *LineReassembler, emit func(Line)) error {
	buf := make([]byte, readChunkSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := src.Read(buf)
		if n > 0 {
			for _, line := range r.Write(buf[:n]) {
				emit(line)
			}
		}
		if err == nil {
			continue
		}

		if isEndOfStream(err) {
			if line, ok := r.Flush(); ok {
				emit(line)
			}
			return nil
		}
		return &StreamReadError{Err: err}
	}
}

// isEndOfStream reports whether a read error just means the writer is gone.
func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
