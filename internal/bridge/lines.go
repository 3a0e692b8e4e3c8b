package bridge

import (
	"bufio"
	"bytes"
)

// readLine returns the next line without its trailing newline (and CR).
// Lines longer than max are cut to max bytes and reported with
// truncated=true; the remainder of the line is consumed and discarded.
// buf is reused as the backing array for the returned line.
func readLine(r *bufio.Reader, max int, buf []byte) (line []byte, truncated bool, err error) {
	buf = buf[:0]
	for {
		chunk, rerr := r.ReadSlice('\n')
		complete := rerr == nil
		if complete {
			chunk = chunk[:len(chunk)-1]
		}

		if !truncated {
			room := max - len(buf)
			if len(chunk) > room {
				buf = append(buf, chunk[:room]...)
				truncated = true
			} else {
				buf = append(buf, chunk...)
			}
		}

		switch {
		case complete:
			return bytes.TrimSuffix(buf, []byte{'\r'}), truncated, nil
		case rerr == bufio.ErrBufferFull:
			continue
		case len(buf) > 0 || truncated:
			// Final line without a newline; the error surfaces on the next call.
			return buf, truncated, nil
		default:
			return nil, false, rerr
		}
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
