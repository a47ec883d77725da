package libim

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	streamDataPrefix = "data:"
	// StreamDoneSentinel terminates a stream and is never delivered.
	StreamDoneSentinel = "[DONE]"

	streamReadSize = 4 << 10
)

var frameDelimiter = []byte("\n\n")

// StreamCallbacks receives the output of a decoded stream. Every field is optional.
type StreamCallbacks struct {
	OnMessage func(data string)
	OnError   func(err error)
	OnFinish  func()
}

func (cb StreamCallbacks) message(data string) {
	if cb.OnMessage != nil {
		cb.OnMessage(data)
	}
}

func (cb StreamCallbacks) fail(err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

func (cb StreamCallbacks) finish() {
	if cb.OnFinish != nil {
		cb.OnFinish()
	}
}

type chunk struct {
	data []byte
	err  error
}

// Decode splits r into blank-line delimited frames and hands every data: payload to cb.OnMessage,
// in order. It returns once r is exhausted, a read fails, or ctx is cancelled. Exactly one of
// OnFinish or OnError fires, unless ctx is cancelled first, in which case neither does.
//
// Cancellation closes r when it is an io.Closer, which unblocks the pending Read. A reader that is not
// closable keeps its reading goroutine parked in Read until the underlying source returns, so pass an
// io.ReadCloser when the stream may be cancelled.
func Decode(ctx context.Context, r io.Reader, cb StreamCallbacks) {
	if ctx == nil {
		ctx = context.Background()
	}

	chunks := make(chan chunk)
	done := make(chan struct{})
	defer close(done)

	go readChunks(r, chunks, done)

	var buf []byte

	for {
		var c chunk

		select {
		case <-ctx.Done():
			if closer, ok := r.(io.Closer); ok {
				_ = closer.Close()
			}
			return
		case c = <-chunks:
		}

		// a read may complete at the same time as cancellation; cancellation wins
		if ctx.Err() != nil {
			return
		}

		if len(c.data) > 0 {
			buf = append(buf, c.data...)

			var ok bool
			if buf, ok = emitFrames(buf, cb); !ok {
				return
			}
		}

		if c.err == nil {
			continue
		}

		if c.err != io.EOF {
			cb.fail(errors.Wrap(c.err, "stream read failed"))
			return
		}

		if len(bytes.TrimSpace(buf)) > 0 {
			if !parseFrame(buf, cb) {
				return
			}
		}
		cb.finish()
		return
	}
}

func readChunks(r io.Reader, out chan<- chunk, done <-chan struct{}) {
	for {
		b := make([]byte, streamReadSize)
		n, err := r.Read(b)

		select {
		case out <- chunk{data: b[:n], err: err}:
		case <-done:
			return
		}

		if err != nil {
			return
		}
	}
}

// emitFrames dispatches every complete frame in buf and returns the unterminated remainder.
func emitFrames(buf []byte, cb StreamCallbacks) ([]byte, bool) {
	for {
		i := bytes.Index(buf, frameDelimiter)
		if i < 0 {
			return buf, true
		}

		if !parseFrame(buf[:i], cb) {
			return nil, false
		}
		buf = buf[i+len(frameDelimiter):]
	}
}

// parseFrame delivers the data: lines of one frame. It returns false when a callback panicked, which
// has already been reported through OnError.
func parseFrame(frame []byte, cb StreamCallbacks) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			cb.fail(errors.Errorf("stream message handler panicked: %s", fmt.Sprint(r)))
		}
	}()

	for _, line := range strings.Split(string(frame), "\n") {
		if !strings.HasPrefix(line, streamDataPrefix) {
			continue
		}

		data := strings.TrimSpace(line[len(streamDataPrefix):])
		if data == StreamDoneSentinel {
			continue
		}
		cb.message(data)
	}

	return true
}
