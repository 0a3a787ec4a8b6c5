// Package splice implements the bidirectional byte-for-byte copy between two
// streams that backs every tunnel data connection.
package splice

import (
	"io"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tunnelcannon/limiter"
)

// Pipe copies bytes between a and b in both directions until both halves
// have reached EOF, then returns the total bytes relayed across both
// directions. If either direction errors, the other is woken up (via a read
// deadline in the past) so Pipe does not hang, and the error is returned.
// limit may be nil, in which case no bandwidth cap is applied.
func Pipe(a, b net.Conn, limit *limiter.SharedLimiter) (int64, error) {
	var g errgroup.Group
	var aToB, bToA int64

	g.Go(func() error {
		n, err := copyHalf(b, a, limit)
		atomic.AddInt64(&aToB, n)
		return err
	})
	g.Go(func() error {
		n, err := copyHalf(a, b, limit)
		atomic.AddInt64(&bToA, n)
		return err
	})

	err := g.Wait()
	return aToB + bToA, err
}

// copyHalf copies from src to dst until src hits EOF, then half-closes dst's
// write side (or closes it outright if it doesn't support half-close), and
// nudges dst to unblock the sibling copy (which reads from dst) on error. It
// returns the number of bytes copied regardless of outcome.
func copyHalf(dst, src net.Conn, limit *limiter.SharedLimiter) (int64, error) {
	var reader io.Reader = src
	if limit != nil {
		// Metering the read side once per direction is enough; wrapping dst
		// too would charge the same bytes against the bucket twice.
		reader = limit.WrapConn(src)
	}

	n, err := io.Copy(dst, reader)
	closeWrite(dst)
	if err != nil {
		// The sibling copy reads from dst, so that's the read that needs
		// unblocking — src is the stream this goroutine just finished with.
		_ = dst.SetReadDeadline(time.Now())
		return n, err
	}
	return n, nil
}

// halfCloser is satisfied by *net.TCPConn and similar streams that support
// closing only the write side.
type halfCloser interface {
	CloseWrite() error
}

func closeWrite(c net.Conn) {
	if hc, ok := c.(halfCloser); ok {
		_ = hc.CloseWrite()
		return
	}
	_ = c.Close()
}
