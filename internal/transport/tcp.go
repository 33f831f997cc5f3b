// Package transport implements the communication-worker half of a TCP,
// Modbus-TCP, or serial (USB-HID) device, owning the raw socket/file
// descriptor. TCP reads bytes off the wire and forwards them to a
// back-end's to-backend queue as devproto.Incoming, and exposes the Send
// method the back-end's Runtime uses to push outbound frames. Serial offers
// Send and a byte-at-a-time ReadByte; Modbus is a synchronous
// request/response client.
//
// Grounded on the original CCT's Device_TCP._communication_worker
// (select/poll read-write loop, CommunicationError surfaced through a
// dedicated fatal channel) and on the teacher's internal/kernel.Processor
// channel-with-backpressure shape.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/devproto"
)

// FrameReader splits a byte stream into discrete frames. TMCL uses a fixed
// 9-byte reader; line-oriented protocols (Pilatus camserver-style) split on
// '\n'.
type FrameReader interface {
	// ReadFrame blocks until a full frame is available, an error occurs,
	// or ctx is cancelled.
	ReadFrame(ctx context.Context, conn net.Conn) ([]byte, error)
}

// FixedSizeFrameReader reads exactly Size bytes per frame (TMCL's 9-byte
// packets).
type FixedSizeFrameReader struct{ Size int }

func (r FixedSizeFrameReader) ReadFrame(ctx context.Context, conn net.Conn) ([]byte, error) {
	buf := make([]byte, r.Size)
	n := 0
	for n < r.Size {
		if dl, ok := ctx.Deadline(); ok {
			_ = conn.SetReadDeadline(dl)
		} else {
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		}
		m, err := conn.Read(buf[n:])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				default:
					continue
				}
			}
			return nil, err
		}
		n += m
	}
	return buf, nil
}

// LineFrameReader reads until '\n', stripping the trailing newline
// (camserver-style detector replies).
type LineFrameReader struct{}

func (LineFrameReader) ReadFrame(ctx context.Context, conn net.Conn) ([]byte, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		if dl, ok := ctx.Deadline(); ok {
			_ = conn.SetReadDeadline(dl)
		} else {
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		}
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				default:
					continue
				}
			}
			return nil, err
		}
		if n == 0 {
			continue
		}
		if buf[0] == '\n' {
			return line, nil
		}
		line = append(line, buf[0])
	}
}

// TCP owns a single TCP connection and pumps frames into a back-end's
// to-backend queue while serving Send for outbound frames.
type TCP struct {
	conn   net.Conn
	reader FrameReader
	toDev  chan<- devproto.ToBackend
	log    *zap.Logger
}

// Dial connects to addr and returns a TCP transport. The caller must start
// the read pump with Run.
func Dial(addr string, reader FrameReader, toDev chan<- devproto.ToBackend, log *zap.Logger) (*TCP, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &TCP{conn: conn, reader: reader, toDev: toDev, log: log.Named("transport.tcp")}, nil
}

// Send writes a frame to the socket.
func (t *TCP) Send(data []byte) error {
	_, err := t.conn.Write(data)
	if err != nil {
		return fmt.Errorf("tcp send: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (t *TCP) Close() error { return t.conn.Close() }

// Run is the communication worker's read loop: it reads frames until ctx is
// cancelled or the connection errors, forwarding each as a devproto.Incoming
// message. A read error is reported once via errCh (buffered, capacity 1)
// and the loop exits — this is the "communication error" fatal path,
// delivered on a channel separate from the normal frame stream so it can
// never be starved behind a full to-backend queue.
func (t *TCP) Run(ctx context.Context, errCh chan<- error) {
	defer close(errCh)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		frame, err := t.reader.ReadFrame(ctx, t.conn)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case errCh <- fmt.Errorf("communication error: %w", err):
			default:
			}
			return
		}
		select {
		case t.toDev <- devproto.Incoming{Data: frame}:
		case <-ctx.Done():
			return
		default:
			t.log.Warn("to-backend queue full, dropping inbound frame")
		}
	}
}
