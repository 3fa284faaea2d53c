// Package transport provides the line-framing byte-stream abstraction
// shared by the USB and HMI-serial command surfaces: a Port that reads
// and writes whole frames delimited by a configurable terminator,
// grounded on the RemoteDevice/Terminator split used elsewhere in this
// codebase's instrument-communication layer.
package transport

import (
	"bytes"
	"io"
	"time"

	"github.com/pkg/errors"
)

// ErrTimeout is returned when a read does not see a complete frame
// within the configured deadline.
var ErrTimeout = errors.New("transport: read timeout")

// ReadWriteCloser is the raw byte-stream collaborator a Port frames on
// top of: a serial port or a USB bulk endpoint pair.
type ReadWriteCloser interface {
	io.Reader
	io.Writer
	io.Closer
}

// Port frames a raw byte stream into terminator-delimited lines. USB
// framing uses a single "\n"; HMI framing uses three consecutive 0xFF
// bytes, per the external command surface contract.
type Port struct {
	conn       ReadWriteCloser
	terminator []byte
	timeout    time.Duration
	buf        []byte
}

// NewPort wraps conn, framing reads and writes on terminator and
// bounding reads by timeout (the HMI link uses 20 ms; callers needing no
// deadline, such as the USB leg, pass 0).
func NewPort(conn ReadWriteCloser, terminator []byte, timeout time.Duration) *Port {
	return &Port{conn: conn, terminator: terminator, timeout: timeout}
}

// USBTerminator is the frame delimiter used on the USB command surface.
var USBTerminator = []byte("\n")

// HMITerminator is the three-0xFF frame delimiter used on the HMI
// serial link, both outbound (after every field update) and inbound.
var HMITerminator = []byte{0xFF, 0xFF, 0xFF}

// ReadFrame blocks until a full terminator-delimited frame is available
// or the configured timeout elapses, returning the frame without its
// terminator. A read that times out mid-frame discards the partial
// line: per the error handling contract, an HMI timeout surfaces no
// error to the operator.
func (p *Port) ReadFrame() ([]byte, error) {
	deadline := time.Time{}
	if p.timeout > 0 {
		deadline = time.Now().Add(p.timeout)
	}
	chunk := make([]byte, 256)
	for {
		if i := bytes.Index(p.buf, p.terminator); i >= 0 {
			frame := p.buf[:i]
			p.buf = p.buf[i+len(p.terminator):]
			return frame, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			p.buf = nil
			return nil, ErrTimeout
		}
		n, err := p.conn.Read(chunk)
		if n > 0 {
			p.buf = append(p.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "read frame")
		}
	}
}

// WriteFrame writes payload followed by the configured terminator.
func (p *Port) WriteFrame(payload []byte) error {
	buf := make([]byte, 0, len(payload)+len(p.terminator))
	buf = append(buf, payload...)
	buf = append(buf, p.terminator...)
	_, err := p.conn.Write(buf)
	return errors.Wrap(err, "write frame")
}

// Close releases the underlying connection.
func (p *Port) Close() error {
	return p.conn.Close()
}
