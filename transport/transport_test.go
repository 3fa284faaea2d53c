package transport_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/solderctl/station/transport"
)

// fakeConn is a ReadWriteCloser double backed by a byte buffer for
// writes and a queue of chunks for reads.
type fakeConn struct {
	writes  bytes.Buffer
	chunks  [][]byte
	closed  bool
}

func (f *fakeConn) Read(p []byte) (int, error) {
	if len(f.chunks) == 0 {
		return 0, nil
	}
	chunk := f.chunks[0]
	f.chunks = f.chunks[1:]
	n := copy(p, chunk)
	return n, nil
}

func (f *fakeConn) Write(p []byte) (int, error) {
	return f.writes.Write(p)
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestReadFrameUSBTerminator(t *testing.T) {
	conn := &fakeConn{chunks: [][]byte{[]byte("0:meas_t:?\n")}}
	p := transport.NewPort(conn, transport.USBTerminator, 0)
	frame, err := p.ReadFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(frame) != "0:meas_t:?" {
		t.Errorf("got %q", frame)
	}
}

func TestReadFrameHMITerminatorAcrossChunks(t *testing.T) {
	conn := &fakeConn{chunks: [][]byte{[]byte("h0.txt"), {0xFF}, {0xFF, 0xFF}}}
	p := transport.NewPort(conn, transport.HMITerminator, 0)
	frame, err := p.ReadFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(frame) != "h0.txt" {
		t.Errorf("got %q", frame)
	}
}

func TestReadFrameTimeout(t *testing.T) {
	conn := &fakeConn{}
	p := transport.NewPort(conn, transport.USBTerminator, 5*time.Millisecond)
	_, err := p.ReadFrame()
	if !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWriteFrameAppendsTerminator(t *testing.T) {
	conn := &fakeConn{}
	p := transport.NewPort(conn, transport.USBTerminator, 0)
	if err := p.WriteFrame([]byte("OK")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn.writes.String() != "OK\n" {
		t.Errorf("got %q", conn.writes.String())
	}
}
