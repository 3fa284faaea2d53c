// Package eeprom provides the byte-addressed storage collaborator the
// persist package writes through. Simulated models the ACK-polling
// two-wire EEPROM the source firmware talks to: writes must be
// acknowledged within a bounded retry window (7 ms default) before the
// bus is considered wedged, a pattern grounded on the retrying
// connection dialers in the comm package this station's transport
// layer also borrows from.
package eeprom

import (
	"math"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
)

// ErrAckTimeout is returned when a write is not acknowledged within the
// configured poll budget.
var ErrAckTimeout = errors.New("eeprom: ack poll timed out")

// Faults lets tests and fault-injection exercises force specific
// addresses to behave pathologically: either a timed-out ACK or an
// unrelated I/O error on every access to that address.
type Faults struct {
	TimeoutAddrs map[uint32]bool
	IOErrorAddrs map[uint32]bool
}

func (f *Faults) timesOut(addr uint32) bool {
	return f != nil && f.TimeoutAddrs != nil && f.TimeoutAddrs[addr]
}

func (f *Faults) ioErrors(addr uint32) bool {
	return f != nil && f.IOErrorAddrs != nil && f.IOErrorAddrs[addr]
}

// Simulated is an in-memory stand-in for the two-wire EEPROM device,
// implementing persist.ByteStore. Every byte write goes through an
// ACK-poll loop bounded by AckTimeout (default 7 ms, per the timing
// constants table) using a constant backoff between polls, mirroring
// the bounded blocking the source firmware's adapter performs.
type Simulated struct {
	mem        map[uint32]byte
	Faults     *Faults
	AckTimeout time.Duration
	PollEvery  time.Duration
}

// NewSimulated builds an empty Simulated store with the default 7 ms
// ACK-poll budget.
func NewSimulated() *Simulated {
	return &Simulated{
		mem:        make(map[uint32]byte),
		AckTimeout: 7 * time.Millisecond,
		PollEvery:  1 * time.Millisecond,
	}
}

func (s *Simulated) ackPoll(addr uint32) error {
	if !s.Faults.timesOut(addr) {
		return nil
	}
	b := &backoff.ConstantBackOff{Interval: s.PollEvery}
	bo := backoff.WithMaxRetries(b, uint64(s.AckTimeout/s.PollEvery))
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return ErrAckTimeout
	}, bo)
	if err != nil {
		return ErrAckTimeout
	}
	return nil
}

// ReadByte reads a single byte, defaulting to 0 for never-written
// addresses (matching blank/erased EEPROM cells).
func (s *Simulated) ReadByte(addr uint32) (byte, error) {
	if s.Faults.ioErrors(addr) {
		return 0, errors.New("eeprom: simulated bus error")
	}
	if err := s.ackPoll(addr); err != nil {
		return 0, err
	}
	return s.mem[addr], nil
}

// WriteByte writes a single byte through the ACK-poll loop.
func (s *Simulated) WriteByte(addr uint32, b byte) error {
	if s.Faults.ioErrors(addr) {
		return errors.New("eeprom: simulated bus error")
	}
	if err := s.ackPoll(addr); err != nil {
		return err
	}
	if s.mem == nil {
		s.mem = make(map[uint32]byte)
	}
	s.mem[addr] = b
	return nil
}

// ReadBytes reads n consecutive bytes starting at addr.
func (s *Simulated) ReadBytes(addr uint32, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		b, err := s.ReadByte(addr + uint32(i))
		if err != nil {
			return nil, errors.Wrapf(err, "read byte at offset %d", i)
		}
		out[i] = b
	}
	return out, nil
}

// WriteBytes writes data starting at addr, one ACK-polled byte at a
// time.
func (s *Simulated) WriteBytes(addr uint32, data []byte) error {
	for i, b := range data {
		if err := s.WriteByte(addr+uint32(i), b); err != nil {
			return errors.Wrapf(err, "write byte at offset %d", i)
		}
	}
	return nil
}

// ReadFloat reads a raw little-endian IEEE-754 float at addr.
func (s *Simulated) ReadFloat(addr uint32) (float64, error) {
	b, err := s.ReadBytes(addr, 4)
	if err != nil {
		return 0, err
	}
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return float64(math.Float32frombits(bits)), nil
}

// WriteFloat writes a raw little-endian IEEE-754 float at addr.
func (s *Simulated) WriteFloat(addr uint32, v float64) error {
	bits := math.Float32bits(float32(v))
	b := []byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}
	return s.WriteBytes(addr, b)
}
