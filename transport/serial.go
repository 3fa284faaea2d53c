package transport

import (
	"time"

	"github.com/tarm/serial"
)

// SerialConfig describes how to open a serial leg of the command
// surface (the HMI display link, or a USB-CDC serial fallback).
type SerialConfig struct {
	Name   string
	Baud   int
	ReadUs int64 // read timeout in microseconds, matching the channel clock's units
}

// OpenSerial opens a tarm/serial connection and wraps it in a Port
// framed on terminator.
func OpenSerial(cfg SerialConfig, terminator []byte) (*Port, error) {
	readTimeout := time.Duration(cfg.ReadUs) * time.Microsecond
	sc := &serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: readTimeout,
	}
	conn, err := serial.OpenPort(sc)
	if err != nil {
		return nil, err
	}
	return NewPort(conn, terminator, readTimeout), nil
}
