// Package persist marshals a channel's configuration record to and from
// byte-addressed storage (EEPROM or a stand-in for it). The wire format
// is IEEE-754 little-endian floats, one field after another, followed by
// a CRC-16/XMODEM trailer covering the record.
package persist

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"github.com/snksoft/crc"

	"github.com/solderctl/station/util"
)

// FieldCount is the number of scalar float fields before the
// calibration table.
const FieldCount = 10

// TableFields is the number of floats the 10-entry (voltage, temp)
// calibration table occupies.
const TableFields = 20

// RecordSize is the footprint of one channel's persisted record, not
// including the CRC trailer: (FieldCount+TableFields) float32-equivalent
// 4-byte slots = 120 bytes, matching the source firmware's EEPROM layout.
const RecordSize = (FieldCount + TableFields) * 4

// crcSize is the width, in bytes, of the CRC-16 trailer this port adds
// after the 120-byte record.
const crcSize = 2

// RecordFootprint is the total per-channel footprint including the CRC
// trailer this port adds on top of the source firmware's raw layout.
const RecordFootprint = RecordSize + crcSize

var crcTable = crc.NewTable(crc.XMODEM)

// ErrNaN is returned by Load when a ReadFloat produces NaN: a NaN read
// is treated as a failed read.
var ErrNaN = errors.New("persist: float read produced NaN")

// ErrChecksum indicates the CRC trailer did not match the record bytes;
// treated identically to ErrNaN by Load (fail the whole load, keep
// defaults).
var ErrChecksum = errors.New("persist: checksum mismatch")

// ByteStore is the interface required from the external byte-storage
// collaborator (the EEPROM driver). Float operations are raw 4-byte
// IEEE-754 little-endian copies.
type ByteStore interface {
	ReadByte(addr uint32) (byte, error)
	WriteByte(addr uint32, b byte) error
	ReadBytes(addr uint32, n int) ([]byte, error)
	WriteBytes(addr uint32, data []byte) error
	ReadFloat(addr uint32) (float64, error)
	WriteFloat(addr uint32, v float64) error
}

// Point is a single (voltage, temperature) calibration pair in the
// persisted record. It mirrors calibration.Point without importing that
// package, keeping persist's only dependency the byte-storage contract.
type Point struct {
	VoltageUV float64
	TempC     float64
}

// Record is the fixed-order set of fields persisted per channel:
// tc_voltage_sp, temp_sp_min, temp_sp_max, kp, ki, kd, derivative_tau,
// sleep_delay_ms, sleep_voltage_sp, temp_runaway_threshold, then 10
// (voltage, temperature) calibration pairs.
type Record struct {
	TcVoltageSp           float64
	TempSpMin             float64
	TempSpMax             float64
	Kp                    float64
	Ki                    float64
	Kd                    float64
	DerivativeTau         float64
	SleepDelayMs          float64
	SleepVoltageSp        float64
	TempRunawayThreshold  float64
	Table                 [10]Point
}

// fields returns the record flattened into its fixed field order, for
// both the CRC computation and the raw save loop.
func (r Record) fields() [FieldCount + TableFields]float64 {
	var out [FieldCount + TableFields]float64
	out[0] = r.TcVoltageSp
	out[1] = r.TempSpMin
	out[2] = r.TempSpMax
	out[3] = r.Kp
	out[4] = r.Ki
	out[5] = r.Kd
	out[6] = r.DerivativeTau
	out[7] = r.SleepDelayMs
	out[8] = r.SleepVoltageSp
	out[9] = r.TempRunawayThreshold
	for i, pt := range r.Table {
		out[FieldCount+2*i] = pt.VoltageUV
		out[FieldCount+2*i+1] = pt.TempC
	}
	return out
}

func recordFromFields(f [FieldCount + TableFields]float64) Record {
	r := Record{
		TcVoltageSp:          f[0],
		TempSpMin:            f[1],
		TempSpMax:            f[2],
		Kp:                   f[3],
		Ki:                   f[4],
		Kd:                   f[5],
		DerivativeTau:        f[6],
		SleepDelayMs:         f[7],
		SleepVoltageSp:       f[8],
		TempRunawayThreshold: f[9],
	}
	for i := range r.Table {
		r.Table[i] = Point{VoltageUV: f[FieldCount+2*i], TempC: f[FieldCount+2*i+1]}
	}
	return r
}

// checksum computes the CRC-16/XMODEM over the raw little-endian bytes
// of every field in fixed order.
func checksum(f [FieldCount + TableFields]float64) uint16 {
	buf := make([]byte, 0, len(f)*4)
	for _, v := range f {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(v)))
		buf = append(buf, b[:]...)
	}
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, buf)
	return crcTable.CRC16(c)
}

// Save writes the fixed record starting at base. It attempts every
// sub-write even after a failure, and reports failure only once every
// write has been attempted, per the "save is best-effort" contract: the
// caller surfaces OK or FAIL TO SAVE, never a partial-progress error.
func Save(store ByteStore, base uint32, rec Record) error {
	fields := rec.fields()
	var errs []error
	addr := base
	for _, v := range fields {
		if err := store.WriteFloat(addr, v); err != nil {
			errs = append(errs, err)
		}
		addr += 4
	}
	sum := checksum(fields)
	var sumBytes [2]byte
	binary.LittleEndian.PutUint16(sumBytes[:], sum)
	if err := store.WriteBytes(addr, sumBytes[:]); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Wrap(util.MergeErrors(errs), "save")
}

// Load reads the fixed record starting at base. Load is all-or-nothing:
// any single failed float read, a NaN, or a checksum mismatch fails the
// whole load and returns the zero Record, leaving the caller's
// in-memory values (which it must not overwrite) untouched.
func Load(store ByteStore, base uint32) (Record, error) {
	var fields [FieldCount + TableFields]float64
	addr := base
	for i := range fields {
		v, err := store.ReadFloat(addr)
		if err != nil {
			return Record{}, errors.Wrap(err, "load")
		}
		if math.IsNaN(v) {
			return Record{}, ErrNaN
		}
		fields[i] = v
		addr += 4
	}
	sumBytes, err := store.ReadBytes(addr, 2)
	if err != nil {
		return Record{}, errors.Wrap(err, "load checksum")
	}
	want := binary.LittleEndian.Uint16(sumBytes)
	got := checksum(fields)
	if want != got {
		return Record{}, ErrChecksum
	}
	return recordFromFields(fields), nil
}
