// Package calibration provides the piecewise-linear map between
// thermocouple EMF (microvolts) and tip temperature (degrees Celsius)
// used by each channel's PID loop.
package calibration

import "github.com/solderctl/station/temperature"

// TableSize is the fixed number of (voltage, temperature) pairs carried
// per channel and persisted to EEPROM.
const TableSize = 10

// Point is one calibration entry: a thermocouple EMF in microvolts paired
// with the temperature it represents.
type Point struct {
	VoltageUV float64
	TempC     float64
}

// Table is a fixed-size, jointly monotonic non-decreasing calibration
// curve. The zero value is not usable; build one with NewTable or by
// populating Points directly followed by a call that only reads it
// (Table performs no defensive copies).
type Table struct {
	Points [TableSize]Point
}

// NewTable builds a Table from exactly TableSize points. It does not
// validate monotonicity: the source firmware this is ported from does
// not enforce it either, and a caller supplying a degenerate table will
// see degenerate (possibly non-monotone or NaN-producing) results from
// TcvToTemp/TempToTcv rather than a constructor error.
func NewTable(points [TableSize]Point) Table {
	return Table{Points: points}
}

// TcvToTemp converts a thermocouple voltage in microvolts to a
// temperature in Celsius by linear interpolation over the table's
// voltage axis, extrapolating linearly beyond either end using the
// slope of the nearest segment.
func (t *Table) TcvToTemp(voltageUV float64) float64 {
	pts := t.Points
	if voltageUV < pts[0].VoltageUV {
		return extrapolate(pts[0].VoltageUV, pts[0].TempC, pts[1].VoltageUV, pts[1].TempC, voltageUV)
	}
	last := TableSize - 1
	if voltageUV > pts[last].VoltageUV {
		return extrapolate(pts[last-1].VoltageUV, pts[last-1].TempC, pts[last].VoltageUV, pts[last].TempC, voltageUV)
	}
	for i := 0; i < last; i++ {
		if voltageUV <= pts[i+1].VoltageUV {
			return interpolate(pts[i].VoltageUV, pts[i].TempC, pts[i+1].VoltageUV, pts[i+1].TempC, voltageUV)
		}
	}
	return pts[last].TempC
}

// TempToTcv is the inverse of TcvToTemp: it converts a temperature in
// Celsius to the thermocouple voltage in microvolts the table predicts,
// interpolating or extrapolating over the temperature axis with the
// axes swapped relative to TcvToTemp.
func (t *Table) TempToTcv(tempC float64) float64 {
	pts := t.Points
	if tempC < pts[0].TempC {
		return extrapolate(pts[0].TempC, pts[0].VoltageUV, pts[1].TempC, pts[1].VoltageUV, tempC)
	}
	last := TableSize - 1
	if tempC > pts[last].TempC {
		return extrapolate(pts[last-1].TempC, pts[last-1].VoltageUV, pts[last].TempC, pts[last].VoltageUV, tempC)
	}
	for i := 0; i < last; i++ {
		if tempC <= pts[i+1].TempC {
			return interpolate(pts[i].TempC, pts[i].VoltageUV, pts[i+1].TempC, pts[i+1].VoltageUV, tempC)
		}
	}
	return pts[last].VoltageUV
}

// CelsiusAt is a convenience wrapper returning a temperature.Celsius
// instead of a bare float64, for callers that want the typed unit.
func (t *Table) CelsiusAt(voltageUV float64) temperature.Celsius {
	return temperature.Celsius(t.TcvToTemp(voltageUV))
}

// interpolate linearly interpolates y at x given two known points
// (x0,y0) and (x1,y1). x0 must not equal x1.
func interpolate(x0, y0, x1, y1, x float64) float64 {
	if x1 == x0 {
		return y0
	}
	frac := (x - x0) / (x1 - x0)
	return y0 + frac*(y1-y0)
}

// extrapolate projects the line through (x0,y0) and (x1,y1) out to x,
// using the same slope formula as interpolate.
func extrapolate(x0, y0, x1, y1, x float64) float64 {
	return interpolate(x0, y0, x1, y1, x)
}
