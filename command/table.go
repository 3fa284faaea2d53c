package command

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/solderctl/station/persist"
	"github.com/solderctl/station/temperature"
)

// Channel is the surface the command table dispatches against. A
// *channel.Channel satisfies it; tests may supply a smaller double.
type Channel interface {
	Enabled() bool
	SetEnabled(bool)

	SetpointC() temperature.Celsius
	SetSetpointC(temperature.Celsius) error

	MeasuredC() temperature.Celsius
	MeasuredUV() float64

	SleepActive() bool
	Output() float64

	RunawayThresholdC() temperature.Celsius
	SetRunawayThresholdC(temperature.Celsius) error

	MinC() temperature.Celsius
	SetMinC(temperature.Celsius) error
	MaxC() temperature.Celsius
	SetMaxC(temperature.Celsius) error

	SetpointUV() float64
	SetSetpointUV(float64) error

	Kp() float64
	SetKp(float64) error
	Ki() float64
	SetKi(float64) error
	Kd() float64
	SetKd(float64) error
	DerivativeTau() float64
	SetDerivativeTau(float64) error

	SleepSetpointC() temperature.Celsius
	SetSleepSetpointC(temperature.Celsius) error

	SleepDelayMs() float64
	SetSleepDelayMs(float64) error

	CalTableSize() int
	CalTablePoint(index int) (voltageUV, tempC float64, err error)
	SetCalTablePoint(index int, voltageUV, tempC float64) error

	Restore(sensitivityUVPerK float64) error
	Save(store persist.ByteStore) error
}

// Table maps a command name to its handler.
type Table map[string]Handler

func parseFloat(arg string) (float64, error) {
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, errors.New("invalid numeric value")
	}
	return v, nil
}

func boolArg(arg string) (bool, error) {
	switch arg {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, errors.New("invalid boolean value, expected 0 or 1")
	}
}

func fmtBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func fmtFloat(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

// rwFloat builds a handler for a rw float field with the given decimal
// precision, backed by get/set closures.
func rwFloat(decimals int, get_ func(Channel) float64, set func(Channel, float64) error) Handler {
	return func(ch Channel, arg string) (string, error) {
		if arg == get {
			return fmtFloat(get_(ch), decimals), nil
		}
		v, err := parseFloat(arg)
		if err != nil {
			return "", err
		}
		if err := set(ch, v); err != nil {
			return "", err
		}
		return "OK", nil
	}
}

func roFloat(decimals int, get_ func(Channel) float64) Handler {
	return func(ch Channel, arg string) (string, error) {
		if arg != get {
			return "", errors.New("read-only field")
		}
		return fmtFloat(get_(ch), decimals), nil
	}
}

// DefaultTable builds the full command table specified by the external
// command surface contract.
func DefaultTable() Table {
	return Table{
		"en": func(ch Channel, arg string) (string, error) {
			if arg == get {
				return fmtBool(ch.Enabled()), nil
			}
			on, err := boolArg(arg)
			if err != nil {
				return "", err
			}
			ch.SetEnabled(on)
			return "OK", nil
		},

		"set_t": rwFloat(2,
			func(ch Channel) float64 { return float64(ch.SetpointC()) },
			func(ch Channel, v float64) error { return ch.SetSetpointC(temperature.Celsius(v)) },
		),

		"meas_t": roFloat(2, func(ch Channel) float64 { return float64(ch.MeasuredC()) }),

		"meas_uv": roFloat(5, func(ch Channel) float64 { return ch.MeasuredUV() }),

		"sleep_state": func(ch Channel, arg string) (string, error) {
			if arg != get {
				return "", errors.New("read-only field")
			}
			return fmtBool(ch.SleepActive()), nil
		},

		"pid_op": roFloat(4, func(ch Channel) float64 { return ch.Output() }),

		"runaway_t": rwFloat(1,
			func(ch Channel) float64 { return float64(ch.RunawayThresholdC()) },
			func(ch Channel, v float64) error { return ch.SetRunawayThresholdC(temperature.Celsius(v)) },
		),

		"set_min_t": rwFloat(0,
			func(ch Channel) float64 { return float64(ch.MinC()) },
			func(ch Channel, v float64) error { return ch.SetMinC(temperature.Celsius(v)) },
		),

		"set_max_t": rwFloat(0,
			func(ch Channel) float64 { return float64(ch.MaxC()) },
			func(ch Channel, v float64) error { return ch.SetMaxC(temperature.Celsius(v)) },
		),

		"set_uv": rwFloat(5,
			func(ch Channel) float64 { return ch.SetpointUV() },
			func(ch Channel, v float64) error { return ch.SetSetpointUV(v) },
		),

		"pid_kp": rwFloat(5,
			func(ch Channel) float64 { return ch.Kp() },
			func(ch Channel, v float64) error { return ch.SetKp(v) },
		),
		"pid_ki": rwFloat(5,
			func(ch Channel) float64 { return ch.Ki() },
			func(ch Channel, v float64) error { return ch.SetKi(v) },
		),
		"pid_kd": rwFloat(5,
			func(ch Channel) float64 { return ch.Kd() },
			func(ch Channel, v float64) error { return ch.SetKd(v) },
		),
		"pid_d_tau": rwFloat(5,
			func(ch Channel) float64 { return ch.DerivativeTau() },
			func(ch Channel, v float64) error { return ch.SetDerivativeTau(v) },
		),

		"sleep_set_t": rwFloat(1,
			func(ch Channel) float64 { return float64(ch.SleepSetpointC()) },
			func(ch Channel, v float64) error { return ch.SetSleepSetpointC(temperature.Celsius(v)) },
		),

		"sleep_delay": rwFloat(0,
			func(ch Channel) float64 { return ch.SleepDelayMs() },
			func(ch Channel, v float64) error { return ch.SetSleepDelayMs(v) },
		),

		"tc_cal_table": calTableHandler,

		"restore": func(ch Channel, arg string) (string, error) {
			v, err := parseFloat(arg)
			if err != nil {
				return "", err
			}
			if err := ch.Restore(v); err != nil {
				return "", err
			}
			return "OK", nil
		},
	}
}

// calTableHandler implements tc_cal_table's three argument forms: "?"
// for the table size, "<index>" to read an entry, and "<index>[v,t]" to
// write one.
func calTableHandler(ch Channel, arg string) (string, error) {
	if arg == get {
		return strconv.Itoa(ch.CalTableSize()), nil
	}

	bracket := -1
	for i, r := range arg {
		if r == '[' {
			bracket = i
			break
		}
	}
	if bracket < 0 {
		index, err := strconv.Atoi(arg)
		if err != nil {
			return "", errors.New("invalid calibration index")
		}
		v, t, err := ch.CalTablePoint(index)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("[%s,%s]", fmtFloat(v, 5), fmtFloat(t, 2)), nil
	}

	index, err := strconv.Atoi(arg[:bracket])
	if err != nil {
		return "", errors.New("invalid calibration index")
	}
	if len(arg) < 2 || arg[len(arg)-1] != ']' {
		return "", errors.New("malformed calibration entry")
	}
	inner := arg[bracket+1 : len(arg)-1]
	comma := -1
	for i, r := range inner {
		if r == ',' {
			comma = i
			break
		}
	}
	if comma < 0 {
		return "", errors.New("malformed calibration entry")
	}
	v, err := parseFloat(inner[:comma])
	if err != nil {
		return "", err
	}
	t, err := parseFloat(inner[comma+1:])
	if err != nil {
		return "", err
	}
	if err := ch.SetCalTablePoint(index, v, t); err != nil {
		return "", err
	}
	return "OK", nil
}
