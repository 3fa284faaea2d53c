// Package stationcfg loads the station's configuration: per-channel
// identity, calibration tables, and tuning defaults, layered the way
// this codebase's multi-instrument servers are configured — struct
// defaults loaded first, then a YAML file overlaid on top via koanf, so
// a missing or partial config file is never fatal.
package stationcfg

import (
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"

	"github.com/solderctl/station/calibration"
)

// CalPoint mirrors calibration.Point with koanf/yaml struct tags, kept
// distinct from calibration.Point so that package carries no
// serialization concerns.
type CalPoint struct {
	VoltageUV float64 `koanf:"voltage_uv" yaml:"voltage_uv"`
	TempC     float64 `koanf:"temp_c" yaml:"temp_c"`
}

// ChannelConfig is one channel's static configuration.
type ChannelConfig struct {
	AnalogInputID int     `koanf:"analog_input_id" yaml:"analog_input_id"`
	HeaterDriveID int     `koanf:"heater_drive_id" yaml:"heater_drive_id"`
	StandSenseID  int     `koanf:"stand_sense_id" yaml:"stand_sense_id"`
	GainVPerV     float64 `koanf:"gain_v_per_v" yaml:"gain_v_per_v"`
	EEPROMBase    uint32  `koanf:"eeprom_base" yaml:"eeprom_base"`

	TempSpMin            float64 `koanf:"temp_sp_min" yaml:"temp_sp_min"`
	TempSpMax            float64 `koanf:"temp_sp_max" yaml:"temp_sp_max"`
	TempRunawayThreshold float64 `koanf:"temp_runaway_threshold" yaml:"temp_runaway_threshold"`
	SleepDelayMs         float64 `koanf:"sleep_delay_ms" yaml:"sleep_delay_ms"`

	Kp            float64 `koanf:"kp" yaml:"kp"`
	Ki            float64 `koanf:"ki" yaml:"ki"`
	Kd            float64 `koanf:"kd" yaml:"kd"`
	DerivativeTau float64 `koanf:"derivative_tau" yaml:"derivative_tau"`

	HMIFieldPrefix string `koanf:"hmi_field_prefix" yaml:"hmi_field_prefix"`

	CalTable [calibration.TableSize]CalPoint `koanf:"cal_table" yaml:"cal_table"`
}

// Table converts the YAML-friendly calibration points into a
// calibration.Table.
func (cc ChannelConfig) Table() calibration.Table {
	var pts [calibration.TableSize]calibration.Point
	for i, p := range cc.CalTable {
		pts[i] = calibration.Point{VoltageUV: p.VoltageUV, TempC: p.TempC}
	}
	return calibration.NewTable(pts)
}

// Config is the whole station's configuration.
type Config struct {
	N                  int             `koanf:"n" yaml:"n"`
	AmpRecoveryUs      int64           `koanf:"amp_recovery_us" yaml:"amp_recovery_us"`
	HeartbeatUs        int64           `koanf:"heartbeat_us" yaml:"heartbeat_us"`
	HMIIntervalMs      int64           `koanf:"hmi_interval_ms" yaml:"hmi_interval_ms"`
	USBPort            string          `koanf:"usb_port" yaml:"usb_port"`
	USBBaud            int             `koanf:"usb_baud" yaml:"usb_baud"`
	HMIPort            string          `koanf:"hmi_port" yaml:"hmi_port"`
	HMIBaud            int             `koanf:"hmi_baud" yaml:"hmi_baud"`
	HMIPushRate        float64         `koanf:"hmi_push_rate" yaml:"hmi_push_rate"`
	DiagnosticHTTPAddr string          `koanf:"diagnostic_http_addr" yaml:"diagnostic_http_addr"`
	Channels           []ChannelConfig `koanf:"channels" yaml:"channels"`
}

// defaultChannel returns one channel's factory defaults: a linear
// 20 uV/K calibration table spanning 0-450 C, matching a generic
// K-type-adjacent thermocouple amplifier chain.
func defaultChannel(analogID, heaterID, standID int, eepromBase uint32, prefix string) ChannelConfig {
	cc := ChannelConfig{
		AnalogInputID:        analogID,
		HeaterDriveID:        heaterID,
		StandSenseID:         standID,
		GainVPerV:            3300,
		EEPROMBase:           eepromBase,
		TempSpMin:            50,
		TempSpMax:            450,
		TempRunawayThreshold: 460,
		SleepDelayMs:         30000,
		Kp:                   0.5,
		Ki:                   0.1,
		Kd:                   0.05,
		DerivativeTau:        0.02,
		HMIFieldPrefix:       prefix,
	}
	for i := range cc.CalTable {
		t := float64(i) * 50.0
		cc.CalTable[i] = CalPoint{VoltageUV: t * 20, TempC: t}
	}
	return cc
}

// Default returns the station's factory configuration for a
// four-channel station, the common configuration for this class of
// device.
func Default() Config {
	return Config{
		N:                  10,
		AmpRecoveryUs:      1700,
		HeartbeatUs:        5000,
		HMIIntervalMs:      200,
		USBPort:            "/dev/ttyACM0",
		USBBaud:            115200,
		HMIPort:            "/dev/ttyUSB0",
		HMIBaud:            9600,
		HMIPushRate:        20,
		DiagnosticHTTPAddr: "",
		Channels: []ChannelConfig{
			defaultChannel(0, 0, 0, 0*120, "h0"),
			defaultChannel(1, 1, 1, 1*120, "h1"),
			defaultChannel(2, 2, 2, 2*120, "h2"),
			defaultChannel(3, 3, 3, 3*120, "h3"),
		},
	}
}

// Load builds the layered configuration: struct defaults, then path
// overlaid on top if it exists. A missing file is not an error; any
// other read/parse failure is.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, errors.Wrap(err, "load config defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !strings.Contains(err.Error(), "no such file") {
				return Config{}, errors.Wrapf(err, "load config file %s", path)
			}
		}
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	return c, nil
}
