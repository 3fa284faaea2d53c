// Package channel implements one heater/thermocouple pair: sample
// scheduling against the zero-cross window, burst-firing output gating,
// the PID compute path, the stand-detection sleep state machine, and
// the runaway safety interlock.
//
// A Channel is driven by two callers with different latency budgets.
// The zero-cross scheduler calls ScheduleSample and UpdateOutput from
// what stands in for interrupt context in this host-process port: short,
// non-blocking, and touching only the atomically-guarded fields. The
// station's main loop calls Poll once per iteration to do the slower
// work (ADC reads, PID math, sleep state, HMI pushes).
package channel

import (
	"math"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/solderctl/station/calibration"
	"github.com/solderctl/station/mathx"
	"github.com/solderctl/station/persist"
	"github.com/solderctl/station/pidctl"
	"github.com/solderctl/station/temperature"
	"github.com/solderctl/station/util"
)

// Defaults for the timing constants named in the external interface
// contract.
const (
	DefaultAmpRecoveryUs = 1700
	DefaultHMIIntervalMs = 200
	AdcMaxCount          = 4095 // 12-bit ADC, full scale
	AdcVref              = 3.3  // volts
)

// SleepState is the stand-detection state machine's current state.
type SleepState int32

const (
	Awake SleepState = iota
	StandPending
	Asleep
)

func (s SleepState) String() string {
	switch s {
	case Awake:
		return "AWAKE"
	case StandPending:
		return "STAND_PENDING"
	case Asleep:
		return "SLEEP"
	default:
		return "UNKNOWN"
	}
}

// ErrOutOfRange is returned by setters when the argument falls outside
// the bound the command surface contract requires.
var ErrOutOfRange = errors.New("value out of range")

// ErrInvalidIndex is returned for an out-of-bounds calibration table
// index.
var ErrInvalidIndex = errors.New("invalid calibration table index")

// ADC is the collaborator that samples the amplified thermocouple
// voltage. Sample returns the measured volts at the ADC pin and the raw
// count, so the channel can detect full-scale saturation independent of
// the computed voltage.
type ADC interface {
	Sample() (volts float64, rawCount int, err error)
}

// GPIO is a single digital output, used for the heater drive line.
type GPIO interface {
	Write(high bool) error
}

// StandSense reads the stand-detection input. Low reports true when the
// iron is resting on its stand (active-low per the source hardware).
type StandSense interface {
	Low() (bool, error)
}

// HMI is the capability object a channel pushes display updates
// through. It is deliberately narrow: a channel never knows field
// names beyond the prefix it was configured with.
type HMI interface {
	PushText(field, value string)
	PushValue(field string, value int)
	PushColor(field string, value int)
}

// Config carries everything a Channel needs at construction. Identity
// and hardware collaborators are fixed for the program's lifetime;
// there is no dynamic reconfiguration of wiring.
type Config struct {
	AnalogInputID int
	HeaterDriveID int
	StandSenseID  int
	GainVPerV     float64
	EEPROMBase    uint32

	Table calibration.Table

	Kp, Ki, Kd, DerivativeTau float64

	TempSpMin, TempSpMax, TempRunawayThreshold temperature.Celsius
	SleepDelayMs                               float64

	AmpRecoveryUs int64
	HMIIntervalMs int64

	HMIFieldPrefix string

	ADC    ADC
	Heater GPIO
	Stand  StandSense
	Pusher HMI
}

// Channel is one physical heater and thermocouple pair.
//
// The triplet enable/output/sampleScheduled, plus the schedule
// timestamp, are the fields read by the zero-cross scheduler's
// ISR-side calls; they are stored behind sync/atomic rather than mu so
// ScheduleSample/UpdateOutput never block on the main loop. Every other
// field is owned by the cooperative loop and guarded by mu.
type Channel struct {
	cfg   Config
	table calibration.Table
	pid   *pidctl.Controller

	enableFlag          uint32 // atomic bool
	sampleScheduledFlag uint32 // atomic bool
	outputBits          uint64 // atomic, math.Float64bits
	scheduleTimestampUs int64  // atomic

	mu sync.Mutex

	tempSpMin, tempSpMax, tempRunawayThreshold temperature.Celsius
	tcVoltageSp, sleepVoltageSp                float64
	tcMaxVoltageSetpoint                       float64

	tcVoltagePv float64
	tempPv      temperature.Celsius

	pvTimestampUs, pvPrevTimestampUs int64
	pidUpdatePending                 bool
	awaitingRetake                   bool

	sleepState        SleepState
	sleepDelayRunning bool
	sleepDelayStartMs int64
	sleepDelayMs      float64

	hmiLastUpdateMs int64

	ampRecoveryUs int64
	hmiIntervalMs int64

	adc    ADC
	heater GPIO
	stand  StandSense
	pusher HMI
	prefix string
}

// New builds a Channel in the disabled, awake state with PID state
// reset. It does not touch storage; call LoadPersisted afterward to
// recover a saved configuration.
func New(cfg Config) *Channel {
	ampRecovery := cfg.AmpRecoveryUs
	if ampRecovery <= 0 {
		ampRecovery = DefaultAmpRecoveryUs
	}
	hmiInterval := cfg.HMIIntervalMs
	if hmiInterval <= 0 {
		hmiInterval = DefaultHMIIntervalMs
	}

	c := &Channel{
		cfg:                  cfg,
		table:                cfg.Table,
		pid:                  pidctl.NewController(cfg.Kp, cfg.Ki, cfg.Kd, cfg.DerivativeTau),
		tempSpMin:            cfg.TempSpMin,
		tempSpMax:            cfg.TempSpMax,
		tempRunawayThreshold: cfg.TempRunawayThreshold,
		tcMaxVoltageSetpoint: AdcVref * 1e6 / cfg.GainVPerV,
		sleepDelayMs:         cfg.SleepDelayMs,
		sleepState:           Awake,
		awaitingRetake:       true, // first post-reset sample is retaken
		ampRecoveryUs:        ampRecovery,
		hmiIntervalMs:        hmiInterval,
		adc:                  cfg.ADC,
		heater:               cfg.Heater,
		stand:                cfg.Stand,
		pusher:               cfg.Pusher,
		prefix:               cfg.HMIFieldPrefix,
	}
	c.tcVoltageSp = c.table.TempToTcv(float64((cfg.TempSpMin + cfg.TempSpMax) / 2))
	atomic.StoreUint32(&c.sampleScheduledFlag, 1)
	return c
}

// LoadPersisted loads the channel's saved record from store, overwriting
// in-memory configuration on success and recomputing the derived
// calibration-driven setpoint. On failure the in-memory defaults set at
// construction are left untouched, and the error is returned for the
// caller to log.
func (c *Channel) LoadPersisted(store persist.ByteStore) error {
	rec, err := persist.Load(store, c.cfg.EEPROMBase)
	if err != nil {
		return errors.Wrap(err, "load persisted channel record")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tcVoltageSp = rec.TcVoltageSp
	c.tempSpMin = temperature.Celsius(rec.TempSpMin)
	c.tempSpMax = temperature.Celsius(rec.TempSpMax)
	c.pid.Kp = rec.Kp
	c.pid.Ki = rec.Ki
	c.pid.Kd = rec.Kd
	c.pid.DerivativeTau = rec.DerivativeTau
	c.sleepDelayMs = rec.SleepDelayMs
	c.sleepVoltageSp = rec.SleepVoltageSp
	c.tempRunawayThreshold = temperature.Celsius(rec.TempRunawayThreshold)

	var pts [calibration.TableSize]calibration.Point
	for i, p := range rec.Table {
		pts[i] = calibration.Point{VoltageUV: p.VoltageUV, TempC: p.TempC}
	}
	c.table = calibration.NewTable(pts)
	return nil
}

// Save marshals the channel's current configuration to store at its
// configured EEPROM offset.
func (c *Channel) Save(store persist.ByteStore) error {
	c.mu.Lock()
	rec := persist.Record{
		TcVoltageSp:          c.tcVoltageSp,
		TempSpMin:            float64(c.tempSpMin),
		TempSpMax:            float64(c.tempSpMax),
		Kp:                   c.pid.Kp,
		Ki:                   c.pid.Ki,
		Kd:                   c.pid.Kd,
		DerivativeTau:        c.pid.DerivativeTau,
		SleepDelayMs:         c.sleepDelayMs,
		SleepVoltageSp:       c.sleepVoltageSp,
		TempRunawayThreshold: float64(c.tempRunawayThreshold),
	}
	for i, p := range c.table.Points {
		rec.Table[i] = persist.Point{VoltageUV: p.VoltageUV, TempC: p.TempC}
	}
	c.mu.Unlock()
	return persist.Save(store, c.cfg.EEPROMBase, rec)
}

// Enabled reports the channel's current enable state. Safe to call from
// either execution context.
func (c *Channel) Enabled() bool {
	return atomic.LoadUint32(&c.enableFlag) != 0
}

// SetEnabled writes the enable flag and, per the command surface
// contract, always resets PID state regardless of the value written
// (enabling and disabling both reset: there is no "resume" case).
func (c *Channel) SetEnabled(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		atomic.StoreUint32(&c.enableFlag, 1)
	} else {
		atomic.StoreUint32(&c.enableFlag, 0)
	}
	c.resetPIDLocked()
	if !on {
		atomic.StoreUint64(&c.outputBits, 0)
		if c.heater != nil {
			_ = c.heater.Write(false)
		}
	}
}

func (c *Channel) resetPIDLocked() {
	c.pid.Reset(c.tcVoltagePv)
	c.pvTimestampUs = 0
	c.pvPrevTimestampUs = 0
	c.pidUpdatePending = false
	c.awaitingRetake = true
}

// Output returns the most recently computed duty cycle in [0,1].
func (c *Channel) Output() float64 {
	return math.Float64frombits(atomic.LoadUint64(&c.outputBits))
}

// ScheduleSample is called by the zero-cross scheduler once per cycle,
// after its N output-update ticks. It forces the heater drive low and records the schedule
// timestamp so the main loop knows when the amplifier has settled.
func (c *Channel) ScheduleSample(nowUs int64) {
	atomic.StoreUint32(&c.sampleScheduledFlag, 1)
	atomic.StoreInt64(&c.scheduleTimestampUs, nowUs)
	if c.heater != nil {
		_ = c.heater.Write(false)
	}
}

// UpdateOutput is called by the zero-cross scheduler on every
// non-sampling tick with the current fractional op_level. It drives the
// heater line according to the burst-firing gating rule: HIGH iff
// enabled, not mid-sample-window, and op_level is still within the
// current duty cycle.
func (c *Channel) UpdateOutput(opLevel float64) {
	enabled := atomic.LoadUint32(&c.enableFlag) != 0
	scheduled := atomic.LoadUint32(&c.sampleScheduledFlag) != 0
	output := math.Float64frombits(atomic.LoadUint64(&c.outputBits))
	high := enabled && !scheduled && opLevel < output
	if c.heater != nil {
		_ = c.heater.Write(high)
	}
}

// sampleScheduled reports the ISR-shared flag's current value.
func (c *Channel) sampleScheduled() bool {
	return atomic.LoadUint32(&c.sampleScheduledFlag) != 0
}

// Poll runs one cooperative-loop iteration: acquiring a pending sample
// once the amplifier has recovered, stepping PID on a fresh sample,
// checking the runaway interlock, advancing the sleep state machine, and
// pushing an HMI update if the cadence has elapsed. nowUs is a
// monotonically increasing microsecond clock shared with the scheduler.
func (c *Channel) Poll(nowUs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sampleScheduled() {
		scheduleTs := atomic.LoadInt64(&c.scheduleTimestampUs)
		if nowUs-scheduleTs > c.ampRecoveryUs {
			c.acquireSampleLocked(nowUs)
		}
	}

	if c.pidUpdatePending {
		c.stepPIDLocked()
	}

	if atomic.LoadUint32(&c.enableFlag) != 0 {
		c.advanceSleepLocked(nowUs)
	}

	c.pushHMILocked(nowUs)
}

func (c *Channel) acquireSampleLocked(nowUs int64) {
	volts, raw, err := c.adc.Sample()
	if err != nil {
		return // retry next poll; sample_scheduled stays set
	}
	c.tcVoltagePv = volts / c.cfg.GainVPerV * 1e6
	c.tempPv = c.table.CelsiusAt(c.tcVoltagePv)
	c.pvPrevTimestampUs = c.pvTimestampUs
	c.pvTimestampUs = nowUs

	if c.awaitingRetake {
		c.awaitingRetake = false
		// leave sample_scheduled set so the next acquisition has a
		// well-defined prior timestamp and dt.
	} else {
		atomic.StoreUint32(&c.sampleScheduledFlag, 0)
		c.pidUpdatePending = true
	}

	if raw >= AdcMaxCount || c.tempPv > c.tempRunawayThreshold {
		c.triggerRunawayLocked()
	}
}

func (c *Channel) triggerRunawayLocked() {
	atomic.StoreUint32(&c.enableFlag, 0)
	atomic.StoreUint64(&c.outputBits, 0)
	c.resetPIDLocked()
	if c.heater != nil {
		_ = c.heater.Write(false)
	}
}

func (c *Channel) stepPIDLocked() {
	sp := c.tcVoltageSp
	if c.sleepState == Asleep {
		sp = c.sleepVoltageSp
	}
	out, updated := c.pid.Step(sp, c.tcVoltagePv, c.tcMaxVoltageSetpoint, c.pvPrevTimestampUs, c.pvTimestampUs)
	c.pidUpdatePending = false
	if updated {
		atomic.StoreUint64(&c.outputBits, math.Float64bits(out))
	}
}

func (c *Channel) advanceSleepLocked(nowUs int64) {
	if c.stand == nil {
		return
	}
	low, err := c.stand.Low()
	if err != nil {
		return
	}
	nowMs := nowUs / 1000

	switch c.sleepState {
	case Awake:
		if low {
			c.sleepState = StandPending
			c.sleepDelayStartMs = nowMs
			c.sleepDelayRunning = true
		}
	case StandPending:
		if !low {
			c.sleepState = Awake
			c.sleepDelayRunning = false
			return
		}
		if nowMs-c.sleepDelayStartMs >= int64(c.sleepDelayMs) {
			c.sleepState = Asleep
			c.sleepDelayRunning = false
		}
	case Asleep:
		if !low {
			c.sleepState = Awake
		}
	}
}

func (c *Channel) pushHMILocked(nowUs int64) {
	if c.pusher == nil {
		return
	}
	nowMs := nowUs / 1000
	if nowMs-c.hmiLastUpdateMs < c.hmiIntervalMs {
		return
	}
	c.hmiLastUpdateMs = nowMs

	enabled := atomic.LoadUint32(&c.enableFlag) != 0
	output := math.Float64frombits(atomic.LoadUint64(&c.outputBits))

	c.pusher.PushText(c.prefix+"pv", formatFloat(float64(c.tempPv), 2))
	c.pusher.PushText(c.prefix+"sp", formatFloat(c.table.TcvToTemp(c.tcVoltageSp), 2))
	c.pusher.PushValue(c.prefix+"op", int(mathx.Round(output*100, 1)))
	if enabled {
		c.pusher.PushText(c.prefix+"en", "ON")
	} else {
		c.pusher.PushText(c.prefix+"en", "OFF")
	}
	if c.sleepState == Asleep {
		c.pusher.PushText(c.prefix+"sleep", "SLEEP")
	} else {
		c.pusher.PushText(c.prefix+"sleep", "")
	}
}

// --- command-surface accessors ---

// SetpointC returns the current working setpoint in Celsius, derived
// from the calibration table rather than stored directly (tc_voltage_sp
// is the value of record).
func (c *Channel) SetpointC() temperature.Celsius {
	c.mu.Lock()
	defer c.mu.Unlock()
	return temperature.Celsius(c.table.TcvToTemp(c.tcVoltageSp))
}

// SetSetpointC sets the working setpoint in Celsius, bounded by
// [TempSpMin, TempSpMax].
func (c *Channel) SetSetpointC(t temperature.Celsius) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t < c.tempSpMin || t > c.tempSpMax {
		return ErrOutOfRange
	}
	c.tcVoltageSp = c.table.TempToTcv(float64(t))
	return nil
}

// MeasuredC returns the most recently sampled tip temperature.
func (c *Channel) MeasuredC() temperature.Celsius {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tempPv
}

// MeasuredUV returns the most recently sampled thermocouple voltage.
func (c *Channel) MeasuredUV() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tcVoltagePv
}

// SleepActive reports whether the channel is currently in the SLEEP
// state (as opposed to AWAKE or STAND_PENDING, both non-sleeping).
func (c *Channel) SleepActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleepState == Asleep
}

// RunawayThresholdC returns the configured runaway cutoff.
func (c *Channel) RunawayThresholdC() temperature.Celsius {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tempRunawayThreshold
}

// SetRunawayThresholdC sets the runaway cutoff, clamped to the hardware
// maximum derived from the calibration table and amplifier gain.
func (c *Channel) SetRunawayThresholdC(t temperature.Celsius) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	maxC := temperature.Celsius(c.table.TcvToTemp(c.tcMaxVoltageSetpoint))
	c.tempRunawayThreshold = temperature.Celsius(util.Clamp(float64(t), 0, float64(maxC)))
	return nil
}

// MinC/MaxC expose the setpoint bounds.
func (c *Channel) MinC() temperature.Celsius {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tempSpMin
}

func (c *Channel) MaxC() temperature.Celsius {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tempSpMax
}

// SetMinC sets the setpoint floor; must be <= the current ceiling and
// >= absolute zero on the Celsius scale used here (0, not -273.15: the
// command surface bounds it at 0 as the source firmware does).
func (c *Channel) SetMinC(t temperature.Celsius) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t < 0 || t > c.tempSpMax {
		return ErrOutOfRange
	}
	c.tempSpMin = t
	return nil
}

// SetMaxC sets the setpoint ceiling; must be >= the current floor and
// within the hardware maximum the calibration table and gain permit.
func (c *Channel) SetMaxC(t temperature.Celsius) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	maxC := temperature.Celsius(c.table.TcvToTemp(c.tcMaxVoltageSetpoint))
	if t < c.tempSpMin || t > maxC {
		return ErrOutOfRange
	}
	c.tempSpMax = t
	return nil
}

// SetpointUV returns the raw thermocouple setpoint voltage of record.
func (c *Channel) SetpointUV() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tcVoltageSp
}

// SetSetpointUV sets the raw thermocouple setpoint voltage directly,
// bounded by [0, tc_max_voltage_setpoint].
func (c *Channel) SetSetpointUV(v float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v < 0 || v > c.tcMaxVoltageSetpoint {
		return ErrOutOfRange
	}
	c.tcVoltageSp = v
	return nil
}

// Kp/Ki/Kd/DerivativeTau expose the PID gains for the command surface.
func (c *Channel) Kp() float64 { c.mu.Lock(); defer c.mu.Unlock(); return c.pid.Kp }
func (c *Channel) Ki() float64 { c.mu.Lock(); defer c.mu.Unlock(); return c.pid.Ki }
func (c *Channel) Kd() float64 { c.mu.Lock(); defer c.mu.Unlock(); return c.pid.Kd }
func (c *Channel) DerivativeTau() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid.DerivativeTau
}

func (c *Channel) SetKp(v float64) error { return c.setGain(v, func(f float64) { c.pid.Kp = f }) }
func (c *Channel) SetKi(v float64) error { return c.setGain(v, func(f float64) { c.pid.Ki = f }) }
func (c *Channel) SetKd(v float64) error { return c.setGain(v, func(f float64) { c.pid.Kd = f }) }
func (c *Channel) SetDerivativeTau(v float64) error {
	return c.setGain(v, func(f float64) { c.pid.DerivativeTau = f })
}

func (c *Channel) setGain(v float64, apply func(float64)) error {
	if v < 0 {
		return ErrOutOfRange
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	apply(v)
	return nil
}

// SleepSetpointC/SetSleepSetpointC expose the reduced-power sleep
// setpoint in Celsius (stored internally as tc_voltage equivalent via
// the calibration table, matching tc_voltage_sp's representation).
func (c *Channel) SleepSetpointC() temperature.Celsius {
	c.mu.Lock()
	defer c.mu.Unlock()
	return temperature.Celsius(c.table.TcvToTemp(c.sleepVoltageSp))
}

func (c *Channel) SetSleepSetpointC(t temperature.Celsius) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	maxC := temperature.Celsius(c.table.TcvToTemp(c.tcMaxVoltageSetpoint))
	if t < 0 || t > maxC {
		return ErrOutOfRange
	}
	c.sleepVoltageSp = c.table.TempToTcv(float64(t))
	return nil
}

// SleepDelayMs/SetSleepDelayMs expose the stand-pending timeout.
func (c *Channel) SleepDelayMs() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleepDelayMs
}

func (c *Channel) SetSleepDelayMs(v float64) error {
	if v < 0 {
		return ErrOutOfRange
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleepDelayMs = v
	return nil
}

// CalTableSize returns the fixed calibration table size.
func (c *Channel) CalTableSize() int { return calibration.TableSize }

// CalTablePoint returns the (voltage, temperature) pair at index.
func (c *Channel) CalTablePoint(index int) (voltageUV, tempC float64, err error) {
	if index < 0 || index >= calibration.TableSize {
		return 0, 0, ErrInvalidIndex
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.table.Points[index]
	return p.VoltageUV, p.TempC, nil
}

// SetCalTablePoint overwrites the (voltage, temperature) pair at index.
// No monotonicity validation is performed on write: a caller supplying
// a degenerate table sees degenerate interpolation results rather than
// a rejected write.
func (c *Channel) SetCalTablePoint(index int, voltageUV, tempC float64) error {
	if index < 0 || index >= calibration.TableSize {
		return ErrInvalidIndex
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table.Points[index] = calibration.Point{VoltageUV: voltageUV, TempC: tempC}
	return nil
}

// Restore resets configuration to factory defaults derived from the
// thermocouple sensitivity s (microvolts per Kelvin), re-seeding the
// calibration table linearly from s. It preserves a literal behavior
// carried over unchanged from the source firmware: s is validated
// against thermocouple sensitivity bounds (0, 40] but then assigned
// directly to tc_voltage_sp, not used to scale it.
func (c *Channel) Restore(s float64) error {
	if s <= 0 || s > 40 {
		return ErrOutOfRange
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var pts [calibration.TableSize]calibration.Point
	for i := range pts {
		t := float64(i) * 50.0
		pts[i] = calibration.Point{VoltageUV: t * s, TempC: t}
	}
	c.table = calibration.NewTable(pts)
	c.tempSpMin = 0
	c.tempSpMax = temperature.Celsius(pts[calibration.TableSize-1].TempC)
	c.tempRunawayThreshold = c.tempSpMax
	c.sleepVoltageSp = 0
	c.sleepDelayMs = 30000.0
	c.pid.Kp, c.pid.Ki, c.pid.Kd, c.pid.DerivativeTau = 0, 0, 0, 0

	c.tcVoltageSp = s
	return nil
}

func formatFloat(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}
