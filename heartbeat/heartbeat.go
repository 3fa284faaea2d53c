// Package heartbeat implements the watchdog-style liveness pulse: a
// cooperative-side routine that drives an external pin HIGH whenever the
// scheduler has ticked since it last looked, then lets it fall LOW again
// after a fixed pulse width. A supervising circuit (or, in this
// host-process port, a test) observes the pin staying LOW as a lock-up
// signal if the ticks stop arriving.
package heartbeat

// Pin is the single digital output the monitor drives.
type Pin interface {
	Write(high bool) error
}

// TickSource reports whether a scheduler tick occurred since the last
// check, clearing its own flag as it does so (zerocross.Scheduler
// satisfies this).
type TickSource interface {
	ConsumeHeartbeat() bool
}

// DefaultPulseUs is the default pulse width in microseconds.
const DefaultPulseUs = 5000

// Monitor drives Pin according to TickSource's liveness flag.
type Monitor struct {
	ticks    TickSource
	pin      Pin
	pulseUs int64
	risenAt int64
	isHigh  bool
}

// New builds a Monitor with the given pulse width in microseconds. A
// non-positive width falls back to DefaultPulseUs.
func New(ticks TickSource, pin Pin, pulseUs int64) *Monitor {
	if pulseUs <= 0 {
		pulseUs = DefaultPulseUs
	}
	return &Monitor{ticks: ticks, pin: pin, pulseUs: pulseUs}
}

// Poll is called once per cooperative-loop iteration with the current
// monotonic microsecond clock. A fresh tick re-raises the pin and resets
// the fall timer; absent a fresh tick, the pin falls once the pulse
// width has elapsed since it was last raised.
func (m *Monitor) Poll(nowUs int64) {
	if m.ticks.ConsumeHeartbeat() {
		m.isHigh = true
		m.risenAt = nowUs
		if m.pin != nil {
			_ = m.pin.Write(true)
		}
		return
	}
	if m.isHigh && nowUs-m.risenAt >= m.pulseUs {
		m.isHigh = false
		if m.pin != nil {
			_ = m.pin.Write(false)
		}
	}
}

// Alive reports whether the pin is currently driven HIGH. A supervising
// circuit (or test) observing this false for longer than the pulse
// width plus one scheduler period has detected a lock-up.
func (m *Monitor) Alive() bool { return m.isHigh }
