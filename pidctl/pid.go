// Package pidctl implements the per-channel PID compute path: a
// normalized-error proportional term, a low-pass filtered derivative,
// and a back-calculation anti-windup integrator.
package pidctl

import "github.com/solderctl/station/util"

// minDt is the oversampling guard from the PID contract: samples closer
// together than this are treated as noise and skipped rather than
// producing a division blow-up in the derivative term.
const minDt = 0.001 // seconds

// backCalcGain (Kb) is the anti-windup back-calculation gain. The
// contract fixes it at 1.
const backCalcGain = 1.0

// Controller holds the tunable gains and the running state of one
// channel's PID loop. The zero value is usable after a call to Reset.
type Controller struct {
	// Kp, Ki, Kd are the proportional, integral, and derivative gains.
	Kp, Ki, Kd float64

	// DerivativeTau is the derivative low-pass time constant in
	// seconds. Zero disables filtering (raw finite-difference
	// derivative).
	DerivativeTau float64

	// OutputMin, OutputMax bound the saturated output. The channel
	// contract fixes these at 0 and 1; they are fields rather than
	// constants so tests can exercise other ranges.
	OutputMin, OutputMax float64

	integral       float64
	derivativePrev float64
	output         float64
}

// NewController returns a Controller with OutputMin/OutputMax set to the
// channel's [0,1] duty range and all other state zeroed.
func NewController(kp, ki, kd, derivativeTau float64) *Controller {
	return &Controller{
		Kp:            kp,
		Ki:            ki,
		Kd:            kd,
		DerivativeTau: derivativeTau,
		OutputMin:     0,
		OutputMax:     1,
	}
}

// Output returns the most recently computed, saturated output.
func (c *Controller) Output() float64 { return c.output }

// Reset clears integrator and output state and seeds the derivative
// history with the unfiltered process value passed in. That seed is in
// the process value's raw units, while Step compares it against the
// normalized error, so with Kd > 0 the first post-reset step's
// derivative reflects the difference between the two. Call this on
// channel enable transitions and on explicit reset commands.
func (c *Controller) Reset(processValue float64) {
	c.integral = 0
	c.derivativePrev = processValue
	c.output = 0
}

// Step computes a new output given the setpoint and process value at
// time t1UnixUS (microseconds), given the prior sample was taken at
// t0UnixUS, and the normalization span used to turn raw units into a
// dimensionless error. If dt is too small (oversampling guard), Step
// returns the previous output unchanged and reports false so callers
// know not to treat this as a fresh PID update.
func (c *Controller) Step(setpoint, processValue, span float64, t0UnixUS, t1UnixUS int64) (output float64, updated bool) {
	dt := float64(t1UnixUS-t0UnixUS) * 1e-6
	if dt < minDt {
		return c.output, false
	}

	error := setpoint/span - processValue/span

	p := c.Kp * error

	d := 0.0
	if c.Kd > 0 {
		if c.DerivativeTau > 0 {
			alpha := dt / (c.DerivativeTau + dt)
			filtered := alpha*error + (1-alpha)*c.derivativePrev
			d = (filtered - c.derivativePrev) / dt
			c.derivativePrev = filtered
		} else {
			d = (error - c.derivativePrev) / dt
			c.derivativePrev = error
		}
	}
	dTerm := c.Kd * d

	i := 0.0
	if c.Ki > 0 {
		unconstrained := p + c.Ki*c.integral + dTerm
		aw := c.output - unconstrained
		c.integral += (error + backCalcGain*aw) * dt
		lo, hi := c.OutputMin/c.Ki, c.OutputMax/c.Ki
		if lo > hi {
			lo, hi = hi, lo
		}
		c.integral = util.Clamp(c.integral, lo, hi)
		i = c.Ki * c.integral
	}

	c.output = util.Clamp(p+i+dTerm, c.OutputMin, c.OutputMax)
	return c.output, true
}
