// Package zerocross implements the per-half-cycle scheduler: a
// free-running counter that broadcasts the fractional op_level each
// channel uses to decide burst firing on N consecutive ticks (counter
// 0..N-1), then spends the next tick asking every channel to schedule a
// sample, so one full cycle is N+1 ticks.
//
// On real hardware this runs inside the zero-cross ISR. This host-process
// port stands a ticker-driven goroutine in for the ISR; Tick is written
// so it never blocks or allocates on its hot path, matching the
// constraint the source interrupt context operates under.
package zerocross

import "sync/atomic"

// Channel is the subset of channel.Channel the scheduler needs. Kept
// narrow and interface-typed so the scheduler has no import-time
// dependency on the channel package's full surface.
type Channel interface {
	ScheduleSample(nowUs int64)
	UpdateOutput(opLevel float64)
}

// Scheduler drives a fixed set of channels through the sample/burst
// schedule described in the external interface contract.
type Scheduler struct {
	channels []Channel
	n        int64
	counter  int64 // atomic

	heartbeatFlag uint32 // atomic, asserted on every tick
}

// New builds a Scheduler over channels with a sample period of n
// half-cycles (N=10 by default per the timing constants table).
func New(channels []Channel, n int) *Scheduler {
	if n <= 0 {
		n = 10
	}
	return &Scheduler{channels: channels, n: int64(n)}
}

// Tick advances the counter by one half-cycle and dispatches either a
// sample-schedule broadcast (when the counter reaches N) or an
// output-update broadcast with the current fractional op_level.
// nowUs is the caller-supplied monotonic microsecond clock.
func (s *Scheduler) Tick(nowUs int64) {
	atomic.StoreUint32(&s.heartbeatFlag, 1)

	k := atomic.LoadInt64(&s.counter)
	if k >= s.n {
		for _, c := range s.channels {
			c.ScheduleSample(nowUs)
		}
		atomic.StoreInt64(&s.counter, 0)
		return
	}

	opLevel := float64(k) / float64(s.n)
	for _, c := range s.channels {
		c.UpdateOutput(opLevel)
	}
	atomic.StoreInt64(&s.counter, k+1)
}

// ConsumeHeartbeat reports whether a tick occurred since the last call
// and clears the flag, mirroring the watchdog pulse the heartbeat
// monitor reads.
func (s *Scheduler) ConsumeHeartbeat() bool {
	return atomic.SwapUint32(&s.heartbeatFlag, 0) != 0
}

// N reports the configured sample period.
func (s *Scheduler) N() int { return int(s.n) }
