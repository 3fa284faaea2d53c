// Package hmi implements the Nextion-style display protocol: outbound
// field updates framed with a triple-0xFF terminator, inbound lines
// routed to the shared command parser unless they carry the three-byte
// "xxx" internal preamble that pauses or resumes outbound pushes.
//
// Pause and resume set a mutex-guarded flag that every outbound push
// checks before writing, so a pause takes effect between fields rather
// than mid-frame. Pusher runs no goroutine of its own.
package hmi

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/solderctl/station/transport"
)

// Preamble identifies an internal control line on the HMI link.
const Preamble = "xxx"

// PauseSuffix and ResumeSuffix are the one-character tails following
// Preamble that pause and resume outbound pushes.
const (
	PauseSuffix  = "P"
	ResumeSuffix = "R"
)

// Writer is the narrow framing surface Pusher needs; *transport.Port
// satisfies it.
type Writer interface {
	WriteFrame(payload []byte) error
}

// Pusher formats and rate-limits outbound field updates to the display,
// and intercepts inbound pause/resume control lines; the caller routes
// every line HandleInbound reports unhandled.
type Pusher struct {
	port    Writer
	limiter *rate.Limiter

	mu     sync.Mutex
	paused bool
}

// NewPusher builds a Pusher writing through port, rate-limited to at
// most ratePerSec field pushes per second (the HMI update cadence is
// throttled per channel already; this is a wire-level ceiling on top of
// that, mirroring the token-bucket pacing this codebase uses for other
// chatty serial links).
func NewPusher(port Writer, ratePerSec float64) *Pusher {
	return &Pusher{
		port:    port,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)+1),
	}
}

// Paused reports whether outbound pushes are currently suppressed.
func (p *Pusher) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Pusher) push(payload string) {
	if p.Paused() {
		return
	}
	if !p.limiter.Allow() {
		return
	}
	_ = p.port.WriteFrame([]byte(payload))
}

// PushText sends `<field>.txt="value"`.
func (p *Pusher) PushText(field, value string) {
	p.push(fmt.Sprintf("%s.txt=%q", field, value))
}

// PushValue sends `<field>.val=<int>`.
func (p *Pusher) PushValue(field string, value int) {
	p.push(fmt.Sprintf("%s.val=%d", field, value))
}

// PushColor sends `<field>.pco=<long>`.
func (p *Pusher) PushColor(field string, value int) {
	p.push(fmt.Sprintf("%s.pco=%d", field, value))
}

// HandleInbound inspects a line read from the HMI link. If it carries
// the internal preamble it reports handled=true so the caller does not
// also route it through the command parser; the pause and resume
// suffixes pause or resume outbound pushes, and any other preamble line
// is consumed without effect. Any other line is reported unhandled.
func (p *Pusher) HandleInbound(line string) (handled bool) {
	if len(line) < len(Preamble) || line[:len(Preamble)] != Preamble {
		return false
	}
	suffix := line[len(Preamble):]
	p.mu.Lock()
	defer p.mu.Unlock()
	switch suffix {
	case PauseSuffix:
		p.paused = true
	case ResumeSuffix:
		p.paused = false
	}
	return true
}

// Link couples a Pusher with the transport.Port used for its inbound
// line traffic, for callers that want both together.
type Link struct {
	*Pusher
	Port *transport.Port
}

// NewLink opens a Pusher and retains the underlying Port for inbound
// reads.
func NewLink(port *transport.Port, ratePerSec float64) *Link {
	return &Link{Pusher: NewPusher(port, ratePerSec), Port: port}
}
