// Package station wires a fixed-cardinality collection of channels to
// the zero-cross scheduler, the heartbeat monitor, and the command
// surface, and drives the whole thing from a host-process stand-in for
// the ISR/cooperative-loop split described by the channel engine.
//
// The zero-cross ISR is recast here as a time.Ticker firing at the
// half-cycle rate, and the cooperative loop as a second ticker at the
// same rate that polls every channel and the heartbeat monitor. Run
// services both tickers from one select loop on its own goroutine, so a
// scheduler tick and a poll never run at the same time. Connected
// transports are read on separate goroutines that only route command
// lines.
package station

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/solderctl/station/channel"
	"github.com/solderctl/station/command"
	"github.com/solderctl/station/heartbeat"
	"github.com/solderctl/station/hmi"
	"github.com/solderctl/station/persist"
	"github.com/solderctl/station/stationcfg"
	"github.com/solderctl/station/temperature"
	"github.com/solderctl/station/transport"
	"github.com/solderctl/station/zerocross"
)

// HardwareFactory supplies the per-channel hardware collaborators the
// core engine treats as external: the ADC leg, the heater drive line,
// and the stand-sense input. A simulation or test build supplies
// in-memory doubles; a real build backs these with board-specific GPIO
// and ADC drivers outside this module's scope.
type HardwareFactory interface {
	ADC(channelIndex int) channel.ADC
	Heater(channelIndex int) channel.GPIO
	Stand(channelIndex int) channel.StandSense
	HeartbeatPin() heartbeat.Pin
	// HMI returns the display-push collaborator for channelIndex, or nil
	// if no display is attached. channel.Channel treats a nil HMI as a
	// no-op, so a factory with no physical display wired up simply
	// returns nil here.
	HMI(channelIndex int) channel.HMI
}

// Station owns the channel collection and the schedulers that drive it.
type Station struct {
	Channels  []*channel.Channel
	Scheduler *zerocross.Scheduler
	Heartbeat *heartbeat.Monitor
	Router    *command.Router

	USB *transport.Port
	HMI *hmi.Link

	halfCycle time.Duration
	cfg       stationcfg.Config
}

// New builds a Station from cfg, wiring each configured channel to its
// hardware collaborators via hw. It does not open any transports or
// load persisted state; call LoadAll and the transport constructors
// separately so tests can exercise the engine without I/O.
func New(cfg stationcfg.Config, hw HardwareFactory) *Station {
	channels := make([]*channel.Channel, len(cfg.Channels))
	schedulerChannels := make([]zerocross.Channel, len(cfg.Channels))

	for i, cc := range cfg.Channels {
		ch := channel.New(channel.Config{
			AnalogInputID:        cc.AnalogInputID,
			HeaterDriveID:        cc.HeaterDriveID,
			StandSenseID:         cc.StandSenseID,
			GainVPerV:            cc.GainVPerV,
			EEPROMBase:           cc.EEPROMBase,
			Table:                cc.Table(),
			Kp:                   cc.Kp,
			Ki:                   cc.Ki,
			Kd:                   cc.Kd,
			DerivativeTau:        cc.DerivativeTau,
			TempSpMin:            temperature.Celsius(cc.TempSpMin),
			TempSpMax:            temperature.Celsius(cc.TempSpMax),
			TempRunawayThreshold: temperature.Celsius(cc.TempRunawayThreshold),
			SleepDelayMs:         cc.SleepDelayMs,
			AmpRecoveryUs:        cfg.AmpRecoveryUs,
			HMIIntervalMs:        cfg.HMIIntervalMs,
			HMIFieldPrefix:       cc.HMIFieldPrefix,
			ADC:                  hw.ADC(i),
			Heater:               hw.Heater(i),
			Stand:                hw.Stand(i),
			Pusher:               hw.HMI(i),
		})
		channels[i] = ch
		schedulerChannels[i] = ch
	}

	scheduler := zerocross.New(schedulerChannels, cfg.N)
	channelCmds := make([]command.Channel, len(channels))
	for i, ch := range channels {
		channelCmds[i] = ch
	}

	return &Station{
		Channels:  channels,
		Scheduler: scheduler,
		Heartbeat: heartbeat.New(scheduler, hw.HeartbeatPin(), cfg.HeartbeatUs),
		Router:    command.NewRouter(channelCmds),
		halfCycle: mainsHalfCyclePeriod,
		cfg:       cfg,
	}
}

// mainsHalfCyclePeriod approximates a 60 Hz mains half-cycle; the
// scheduler's correctness does not depend on this being exact, only on
// ticks arriving close enough together that the amplifier recovery and
// sleep timers (measured against the same clock) behave sensibly.
const mainsHalfCyclePeriod = 8333 * time.Microsecond

// LoadAll loads every channel's persisted record from store, leaving
// factory defaults in place for any channel whose load fails.
func (s *Station) LoadAll(store persist.ByteStore) []error {
	var errs []error
	for _, ch := range s.Channels {
		if err := ch.LoadPersisted(store); err != nil {
			errs = append(errs, errors.Wrap(err, "load channel"))
		}
	}
	return errs
}

// SaveAll persists every channel's current configuration.
func (s *Station) SaveAll(store persist.ByteStore) error {
	var errs []error
	for _, ch := range s.Channels {
		if err := ch.Save(store); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.New("FAIL TO SAVE")
}

// Run drives the scheduler and the cooperative poll loop until ctx is
// canceled. The scheduler tick and the poll loop run on independent
// tickers at the same nominal rate, serviced by one select loop on the
// calling goroutine: a scheduler tick only calls Scheduler.Tick (short,
// non-blocking), while a poll tick does the slower channel and
// heartbeat work. If USB or HMI are attached, their inbound frames are
// serviced on their own goroutines for the duration of the run.
func (s *Station) Run(ctx context.Context) error {
	schedTicker := time.NewTicker(s.halfCycle)
	defer schedTicker.Stop()
	pollTicker := time.NewTicker(s.halfCycle)
	defer pollTicker.Stop()

	if s.USB != nil {
		go s.serveFrames(ctx, s.USB, nil)
	}
	if s.HMI != nil {
		go s.serveFrames(ctx, s.HMI.Port, s.HMI.Pusher)
	}

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-schedTicker.C:
			s.Scheduler.Tick(t.Sub(start).Microseconds())
		case t := <-pollTicker.C:
			now := t.Sub(start).Microseconds()
			for _, ch := range s.Channels {
				ch.Poll(now)
			}
			s.Heartbeat.Poll(now)
		}
	}
}

// serveFrames repeatedly reads one command-surface frame from port and
// routes it through Router, writing the response back framed the same
// way. pusher is non-nil only for the HMI leg, where an inbound line
// carrying the internal pause/resume preamble is intercepted instead of
// routed. It returns once ctx is canceled (which closes port, unblocking
// the read) or the connection is closed from the other end.
func (s *Station) serveFrames(ctx context.Context, port *transport.Port, pusher *hmi.Pusher) {
	go func() {
		<-ctx.Done()
		port.Close()
	}()
	for {
		frame, err := port.ReadFrame()
		if err != nil {
			if err == transport.ErrTimeout {
				continue
			}
			return
		}
		line := string(frame)
		if pusher != nil && pusher.HandleInbound(line) {
			continue
		}
		if err := port.WriteFrame([]byte(s.Router.Route(line))); err != nil {
			return
		}
	}
}
