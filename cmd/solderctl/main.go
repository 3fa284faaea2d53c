// Command solderctl is the soldering station firmware's host-process
// entry point: it loads the layered YAML configuration, wires the
// channel engine to its collaborators, and runs the scheduler and
// command surface until interrupted.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"gopkg.in/yaml.v2"

	"github.com/solderctl/station/channel"
	"github.com/solderctl/station/eeprom"
	"github.com/solderctl/station/heartbeat"
	"github.com/solderctl/station/hmi"
	"github.com/solderctl/station/station"
	"github.com/solderctl/station/stationcfg"
	"github.com/solderctl/station/transport"
)

// Version is the build version, normally overridden via -ldflags.
var Version = "dev"

// ConfigFileName is the default layered config file, overlaid on top
// of the compiled-in defaults.
const ConfigFileName = "solderctl.yml"

func root() {
	fmt.Println(`solderctl drives the soldering station's channel engine: PID-controlled
heater channels, persisted calibration and tuning, and a line-oriented
command surface over USB and the HMI serial link.

Usage:
	solderctl <command>

Commands:
	run
	status [--http addr]
	help
	mkconf
	conf
	version`)
}

func help() {
	fmt.Println(`solderctl is configured via its YAML file. Keys are not case-sensitive.
The mkconf command writes the compiled-in defaults to solderctl.yml so you
have a starting point to edit; without a config file the defaults are used
as-is.

status prints a one-shot text snapshot of every channel. Pass --http
addr (e.g. --http :8080) to instead serve it as JSON, plus a
per-channel and a heartbeat route, over HTTP until interrupted.`)
}

func mkconf() {
	c := stationcfg.Default()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := yaml.NewEncoder(f).Encode(c); err != nil {
		log.Fatal(err)
	}
}

func printConf() {
	c, err := stationcfg.Load(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	if err := yaml.NewEncoder(os.Stdout).Encode(c); err != nil {
		log.Fatal(err)
	}
}

func printVersion() {
	fmt.Printf("solderctl version %v\n", Version)
}

// simulatedHardware backs every channel with in-memory collaborators so
// `solderctl run` is exercisable without board-specific GPIO/ADC
// drivers, which are out of this module's scope (see the external
// interfaces the channel engine treats as collaborators). hmi is shared
// by every channel; each channel's own field prefix keeps their pushes
// from colliding on the wire.
type simulatedHardware struct {
	hmi channel.HMI
}

func (simulatedHardware) ADC(int) channel.ADC          { return simulatedADC{} }
func (simulatedHardware) Heater(int) channel.GPIO      { return simulatedGPIO{} }
func (simulatedHardware) Stand(int) channel.StandSense { return simulatedStand{} }
func (simulatedHardware) HeartbeatPin() heartbeat.Pin  { return simulatedGPIO{} }
func (h simulatedHardware) HMI(int) channel.HMI        { return h.hmi }

type simulatedADC struct{}

func (simulatedADC) Sample() (float64, int, error) { return 0, 0, nil }

type simulatedGPIO struct{}

func (simulatedGPIO) Write(bool) error { return nil }

type simulatedStand struct{}

func (simulatedStand) Low() (bool, error) { return false, nil }

// stdioConn stands in for a serial device when no port is configured,
// so the command surface always has somewhere to read and write
// frames: every line on stdin is routed exactly like a line received
// over USB, and responses go to stdout.
type stdioConn struct{}

func (stdioConn) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioConn) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioConn) Close() error                { return os.Stdin.Close() }

// openUSB opens the configured USB serial port, falling back to stdin/
// stdout when no port is configured or the configured port cannot be
// opened.
func openUSB(cfg stationcfg.Config) *transport.Port {
	if cfg.USBPort != "" {
		p, err := transport.OpenSerial(transport.SerialConfig{Name: cfg.USBPort, Baud: cfg.USBBaud}, transport.USBTerminator)
		if err == nil {
			return p
		}
		log.Println(color.YellowString("warning: usb port %s unavailable, falling back to stdin: %v", cfg.USBPort, err))
	}
	return transport.NewPort(stdioConn{}, transport.USBTerminator, 0)
}

// openHMI opens the configured HMI serial port. A display is optional:
// with no port configured, or if opening it fails, openHMI returns nil
// and every channel's HMI collaborator stays nil too.
func openHMI(cfg stationcfg.Config) *hmi.Link {
	if cfg.HMIPort == "" {
		return nil
	}
	readUs := int64(20000)
	port, err := transport.OpenSerial(transport.SerialConfig{Name: cfg.HMIPort, Baud: cfg.HMIBaud, ReadUs: readUs}, transport.HMITerminator)
	if err != nil {
		log.Println(color.YellowString("warning: hmi port %s unavailable: %v", cfg.HMIPort, err))
		return nil
	}
	return hmi.NewLink(port, cfg.HMIPushRate)
}

func run() {
	cfg, err := stationcfg.Load(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}

	usbPort := openUSB(cfg)
	hmiLink := openHMI(cfg)
	var hmiPusher channel.HMI
	if hmiLink != nil {
		hmiPusher = hmiLink.Pusher
	}

	s := station.New(cfg, simulatedHardware{hmi: hmiPusher})
	s.USB = usbPort
	s.HMI = hmiLink

	store := eeprom.NewSimulated()
	if errs := s.LoadAll(store); len(errs) > 0 {
		for _, e := range errs {
			log.Println(color.YellowString("warning: %v", e))
		}
	}

	if cfg.DiagnosticHTTPAddr != "" {
		go func() {
			log.Println(color.CyanString("diagnostic http on %s", cfg.DiagnosticHTTPAddr))
			if err := http.ListenAndServe(cfg.DiagnosticHTTPAddr, s.DiagnosticMux()); err != nil {
				log.Println(color.RedString("diagnostic http: %v", err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	fmt.Println(color.GreenString("solderctl running, %d channels, ctrl-C to stop", len(s.Channels)))
	if err := s.Run(ctx); err != nil {
		log.Fatal(err)
	}
	if err := s.SaveAll(store); err != nil {
		log.Println(color.RedString("error: %v", err))
	}
}

// status prints a one-shot diagnostic snapshot, or serves it over HTTP
// until interrupted when --http addr is given.
func status(args []string) {
	cfg, err := stationcfg.Load(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	s := station.New(cfg, simulatedHardware{})
	if errs := s.LoadAll(eeprom.NewSimulated()); len(errs) > 0 {
		for _, e := range errs {
			log.Println(color.YellowString("warning: %v", e))
		}
	}

	addr := httpFlag(args)
	if addr == "" {
		for i, ch := range s.Channels {
			snap := station.SnapshotOf(ch)
			fmt.Printf("channel %d: enabled=%v setpoint=%.2fC measured=%.2fC output=%.3f asleep=%v\n",
				i, snap.Enabled, snap.SetpointC, snap.MeasuredC, snap.Output, snap.Asleep)
		}
		return
	}

	fmt.Println(color.GreenString("serving diagnostic http on %s, ctrl-C to stop", addr))
	log.Fatal(http.ListenAndServe(addr, s.DiagnosticMux()))
}

// httpFlag scans args for "--http addr" and returns addr, or "" if the
// flag was not given.
func httpFlag(args []string) string {
	for i, a := range args {
		if a == "--http" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	switch strings.ToLower(args[1]) {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printConf()
	case "run":
		run()
	case "status":
		status(args[2:])
	case "version":
		printVersion()
	default:
		log.Fatal("unknown command")
	}
}
