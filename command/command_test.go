package command_test

import (
	"testing"

	"github.com/solderctl/station/calibration"
	"github.com/solderctl/station/channel"
	"github.com/solderctl/station/command"
)

type fakeHeater struct{}

func (fakeHeater) Write(bool) error { return nil }

type fakeADC struct{}

func (fakeADC) Sample() (float64, int, error) { return 0, 0, nil }

type fakeStand struct{}

func (fakeStand) Low() (bool, error) { return false, nil }

func testTable() calibration.Table {
	var pts [calibration.TableSize]calibration.Point
	for i := range pts {
		t := float64(i) * 50.0
		pts[i] = calibration.Point{VoltageUV: t * 20, TempC: t}
	}
	return calibration.NewTable(pts)
}

func newRouter() *command.Router {
	ch := channel.New(channel.Config{
		GainVPerV:            3300,
		Table:                testTable(),
		Kp:                   1,
		TempSpMin:            0,
		TempSpMax:            450,
		TempRunawayThreshold: 400,
		SleepDelayMs:         1000,
		Heater:               fakeHeater{},
		ADC:                  fakeADC{},
		Stand:                fakeStand{},
	})
	return command.NewRouter([]command.Channel{ch})
}

func TestEnableRoundTrip(t *testing.T) {
	r := newRouter()
	if got := r.Route("0:en:1"); got != "OK" {
		t.Fatalf("got %q", got)
	}
	if got := r.Route("0:en:?"); got != "1" {
		t.Fatalf("got %q", got)
	}
}

func TestMalformedCommand(t *testing.T) {
	r := newRouter()
	got := r.Route("0:set_t")
	want := "ERROR Malformed command. Format: id:command:value_or_?"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestUnknownCommand(t *testing.T) {
	r := newRouter()
	got := r.Route("0:frobnicate:?")
	if got != "ERROR Unknown command" {
		t.Fatalf("got %q", got)
	}
}

func TestInvalidDeviceID(t *testing.T) {
	r := newRouter()
	got := r.Route("9:en:?")
	if got != "ERROR Invalid device ID" {
		t.Fatalf("got %q", got)
	}
	got = r.Route("xx:en:?")
	if got != "ERROR Invalid device ID" {
		t.Fatalf("got %q", got)
	}
}

func TestSetTempBounded(t *testing.T) {
	r := newRouter()
	got := r.Route("0:set_t:9999.00")
	if got == "OK" {
		t.Fatal("expected out-of-range set_t to fail")
	}
	got = r.Route("0:set_t:300.00")
	if got != "OK" {
		t.Fatalf("got %q", got)
	}
	got = r.Route("0:set_t:?")
	if got != "300.00" {
		t.Fatalf("got %q", got)
	}
}

func TestCalTableGetSetAndSize(t *testing.T) {
	r := newRouter()
	if got := r.Route("0:tc_cal_table:?"); got != "10" {
		t.Fatalf("got %q", got)
	}
	if got := r.Route("0:tc_cal_table:2[3000.00000,150.00]"); got != "OK" {
		t.Fatalf("got %q", got)
	}
	if got := r.Route("0:tc_cal_table:2"); got != "[3000.00000,150.00]" {
		t.Fatalf("got %q", got)
	}
}
