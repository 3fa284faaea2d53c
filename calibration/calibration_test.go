package calibration_test

import (
	"math"
	"testing"

	"github.com/solderctl/station/calibration"
)

// jbcLikeTable spans roughly 0-450C, loosely modeled on a JBC T245 curve.
func jbcLikeTable() calibration.Table {
	return calibration.NewTable([calibration.TableSize]calibration.Point{
		{VoltageUV: 0, TempC: 0},
		{VoltageUV: 500, TempC: 50},
		{VoltageUV: 1200, TempC: 100},
		{VoltageUV: 2100, TempC: 150},
		{VoltageUV: 3200, TempC: 200},
		{VoltageUV: 4500, TempC: 250},
		{VoltageUV: 6000, TempC: 300},
		{VoltageUV: 7700, TempC: 350},
		{VoltageUV: 9600, TempC: 400},
		{VoltageUV: 11700, TempC: 450},
	})
}

func TestMonotonic(t *testing.T) {
	tbl := jbcLikeTable()
	for i := 0; i < calibration.TableSize-1; i++ {
		if tbl.Points[i].VoltageUV > tbl.Points[i+1].VoltageUV {
			t.Fatalf("voltage column not monotonic at index %d", i)
		}
		if tbl.Points[i].TempC > tbl.Points[i+1].TempC {
			t.Fatalf("temperature column not monotonic at index %d", i)
		}
	}
}

func TestTcvToTempMonotonicOverDomain(t *testing.T) {
	tbl := jbcLikeTable()
	prev := math.Inf(-1)
	for v := -500.0; v <= 12500; v += 47 {
		temp := tbl.TcvToTemp(v)
		if temp < prev {
			t.Fatalf("tcv_to_temp not monotonic: at v=%v got %v < prev %v", v, temp, prev)
		}
		prev = temp
	}
}

func TestRoundTrip(t *testing.T) {
	tbl := jbcLikeTable()
	for _, temp := range []float64{0, 23.4, 100, 211.9, 349.99, 450} {
		v := tbl.TempToTcv(temp)
		got := tbl.TcvToTemp(v)
		if math.Abs(got-temp) >= 1e-3 {
			t.Errorf("round trip for %v: got %v (v=%v)", temp, got, v)
		}
	}
}

func TestInterpolationMidSegment(t *testing.T) {
	tbl := jbcLikeTable()
	// midpoint of segment 0 (0,0)->(500,50)
	got := tbl.TcvToTemp(250)
	if math.Abs(got-25) > 1e-9 {
		t.Errorf("expected 25, got %v", got)
	}
}

func TestExtrapolationBelowRange(t *testing.T) {
	tbl := jbcLikeTable()
	got := tbl.TcvToTemp(-500)
	// segment (0->1) slope is 50/500 = 0.1 C/uV
	want := 0 + 0.1*(-500-0)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestExtrapolationAboveRange(t *testing.T) {
	tbl := jbcLikeTable()
	got := tbl.TcvToTemp(13000)
	// segment (8->9) is (9600,400)->(11700,450), slope 50/2100
	slope := 50.0 / 2100.0
	want := 450 + slope*(13000-11700)
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got <= 450 {
		t.Errorf("expected extrapolated value to exceed table max, got %v", got)
	}
}

func TestTempToTcvInverse(t *testing.T) {
	tbl := jbcLikeTable()
	v := tbl.TempToTcv(25)
	if math.Abs(v-250) > 1e-9 {
		t.Errorf("expected 250, got %v", v)
	}
}
