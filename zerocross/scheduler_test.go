package zerocross_test

import (
	"testing"

	"github.com/solderctl/station/zerocross"
)

type recordingChannel struct {
	scheduledAt []int64
	opLevels    []float64
}

func (c *recordingChannel) ScheduleSample(nowUs int64) {
	c.scheduledAt = append(c.scheduledAt, nowUs)
}

func (c *recordingChannel) UpdateOutput(opLevel float64) {
	c.opLevels = append(c.opLevels, opLevel)
}

func TestScheduleEveryNTicks(t *testing.T) {
	ch := &recordingChannel{}
	s := zerocross.New([]zerocross.Channel{ch}, 10)

	// N output-update ticks (k=0..9), then one schedule tick at k=N.
	for i := int64(0); i < 11; i++ {
		s.Tick(i)
	}
	if len(ch.scheduledAt) != 1 {
		t.Fatalf("expected exactly one schedule_sample in 11 ticks, got %d", len(ch.scheduledAt))
	}
	if len(ch.opLevels) != 10 {
		t.Fatalf("expected 10 output-update ticks, got %d", len(ch.opLevels))
	}
}

func TestOpLevelSequence(t *testing.T) {
	ch := &recordingChannel{}
	s := zerocross.New([]zerocross.Channel{ch}, 10)
	for i := int64(0); i < 9; i++ {
		s.Tick(i)
	}
	want := []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}
	if len(ch.opLevels) != len(want) {
		t.Fatalf("expected %d op levels, got %d", len(want), len(ch.opLevels))
	}
	for i, v := range want {
		if ch.opLevels[i] != v {
			t.Errorf("op level %d: got %v want %v", i, ch.opLevels[i], v)
		}
	}
}

func TestHeartbeatAssertedEveryTick(t *testing.T) {
	ch := &recordingChannel{}
	s := zerocross.New([]zerocross.Channel{ch}, 10)
	if s.ConsumeHeartbeat() {
		t.Fatal("expected no heartbeat before any tick")
	}
	s.Tick(0)
	if !s.ConsumeHeartbeat() {
		t.Fatal("expected heartbeat after a tick")
	}
	if s.ConsumeHeartbeat() {
		t.Fatal("expected ConsumeHeartbeat to clear the flag")
	}
}

func TestDefaultNWhenZero(t *testing.T) {
	s := zerocross.New(nil, 0)
	if s.N() != 10 {
		t.Errorf("expected default N=10, got %d", s.N())
	}
}
