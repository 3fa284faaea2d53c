package stationcfg_test

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v2"

	"github.com/solderctl/station/stationcfg"
)

func TestDefaultHasFourChannels(t *testing.T) {
	c := stationcfg.Default()
	if len(c.Channels) != 4 {
		t.Fatalf("expected 4 channels, got %d", len(c.Channels))
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	c, err := stationcfg.Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.N != 10 {
		t.Errorf("expected default N=10, got %d", c.N)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "station.yml")

	c := stationcfg.Default()
	c.N = 20
	c.Channels[0].Kp = 9.9

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := yaml.NewEncoder(f).Encode(c); err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.Close()

	got, err := stationcfg.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.N != 20 {
		t.Errorf("expected overlaid N=20, got %d", got.N)
	}
	if got.Channels[0].Kp != 9.9 {
		t.Errorf("expected overlaid Kp=9.9, got %v", got.Channels[0].Kp)
	}
}

func TestChannelConfigTableConversion(t *testing.T) {
	cc := stationcfg.Default().Channels[0]
	table := cc.Table()
	if got := table.TcvToTemp(0); got != 0 {
		t.Errorf("expected 0C at 0uV, got %v", got)
	}
}
