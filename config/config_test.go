package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortuned/stepseq/engine"
	"github.com/mitchellh/go-homedir"
)

func TestDefaultMatchesEngine(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.Engine(), engine.DefaultConfig(); got != want {
		t.Fatalf("engine config = %+v, want %+v", got, want)
	}
	if c.BufferSize() != 40*time.Millisecond {
		t.Errorf("BufferSize = %v", c.BufferSize())
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stepseq.yml")
	data := `
sampleRate: 44100
masterVolume: 0.5
autoRecord: true
preload:
  headMs: 1000
  budgetMiB: 16
sampleDir: ~/samples
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	e := c.Engine()
	if e.SampleRate != 44100 || e.MasterVolume != 0.5 || !e.AutoRecord {
		t.Errorf("engine config = %+v", e)
	}
	if e.Preload.Head != time.Second || e.Preload.Budget != 16<<20 || e.Preload.MinHead != 250*time.Millisecond {
		t.Errorf("preload = %+v", e.Preload)
	}
	home, err := homedir.Dir()
	if err != nil {
		t.Skip("no home directory")
	}
	if want := filepath.Join(home, "samples"); c.SampleDir != want {
		t.Errorf("SampleDir = %q, want %q", c.SampleDir, want)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stepseq.yml")
	os.WriteFile(path, []byte("sampleRate: 44100\nriseMs: 10\n"), 0o644)
	t.Setenv("STEPSEQ_SAMPLE_RATE", "96000")
	t.Setenv("STEPSEQ_FALL_MS", "500")
	t.Setenv("STEPSEQ_AUTO_RECORD", "true")
	t.Setenv("STEPSEQ_HISTORY_CAPACITY", "not a number")
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.SampleRate != 96000 || c.RiseMs != 10 || !c.AutoRecord || c.HistoryCapacity != engine.DefaultHistoryCapacity {
		t.Errorf("config = %+v", c)
	}
	if e := c.Engine(); e.FallMs != engine.MaxSmoothMs {
		t.Errorf("fall time %v was not clamped", e.FallMs)
	}
}

func TestValidate(t *testing.T) {
	cases := []func(c *Config){
		func(c *Config) { c.SampleRate = 100 },
		func(c *Config) { c.BufferMs = 0 },
		func(c *Config) { c.HistoryCapacity = 0 },
		func(c *Config) { c.Preload.HeadMs = 100 },
		func(c *Config) { c.Preload.BudgetMiB = -1 },
		func(c *Config) { c.Preload.IntervalMs = 0 },
	}
	for i, f := range cases {
		c := Default()
		f(&c)
		if err := c.Validate(); !errors.Is(err, ErrInvalid) {
			t.Errorf("case %d: got %v, want ErrInvalid", i, err)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Errorf("loading a missing file succeeded")
	}
}
