// Package config loads the engine configuration from an optional YAML file,
// with STEPSEQ_* environment variables overriding the file and built-in
// defaults filling in the rest.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fortuned/stepseq"
	"github.com/fortuned/stepseq/engine"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

type (
	Config struct {
		SampleRate      int     `yaml:"sampleRate"`
		BufferMs        int     `yaml:"bufferMs"` // audio device buffer
		RiseMs          float32 `yaml:"riseMs"`
		FallMs          float32 `yaml:"fallMs"`
		MasterVolume    float32 `yaml:"masterVolume"`
		HistoryCapacity int     `yaml:"historyCapacity"`
		AutoRecord      bool    `yaml:"autoRecord"`
		Preload         Preload `yaml:"preload"`
		// SampleDir is where relative sample paths of a project are looked
		// up, RecordDir where recordings go. Both may start with ~.
		SampleDir string `yaml:"sampleDir"`
		RecordDir string `yaml:"recordDir"`
	}

	Preload struct {
		HeadMs     int `yaml:"headMs"`
		MinHeadMs  int `yaml:"minHeadMs"`
		BudgetMiB  int `yaml:"budgetMiB"`
		IntervalMs int `yaml:"intervalMs"`
	}
)

// ErrInvalid wraps every error returned by Config.Validate.
var ErrInvalid = errors.New("invalid configuration")

// Default returns the built-in configuration.
func Default() Config {
	e := engine.DefaultConfig()
	return Config{
		SampleRate:      e.SampleRate,
		BufferMs:        40,
		RiseMs:          e.RiseMs,
		FallMs:          e.FallMs,
		MasterVolume:    e.MasterVolume,
		HistoryCapacity: e.HistoryCapacity,
		Preload: Preload{
			HeadMs:     int(e.Preload.Head / time.Millisecond),
			MinHeadMs:  int(e.Preload.MinHead / time.Millisecond),
			BudgetMiB:  int(e.Preload.Budget >> 20),
			IntervalMs: int(e.Preload.Interval / time.Millisecond),
		},
		SampleDir: ".",
		RecordDir: ".",
	}
}

// Load returns the defaults overridden by the file at path, if path is not
// empty, and then by the environment. The result is validated.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		p, err := homedir.Expand(path)
		if err != nil {
			return c, fmt.Errorf("could not expand config path: %w", err)
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return c, fmt.Errorf("could not read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("could not parse config %s: %w", p, err)
		}
	}
	c.applyEnv()
	var err error
	if c.SampleDir, err = homedir.Expand(c.SampleDir); err != nil {
		return c, fmt.Errorf("sample dir: %w", err)
	}
	if c.RecordDir, err = homedir.Expand(c.RecordDir); err != nil {
		return c, fmt.Errorf("record dir: %w", err)
	}
	return c, c.Validate()
}

func (c *Config) applyEnv() {
	c.SampleRate = envInt("STEPSEQ_SAMPLE_RATE", c.SampleRate)
	c.BufferMs = envInt("STEPSEQ_BUFFER_MS", c.BufferMs)
	c.RiseMs = envFloat("STEPSEQ_RISE_MS", c.RiseMs)
	c.FallMs = envFloat("STEPSEQ_FALL_MS", c.FallMs)
	c.MasterVolume = envFloat("STEPSEQ_MASTER_VOLUME", c.MasterVolume)
	c.HistoryCapacity = envInt("STEPSEQ_HISTORY_CAPACITY", c.HistoryCapacity)
	c.AutoRecord = envBool("STEPSEQ_AUTO_RECORD", c.AutoRecord)
	c.Preload.HeadMs = envInt("STEPSEQ_PRELOAD_HEAD_MS", c.Preload.HeadMs)
	c.Preload.MinHeadMs = envInt("STEPSEQ_PRELOAD_MIN_HEAD_MS", c.Preload.MinHeadMs)
	c.Preload.BudgetMiB = envInt("STEPSEQ_PRELOAD_BUDGET_MIB", c.Preload.BudgetMiB)
	c.Preload.IntervalMs = envInt("STEPSEQ_PRELOAD_INTERVAL_MS", c.Preload.IntervalMs)
	c.SampleDir = envStr("STEPSEQ_SAMPLE_DIR", c.SampleDir)
	c.RecordDir = envStr("STEPSEQ_RECORD_DIR", c.RecordDir)
}

// Validate rejects values the engine cannot run with. Smoothing times and
// master volume outside their range are clamped by the engine instead.
func (c Config) Validate() error {
	switch {
	case c.SampleRate < 8000 || c.SampleRate > 192000:
		return fmt.Errorf("sample rate %d: %w", c.SampleRate, ErrInvalid)
	case c.BufferMs < 1:
		return fmt.Errorf("buffer %d ms: %w", c.BufferMs, ErrInvalid)
	case c.HistoryCapacity < 1:
		return fmt.Errorf("history capacity %d: %w", c.HistoryCapacity, ErrInvalid)
	case c.Preload.MinHeadMs < 1 || c.Preload.HeadMs < c.Preload.MinHeadMs:
		return fmt.Errorf("preload head %d ms, minimum %d ms: %w", c.Preload.HeadMs, c.Preload.MinHeadMs, ErrInvalid)
	case c.Preload.BudgetMiB < 0:
		return fmt.Errorf("preload budget %d MiB: %w", c.Preload.BudgetMiB, ErrInvalid)
	case c.Preload.IntervalMs < 1:
		return fmt.Errorf("preload interval %d ms: %w", c.Preload.IntervalMs, ErrInvalid)
	}
	return nil
}

// Engine converts the configuration to engine settings.
func (c Config) Engine() engine.Config {
	return engine.Config{
		SampleRate: c.SampleRate,
		Preload: engine.PreloadConfig{
			Head:     time.Duration(c.Preload.HeadMs) * time.Millisecond,
			MinHead:  time.Duration(c.Preload.MinHeadMs) * time.Millisecond,
			Budget:   int64(c.Preload.BudgetMiB) << 20,
			Interval: time.Duration(c.Preload.IntervalMs) * time.Millisecond,
		},
		RiseMs:          stepseq.Clamp(c.RiseMs, engine.MinSmoothMs, engine.MaxSmoothMs),
		FallMs:          stepseq.Clamp(c.FallMs, engine.MinSmoothMs, engine.MaxSmoothMs),
		MasterVolume:    stepseq.Clamp(c.MasterVolume, 0, 1),
		HistoryCapacity: c.HistoryCapacity,
		AutoRecord:      c.AutoRecord,
	}
}

// BufferSize returns the audio device buffer as a duration.
func (c Config) BufferSize() time.Duration {
	return time.Duration(c.BufferMs) * time.Millisecond
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
