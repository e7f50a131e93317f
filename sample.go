package stepseq

import "fmt"

const (
	MinPitch = 0.25
	MaxPitch = 4.0
)

type (
	// SampleSettings are the defaults a cell inherits.
	SampleSettings struct {
		Volume float32
		Pitch  float32
	}

	// Sample describes one slot of the sample bank. It holds no decoded audio,
	// only enough to reopen the file, so it can be copied into snapshots.
	Sample struct {
		Loaded   bool
		ID       string
		Path     string
		Name     string
		Settings SampleSettings
	}

	// SampleBankState is the full state of the sample bank. It is comparable
	// with ==.
	SampleBankState struct {
		Samples [MaxSampleSlots]Sample
	}
)

// DefaultSampleSettings is what a freshly loaded sample gets.
func DefaultSampleSettings() SampleSettings {
	return SampleSettings{Volume: 1, Pitch: 1}
}

// Validate checks that the volume is in [0, 1] and the pitch in
// [MinPitch, MaxPitch]. Sample defaults cannot inherit.
func (s SampleSettings) Validate() error {
	if s.Volume < 0 || s.Volume > 1 {
		return fmt.Errorf("sample volume %v: %w", s.Volume, ErrVolume)
	}
	if s.Pitch < MinPitch || s.Pitch > MaxPitch {
		return fmt.Errorf("sample pitch %v: %w", s.Pitch, ErrPitch)
	}
	return nil
}

// LoadedCount returns the number of loaded slots.
func (s *SampleBankState) LoadedCount() int {
	n := 0
	for _, smp := range s.Samples {
		if smp.Loaded {
			n++
		}
	}
	return n
}

// SlotName returns the letter used for a slot in the UI, A..Z.
func SlotName(slot int) string {
	if slot < 0 || slot >= MaxSampleSlots {
		return "-"
	}
	return string(rune('A' + slot))
}
