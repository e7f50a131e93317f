package stepseq

import "fmt"

// Inherit is the sentinel stored in a CellSettings field to mean "use the
// default of the sample in this cell".
const Inherit float32 = -1

// EmptySlot marks a cell with no sample.
const EmptySlot = -1

type (
	// CellSettings holds the per-cell overrides. Volume is 0..1 and Pitch is
	// a playback-rate ratio in 0.25..4; either may be Inherit.
	CellSettings struct {
		Volume float32 `yaml:",omitempty" json:",omitempty"`
		Pitch  float32 `yaml:",omitempty" json:",omitempty"`
	}

	// Cell is one position of the step × lane grid.
	Cell struct {
		SampleSlot int
		Settings   CellSettings `yaml:",flow"`
	}
)

// EmptyCell returns a cell without a sample whose settings inherit.
func EmptyCell() Cell {
	return Cell{SampleSlot: EmptySlot, Settings: CellSettings{Volume: Inherit, Pitch: Inherit}}
}

// IsEmpty reports whether the cell holds no sample.
func (c Cell) IsEmpty() bool {
	return c.SampleSlot < 0
}

// Validate checks that each field is Inherit or within its range.
func (s CellSettings) Validate() error {
	if s.Volume != Inherit && (s.Volume < 0 || s.Volume > 1) {
		return fmt.Errorf("volume %v: %w", s.Volume, ErrVolume)
	}
	if s.Pitch != Inherit && (s.Pitch < MinPitch || s.Pitch > MaxPitch) {
		return fmt.Errorf("pitch %v: %w", s.Pitch, ErrPitch)
	}
	return nil
}

// Resolve replaces Inherit markers with the sample defaults.
func (s CellSettings) Resolve(defaults SampleSettings) SampleSettings {
	ret := defaults
	if s.Volume >= 0 {
		ret.Volume = s.Volume
	}
	if s.Pitch > 0 {
		ret.Pitch = s.Pitch
	}
	return ret
}
