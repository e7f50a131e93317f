// Package stepseq contains the data model shared by the sequencer engine, the
// sample bank, the pitch shifter and the pattern renderer: sections, cells,
// samples, the state values captured by undo/redo snapshots and the project
// file format.
//
// The types in this package are plain values. Ownership and synchronization
// are handled by the engine package; anything here can be copied freely.
package stepseq

import (
	"errors"

	"golang.org/x/exp/constraints"
)

const (
	MaxSteps            = 2048 // rows in the cell grid
	MaxLanes            = 16   // columns in the cell grid
	MaxSampleSlots      = 26   // sample slots A..Z
	MaxSections         = 64
	DefaultSectionSteps = 16

	MinBPM = 1
	MaxBPM = 300

	MinSectionLoops     = 1
	MaxSectionLoops     = 1024
	DefaultSectionLoops = 4

	DefaultSampleRate = 48000
	NumChannels       = 2

	// StepsPerBeat fixes the grid at sixteenth notes.
	StepsPerBeat = 4
)

// Validation errors. Every mutating API returns one of these (possibly
// wrapped) and leaves the state untouched.
var (
	ErrSectionIndex    = errors.New("section index out of range")
	ErrStepCount       = errors.New("step count out of range")
	ErrTooManySteps    = errors.New("total step count would exceed MaxSteps")
	ErrTooManySections = errors.New("section count would exceed MaxSections")
	ErrLastSection     = errors.New("cannot delete the only section")
	ErrStep            = errors.New("step out of range")
	ErrLane            = errors.New("lane out of range")
	ErrBPM             = errors.New("bpm out of range")
	ErrRegion          = errors.New("invalid playback region")
	ErrLoopTarget      = errors.New("section loop target out of range")
	ErrSampleSlot      = errors.New("sample slot out of range")
	ErrNotLoaded       = errors.New("sample slot not loaded")
	ErrVolume          = errors.New("volume out of range")
	ErrPitch           = errors.New("pitch out of range")
	ErrEmptyCell       = errors.New("cell has no sample")
)

// FramesPerStep returns how many frames one step lasts at the given sample
// rate and tempo, with StepsPerBeat steps per beat. Returns 0 for a
// non-positive bpm.
func FramesPerStep(sampleRate, bpm int) int {
	if bpm <= 0 {
		return 0
	}
	return sampleRate * 60 / (bpm * StepsPerBeat)
}

// Clamp limits v to the closed range [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
