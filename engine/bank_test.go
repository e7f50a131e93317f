package engine_test

import (
	"errors"
	"fmt"

	"github.com/fortuned/stepseq"
)

// memBank is a sample bank holding constant-valued samples in memory.
type memBank struct {
	pcm   [stepseq.MaxSampleSlots]stepseq.PCM
	state stepseq.SampleBankState
	fail  bool
	// failApply makes ApplyState report an error after applying the state.
	failApply bool
}

func newMemBank() *memBank {
	return &memBank{}
}

// load fills slot with frames frames of the given value on both channels.
func (b *memBank) load(slot, frames int, value float32) {
	pcm := make(stepseq.PCM, frames)
	for i := range pcm {
		pcm[i] = [2]float32{value, value}
	}
	b.pcm[slot] = pcm
	b.state.Samples[slot] = stepseq.Sample{
		Loaded:   true,
		ID:       fmt.Sprintf("mem-%d", slot),
		Name:     stepseq.SlotName(slot),
		Settings: stepseq.DefaultSampleSettings(),
	}
}

func (b *memBank) IsLoaded(slot int) bool {
	return slot >= 0 && slot < stepseq.MaxSampleSlots && b.state.Samples[slot].Loaded
}

func (b *memBank) Decoder(slot int) (stepseq.Source, error) {
	if !b.IsLoaded(slot) {
		return nil, stepseq.ErrNotLoaded
	}
	if b.fail {
		return nil, errors.New("decoder failure")
	}
	return b.pcm[slot].NewReader(), nil
}

func (b *memBank) DefaultSettings(slot int) (stepseq.SampleSettings, bool) {
	if !b.IsLoaded(slot) {
		return stepseq.SampleSettings{}, false
	}
	return b.state.Samples[slot].Settings, true
}

func (b *memBank) Frames(slot int) int {
	if !b.IsLoaded(slot) {
		return -1
	}
	return len(b.pcm[slot])
}

func (b *memBank) State() stepseq.SampleBankState {
	return b.state
}

func (b *memBank) ApplyState(s stepseq.SampleBankState) error {
	b.state = s
	if b.failApply {
		return errors.New("sample file missing")
	}
	return nil
}

func plainCell(slot int) stepseq.Cell {
	return stepseq.Cell{SampleSlot: slot, Settings: stepseq.CellSettings{Volume: stepseq.Inherit, Pitch: stepseq.Inherit}}
}
