package engine

import (
	"fmt"

	"github.com/fortuned/stepseq"
)

// PreviewSlot auditions the sample in slot, mixed with whatever is playing.
// pitch and volume may be stepseq.Inherit to use the sample defaults. The
// source is opened on the calling goroutine, so a pitch that has not been
// generated yet is generated here and not in the audio callback.
func (e *Engine) PreviewSlot(slot int, pitch, volume float32) error {
	if slot < 0 || slot >= stepseq.MaxSampleSlots {
		return fmt.Errorf("slot %d: %w", slot, stepseq.ErrSampleSlot)
	}
	settings := stepseq.CellSettings{Volume: volume, Pitch: pitch}
	if err := settings.Validate(); err != nil {
		return err
	}
	return e.preview(slot, settings)
}

// PreviewCell auditions the cell at (step, lane) with its own settings.
func (e *Engine) PreviewCell(step, lane int) error {
	if err := e.Table.checkCell(step, lane); err != nil {
		return err
	}
	cell := e.Table.Cell(step, lane)
	if cell.IsEmpty() {
		return fmt.Errorf("step %d lane %d: %w", step, lane, stepseq.ErrEmptyCell)
	}
	return e.preview(cell.SampleSlot, cell.Settings)
}

func (e *Engine) preview(slot int, settings stepseq.CellSettings) error {
	defaults, ok := e.bank.DefaultSettings(slot)
	if !ok {
		return fmt.Errorf("slot %s: %w", stepseq.SlotName(slot), stepseq.ErrNotLoaded)
	}
	s := settings.Resolve(defaults)
	src, err := openSource(e.bank, e.shifter, slot, s.Pitch)
	if err != nil {
		return err
	}
	e.Columns.Preview(src, slot, s.Pitch, s.Volume)
	return nil
}

// PreviewSource auditions any source, typically a file that is not in the
// sample bank. The engine takes ownership of src.
func (e *Engine) PreviewSource(src stepseq.Source, volume float32) error {
	if volume < 0 || volume > 1 {
		src.Close()
		return fmt.Errorf("volume %v: %w", volume, stepseq.ErrVolume)
	}
	e.Columns.Preview(src, stepseq.EmptySlot, 1, volume)
	return nil
}

// StopPreview fades out the audition.
func (e *Engine) StopPreview() {
	e.Columns.StopPreview()
}
