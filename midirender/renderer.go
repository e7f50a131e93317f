// Package midirender is a pattern renderer with its own MIDI tick timeline.
// It is told about every completed layout change of the timeline table and
// keeps a section start tick for each section, so that a logical step can be
// converted to a tick and back. The timeline can be exported as a Standard
// MIDI File.
package midirender

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"

	"github.com/fortuned/stepseq"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const (
	PPQN         = 96
	TicksPerStep = PPQN / stepseq.StepsPerBeat

	// BaseNote is the note of lane 0; lane n plays BaseNote+n.
	BaseNote = 36
	// DrumChannel is the General MIDI percussion channel (10, zero based 9).
	DrumChannel = 9
)

// ErrMisaligned is returned by Check when the section layout differs from
// the one last received.
var ErrMisaligned = errors.New("renderer timeline does not match the table layout")

type (
	// Renderer implements stepseq.PatternRenderer. It may be read from any
	// goroutine.
	Renderer struct {
		mu       sync.Mutex
		sections []stepseq.Section
		starts   []uint32 // start tick of each section
		updates  int
	}

	event struct {
		tick uint32
		msg  []byte
	}
)

// New returns a renderer with an empty layout. Give it to the table, which
// notifies it of the initial layout.
func New() *Renderer {
	return &Renderer{}
}

// LayoutChanged replaces the timeline with the given sections. Calling it
// again with the same layout changes nothing.
func (r *Renderer) LayoutChanged(sections []stepseq.Section) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Equal(r.sections, sections) {
		return
	}
	r.sections = slices.Clone(sections)
	r.starts = r.starts[:0]
	var tick uint32
	for _, s := range r.sections {
		r.starts = append(r.starts, tick)
		tick += uint32(s.NumSteps) * TicksPerStep
	}
	r.updates++
}

// Updates returns how many times the timeline actually changed.
func (r *Renderer) Updates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

// Sections returns a copy of the layout the renderer currently follows.
func (r *Renderer) Sections() []stepseq.Section {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sections)
}

// StepToTick returns the tick at which a logical step starts.
func (r *Renderer) StepToTick(step int) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stepToTick(step)
}

func (r *Renderer) stepToTick(step int) (uint32, bool) {
	i := stepseq.SectionAt(r.sections, step)
	if i < 0 {
		return 0, false
	}
	return r.starts[i] + uint32(step-r.sections[i].StartStep)*TicksPerStep, true
}

// TickToStep returns the logical step playing at tick.
func (r *Renderer) TickToStep(tick uint32) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := sort.Search(len(r.starts), func(i int) bool { return r.starts[i] > tick }) - 1
	if i < 0 {
		return 0, false
	}
	step := int((tick-r.starts[i])/TicksPerStep) + r.sections[i].StartStep
	if step >= r.sections[i].End() {
		return 0, false
	}
	return step, true
}

// Check verifies that every step of the given layout maps to a tick and
// back to the same step, and that section boundaries coincide.
func (r *Renderer) Check(sections []stepseq.Section) error {
	current := r.Sections()
	if !slices.Equal(current, sections) {
		return fmt.Errorf("renderer has %d sections, table has %d: %w", len(current), len(sections), ErrMisaligned)
	}
	for _, s := range sections {
		for step := s.StartStep; step < s.End(); step++ {
			tick, ok := r.StepToTick(step)
			if !ok {
				return fmt.Errorf("step %d has no tick: %w", step, ErrMisaligned)
			}
			if back, ok := r.TickToStep(tick); !ok || back != step {
				return fmt.Errorf("step %d maps to tick %d and back to step %d: %w", step, tick, back, ErrMisaligned)
			}
		}
	}
	return nil
}

// WriteSMF exports the table as a type 1 MIDI file: a tempo track with a
// marker at the start of every section, then one track per lane playing
// BaseNote+lane on the drum channel. In song mode, every section is repeated
// as many times as its loop target; in loop mode only the playback region is
// written, once.
func (r *Renderer) WriteSMF(w io.Writer, table stepseq.TableState, playback stepseq.PlaybackState, bank stepseq.SampleBankState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Equal(r.sections, table.Sections) {
		return ErrMisaligned
	}
	type span struct{ section, from, to, loop int }
	var spans []span
	if playback.SongMode {
		for i, s := range table.Sections {
			for loop := 0; loop < max(playback.SectionLoopTargets[i], 1); loop++ {
				spans = append(spans, span{i, s.StartStep, s.End(), loop})
			}
		}
	} else {
		for i, s := range table.Sections {
			from, to := max(s.StartStep, playback.RegionStart), min(s.End(), playback.RegionEnd)
			if from < to {
				spans = append(spans, span{i, from, to, 0})
			}
		}
	}
	var meta []event
	var lanes [stepseq.MaxLanes][]event
	var tick uint32
	for _, sp := range spans {
		name := fmt.Sprintf("Section %d", sp.section+1)
		if playback.SongMode {
			name = fmt.Sprintf("Section %d (%d/%d)", sp.section+1, sp.loop+1, playback.SectionLoopTargets[sp.section])
		}
		meta = append(meta, event{tick, smf.MetaMarker(name)})
		base, _ := r.stepToTick(sp.from)
		for step := sp.from; step < sp.to; step++ {
			at, _ := r.stepToTick(step)
			at = at - base + tick
			for lane := 0; lane < stepseq.MaxLanes; lane++ {
				c := table.Cell(step, lane)
				if c.IsEmpty() {
					continue
				}
				smp := bank.Samples[c.SampleSlot]
				defaults := stepseq.DefaultSampleSettings()
				if smp.Loaded {
					defaults = smp.Settings
				}
				vel := velocity(c.Settings.Resolve(defaults).Volume)
				key := uint8(BaseNote + lane)
				lanes[lane] = append(lanes[lane],
					event{at, midi.NoteOn(DrumChannel, key, vel)},
					event{at + TicksPerStep - 1, midi.NoteOff(DrumChannel, key)})
			}
		}
		tick += uint32(sp.to-sp.from) * TicksPerStep
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(PPQN)
	var tempo smf.Track
	tempo.Add(0, smf.MetaTrackSequenceName("stepseq"))
	tempo.Add(0, smf.MetaMeter(4, 4))
	tempo.Add(0, smf.MetaTempo(float64(playback.BPM)))
	if err := s.Add(track(tempo, meta, tick)); err != nil {
		return fmt.Errorf("could not add tempo track: %w", err)
	}
	for lane, events := range lanes {
		if len(events) == 0 {
			continue
		}
		var t smf.Track
		t.Add(0, smf.MetaTrackSequenceName(fmt.Sprintf("Lane %d", lane+1)))
		if err := s.Add(track(t, events, tick)); err != nil {
			return fmt.Errorf("could not add track of lane %d: %w", lane+1, err)
		}
	}
	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("could not write midi file: %w", err)
	}
	return nil
}

// track appends events, given in absolute ticks, to t as deltas and closes
// it at end.
func track(t smf.Track, events []event, end uint32) smf.Track {
	sort.SliceStable(events, func(i, j int) bool { return events[i].tick < events[j].tick })
	var last uint32
	for _, e := range events {
		t.Add(e.tick-last, e.msg)
		last = e.tick
	}
	if end < last {
		end = last
	}
	t.Close(end - last)
	return t
}

func velocity(volume float32) uint8 {
	return uint8(stepseq.Clamp(int(volume*127+0.5), 1, 127))
}
