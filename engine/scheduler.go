package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/fortuned/stepseq"
)

type (
	// Scheduler advances the current step on the audio goroutine and applies
	// the loop and song mode region policies. Control methods may be called
	// from any goroutine; they and the audio goroutine swap immutable states
	// with compare-and-swap, so neither ever waits for the other.
	Scheduler struct {
		sampleRate int
		table      *Table
		state      atomic.Pointer[schedState]
		onChange   func()

		frame int // frames rendered since the last step boundary, audio goroutine only
	}

	schedState struct {
		stepseq.PlaybackState
		Playing     bool
		CurrentStep int // -1 when stopped
		// Triggered is false from Start until the audio goroutine has
		// triggered the start step.
		Triggered bool
	}

	// StepRenderer receives the callbacks of Scheduler.Process.
	StepRenderer interface {
		Trigger(step int)
		Render(offset, n int)
	}
)

// NewScheduler returns a stopped scheduler reading the section layout from
// table.
func NewScheduler(sampleRate int, table *Table) *Scheduler {
	s := &Scheduler{sampleRate: sampleRate, table: table}
	st := &schedState{PlaybackState: stepseq.DefaultPlaybackState(), CurrentStep: -1}
	normalize(st, table.View())
	s.state.Store(st)
	return s
}

// OnChange sets a function called after every successful control change,
// used to invalidate the preload slots as the predicted step may be different
// now.
func (s *Scheduler) OnChange(f func()) {
	s.onChange = f
}

func (s *Scheduler) update(f func(st *schedState) error) error {
	for {
		old := s.state.Load()
		st := *old
		if err := f(&st); err != nil {
			return err
		}
		if s.state.CompareAndSwap(old, &st) {
			break
		}
	}
	if s.onChange != nil {
		s.onChange()
	}
	return nil
}

// Start begins playback from startStep. In song mode the region becomes the
// section of the start step; in loop mode the region is kept if it contains
// the step, otherwise it becomes the section of the step.
func (s *Scheduler) Start(bpm, startStep int) error {
	if err := checkBPM(bpm); err != nil {
		return err
	}
	view := s.table.View()
	if startStep < 0 || startStep >= view.TotalSteps() {
		return fmt.Errorf("start step %d of %d: %w", startStep, view.TotalSteps(), stepseq.ErrStep)
	}
	return s.update(func(st *schedState) error {
		st.BPM = bpm
		sec := view.Sections[stepseq.SectionAt(view.Sections, startStep)]
		if st.SongMode || startStep < st.RegionStart || startStep >= st.RegionEnd {
			st.RegionStart, st.RegionEnd = sec.StartStep, sec.End()
		}
		st.CurrentSection = sec.Index
		st.CurrentSectionLoop = 0
		st.Playing = true
		st.CurrentStep = startStep
		st.Triggered = false
		return nil
	})
}

// Stop stops playback and resets the current step.
func (s *Scheduler) Stop() {
	s.update(func(st *schedState) error {
		st.Playing = false
		st.CurrentStep = -1
		st.Triggered = false
		return nil
	})
}

// SetBPM changes the tempo. The step in progress is timed with the new tempo.
func (s *Scheduler) SetBPM(bpm int) error {
	if err := checkBPM(bpm); err != nil {
		return err
	}
	return s.update(func(st *schedState) error {
		st.BPM = bpm
		return nil
	})
}

// SetRegion sets the played range [start, end). In loop mode any range of
// existing steps is accepted. In song mode the region is always a whole
// section, so the range must be the bounds of one; that section becomes the
// current one. If playback is running and the current step falls outside the
// new region, playback continues from the region start.
func (s *Scheduler) SetRegion(start, end int) error {
	view := s.table.View()
	total := view.TotalSteps()
	if start < 0 || end > total || start >= end {
		return fmt.Errorf("region [%d,%d) of %d steps: %w", start, end, total, stepseq.ErrRegion)
	}
	return s.update(func(st *schedState) error {
		if st.SongMode {
			sec := view.Sections[stepseq.SectionAt(view.Sections, start)]
			if sec.StartStep != start || sec.End() != end {
				return fmt.Errorf("region [%d,%d) in song mode is not a section: %w", start, end, stepseq.ErrRegion)
			}
			if sec.Index != st.CurrentSection {
				st.CurrentSection = sec.Index
				st.CurrentSectionLoop = 0
			}
		}
		st.RegionStart, st.RegionEnd = start, end
		if st.Playing && (st.CurrentStep < start || st.CurrentStep >= end) {
			st.CurrentStep = start
			st.Triggered = false
		}
		return nil
	})
}

// SetSongMode switches between song mode (true) and loop mode (false).
// Entering song mode restarts the loop count of the section being played and
// sets the region to its bounds.
func (s *Scheduler) SetSongMode(song bool) {
	view := s.table.View()
	s.update(func(st *schedState) error {
		if st.SongMode == song {
			return nil
		}
		st.SongMode = song
		if song {
			step := st.CurrentStep
			if step < 0 {
				step = st.RegionStart
			}
			if i := stepseq.SectionAt(view.Sections, step); i >= 0 {
				st.CurrentSection = i
			}
			st.CurrentSectionLoop = 0
		}
		normalize(st, view)
		return nil
	})
}

// SwitchToSection makes section i (clamped to the valid range) the current
// one and its bounds the region. If playback was running, it restarts from
// the first step of the section; otherwise it stays stopped.
func (s *Scheduler) SwitchToSection(i int) {
	view := s.table.View()
	sec, _ := view.Section(i)
	s.update(func(st *schedState) error {
		st.CurrentSection = sec.Index
		st.CurrentSectionLoop = 0
		st.RegionStart, st.RegionEnd = sec.StartStep, sec.End()
		if st.Playing {
			st.CurrentStep = sec.StartStep
			st.Triggered = false
		}
		return nil
	})
}

// SetSectionLoopTarget sets how many times section i plays in song mode.
func (s *Scheduler) SetSectionLoopTarget(i, n int) error {
	if i < 0 || i >= stepseq.MaxSections {
		return fmt.Errorf("section %d: %w", i, stepseq.ErrSectionIndex)
	}
	if n < stepseq.MinSectionLoops || n > stepseq.MaxSectionLoops {
		return fmt.Errorf("%d loops: %w", n, stepseq.ErrLoopTarget)
	}
	return s.update(func(st *schedState) error {
		st.SectionLoopTargets[i] = n
		return nil
	})
}

// LayoutChanged fits the region and the current step to a new section layout.
func (s *Scheduler) LayoutChanged() {
	view := s.table.View()
	s.update(func(st *schedState) error {
		normalize(st, view)
		return nil
	})
}

// State returns the playback parameters captured by snapshots.
func (s *Scheduler) State() stepseq.PlaybackState {
	return s.state.Load().PlaybackState
}

// ApplyState restores playback parameters. Whether playback is running is
// not part of the state and is left as is.
func (s *Scheduler) ApplyState(ps stepseq.PlaybackState) {
	view := s.table.View()
	s.update(func(st *schedState) error {
		st.PlaybackState = ps
		if st.BPM < stepseq.MinBPM || st.BPM > stepseq.MaxBPM {
			st.BPM = stepseq.DefaultPlaybackState().BPM
		}
		normalize(st, view)
		return nil
	})
}

// Playing reports whether playback is running.
func (s *Scheduler) Playing() bool {
	return s.state.Load().Playing
}

// CurrentStep returns the step being played, or -1 when stopped.
func (s *Scheduler) CurrentStep() int {
	return s.state.Load().CurrentStep
}

// FramesPerStep returns the length of one step at the current tempo.
func (s *Scheduler) FramesPerStep() int {
	return stepseq.FramesPerStep(s.sampleRate, s.state.Load().BPM)
}

// PredictNext returns the step that will be triggered next: the start step if
// playback was just started and has not been triggered yet, otherwise the
// step after the current one. Returns -1 if playback is stopped or will stop.
func (s *Scheduler) PredictNext() int {
	st := s.state.Load()
	if !st.Playing {
		return -1
	}
	if !st.Triggered {
		return st.CurrentStep
	}
	next := advance(*st, s.table.View())
	if !next.Playing {
		return -1
	}
	return next.CurrentStep
}

// Process runs the scheduler over a block of frames. It calls r.Render for
// each run of frames between step boundaries, with the offset of the run in
// the block, and r.Trigger whenever a new step starts, before the frames of
// that step are rendered. Must be called from the audio goroutine only.
func (s *Scheduler) Process(frames int, r StepRenderer) {
	offset := 0
	for offset < frames {
		st := s.state.Load()
		if !st.Playing {
			r.Render(offset, frames-offset)
			return
		}
		if !st.Triggered {
			next := *st
			next.Triggered = true
			if !s.state.CompareAndSwap(st, &next) {
				continue
			}
			s.frame = 0
			r.Trigger(next.CurrentStep)
			continue
		}
		fps := stepseq.FramesPerStep(s.sampleRate, st.BPM)
		if s.frame >= fps {
			next := advance(*st, s.table.View())
			if !s.state.CompareAndSwap(st, &next) {
				continue
			}
			s.frame = 0
			if next.Playing {
				r.Trigger(next.CurrentStep)
			}
			continue
		}
		n := min(frames-offset, fps-s.frame)
		r.Render(offset, n)
		s.frame += n
		offset += n
	}
}

// advance moves st one step forward, applying the region end policy.
func advance(st schedState, view *stepseq.TableState) schedState {
	step := st.CurrentStep + 1
	if step < st.RegionEnd && step >= st.RegionStart {
		st.CurrentStep = step
		return st
	}
	if !st.SongMode {
		st.CurrentStep = st.RegionStart
		return st
	}
	st.CurrentSectionLoop++
	if st.CurrentSectionLoop < st.SectionLoopTargets[st.CurrentSection] {
		st.CurrentStep = st.RegionStart
		return st
	}
	if st.CurrentSection+1 >= len(view.Sections) {
		st.Playing = false
		st.Triggered = false
		st.CurrentStep = -1
		return st
	}
	st.CurrentSection++
	st.CurrentSectionLoop = 0
	sec := view.Sections[st.CurrentSection]
	st.RegionStart, st.RegionEnd = sec.StartStep, sec.End()
	st.CurrentStep = st.RegionStart
	return st
}

// normalize fits the region and current step of st into the layout of view.
// In song mode the region always equals the current section.
func normalize(st *schedState, view *stepseq.TableState) {
	total := view.TotalSteps()
	st.CurrentSection = stepseq.Clamp(st.CurrentSection, 0, len(view.Sections)-1)
	if st.SongMode {
		sec := view.Sections[st.CurrentSection]
		st.RegionStart, st.RegionEnd = sec.StartStep, sec.End()
	} else if st.RegionStart < 0 || st.RegionEnd > total || st.RegionStart >= st.RegionEnd {
		sec := view.Sections[stepseq.SectionAt(view.Sections, stepseq.Clamp(st.RegionStart, 0, total-1))]
		st.RegionStart, st.RegionEnd = sec.StartStep, sec.End()
	}
	if st.Playing {
		st.CurrentStep = stepseq.Clamp(st.CurrentStep, st.RegionStart, st.RegionEnd-1)
	}
}

func checkBPM(bpm int) error {
	if bpm < stepseq.MinBPM || bpm > stepseq.MaxBPM {
		return fmt.Errorf("%d bpm: %w", bpm, stepseq.ErrBPM)
	}
	return nil
}
