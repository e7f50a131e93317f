package stepseq

import "slices"

type (
	// TableState is a deep copy of the timeline: the section list and the
	// cell rows of every step in use. Rows beyond the total step count are
	// always empty in the live table, so they are not stored.
	TableState struct {
		Sections []Section
		Rows     [][MaxLanes]Cell
	}

	// PlaybackState is the part of the scheduler state that is captured by
	// snapshots and exported with a project. It is comparable with ==.
	PlaybackState struct {
		BPM                int
		RegionStart        int
		RegionEnd          int // exclusive
		SongMode           bool
		CurrentSection     int
		CurrentSectionLoop int
		SectionLoopTargets [MaxSections]int
	}
)

// Copy makes a deep copy of the TableState.
func (t TableState) Copy() TableState {
	return TableState{
		Sections: slices.Clone(t.Sections),
		Rows:     slices.Clone(t.Rows),
	}
}

// Equal reports whether both table states are identical.
func (t TableState) Equal(o TableState) bool {
	return slices.Equal(t.Sections, o.Sections) && slices.Equal(t.Rows, o.Rows)
}

// TotalSteps returns the number of steps spanned by the sections.
func (t TableState) TotalSteps() int {
	return TotalSteps(t.Sections)
}

// Cell returns the cell at (step, lane) or an empty cell when out of range.
func (t TableState) Cell(step, lane int) Cell {
	if step < 0 || step >= len(t.Rows) || lane < 0 || lane >= MaxLanes {
		return EmptyCell()
	}
	return t.Rows[step][lane]
}

// Section returns the section bounds for index i, clamped to the valid
// section range, and false if there are no sections.
func (t TableState) Section(i int) (Section, bool) {
	if len(t.Sections) == 0 {
		return Section{}, false
	}
	return t.Sections[Clamp(i, 0, len(t.Sections)-1)], true
}

// EmptyRow returns a row of empty cells.
func EmptyRow() (row [MaxLanes]Cell) {
	for i := range row {
		row[i] = EmptyCell()
	}
	return row
}

// DefaultPlaybackState returns a stopped loop-mode state at 120 BPM whose
// region covers the first default-sized section.
func DefaultPlaybackState() PlaybackState {
	s := PlaybackState{
		BPM:       120,
		RegionEnd: DefaultSectionSteps,
	}
	for i := range s.SectionLoopTargets {
		s.SectionLoopTargets[i] = DefaultSectionLoops
	}
	return s
}
