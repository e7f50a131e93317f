package engine

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/fortuned/stepseq"
)

type (
	// Table owns the section list and the step × lane cell grid. All mutating
	// methods must be called from one goroutine. Every structural change ends
	// with a full relayout of the sections, and the cell rows move together
	// with their sections. Other goroutines read the table through View, which
	// returns the immutable state published after the last completed change.
	Table struct {
		sections []stepseq.Section
		rows     [][stepseq.MaxLanes]stepseq.Cell // MaxSteps rows, rows >= total are empty
		total    int

		renderer  stepseq.PatternRenderer
		observers []TableObserver

		view    atomic.Pointer[stepseq.TableState]
		version versionCounter

		changeLevel int
		structural  bool
	}

	// TableObserver is called on the control goroutine after the outermost
	// change of the table has completed. structural is true if the section
	// layout may have changed.
	TableObserver func(structural bool)
)

// NewTable returns a table with one empty section of DefaultSectionSteps
// steps. renderer may be nil.
func NewTable(renderer stepseq.PatternRenderer) *Table {
	t := &Table{
		rows:     make([][stepseq.MaxLanes]stepseq.Cell, stepseq.MaxSteps),
		renderer: renderer,
	}
	defer t.change(true)()
	t.reset()
	return t
}

// Observe adds an observer of completed changes.
func (t *Table) Observe(o TableObserver) {
	t.observers = append(t.observers, o)
}

// View returns the last published state. It is safe to call from any
// goroutine, including the audio goroutine. The returned value is shared and
// must not be modified.
func (t *Table) View() *stepseq.TableState {
	return t.view.Load()
}

// State returns a deep copy of the table.
func (t *Table) State() stepseq.TableState {
	return t.view.Load().Copy()
}

// Version returns the change counter: odd while a change is in progress.
func (t *Table) Version() uint64 {
	return t.version.Load()
}

// Batch runs f as one logical change: the view is published, the renderer
// notified and the observers called only once, after f returns. Each
// operation inside f is still validated and relaid out on its own. If f
// returns an error, nothing is published or notified and the outermost batch
// rolls the table back to the last published view.
func (t *Table) Batch(f func() error) error {
	end := t.change(false)
	if err := f(); err != nil {
		t.abort()
		return err
	}
	end()
	return nil
}

// abort leaves a change level without publishing. Leaving the outermost level
// restores the published view.
func (t *Table) abort() {
	t.changeLevel--
	if t.changeLevel > 0 {
		return
	}
	t.structural = false
	t.load(t.view.Load())
	t.version.end()
}

func (t *Table) change(structural bool) func() {
	if t.changeLevel == 0 {
		t.version.begin()
	}
	t.changeLevel++
	t.structural = t.structural || structural
	return func() {
		t.changeLevel--
		if t.changeLevel > 0 {
			return
		}
		structural := t.structural
		t.structural = false
		view := t.publish()
		t.version.end()
		if structural && t.renderer != nil {
			t.renderer.LayoutChanged(slices.Clone(view.Sections))
		}
		for _, o := range t.observers {
			o(structural)
		}
	}
}

func (t *Table) publish() *stepseq.TableState {
	view := &stepseq.TableState{
		Sections: slices.Clone(t.sections),
		Rows:     slices.Clone(t.rows[:t.total]),
	}
	t.view.Store(view)
	return view
}

// relayout is the only place where start steps are assigned. It always walks
// every section.
func (t *Table) relayout() {
	t.total = stepseq.Relayout(t.sections)
}

func (t *Table) reset() {
	for i := range t.rows {
		t.rows[i] = stepseq.EmptyRow()
	}
	t.sections = []stepseq.Section{{NumSteps: stepseq.DefaultSectionSteps}}
	t.relayout()
}

// insertRows opens n empty rows at step at, moving the rows after it down.
// The caller checks that total+n fits.
func (t *Table) insertRows(at, n int) {
	copy(t.rows[at+n:t.total+n], t.rows[at:t.total])
	for i := at; i < at+n; i++ {
		t.rows[i] = stepseq.EmptyRow()
	}
}

// removeRows deletes n rows starting at step at, moving the rows after them up
// and clearing the freed rows at the end.
func (t *Table) removeRows(at, n int) {
	copy(t.rows[at:], t.rows[at+n:t.total])
	for i := t.total - n; i < t.total; i++ {
		t.rows[i] = stepseq.EmptyRow()
	}
}

func (t *Table) checkSection(i int) error {
	if i < 0 || i >= len(t.sections) {
		return fmt.Errorf("section %d of %d: %w", i, len(t.sections), stepseq.ErrSectionIndex)
	}
	return nil
}

func checkStepCount(n int) error {
	if n < 1 || n > stepseq.MaxSteps {
		return fmt.Errorf("%d steps: %w", n, stepseq.ErrStepCount)
	}
	return nil
}

func (t *Table) checkGrowth(n int) error {
	if t.total+n > stepseq.MaxSteps {
		return fmt.Errorf("%d + %d steps: %w", t.total, n, stepseq.ErrTooManySteps)
	}
	return nil
}

// SetSectionStepCount resizes section i to n steps. Growing adds empty steps
// at the end of the section, shrinking drops its last steps.
func (t *Table) SetSectionStepCount(i, n int) error {
	if err := t.checkSection(i); err != nil {
		return err
	}
	if err := checkStepCount(n); err != nil {
		return err
	}
	s := t.sections[i]
	if err := t.checkGrowth(n - s.NumSteps); err != nil {
		return err
	}
	defer t.change(true)()
	if n > s.NumSteps {
		t.insertRows(s.End(), n-s.NumSteps)
	} else if n < s.NumSteps {
		t.removeRows(s.StartStep+n, s.NumSteps-n)
	}
	t.sections[i].NumSteps = n
	t.relayout()
	return nil
}

// InsertStep inserts an empty step into section i before the absolute step
// at, which must lie in [start, end] of the section.
func (t *Table) InsertStep(i, at int) error {
	if err := t.checkSection(i); err != nil {
		return err
	}
	s := t.sections[i]
	if at < s.StartStep || at > s.End() {
		return fmt.Errorf("insert at step %d outside section %d: %w", at, i, stepseq.ErrStep)
	}
	if err := checkStepCount(s.NumSteps + 1); err != nil {
		return err
	}
	if err := t.checkGrowth(1); err != nil {
		return err
	}
	defer t.change(true)()
	t.insertRows(at, 1)
	t.sections[i].NumSteps++
	t.relayout()
	return nil
}

// DeleteStep removes the absolute step at from section i. A section keeps at
// least one step.
func (t *Table) DeleteStep(i, at int) error {
	if err := t.checkSection(i); err != nil {
		return err
	}
	s := t.sections[i]
	if !s.Contains(at) {
		return fmt.Errorf("delete step %d outside section %d: %w", at, i, stepseq.ErrStep)
	}
	if err := checkStepCount(s.NumSteps - 1); err != nil {
		return err
	}
	defer t.change(true)()
	t.removeRows(at, 1)
	t.sections[i].NumSteps--
	t.relayout()
	return nil
}

// AppendSection adds a section of n steps after the last one. If copyFrom is
// a valid section index, the cells of that section are copied into the new
// one (truncated or padded with empty steps); otherwise it starts empty.
func (t *Table) AppendSection(n, copyFrom int) error {
	if len(t.sections) >= stepseq.MaxSections {
		return fmt.Errorf("append section: %w", stepseq.ErrTooManySections)
	}
	if err := checkStepCount(n); err != nil {
		return err
	}
	if err := t.checkGrowth(n); err != nil {
		return err
	}
	defer t.change(true)()
	start := t.total
	if copyFrom >= 0 && copyFrom < len(t.sections) {
		src := t.sections[copyFrom]
		copy(t.rows[start:start+n], t.rows[src.StartStep:src.StartStep+min(n, src.NumSteps)])
	}
	t.sections = append(t.sections, stepseq.Section{NumSteps: n})
	t.relayout()
	return nil
}

// DeleteSection removes section i and its steps. The only section cannot be
// deleted.
func (t *Table) DeleteSection(i int) error {
	if err := t.checkSection(i); err != nil {
		return err
	}
	if len(t.sections) == 1 {
		return stepseq.ErrLastSection
	}
	defer t.change(true)()
	s := t.sections[i]
	t.removeRows(s.StartStep, s.NumSteps)
	t.sections = slices.Delete(t.sections, i, i+1)
	t.relayout()
	return nil
}

// ReorderSection moves section from to position to, taking its steps with it.
func (t *Table) ReorderSection(from, to int) error {
	if err := t.checkSection(from); err != nil {
		return err
	}
	if err := t.checkSection(to); err != nil {
		return err
	}
	defer t.change(true)()
	order := slices.Clone(t.sections)
	moved := order[from]
	order = slices.Delete(order, from, from+1)
	order = slices.Insert(order, to, moved)
	old := slices.Clone(t.rows[:t.total])
	cursor := 0
	for _, s := range order {
		// s still carries its old start step here
		cursor += copy(t.rows[cursor:], old[s.StartStep:s.End()])
	}
	t.sections = order
	t.relayout()
	return nil
}

// SetSection sets the step count of section i from s, appending a new section
// when i equals the section count. Only s.NumSteps is used: the index and
// start step are derived by the relayout. Unlike SetSectionStepCount, no
// cells are moved; this is the raw setter used by importers, which fill in
// the cells afterwards.
func (t *Table) SetSection(i int, s stepseq.Section) error {
	if i < 0 || i > len(t.sections) {
		return fmt.Errorf("section %d of %d: %w", i, len(t.sections), stepseq.ErrSectionIndex)
	}
	if i == len(t.sections) && i >= stepseq.MaxSections {
		return fmt.Errorf("set section %d: %w", i, stepseq.ErrTooManySections)
	}
	if err := checkStepCount(s.NumSteps); err != nil {
		return err
	}
	old := 0
	if i < len(t.sections) {
		old = t.sections[i].NumSteps
	}
	if err := t.checkGrowth(s.NumSteps - old); err != nil {
		return err
	}
	defer t.change(true)()
	if i == len(t.sections) {
		t.sections = append(t.sections, stepseq.Section{NumSteps: s.NumSteps})
	} else {
		t.sections[i].NumSteps = s.NumSteps
	}
	prev := t.total
	t.relayout()
	for j := t.total; j < prev; j++ {
		t.rows[j] = stepseq.EmptyRow()
	}
	return nil
}

// Clear resets the table to one empty section of DefaultSectionSteps steps.
func (t *Table) Clear() {
	defer t.change(true)()
	t.reset()
}

// ApplyState replaces the whole table with s.
func (t *Table) ApplyState(s stepseq.TableState) error {
	if len(s.Sections) == 0 {
		return fmt.Errorf("state has no sections: %w", stepseq.ErrSectionIndex)
	}
	if len(s.Sections) > stepseq.MaxSections {
		return fmt.Errorf("state has %d sections: %w", len(s.Sections), stepseq.ErrTooManySections)
	}
	total := 0
	for _, sec := range s.Sections {
		if err := checkStepCount(sec.NumSteps); err != nil {
			return err
		}
		total += sec.NumSteps
	}
	if total > stepseq.MaxSteps {
		return fmt.Errorf("state has %d steps: %w", total, stepseq.ErrTooManySteps)
	}
	defer t.change(true)()
	t.load(&s)
	return nil
}

// load replaces sections and rows with those of s, which must be valid.
func (t *Table) load(s *stepseq.TableState) {
	for i := range t.rows[:t.total] {
		t.rows[i] = stepseq.EmptyRow()
	}
	t.sections = slices.Clone(s.Sections)
	t.relayout()
	copy(t.rows[:t.total], s.Rows)
}

// SectionCount returns the number of sections in the published view.
func (t *Table) SectionCount() int {
	return len(t.View().Sections)
}

// TotalSteps returns the step count of the published view.
func (t *Table) TotalSteps() int {
	return t.View().TotalSteps()
}

// SectionAtStep returns the index of the section containing step, or -1.
func (t *Table) SectionAtStep(step int) int {
	return stepseq.SectionAt(t.View().Sections, step)
}

// SectionStart returns the start step of section i, or -1.
func (t *Table) SectionStart(i int) int {
	v := t.View()
	if i < 0 || i >= len(v.Sections) {
		return -1
	}
	return v.Sections[i].StartStep
}

// SectionSteps returns the step count of section i, or 0.
func (t *Table) SectionSteps(i int) int {
	v := t.View()
	if i < 0 || i >= len(v.Sections) {
		return 0
	}
	return v.Sections[i].NumSteps
}

// Sections returns a copy of the published section list.
func (t *Table) Sections() []stepseq.Section {
	return slices.Clone(t.View().Sections)
}

// Cell returns the cell at (step, lane), or an empty cell if out of range.
func (t *Table) Cell(step, lane int) stepseq.Cell {
	return t.View().Cell(step, lane)
}

func (t *Table) checkCell(step, lane int) error {
	if step < 0 || step >= t.total {
		return fmt.Errorf("step %d of %d: %w", step, t.total, stepseq.ErrStep)
	}
	if lane < 0 || lane >= stepseq.MaxLanes {
		return fmt.Errorf("lane %d: %w", lane, stepseq.ErrLane)
	}
	return nil
}

func checkSlot(slot int) error {
	if slot < stepseq.EmptySlot || slot >= stepseq.MaxSampleSlots {
		return fmt.Errorf("slot %d: %w", slot, stepseq.ErrSampleSlot)
	}
	return nil
}

// SetCell replaces the cell at (step, lane).
func (t *Table) SetCell(step, lane int, c stepseq.Cell) error {
	if err := t.checkCell(step, lane); err != nil {
		return err
	}
	if err := checkSlot(c.SampleSlot); err != nil {
		return err
	}
	if err := c.Settings.Validate(); err != nil {
		return err
	}
	defer t.change(false)()
	t.rows[step][lane] = c
	return nil
}

// SetCellSampleSlot changes the sample of a cell, keeping its settings.
func (t *Table) SetCellSampleSlot(step, lane, slot int) error {
	if err := t.checkCell(step, lane); err != nil {
		return err
	}
	if err := checkSlot(slot); err != nil {
		return err
	}
	defer t.change(false)()
	t.rows[step][lane].SampleSlot = slot
	return nil
}

// SetCellSettings changes the volume and pitch overrides of a cell.
func (t *Table) SetCellSettings(step, lane int, s stepseq.CellSettings) error {
	if err := t.checkCell(step, lane); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	defer t.change(false)()
	t.rows[step][lane].Settings = s
	return nil
}

// ClearCell empties the cell at (step, lane).
func (t *Table) ClearCell(step, lane int) error {
	if err := t.checkCell(step, lane); err != nil {
		return err
	}
	defer t.change(false)()
	t.rows[step][lane] = stepseq.EmptyCell()
	return nil
}
