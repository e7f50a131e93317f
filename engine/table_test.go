package engine_test

import (
	"errors"
	"math/rand"
	"slices"
	"testing"

	"github.com/fortuned/stepseq"
	"github.com/fortuned/stepseq/engine"
)

type layoutRecorder struct {
	calls [][]stepseq.Section
}

func (r *layoutRecorder) LayoutChanged(sections []stepseq.Section) {
	r.calls = append(r.calls, sections)
}

func starts(sections []stepseq.Section) []int {
	ret := make([]int, len(sections))
	for i, s := range sections {
		ret[i] = s.StartStep
	}
	return ret
}

func newTable(t testing.TB, steps ...int) *engine.Table {
	t.Helper()
	table := engine.NewTable(nil)
	err := table.Batch(func() error {
		for i, n := range steps {
			if err := table.SetSection(i, stepseq.Section{NumSteps: n}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("could not build table: %v", err)
	}
	return table
}

func checkLayout(t testing.TB, table *engine.Table) {
	t.Helper()
	v := table.View()
	if !stepseq.Contiguous(v.Sections) {
		t.Fatalf("sections are not contiguous: %+v", v.Sections)
	}
	if len(v.Rows) != v.TotalSteps() {
		t.Fatalf("view has %d rows for %d steps", len(v.Rows), v.TotalSteps())
	}
	if v.TotalSteps() > stepseq.MaxSteps {
		t.Fatalf("total steps %d exceeds maximum", v.TotalSteps())
	}
	if table.Version()%2 != 0 {
		t.Fatalf("version %d is odd after the change completed", table.Version())
	}
}

func TestSetSectionStepCountRelayout(t *testing.T) {
	table := newTable(t, 16, 16, 16, 16)
	if got, want := starts(table.Sections()), []int{0, 16, 32, 48}; !slices.Equal(got, want) {
		t.Fatalf("starts = %v, want %v", got, want)
	}
	if err := table.SetSectionStepCount(1, 8); err != nil {
		t.Fatalf("SetSectionStepCount: %v", err)
	}
	if got, want := starts(table.Sections()), []int{0, 16, 24, 40}; !slices.Equal(got, want) {
		t.Fatalf("starts = %v, want %v", got, want)
	}
	checkLayout(t, table)
}

func TestRejectedOperationsDoNotMutate(t *testing.T) {
	r := &layoutRecorder{}
	table := engine.NewTable(r)
	r.calls = nil
	before := table.State()
	version := table.Version()
	cases := []struct {
		name string
		f    func() error
		want error
	}{
		{"section index", func() error { return table.SetSectionStepCount(1, 8) }, stepseq.ErrSectionIndex},
		{"zero steps", func() error { return table.SetSectionStepCount(0, 0) }, stepseq.ErrStepCount},
		{"too many steps", func() error { return table.SetSectionStepCount(0, stepseq.MaxSteps+1) }, stepseq.ErrStepCount},
		{"total too big", func() error { return table.AppendSection(stepseq.MaxSteps, -1) }, stepseq.ErrTooManySteps},
		{"last section", func() error { return table.DeleteSection(0) }, stepseq.ErrLastSection},
		{"delete only step", func() error {
			if err := table.SetSectionStepCount(0, 1); err != nil {
				return err
			}
			defer table.SetSectionStepCount(0, stepseq.DefaultSectionSteps)
			return table.DeleteStep(0, 0)
		}, stepseq.ErrStepCount},
		{"insert outside", func() error { return table.InsertStep(0, 17) }, stepseq.ErrStep},
		{"reorder", func() error { return table.ReorderSection(0, 3) }, stepseq.ErrSectionIndex},
		{"set section gap", func() error { return table.SetSection(2, stepseq.Section{NumSteps: 4}) }, stepseq.ErrSectionIndex},
		{"cell lane", func() error { return table.SetCell(0, stepseq.MaxLanes, stepseq.EmptyCell()) }, stepseq.ErrLane},
		{"cell step", func() error { return table.ClearCell(16, 0) }, stepseq.ErrStep},
		{"cell slot", func() error { return table.SetCellSampleSlot(0, 0, stepseq.MaxSampleSlots) }, stepseq.ErrSampleSlot},
		{"cell volume", func() error {
			return table.SetCellSettings(0, 0, stepseq.CellSettings{Volume: 2, Pitch: stepseq.Inherit})
		}, stepseq.ErrVolume},
		{"cell pitch", func() error {
			return table.SetCellSettings(0, 0, stepseq.CellSettings{Volume: stepseq.Inherit, Pitch: 8})
		}, stepseq.ErrPitch},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := c.f(); !errors.Is(err, c.want) {
				t.Fatalf("got error %v, want %v", err, c.want)
			}
			if !table.State().Equal(before) {
				t.Fatalf("state changed after a rejected operation")
			}
		})
	}
	// only the "delete only step" case did real changes, which it undid
	if len(r.calls) != 2 {
		t.Fatalf("renderer was notified %d times, want 2", len(r.calls))
	}
	if table.Version() == version {
		t.Fatalf("version did not change")
	}
}

func TestCellsMoveWithSections(t *testing.T) {
	table := newTable(t, 16, 16, 16)
	marker := stepseq.Cell{SampleSlot: 3, Settings: stepseq.CellSettings{Volume: 0.5, Pitch: stepseq.Inherit}}
	if err := table.SetCell(20, 2, marker); err != nil {
		t.Fatal(err)
	}
	if err := table.SetSectionStepCount(0, 8); err != nil {
		t.Fatal(err)
	}
	if got := table.Cell(12, 2); got != marker {
		t.Fatalf("after shrinking section 0, cell at 12 = %+v", got)
	}
	if err := table.InsertStep(1, 8); err != nil {
		t.Fatal(err)
	}
	if got := table.Cell(13, 2); got != marker {
		t.Fatalf("after inserting a step, cell at 13 = %+v", got)
	}
	if err := table.ReorderSection(1, 2); err != nil {
		t.Fatal(err)
	}
	// section 1 (17 steps) moved after the old section 2 (16 steps)
	if got := table.Cell(8+16+5, 2); got != marker {
		t.Fatalf("after reorder, cell at 29 = %+v", got)
	}
	if err := table.DeleteSection(1); err != nil {
		t.Fatal(err)
	}
	if got := table.Cell(8+5, 2); got != marker {
		t.Fatalf("after deleting a section, cell at 13 = %+v", got)
	}
	if err := table.AppendSection(4, 1); err != nil {
		t.Fatal(err)
	}
	for step := 8 + 17; step < 8+17+4; step++ {
		if got := table.Cell(step, 2); !got.IsEmpty() {
			t.Fatalf("copied section should have been truncated, got %+v at %d", got, step)
		}
	}
	if err := table.AppendSection(8, 1); err != nil {
		t.Fatal(err)
	}
	if got := table.Cell(8+17+4+5, 2); got != marker {
		t.Fatalf("copied section is missing the marker, got %+v", got)
	}
	if err := table.DeleteStep(1, 8); err != nil {
		t.Fatal(err)
	}
	if got := table.Cell(8+4, 2); got != marker {
		t.Fatalf("after deleting a step, cell at 12 = %+v", got)
	}
	checkLayout(t, table)
}

func TestBatchNotifiesOnce(t *testing.T) {
	r := &layoutRecorder{}
	table := engine.NewTable(r)
	if len(r.calls) != 1 {
		t.Fatalf("NewTable notified %d times, want 1", len(r.calls))
	}
	notified := 0
	table.Observe(func(structural bool) { notified++ })
	err := table.Batch(func() error {
		table.Clear()
		for i, n := range []int{16, 8, 32, 4} {
			if err := table.SetSection(i, stepseq.Section{NumSteps: n}); err != nil {
				return err
			}
			if len(r.calls) != 1 {
				t.Fatalf("renderer notified in the middle of a batch")
			}
		}
		return table.SetCell(30, 0, stepseq.Cell{SampleSlot: 0, Settings: stepseq.CellSettings{Volume: stepseq.Inherit, Pitch: stepseq.Inherit}})
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.calls) != 2 || notified != 1 {
		t.Fatalf("got %d renderer calls and %d observer calls, want 2 and 1", len(r.calls), notified)
	}
	if got, want := starts(r.calls[1]), []int{0, 16, 24, 56}; !slices.Equal(got, want) {
		t.Fatalf("renderer got starts %v, want %v", got, want)
	}
	if err := table.SetCell(0, 0, stepseq.EmptyCell()); err != nil {
		t.Fatal(err)
	}
	if len(r.calls) != 2 || notified != 2 {
		t.Fatalf("cell edit: got %d renderer calls and %d observer calls, want 2 and 2", len(r.calls), notified)
	}
}

func TestFailedBatchRollsBack(t *testing.T) {
	r := &layoutRecorder{}
	table := engine.NewTable(r)
	marker := stepseq.Cell{SampleSlot: 2, Settings: stepseq.CellSettings{Volume: 0.5, Pitch: stepseq.Inherit}}
	if err := table.SetCell(3, 1, marker); err != nil {
		t.Fatal(err)
	}
	before := table.State()
	version := table.Version()
	notified := 0
	table.Observe(func(structural bool) { notified++ })
	err := table.Batch(func() error {
		table.Clear()
		for i, n := range []int{16, 8} {
			if err := table.SetSection(i, stepseq.Section{NumSteps: n}); err != nil {
				return err
			}
		}
		return table.SetCell(20, 0, stepseq.Cell{SampleSlot: 0, Settings: stepseq.CellSettings{Volume: 5, Pitch: stepseq.Inherit}})
	})
	if !errors.Is(err, stepseq.ErrVolume) {
		t.Fatalf("got %v, want ErrVolume", err)
	}
	if len(r.calls) != 1 || notified != 0 {
		t.Fatalf("failed batch: got %d renderer calls and %d observer calls, want 1 and 0", len(r.calls), notified)
	}
	if !table.State().Equal(before) {
		t.Fatalf("failed batch changed the table: %+v", table.Sections())
	}
	if table.Cell(3, 1) != marker {
		t.Fatalf("cell lost by the rollback: %+v", table.Cell(3, 1))
	}
	if table.Version() == version {
		t.Fatalf("version not bumped by the failed batch")
	}
	checkLayout(t, table)
	// the table keeps working after a rollback
	if err := table.AppendSection(8, -1); err != nil {
		t.Fatal(err)
	}
	if len(r.calls) != 2 || table.TotalSteps() != stepseq.DefaultSectionSteps+8 {
		t.Fatalf("append after rollback: %d calls, %d steps", len(r.calls), table.TotalSteps())
	}
}

func TestImportOrderIndependent(t *testing.T) {
	steps := []int{16, 8, 32, 4, 12, 64, 1}
	want := newTable(t, steps...).Sections()
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		table := newTable(t, slices.Repeat([]int{16}, len(steps))...)
		err := table.Batch(func() error {
			for _, j := range rnd.Perm(len(steps)) {
				if err := table.SetSectionStepCount(j, steps[j]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if got := table.Sections(); !slices.Equal(got, want) {
			t.Fatalf("piecemeal import gave %+v, want %+v", got, want)
		}
		checkLayout(t, table)
	}
}

func TestApplyStateRoundTrip(t *testing.T) {
	table := newTable(t, 4, 12)
	table.SetCell(5, 1, stepseq.Cell{SampleSlot: 1, Settings: stepseq.CellSettings{Volume: 1, Pitch: 2}})
	state := table.State()
	table.Clear()
	if table.Cell(5, 1) != stepseq.EmptyCell() {
		t.Fatalf("Clear left a cell behind")
	}
	if err := table.ApplyState(state); err != nil {
		t.Fatal(err)
	}
	if !table.State().Equal(state) {
		t.Fatalf("state did not round trip")
	}
	if err := table.ApplyState(stepseq.TableState{}); !errors.Is(err, stepseq.ErrSectionIndex) {
		t.Fatalf("applying an empty state: got %v", err)
	}
}

func FuzzTableLayout(f *testing.F) {
	f.Add([]byte{0, 1, 8, 3, 0, 4, 1, 0, 0, 5, 1, 0, 2, 0, 3, 6, 2, 7})
	f.Add([]byte{3, 200, 0, 3, 255, 1, 4, 2, 0, 5, 0, 1, 0, 0, 255})
	f.Fuzz(func(t *testing.T, ops []byte) {
		table := engine.NewTable(&layoutRecorder{})
		for i := 0; i+2 < len(ops); i += 3 {
			a, b := int(ops[i+1]), int(ops[i+2])
			sections := table.Sections()
			section := a % (len(sections) + 1) // sometimes out of range
			switch ops[i] % 9 {
			case 0:
				table.SetSectionStepCount(section, b)
			case 1:
				if section < len(sections) {
					table.InsertStep(section, sections[section].StartStep+b%(sections[section].NumSteps+1))
				}
			case 2:
				if section < len(sections) {
					table.DeleteStep(section, sections[section].StartStep+b%sections[section].NumSteps)
				}
			case 3:
				table.AppendSection(b*4, a%4-1)
			case 4:
				table.DeleteSection(section)
			case 5:
				table.ReorderSection(section, b%(len(sections)+1))
			case 6:
				table.SetSection(section, stepseq.Section{NumSteps: b * 3})
			case 7:
				table.SetCell(a, b%stepseq.MaxLanes, stepseq.Cell{SampleSlot: b % stepseq.MaxSampleSlots, Settings: stepseq.CellSettings{Volume: stepseq.Inherit, Pitch: stepseq.Inherit}})
			case 8:
				table.Batch(func() error {
					table.SetSectionStepCount(section, b+1)
					return table.AppendSection(a+1, section)
				})
			}
			checkLayout(t, table)
		}
	})
}
