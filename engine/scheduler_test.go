package engine_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/fortuned/stepseq"
	"github.com/fortuned/stepseq/engine"
)

// stepLog records the triggered steps and the frame at which each happened.
type stepLog struct {
	steps  []int
	frames []int
	pos    int
}

func (l *stepLog) Trigger(step int) {
	l.steps = append(l.steps, step)
	l.frames = append(l.frames, l.pos)
}

func (l *stepLog) Render(offset, n int) {
	l.pos += n
}

func TestSongModeScenario(t *testing.T) {
	table := newTable(t, 16, 16)
	sched := engine.NewScheduler(4800, table)
	sched.SetSongMode(true)
	if err := sched.SetSectionLoopTarget(0, 1); err != nil {
		t.Fatal(err)
	}
	if err := sched.SetSectionLoopTarget(1, 4); err != nil {
		t.Fatal(err)
	}
	if err := sched.Start(300, 0); err != nil {
		t.Fatal(err)
	}
	log := &stepLog{}
	for i := 0; sched.Playing(); i++ {
		if i > 1000 {
			t.Fatalf("playback did not stop, %d steps played", len(log.steps))
		}
		sched.Process(256, log)
	}
	var want []int
	for i := 0; i < 16; i++ {
		want = append(want, i)
	}
	for loop := 0; loop < 4; loop++ {
		for i := 16; i < 32; i++ {
			want = append(want, i)
		}
	}
	if !slices.Equal(log.steps, want) {
		t.Fatalf("played %d steps %v, want %d steps %v", len(log.steps), log.steps, len(want), want)
	}
	if sched.CurrentStep() != -1 {
		t.Fatalf("current step = %d after song end, want -1", sched.CurrentStep())
	}
}

func TestStepTimingIsFrameAccurate(t *testing.T) {
	table := newTable(t, 16)
	sched := engine.NewScheduler(48000, table)
	if got := sched.FramesPerStep(); got != 6000 {
		t.Fatalf("frames per step = %d, want 6000", got)
	}
	if err := sched.Start(120, 0); err != nil {
		t.Fatal(err)
	}
	log := &stepLog{}
	for log.pos < 6000*20 {
		sched.Process(512, log)
	}
	for i, f := range log.frames {
		if f != i*6000 {
			t.Fatalf("step %d triggered at frame %d, want %d", i, f, i*6000)
		}
		if log.steps[i] != i%16 {
			t.Fatalf("trigger %d played step %d, want %d", i, log.steps[i], i%16)
		}
	}
}

func TestLoopModeRegion(t *testing.T) {
	table := newTable(t, 16, 16)
	sched := engine.NewScheduler(4800, table)
	if err := sched.SetRegion(4, 8); err != nil {
		t.Fatal(err)
	}
	if err := sched.Start(300, 5); err != nil {
		t.Fatal(err)
	}
	log := &stepLog{}
	for len(log.steps) < 8 {
		sched.Process(100, log)
	}
	if want := []int{5, 6, 7, 4, 5, 6, 7, 4}; !slices.Equal(log.steps[:8], want) {
		t.Fatalf("steps = %v, want %v", log.steps[:8], want)
	}
	// starting outside the region moves it to the section of the step
	if err := sched.Start(300, 20); err != nil {
		t.Fatal(err)
	}
	if s := sched.State(); s.RegionStart != 16 || s.RegionEnd != 32 {
		t.Fatalf("region = [%d,%d), want [16,32)", s.RegionStart, s.RegionEnd)
	}
}

func TestSongModeRegionIsASection(t *testing.T) {
	table := newTable(t, 16, 16)
	sched := engine.NewScheduler(4800, table)
	sched.SetSongMode(true)
	sched.SetSectionLoopTarget(0, 1)
	sched.SetSectionLoopTarget(1, 1)
	if err := sched.Start(300, 0); err != nil {
		t.Fatal(err)
	}
	log := &stepLog{}
	sched.Process(10, log)
	before := sched.State()
	if err := sched.SetRegion(4, 20); !errors.Is(err, stepseq.ErrRegion) {
		t.Fatalf("region across sections: got %v, want ErrRegion", err)
	}
	if err := sched.SetRegion(4, 8); !errors.Is(err, stepseq.ErrRegion) {
		t.Fatalf("part of a section: got %v, want ErrRegion", err)
	}
	if sched.State() != before {
		t.Fatalf("rejected region changed the state")
	}
	for len(log.steps) < 3 {
		sched.Process(10, log)
	}
	// selecting the next section moves playback there
	if err := sched.SetRegion(16, 32); err != nil {
		t.Fatal(err)
	}
	if s := sched.State(); s.CurrentSection != 1 || s.RegionStart != 16 || s.RegionEnd != 32 {
		t.Fatalf("state after selecting section 1 = %+v", s)
	}
	for sched.Playing() {
		sched.Process(10, log)
	}
	want := []int{0, 1, 2}
	for i := 16; i < 32; i++ {
		want = append(want, i)
	}
	if !slices.Equal(log.steps, want) {
		t.Fatalf("played %v, want %v", log.steps, want)
	}
}

func TestLoopRegionMovesCurrentStep(t *testing.T) {
	table := newTable(t, 16, 16)
	sched := engine.NewScheduler(4800, table)
	if err := sched.Start(300, 0); err != nil {
		t.Fatal(err)
	}
	log := &stepLog{}
	sched.Process(10, log)
	if err := sched.SetRegion(20, 24); err != nil {
		t.Fatal(err)
	}
	if got := sched.CurrentStep(); got != 20 {
		t.Fatalf("current step = %d after moving the region away, want 20", got)
	}
	for len(log.steps) < 6 {
		sched.Process(10, log)
	}
	if want := []int{0, 20, 21, 22, 23, 20}; !slices.Equal(log.steps, want) {
		t.Fatalf("steps = %v, want %v", log.steps, want)
	}
	// a step inside the new region keeps playing
	if err := sched.SetRegion(16, 32); err != nil {
		t.Fatal(err)
	}
	if got := sched.CurrentStep(); got != 20 {
		t.Fatalf("current step = %d, want 20", got)
	}
}

func TestSwitchToSection(t *testing.T) {
	table := newTable(t, 16, 8, 4)
	sched := engine.NewScheduler(4800, table)
	sched.SwitchToSection(1)
	if sched.Playing() {
		t.Fatalf("switching while stopped started playback")
	}
	if s := sched.State(); s.RegionStart != 16 || s.RegionEnd != 24 || s.CurrentSection != 1 {
		t.Fatalf("state after switch = %+v", s)
	}
	if err := sched.Start(120, 17); err != nil {
		t.Fatal(err)
	}
	log := &stepLog{}
	sched.Process(10, log)
	sched.SwitchToSection(99)
	if !sched.Playing() {
		t.Fatalf("switching while playing stopped playback")
	}
	sched.Process(10, log)
	if want := []int{17, 24}; !slices.Equal(log.steps, want) {
		t.Fatalf("steps = %v, want %v", log.steps, want)
	}
	if s := sched.State(); s.RegionStart != 24 || s.RegionEnd != 28 || s.CurrentSection != 2 {
		t.Fatalf("state after clamped switch = %+v", s)
	}
}

func TestSchedulerRejectsInvalidInput(t *testing.T) {
	table := newTable(t, 16, 16)
	sched := engine.NewScheduler(48000, table)
	changes := 0
	sched.OnChange(func() { changes++ })
	before := sched.State()
	cases := []struct {
		err  error
		want error
	}{
		{sched.SetBPM(0), stepseq.ErrBPM},
		{sched.SetBPM(stepseq.MaxBPM + 1), stepseq.ErrBPM},
		{sched.Start(0, 0), stepseq.ErrBPM},
		{sched.Start(120, 32), stepseq.ErrStep},
		{sched.Start(120, -1), stepseq.ErrStep},
		{sched.SetRegion(8, 4), stepseq.ErrRegion},
		{sched.SetRegion(0, 33), stepseq.ErrRegion},
		{sched.SetRegion(-1, 4), stepseq.ErrRegion},
		{sched.SetSectionLoopTarget(stepseq.MaxSections, 2), stepseq.ErrSectionIndex},
		{sched.SetSectionLoopTarget(0, 0), stepseq.ErrLoopTarget},
		{sched.SetSectionLoopTarget(0, stepseq.MaxSectionLoops+1), stepseq.ErrLoopTarget},
	}
	for i, c := range cases {
		if !errors.Is(c.err, c.want) {
			t.Errorf("case %d: got %v, want %v", i, c.err, c.want)
		}
	}
	if sched.State() != before || sched.Playing() {
		t.Fatalf("state changed after rejected calls")
	}
	if changes != 0 {
		t.Fatalf("rejected calls invalidated preloads %d times", changes)
	}
	if err := sched.SetBPM(90); err != nil {
		t.Fatal(err)
	}
	if changes != 1 {
		t.Fatalf("SetBPM invalidated preloads %d times, want 1", changes)
	}
}

func TestSchedulerFollowsLayout(t *testing.T) {
	table := newTable(t, 16, 16)
	sched := engine.NewScheduler(48000, table)
	table.Observe(func(structural bool) {
		if structural {
			sched.LayoutChanged()
		}
	})
	if err := sched.SetRegion(16, 32); err != nil {
		t.Fatal(err)
	}
	if err := table.DeleteSection(1); err != nil {
		t.Fatal(err)
	}
	if s := sched.State(); s.RegionStart != 0 || s.RegionEnd != 16 {
		t.Fatalf("region = [%d,%d) after deleting its section, want [0,16)", s.RegionStart, s.RegionEnd)
	}
}

func TestPredictNext(t *testing.T) {
	table := newTable(t, 4, 4)
	sched := engine.NewScheduler(4800, table)
	if got := sched.PredictNext(); got != -1 {
		t.Fatalf("stopped: PredictNext = %d, want -1", got)
	}
	sched.SetSongMode(true)
	sched.SetSectionLoopTarget(0, 1)
	if err := sched.Start(300, 2); err != nil {
		t.Fatal(err)
	}
	if got := sched.PredictNext(); got != 2 {
		t.Fatalf("just started: PredictNext = %d, want 2", got)
	}
	log := &stepLog{}
	sched.Process(1, log)
	if got := sched.PredictNext(); got != 3 {
		t.Fatalf("PredictNext = %d, want 3", got)
	}
	sched.Process(240, log)
	if got := sched.PredictNext(); got != 4 {
		t.Fatalf("at the section end: PredictNext = %d, want 4", got)
	}
}
