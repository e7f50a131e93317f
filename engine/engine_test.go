package engine_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/fortuned/stepseq"
	"github.com/fortuned/stepseq/engine"
	"github.com/go-audio/wav"
)

func testProject() *stepseq.Project {
	return &stepseq.Project{
		BPM:         140,
		SongMode:    true,
		RegionStart: 0,
		RegionEnd:   16,
		Sections:    []stepseq.ProjectSection{{Steps: 16, Loops: 1}, {Steps: 8, Loops: 2}, {Steps: 32, Loops: 3}},
		Cells: []stepseq.ProjectCell{
			{Step: 0, Lane: 0, Slot: 0, Volume: stepseq.Inherit, Pitch: stepseq.Inherit},
			{Step: 0, Lane: 5, Slot: 1, Volume: 0.5, Pitch: 2},
			{Step: 17, Lane: 15, Slot: 0, Volume: 1, Pitch: stepseq.Inherit},
			{Step: 55, Lane: 2, Slot: 1, Volume: stepseq.Inherit, Pitch: 0.5},
		},
		Samples: []stepseq.ProjectSample{
			{Slot: 0, ID: "mem-0", Name: "A", Volume: 1, Pitch: 1},
			{Slot: 1, ID: "mem-1", Name: "B", Volume: 0.75, Pitch: 1},
		},
	}
}

func TestImportExport(t *testing.T) {
	r := &layoutRecorder{}
	e := engine.New(engine.DefaultConfig(), newMemBank(), nil, r)
	p := testProject()
	if err := e.Import(p); err != nil {
		t.Fatal(err)
	}
	if len(r.calls) != 2 {
		t.Fatalf("renderer notified %d times, want once at creation and once after import", len(r.calls))
	}
	if got, want := starts(r.calls[1]), []int{0, 16, 24}; !reflect.DeepEqual(got, want) {
		t.Fatalf("renderer got starts %v, want %v", got, want)
	}
	if got := e.Export(); !reflect.DeepEqual(got, p) {
		t.Fatalf("export differs from the imported project:\ngot  %+v\nwant %+v", got, p)
	}
}

func TestImportRejectsInvalidProject(t *testing.T) {
	cases := []struct {
		name string
		edit func(p *stepseq.Project)
		want error
	}{
		{"cell step", func(p *stepseq.Project) {
			p.Cells = append(p.Cells, stepseq.ProjectCell{Step: 56, Lane: 0, Slot: 0})
		}, stepseq.ErrStep},
		{"cell volume", func(p *stepseq.Project) {
			p.Cells = append(p.Cells, stepseq.ProjectCell{Step: 40, Lane: 0, Slot: 0, Volume: 5, Pitch: stepseq.Inherit})
		}, stepseq.ErrVolume},
		{"cell pitch", func(p *stepseq.Project) { p.Cells[1].Pitch = 0 }, stepseq.ErrPitch},
		{"sample volume", func(p *stepseq.Project) { p.Samples[0].Volume = 7 }, stepseq.ErrVolume},
		{"sample pitch", func(p *stepseq.Project) { p.Samples[1].Pitch = 0 }, stepseq.ErrPitch},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := &layoutRecorder{}
			bank := newMemBank()
			e := engine.New(engine.DefaultConfig(), bank, nil, r)
			before := e.Capture()
			p := testProject()
			c.edit(p)
			if err := e.Import(p); !errors.Is(err, c.want) {
				t.Fatalf("got %v, want %v", err, c.want)
			}
			if s := e.Capture(); !s.Equal(&before) {
				t.Fatalf("a rejected import changed the state")
			}
			if len(r.calls) != 1 {
				t.Fatalf("a rejected import notified the renderer %d times", len(r.calls)-1)
			}
		})
	}
}

func TestImportRecordsOnce(t *testing.T) {
	e := engine.New(engine.Config{AutoRecord: true}, newMemBank(), nil, nil)
	if err := e.Import(testProject()); err != nil {
		t.Fatal(err)
	}
	if n := e.History.Len(); n != 2 {
		t.Fatalf("history has %d entries after import, want 2", n)
	}
	if ok, err := e.History.Undo(); !ok || err != nil {
		t.Fatalf("undo: %v %v", ok, err)
	}
	if e.Table.SectionCount() != 1 || e.Scheduler.State().BPM != 120 {
		t.Fatalf("undo did not restore the state before the import")
	}
}

func TestRecorder(t *testing.T) {
	e, _ := newEngine(t, false)
	e.Table.SetCell(0, 0, plainCell(0))
	path := filepath.Join(t.TempDir(), "out.wav")
	if err := e.Recorder.Start(path); err != nil {
		t.Fatal(err)
	}
	if err := e.Recorder.Start(path); !errors.Is(err, engine.ErrRecording) {
		t.Fatalf("second Start: got %v", err)
	}
	e.Scheduler.Start(300, 0)
	process(t, e, 20*testBlock, true)
	if err := e.Recorder.Stop(); err != nil {
		t.Fatal(err)
	}
	if e.Recorder.Active() {
		t.Fatalf("recorder still active")
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if got := buf.NumFrames(); got != 20*testBlock || int64(got) != e.Recorder.Frames() {
		t.Fatalf("recorded %d frames, recorder counted %d, want %d", got, e.Recorder.Frames(), 20*testBlock)
	}
	if buf.Format.SampleRate != 4800 || buf.Format.NumChannels != 2 {
		t.Fatalf("format = %+v", buf.Format)
	}
}

func TestEngineStartClose(t *testing.T) {
	e, _ := newEngine(t, false)
	e.Start()
	e.Start()
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
}
