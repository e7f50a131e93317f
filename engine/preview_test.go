package engine_test

import (
	"errors"
	"math"
	"testing"

	"github.com/fortuned/stepseq"
)

// closeCounter counts the Close calls of a constant source.
type closeCounter struct {
	stepseq.Source
	closed int
}

func (c *closeCounter) Close() error {
	c.closed++
	return c.Source.Close()
}

func constPCM(frames int, v float32) stepseq.PCM {
	pcm := make(stepseq.PCM, frames)
	for i := range pcm {
		pcm[i] = [2]float32{v, v}
	}
	return pcm
}

func TestPreviewSlot(t *testing.T) {
	e, _ := newEngine(t, false)
	if err := e.PreviewSlot(0, stepseq.Inherit, stepseq.Inherit); err != nil {
		t.Fatal(err)
	}
	out := process(t, e, 2*testStep, false)
	if got := out[testBlock-1][0]; math.Abs(float64(got)-0.5) > 1e-3 {
		t.Fatalf("preview output = %v, want 0.5", got)
	}
	if p := e.Columns.PreviewState(); !p.Active.Playing || p.Active.Slot != 0 || p.Active.Target != 1 {
		t.Fatalf("preview node = %+v", p.Active)
	}
	for lane := 0; lane < stepseq.MaxLanes; lane++ {
		if e.Columns.Lane(lane).Active.Playing {
			t.Fatalf("preview started lane %d", lane)
		}
	}

	// a new preview crossfades with the old one
	if err := e.PreviewSlot(1, stepseq.Inherit, 0.5); err != nil {
		t.Fatal(err)
	}
	process(t, e, testBlock, false)
	p := e.Columns.PreviewState()
	if p.Active.Slot != 1 || p.Active.Target != 0.5 || !p.Next.Playing || p.Next.Target != 0 {
		t.Fatalf("preview after retrigger = %+v", p)
	}
	out = process(t, e, 960, false)
	if got := out[testBlock-1][0]; math.Abs(float64(got)-0.125) > 1e-3 {
		t.Fatalf("preview output = %v, want 0.125", got)
	}
	if e.Columns.PreviewState().Next.Playing {
		t.Fatalf("replaced preview still playing")
	}

	e.StopPreview()
	out = process(t, e, 960, false)
	if e.Columns.PreviewState().Active.Playing {
		t.Fatalf("preview still playing 200 ms after StopPreview")
	}
	if out[testBlock-1] != [2]float32{} {
		t.Fatalf("output not silent after StopPreview: %v", out[testBlock-1])
	}
}

func TestPreviewCellMixesWithPlayback(t *testing.T) {
	e, _ := newEngine(t, false)
	cell := plainCell(0)
	cell.Settings.Volume = 0.8
	if err := e.Table.SetCell(4, 7, cell); err != nil {
		t.Fatal(err)
	}
	if err := e.Table.SetCell(0, 2, plainCell(1)); err != nil {
		t.Fatal(err)
	}
	if err := e.Scheduler.Start(300, 0); err != nil {
		t.Fatal(err)
	}
	if err := e.PreviewCell(4, 7); err != nil {
		t.Fatal(err)
	}
	out := process(t, e, 2*testStep, true)
	// lane 2 plays 0.25, the preview 0.5 at volume 0.8
	if got := out[testBlock-1][1]; math.Abs(float64(got)-0.65) > 1e-3 {
		t.Fatalf("mixed output = %v, want 0.65", got)
	}
	if p := e.Columns.PreviewState(); p.Active.Target != 0.8 {
		t.Fatalf("preview node = %+v, want the cell volume", p.Active)
	}
	// stopping playback fades the lanes but not the preview
	e.Scheduler.Stop()
	process(t, e, 960, true)
	if !e.Columns.PreviewState().Active.Playing || e.Columns.Lane(2).Active.Playing {
		t.Fatalf("stop: preview %+v, lane 2 %+v", e.Columns.PreviewState().Active, e.Columns.Lane(2).Active)
	}
}

func TestPreviewRejectsInvalidInput(t *testing.T) {
	e, _ := newEngine(t, false)
	cases := []struct {
		err  error
		want error
	}{
		{e.PreviewSlot(-1, 1, 1), stepseq.ErrSampleSlot},
		{e.PreviewSlot(5, 1, 1), stepseq.ErrNotLoaded},
		{e.PreviewSlot(0, 8, 1), stepseq.ErrPitch},
		{e.PreviewSlot(0, 1, 2), stepseq.ErrVolume},
		{e.PreviewCell(0, 0), stepseq.ErrEmptyCell},
		{e.PreviewCell(stepseq.DefaultSectionSteps, 0), stepseq.ErrStep},
		{e.PreviewCell(0, stepseq.MaxLanes), stepseq.ErrLane},
		{e.PreviewSource(constPCM(10, 1).NewReader(), 1.5), stepseq.ErrVolume},
	}
	for i, c := range cases {
		if !errors.Is(c.err, c.want) {
			t.Errorf("case %d: got %v, want %v", i, c.err, c.want)
		}
	}
	process(t, e, testBlock, false)
	if e.Columns.PreviewState().Active.Playing {
		t.Fatalf("a rejected preview is playing")
	}
}

func TestPreviewSourceOwnership(t *testing.T) {
	e, _ := newEngine(t, false)
	first := &closeCounter{Source: constPCM(4800, 0.5).NewReader()}
	second := &closeCounter{Source: constPCM(4800, 0.5).NewReader()}
	if err := e.PreviewSource(first, 1); err != nil {
		t.Fatal(err)
	}
	// replaced before the audio goroutine picked it up
	if err := e.PreviewSource(second, 1); err != nil {
		t.Fatal(err)
	}
	if first.closed != 1 {
		t.Fatalf("replaced pending source closed %d times, want 1", first.closed)
	}
	process(t, e, testBlock, false)
	if !e.Columns.PreviewState().Active.Playing {
		t.Fatalf("preview did not start")
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if second.closed != 1 || first.closed != 1 {
		t.Fatalf("sources closed %d and %d times, want 1 and 1", first.closed, second.closed)
	}
	short := &closeCounter{Source: constPCM(10, 0.5).NewReader()}
	e.PreviewSource(short, 1)
	process(t, e, testBlock, false)
	if short.closed != 1 || e.Columns.PreviewState().Active.Playing {
		t.Fatalf("a finished preview was not stopped")
	}
}
