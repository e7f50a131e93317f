package engine

import (
	"errors"
	"fmt"

	"github.com/fortuned/stepseq"
)

type (
	// Engine owns the table, the scheduler, the column engine, the preloader
	// and the history, and wires them together. One Engine is created per
	// audio output; nothing in this package is global.
	Engine struct {
		Table     *Table
		Scheduler *Scheduler
		Columns   *ColumnEngine
		Preloader *Preloader
		History   *History
		Recorder  *Recorder
		Broker    *Broker

		bank       stepseq.SampleBank
		shifter    stepseq.PitchShifter
		sampleRate int
		autoRecord bool
		importing  bool
		started    bool

		block      engineBlock
		wasPlaying bool // audio goroutine only
	}

	// Config holds the engine settings. The config package fills it from
	// files and the environment.
	Config struct {
		SampleRate      int
		Preload         PreloadConfig
		RiseMs          float32
		FallMs          float32
		MasterVolume    float32
		HistoryCapacity int
		// AutoRecord records a history entry after every completed table
		// change.
		AutoRecord bool
	}

	engineBlock struct {
		e   *Engine
		buf stepseq.AudioBuffer
	}
)

// ErrSampleBank is returned by Import when the table and playback state were
// imported but some samples could not be loaded.
var ErrSampleBank = errors.New("sample bank not fully restored")

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		SampleRate:      stepseq.DefaultSampleRate,
		Preload:         DefaultPreloadConfig(),
		RiseMs:          DefaultRiseMs,
		FallMs:          DefaultFallMs,
		MasterVolume:    1,
		HistoryCapacity: DefaultHistoryCapacity,
	}
}

// New creates an engine around the sample bank and pitch shifter. renderer
// and shifter may be nil. The history starts with one entry holding the
// initial state.
func New(cfg Config, bank stepseq.SampleBank, shifter stepseq.PitchShifter, renderer stepseq.PatternRenderer) *Engine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = stepseq.DefaultSampleRate
	}
	e := &Engine{
		Broker:     NewBroker(),
		bank:       bank,
		shifter:    shifter,
		sampleRate: cfg.SampleRate,
		autoRecord: cfg.AutoRecord,
	}
	e.block.e = e
	e.Table = NewTable(renderer)
	e.Scheduler = NewScheduler(cfg.SampleRate, e.Table)
	e.Preloader = NewPreloader(cfg.SampleRate, cfg.Preload, e.Table, e.Scheduler, bank, shifter)
	e.Columns = NewColumnEngine(cfg.SampleRate, bank, shifter, e.Preloader, e.Broker)
	e.Columns.SetRiseTime(cfg.RiseMs)
	e.Columns.SetFallTime(cfg.FallMs)
	e.Columns.SetMasterVolume(cfg.MasterVolume)
	e.History = NewHistory(e, cfg.HistoryCapacity)
	e.Recorder = NewRecorder(e.Broker, cfg.SampleRate)
	e.Scheduler.OnChange(e.Preloader.Invalidate)
	e.Table.Observe(e.tableChanged)
	e.History.Record()
	return e
}

func (e *Engine) tableChanged(structural bool) {
	if structural {
		e.Scheduler.LayoutChanged()
	} else {
		e.Preloader.Invalidate()
	}
	if e.autoRecord && !e.importing {
		e.History.Record()
	}
}

// SampleRate returns the rate Process renders at.
func (e *Engine) SampleRate() int {
	return e.sampleRate
}

// Bank returns the sample bank the engine plays from.
func (e *Engine) Bank() stepseq.SampleBank {
	return e.bank
}

// Start starts the preload goroutine.
func (e *Engine) Start() {
	if e.started {
		return
	}
	e.started = true
	e.Preloader.Start()
}

// Close stops the preload goroutine and any recording. The audio output must
// have stopped calling Process before.
func (e *Engine) Close() error {
	if e.started {
		e.Preloader.Close()
		e.started = false
	}
	err := e.Recorder.Stop()
	e.Columns.Reset()
	return err
}

// Process renders the next block of audio into buf. It is the audio callback
// and must only be called from one goroutine at a time.
func (e *Engine) Process(buf stepseq.AudioBuffer) error {
	e.block.buf = buf
	e.Scheduler.Process(len(buf), &e.block)
	e.block.buf = nil
	playing := e.Scheduler.Playing()
	if e.wasPlaying && !playing {
		e.Columns.Release()
	}
	e.wasPlaying = playing
	e.Recorder.Write(buf)
	return nil
}

// ProcessOffline renders the next block like Process, but first runs one
// preload cycle on the calling goroutine. Used for rendering to a file
// without the preload goroutine.
func (e *Engine) ProcessOffline(buf stepseq.AudioBuffer) error {
	e.Preloader.Cycle()
	return e.Process(buf)
}

func (b *engineBlock) Trigger(step int) {
	b.e.Columns.Trigger(step, b.e.Table.View())
}

func (b *engineBlock) Render(offset, n int) {
	b.e.Columns.Render(b.buf[offset : offset+n])
}

// Capture returns a deep copy of the table, playback and sample bank state.
func (e *Engine) Capture() Snapshot {
	return Snapshot{
		Table:    e.Table.State(),
		Playback: e.Scheduler.State(),
		Bank:     e.bank.State(),
	}
}

// Apply restores a snapshot: the table first, so that the playback region is
// fitted to the restored layout, then playback and the sample bank. Samples
// that cannot be restored are reported with ErrSampleBank; the table, the
// playback state and the other samples are restored regardless.
func (e *Engine) Apply(s Snapshot) error {
	if err := e.Table.ApplyState(s.Table); err != nil {
		return err
	}
	e.Scheduler.ApplyState(s.Playback)
	err := e.bank.ApplyState(s.Bank)
	e.Preloader.Invalidate()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSampleBank, err)
	}
	return nil
}

// Import replaces the engine state with a project. Sections are set one at a
// time inside a single table batch, so the layout is recomputed after each
// and the renderer is notified once, with the final layout. The project is
// validated first; should the batch still fail, the table rolls back without
// the renderer seeing any of it. Samples that cannot be restored are reported
// with ErrSampleBank after everything else has been imported.
func (e *Engine) Import(p *stepseq.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.importing = true
	defer func() { e.importing = false }()
	err := e.Table.Batch(func() error {
		e.Table.Clear()
		for i, s := range p.Sections {
			if err := e.Table.SetSection(i, stepseq.Section{NumSteps: s.Steps}); err != nil {
				return err
			}
		}
		for _, c := range p.Cells {
			cell := stepseq.Cell{SampleSlot: c.Slot, Settings: stepseq.CellSettings{Volume: c.Volume, Pitch: c.Pitch}}
			if err := e.Table.SetCell(c.Step, c.Lane, cell); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.Scheduler.ApplyState(p.PlaybackState())
	err = e.bank.ApplyState(p.SampleBankState())
	e.Preloader.Invalidate()
	if e.autoRecord {
		e.History.Record()
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSampleBank, err)
	}
	return nil
}

// Export returns the engine state as a project.
func (e *Engine) Export() *stepseq.Project {
	return stepseq.NewProject(e.Table.State(), e.Scheduler.State(), e.bank.State())
}
