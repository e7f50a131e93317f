package engine

import (
	"sync/atomic"
	"time"

	"github.com/fortuned/stepseq"
)

type (
	// Preloader decodes the beginning of the samples of the upcoming step into
	// RAM on its own goroutine, so that the audio goroutine can start them
	// without decoding. Each lane has one slot; a slot hands a Prepared buffer
	// from the preload goroutine to the audio goroutine exactly once.
	Preloader struct {
		table   *Table
		sched   *Scheduler
		bank    stepseq.SampleBank
		shifter stepseq.PitchShifter

		headFrames int
		budget     int64
		interval   time.Duration

		slots [stepseq.MaxLanes]preloadSlot
		gen   atomic.Uint64
		used  atomic.Int64

		prepared, claimed, released, skippedBudget, skippedError, fallbacks atomic.Uint64

		close    chan struct{}
		finished chan struct{}
	}

	// preloadSlot is the handoff point between the two goroutines. A non-nil
	// prepared pointer means ready. Only the preload goroutine stores a
	// non-nil pointer; either goroutine may take the pointer out with
	// compare-and-swap, and whoever succeeds owns the buffer. consuming is
	// written by the audio goroutine only: while it is raised, the preload
	// goroutine leaves the slot alone.
	preloadSlot struct {
		prepared  atomic.Pointer[Prepared]
		consuming atomic.Bool
	}

	// Prepared is a sample decoded ahead of time for one lane and step. Head
	// holds the first frames in RAM; Tail continues the stream after them and
	// is nil if the whole sample fit in Head.
	Prepared struct {
		Lane       int
		TargetStep int
		Generation uint64
		Slot       int
		Pitch      float32
		Volume     float32
		Head       stepseq.PCM
		Tail       stepseq.Source
		Bytes      int64
	}

	// PreloadConfig sets how much of each sample is preloaded and how much
	// memory all lanes may use together.
	PreloadConfig struct {
		Head     time.Duration
		MinHead  time.Duration
		Budget   int64 // bytes
		Interval time.Duration
	}

	// PreloadStats are counters for diagnostics.
	PreloadStats struct {
		Prepared      uint64
		Claimed       uint64
		Released      uint64
		SkippedBudget uint64
		SkippedError  uint64
		Fallbacks     uint64
		MemoryUsed    int64
		Ready         int
	}
)

const frameBytes = 2 * 4 // stereo float32

// DefaultPreloadConfig returns the preload defaults: 1.5 s heads, at least
// 250 ms, 100 MiB in total, polling every 2 ms.
func DefaultPreloadConfig() PreloadConfig {
	return PreloadConfig{
		Head:     1500 * time.Millisecond,
		MinHead:  250 * time.Millisecond,
		Budget:   100 << 20,
		Interval: 2 * time.Millisecond,
	}
}

// NewPreloader returns a preloader. It does nothing until Start is called or
// Cycle is called by hand.
func NewPreloader(sampleRate int, cfg PreloadConfig, table *Table, sched *Scheduler, bank stepseq.SampleBank, shifter stepseq.PitchShifter) *Preloader {
	head := max(cfg.Head, cfg.MinHead)
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPreloadConfig().Interval
	}
	return &Preloader{
		table:      table,
		sched:      sched,
		bank:       bank,
		shifter:    shifter,
		headFrames: int(head.Seconds() * float64(sampleRate)),
		budget:     cfg.Budget,
		interval:   interval,
		close:      make(chan struct{}, 1),
		finished:   make(chan struct{}),
	}
}

// Start runs the preload loop on a new goroutine until Close.
func (p *Preloader) Start() {
	go p.run()
}

// Close asks the preload goroutine to stop and waits for it, up to a few
// seconds. It must only be called after Start.
func (p *Preloader) Close() {
	TrySend(p.close, struct{}{})
	TimeoutReceive(p.finished, 3*time.Second)
}

func (p *Preloader) run() {
	defer close(p.finished)
	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	for {
		select {
		case <-p.close:
			p.releaseAll()
			return
		default:
		}
		p.Cycle()
		timer.Reset(p.interval)
		select {
		case <-p.close:
			p.releaseAll()
			return
		case <-timer.C:
		}
	}
}

// Invalidate makes every prepared buffer stale. Called whenever the step to
// be played next, or its contents, may have changed.
func (p *Preloader) Invalidate() {
	p.gen.Add(1)
}

// Cycle runs one pass of the preload loop over all lanes. It is called from
// the preload goroutine, or directly by tests.
func (p *Preloader) Cycle() {
	step := p.sched.PredictNext()
	gen := p.gen.Load()
	view := p.table.View()
	for lane := range p.slots {
		s := &p.slots[lane]
		if s.consuming.Load() {
			continue
		}
		if cur := s.prepared.Load(); cur != nil {
			if cur.TargetStep == step && cur.Generation == gen {
				continue
			}
			if !s.prepared.CompareAndSwap(cur, nil) {
				continue // claimed in the meantime
			}
			p.Release(cur)
		}
		if step < 0 {
			continue
		}
		cell := view.Cell(step, lane)
		if cell.IsEmpty() || !p.bank.IsLoaded(cell.SampleSlot) {
			continue
		}
		prep := p.prepare(lane, step, gen, cell)
		if prep == nil {
			continue
		}
		p.prepared.Add(1)
		if !s.prepared.CompareAndSwap(nil, prep) {
			p.Release(prep)
		}
	}
	if p.shifter != nil && step >= 0 {
		p.pregenerate(view, step+1)
	}
}

// pregenerate asks the pitch shifter to start generating the pitched assets
// of a step further ahead, so preparing that step later does not have to wait.
func (p *Preloader) pregenerate(view *stepseq.TableState, step int) {
	if step >= len(view.Rows) {
		return
	}
	for _, cell := range view.Rows[step] {
		if cell.IsEmpty() || !p.bank.IsLoaded(cell.SampleSlot) {
			continue
		}
		defaults, ok := p.bank.DefaultSettings(cell.SampleSlot)
		if !ok {
			continue
		}
		if pitch := cell.Settings.Resolve(defaults).Pitch; !unityPitch(pitch) {
			p.shifter.Pregenerate(cell.SampleSlot, pitch)
		}
	}
}

func (p *Preloader) prepare(lane, step int, gen uint64, cell stepseq.Cell) *Prepared {
	defaults, ok := p.bank.DefaultSettings(cell.SampleSlot)
	if !ok {
		return nil
	}
	settings := cell.Settings.Resolve(defaults)
	frames := p.headFrames
	if n := p.bank.Frames(cell.SampleSlot); n >= 0 {
		frames = min(frames, int(float32(n)/settings.Pitch))
	}
	if frames <= 0 {
		return nil
	}
	bytes := int64(frames) * frameBytes
	if !p.reserve(bytes) {
		p.skippedBudget.Add(1)
		return nil
	}
	src, err := openSource(p.bank, p.shifter, cell.SampleSlot, settings.Pitch)
	if err != nil {
		p.used.Add(-bytes)
		p.skippedError.Add(1)
		return nil
	}
	head := make(stepseq.PCM, frames)
	n, err := stepseq.ReadFull(src, head)
	if err != nil {
		src.Close()
		p.used.Add(-bytes)
		p.skippedError.Add(1)
		return nil
	}
	ret := &Prepared{
		Lane:       lane,
		TargetStep: step,
		Generation: gen,
		Slot:       cell.SampleSlot,
		Pitch:      settings.Pitch,
		Volume:     settings.Volume,
		Head:       head[:n],
		Tail:       src,
		Bytes:      bytes,
	}
	if n < frames {
		// the whole sample fit
		src.Close()
		ret.Tail = nil
	}
	return ret
}

func (p *Preloader) reserve(bytes int64) bool {
	for {
		used := p.used.Load()
		if used+bytes > p.budget {
			return false
		}
		if p.used.CompareAndSwap(used, used+bytes) {
			return true
		}
	}
}

// Claim takes the prepared buffer of lane if it was prepared for step and the
// given sample and pitch, and is not stale. The caller owns the returned
// buffer and must Release it when done. Returns nil if there is nothing to
// claim. Must be called from the audio goroutine only.
func (p *Preloader) Claim(lane, step, slot int, pitch float32) *Prepared {
	if lane < 0 || lane >= len(p.slots) {
		return nil
	}
	s := &p.slots[lane]
	s.consuming.Store(true)
	defer s.consuming.Store(false)
	cur := s.prepared.Load()
	if cur == nil || cur.TargetStep != step || cur.Generation != p.gen.Load() || cur.Slot != slot || cur.Pitch != pitch {
		return nil
	}
	if !s.prepared.CompareAndSwap(cur, nil) {
		return nil
	}
	p.claimed.Add(1)
	return cur
}

// Release closes the tail of a buffer and returns its memory to the budget.
func (p *Preloader) Release(prep *Prepared) {
	if prep.Tail != nil {
		prep.Tail.Close()
	}
	p.used.Add(-prep.Bytes)
	p.released.Add(1)
}

// NoteFallback counts a trigger that had to open its source synchronously.
func (p *Preloader) NoteFallback() {
	p.fallbacks.Add(1)
}

func (p *Preloader) releaseAll() {
	for i := range p.slots {
		s := &p.slots[i]
		if cur := s.prepared.Load(); cur != nil && s.prepared.CompareAndSwap(cur, nil) {
			p.Release(cur)
		}
	}
}

// Ready reports whether lane holds a buffer that is ready to be claimed.
func (p *Preloader) Ready(lane int) bool {
	return p.slots[lane].prepared.Load() != nil
}

// Stats returns the current counters.
func (p *Preloader) Stats() PreloadStats {
	ret := PreloadStats{
		Prepared:      p.prepared.Load(),
		Claimed:       p.claimed.Load(),
		Released:      p.released.Load(),
		SkippedBudget: p.skippedBudget.Load(),
		SkippedError:  p.skippedError.Load(),
		Fallbacks:     p.fallbacks.Load(),
		MemoryUsed:    p.used.Load(),
	}
	for i := range p.slots {
		if p.Ready(i) {
			ret.Ready++
		}
	}
	return ret
}

// openSource returns the stream of a sample at a pitch: the plain decoder at
// unity pitch, the pitch shifter's source otherwise.
func openSource(bank stepseq.SampleBank, shifter stepseq.PitchShifter, slot int, pitch float32) (stepseq.Source, error) {
	if shifter == nil || unityPitch(pitch) {
		return bank.Decoder(slot)
	}
	return shifter.Source(slot, pitch)
}

func unityPitch(pitch float32) bool {
	return pitch > 0.999 && pitch < 1.001
}
