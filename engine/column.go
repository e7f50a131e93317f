package engine

import (
	"errors"
	"io"
	"math"
	"sync/atomic"

	"github.com/fortuned/stepseq"
	"github.com/viterin/vek/vek32"
)

type (
	// ColumnEngine plays the lanes. Each lane has two nodes that take turns:
	// on a trigger, the node that was sounding fades out while the other one
	// starts the new sample and fades in. Volumes are smoothed once per
	// rendered chunk with separate rise and fall times. Trigger and Render
	// must be called from the audio goroutine only; the setters may be called
	// from anywhere.
	ColumnEngine struct {
		sampleRate int
		bank       stepseq.SampleBank
		shifter    stepseq.PitchShifter
		preloader  *Preloader
		broker     *Broker

		lanes [stepseq.MaxLanes]columnLane

		// preview plays auditions outside of the sequence. Requests are
		// handed from the control side through pending.
		preview columnLane
		pending atomic.Pointer[previewRequest]

		riseMs, fallMs, master atomicFloat32

		read      stepseq.AudioBuffer
		tmp, ramp []float32
		mix       [2][]float32
	}

	columnLane struct {
		nodes  [2]columnNode
		active int
	}

	columnNode struct {
		Slot   int
		Pitch  float32
		Volume float32 // current
		Target float32
		src    stepseq.Source
		prep   *Prepared // non-nil if src plays a claimed preload buffer
	}

	// previewRequest starts an audition, or stops it if src is nil.
	previewRequest struct {
		src    stepseq.Source
		slot   int
		pitch  float32
		volume float32
	}

	// LaneState describes the sounding nodes of a lane, for meters and tests.
	LaneState struct {
		Active, Next NodeState
	}

	// NodeState is a copy of the playback state of one node.
	NodeState struct {
		Playing bool
		Slot    int
		Pitch   float32
		Volume  float32
		Target  float32
		Preload bool
	}

	atomicFloat32 struct {
		bits atomic.Uint32
	}
)

// Smoothing time constants in milliseconds.
const (
	DefaultRiseMs = 6
	DefaultFallMs = 12
	MinSmoothMs   = 1
	MaxSmoothMs   = 100

	// silence is the volume below which a fading node is stopped.
	silence = 0.0001
)

// NewColumnEngine returns a column engine with all nodes stopped. preloader
// may be nil, in which case every trigger opens its source synchronously.
func NewColumnEngine(sampleRate int, bank stepseq.SampleBank, shifter stepseq.PitchShifter, preloader *Preloader, broker *Broker) *ColumnEngine {
	c := &ColumnEngine{
		sampleRate: sampleRate,
		bank:       bank,
		shifter:    shifter,
		preloader:  preloader,
		broker:     broker,
	}
	c.riseMs.Store(DefaultRiseMs)
	c.fallMs.Store(DefaultFallMs)
	c.master.Store(1)
	return c
}

// SetRiseTime sets the fade-in time constant in milliseconds, clamped to
// [MinSmoothMs, MaxSmoothMs].
func (c *ColumnEngine) SetRiseTime(ms float32) {
	c.riseMs.Store(stepseq.Clamp(ms, MinSmoothMs, MaxSmoothMs))
}

// SetFallTime sets the fade-out time constant in milliseconds, clamped to
// [MinSmoothMs, MaxSmoothMs].
func (c *ColumnEngine) SetFallTime(ms float32) {
	c.fallMs.Store(stepseq.Clamp(ms, MinSmoothMs, MaxSmoothMs))
}

// SetMasterVolume sets the output gain, clamped to [0, 1].
func (c *ColumnEngine) SetMasterVolume(v float32) {
	c.master.Store(stepseq.Clamp(v, 0, 1))
}

// RiseTime returns the fade-in time constant in milliseconds.
func (c *ColumnEngine) RiseTime() float32 { return c.riseMs.Load() }

// FallTime returns the fade-out time constant in milliseconds.
func (c *ColumnEngine) FallTime() float32 { return c.fallMs.Load() }

// MasterVolume returns the output gain.
func (c *ColumnEngine) MasterVolume() float32 { return c.master.Load() }

// Trigger starts the cells of step on every lane. Empty cells and cells of
// unloaded samples leave their lane as it is.
func (c *ColumnEngine) Trigger(step int, view *stepseq.TableState) {
	for lane := range c.lanes {
		cell := view.Cell(step, lane)
		if cell.IsEmpty() {
			continue
		}
		c.triggerLane(lane, step, cell)
	}
}

func (c *ColumnEngine) triggerLane(lane, step int, cell stepseq.Cell) {
	if !c.bank.IsLoaded(cell.SampleSlot) {
		return
	}
	defaults, ok := c.bank.DefaultSettings(cell.SampleSlot)
	if !ok {
		return
	}
	settings := cell.Settings.Resolve(defaults)
	var src stepseq.Source
	var prep *Prepared
	if c.preloader != nil {
		prep = c.preloader.Claim(lane, step, cell.SampleSlot, settings.Pitch)
	}
	if prep != nil {
		src = stepseq.Concat(prep.Head.NewReader(), prep.Tail)
	} else {
		if c.preloader != nil {
			c.preloader.NoteFallback()
		}
		var err error
		if src, err = openSource(c.bank, c.shifter, cell.SampleSlot, settings.Pitch); err != nil {
			c.alertf(Warning, "lane %d: could not play sample %s: %v", lane+1, stepseq.SlotName(cell.SampleSlot), err)
			return
		}
	}
	c.retrigger(&c.lanes[lane], columnNode{
		Slot:   cell.SampleSlot,
		Pitch:  settings.Pitch,
		Target: settings.Volume,
		src:    src,
		prep:   prep,
	})
}

// retrigger fades out the sounding node of l and starts nd on the other one.
func (c *ColumnEngine) retrigger(l *columnLane, nd columnNode) {
	if active := &l.nodes[l.active]; active.playing() {
		active.Target = 0
	}
	next := &l.nodes[1-l.active]
	c.stopNode(next)
	*next = nd
	l.active = 1 - l.active
}

// Preview plays src once at the given volume, mixed with the sequence. A
// preview that is still sounding is faded out. The column engine takes
// ownership of src. May be called from any goroutine; the preview starts
// with the next rendered block.
func (c *ColumnEngine) Preview(src stepseq.Source, slot int, pitch, volume float32) {
	c.request(&previewRequest{src: src, slot: slot, pitch: pitch, volume: volume})
}

// StopPreview fades out the preview.
func (c *ColumnEngine) StopPreview() {
	c.request(&previewRequest{})
}

func (c *ColumnEngine) request(req *previewRequest) {
	if old := c.pending.Swap(req); old != nil && old.src != nil {
		old.src.Close()
	}
}

// takePreview applies a pending preview request on the audio goroutine.
func (c *ColumnEngine) takePreview() {
	req := c.pending.Swap(nil)
	if req == nil {
		return
	}
	if req.src == nil {
		for j := range c.preview.nodes {
			c.preview.nodes[j].Target = 0
		}
		return
	}
	c.retrigger(&c.preview, columnNode{
		Slot:   req.slot,
		Pitch:  req.pitch,
		Target: req.volume,
		src:    req.src,
	})
}

// Release fades out every lane.
func (c *ColumnEngine) Release() {
	for i := range c.lanes {
		for j := range c.lanes[i].nodes {
			c.lanes[i].nodes[j].Target = 0
		}
	}
}

// Reset stops every node immediately, the preview included, and drops a
// pending preview.
func (c *ColumnEngine) Reset() {
	for i := range c.lanes {
		for j := range c.lanes[i].nodes {
			c.stopNode(&c.lanes[i].nodes[j])
		}
	}
	for j := range c.preview.nodes {
		c.stopNode(&c.preview.nodes[j])
	}
	if req := c.pending.Swap(nil); req != nil && req.src != nil {
		req.src.Close()
	}
}

// Render mixes all sounding nodes into out, overwriting it.
func (c *ColumnEngine) Render(out stepseq.AudioBuffer) {
	n := len(out)
	if n == 0 {
		return
	}
	for ch := range c.mix {
		setSliceLength(&c.mix[ch], n)
		clear(c.mix[ch])
	}
	blockDur := float64(n) / float64(c.sampleRate)
	rise := smoothingAlpha(blockDur, c.riseMs.Load())
	fall := smoothingAlpha(blockDur, c.fallMs.Load())
	c.takePreview()
	for i := range c.lanes {
		for j := range c.lanes[i].nodes {
			if nd := &c.lanes[i].nodes[j]; nd.playing() {
				c.renderNode(nd, n, rise, fall)
			}
		}
	}
	for j := range c.preview.nodes {
		if nd := &c.preview.nodes[j]; nd.playing() {
			c.renderNode(nd, n, rise, fall)
		}
	}
	master := c.master.Load()
	for ch := range c.mix {
		vek32.MulNumber_Inplace(c.mix[ch], master)
	}
	for i := range out {
		out[i] = [2]float32{c.mix[0][i], c.mix[1][i]}
	}
}

func (c *ColumnEngine) renderNode(nd *columnNode, n int, rise, fall float32) {
	alpha := fall
	if nd.Volume < nd.Target {
		alpha = rise
	}
	start := nd.Volume
	end := start + alpha*(nd.Target-start)
	setSliceLength(&c.read, n)
	got, err := stepseq.ReadFull(nd.src, c.read)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			c.alertf(Warning, "sample %s stopped: %v", stepseq.SlotName(nd.Slot), err)
		}
		c.stopNode(nd)
		return
	}
	setSliceLength(&c.ramp, got)
	for i := range c.ramp {
		c.ramp[i] = start + (end-start)*float32(i+1)/float32(n)
	}
	setSliceLength(&c.tmp, got)
	for ch := range c.mix {
		// deinterleave the channel, apply the gain ramp and sum it in
		for i := range c.tmp {
			c.tmp[i] = c.read[i][ch]
		}
		vek32.Mul_Inplace(c.tmp, c.ramp)
		vek32.Add_Inplace(c.mix[ch][:got], c.tmp)
	}
	nd.Volume = end
	if got < n || (nd.Target == 0 && nd.Volume < silence) {
		c.stopNode(nd)
	}
}

func (c *ColumnEngine) stopNode(nd *columnNode) {
	if nd.prep != nil {
		c.preloader.Release(nd.prep)
	} else if nd.src != nil {
		nd.src.Close()
	}
	*nd = columnNode{}
}

// Lane returns the node states of a lane, the active (most recently
// triggered) node first. Only safe on the audio goroutine, or while it is not
// running.
func (c *ColumnEngine) Lane(lane int) LaneState {
	l := &c.lanes[lane]
	return LaneState{Active: l.nodes[l.active].state(), Next: l.nodes[1-l.active].state()}
}

// PreviewState returns the node states of the preview, like Lane.
func (c *ColumnEngine) PreviewState() LaneState {
	l := &c.preview
	return LaneState{Active: l.nodes[l.active].state(), Next: l.nodes[1-l.active].state()}
}

func (c *ColumnEngine) alertf(t AlertType, format string, args ...any) {
	if c.broker != nil {
		c.broker.Alertf(t, format, args...)
	}
}

func (nd *columnNode) playing() bool {
	return nd.src != nil
}

func (nd *columnNode) state() NodeState {
	return NodeState{
		Playing: nd.playing(),
		Slot:    nd.Slot,
		Pitch:   nd.Pitch,
		Volume:  nd.Volume,
		Target:  nd.Target,
		Preload: nd.prep != nil,
	}
}

// smoothingAlpha is the coefficient of the one-pole filter moving a volume
// towards its target over one block: 1 - exp(-blockDur / tau).
func smoothingAlpha(blockDur float64, tauMs float32) float32 {
	return float32(1 - math.Exp(-blockDur/(float64(tauMs)/1000)))
}

func (f *atomicFloat32) Load() float32 {
	return math.Float32frombits(f.bits.Load())
}

func (f *atomicFloat32) Store(v float32) {
	f.bits.Store(math.Float32bits(v))
}

func setSliceLength[S ~[]E, E any](slice *S, length int) {
	if len(*slice) < length {
		*slice = append(*slice, make(S, length-len(*slice))...)
	}
	*slice = (*slice)[:length]
}
