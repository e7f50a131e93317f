// Package pitch implements stepseq.PitchShifter by resampling: a sample
// played at ratio 2 is read twice as fast, one octave up and half as long.
//
// Pitched assets are generated in the background and cached in RAM, keyed by
// slot, sample ID and ratio. Until an asset is ready, Source streams the
// resampled sample directly from the bank decoder.
package pitch

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/faiface/beep"
	"github.com/fortuned/stepseq"
	"github.com/fortuned/stepseq/samplebank"
	"golang.org/x/sync/singleflight"
)

type (
	// Bank is the part of the sample bank the shifter reads from.
	Bank interface {
		Decoder(slot int) (stepseq.Source, error)
		SampleID(slot int) string
		Frames(slot int) int
	}

	Shifter struct {
		bank    Bank
		quality int

		mu    sync.Mutex
		cache map[key]stepseq.PCM
		bytes atomic.Int64

		group   singleflight.Group
		pending sync.WaitGroup
		sem     chan struct{}
	}

	key struct {
		slot  int
		id    string
		ratio float32
	}

	// streamer reads a stepseq.Source as a beep.Streamer.
	streamer struct {
		src  stepseq.Source
		buf  [][2]float32
		err  error
		done bool
	}

	pitchedSource struct {
		stepseq.Source
		under stepseq.Source
	}
)

const (
	// Quality is the beep resampling quality used for pitching.
	Quality = 4
	// MaxConcurrent limits the number of assets generated at the same time.
	MaxConcurrent = 2

	unityTolerance = 0.001
)

// ErrRatio is returned for a ratio outside stepseq.MinPitch..MaxPitch.
var ErrRatio = errors.New("pitch ratio out of range")

// New returns a shifter with an empty cache reading samples from bank.
func New(bank Bank) *Shifter {
	return &Shifter{
		bank:    bank,
		quality: Quality,
		cache:   map[key]stepseq.PCM{},
		sem:     make(chan struct{}, MaxConcurrent),
	}
}

// IsUnity reports whether ratio is close enough to 1 to play the sample
// unchanged.
func IsUnity(ratio float32) bool {
	return math.Abs(float64(ratio)-1) <= unityTolerance
}

func checkRatio(ratio float32) error {
	if ratio < stepseq.MinPitch || ratio > stepseq.MaxPitch {
		return fmt.Errorf("ratio %v: %w", ratio, ErrRatio)
	}
	return nil
}

func (s *Shifter) key(slot int, ratio float32) key {
	return key{slot: slot, id: s.bank.SampleID(slot), ratio: ratio}
}

// Source returns a stream of the sample at the ratio: the cached asset if it
// has been generated, the plain decoder at unity, otherwise a resampling
// stream over the decoder.
func (s *Shifter) Source(slot int, ratio float32) (stepseq.Source, error) {
	if IsUnity(ratio) {
		return s.bank.Decoder(slot)
	}
	if err := checkRatio(ratio); err != nil {
		return nil, err
	}
	if pcm, ok := s.cached(s.key(slot, ratio)); ok {
		return pcm.NewReader(), nil
	}
	src, err := s.bank.Decoder(slot)
	if err != nil {
		return nil, err
	}
	r := beep.ResampleRatio(s.quality, float64(ratio), &streamer{src: src})
	return &pitchedSource{Source: samplebank.NewSource(r), under: src}, nil
}

// Pregenerate starts generating the asset in the background unless it is
// cached or already being generated.
func (s *Shifter) Pregenerate(slot int, ratio float32) {
	if IsUnity(ratio) || checkRatio(ratio) != nil {
		return
	}
	k := s.key(slot, ratio)
	if k.id == "" {
		return
	}
	if _, ok := s.cached(k); ok {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.generate(k)
	}()
}

// Generate returns the pitched asset, generating it on the calling goroutine
// if needed. Concurrent calls for the same asset share one generation.
func (s *Shifter) Generate(slot int, ratio float32) (stepseq.PCM, error) {
	if err := checkRatio(ratio); err != nil {
		return nil, err
	}
	return s.generate(s.key(slot, ratio))
}

func (s *Shifter) generate(k key) (stepseq.PCM, error) {
	if pcm, ok := s.cached(k); ok {
		return pcm, nil
	}
	name := k.id + "@" + strconv.Itoa(k.slot) + "x" + strconv.FormatFloat(float64(k.ratio), 'g', -1, 32)
	v, err, _ := s.group.Do(name, func() (any, error) {
		if pcm, ok := s.cached(k); ok {
			return pcm, nil
		}
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
		pcm, err := s.render(k)
		if err != nil {
			return nil, err
		}
		s.store(k, pcm)
		return pcm, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(stepseq.PCM), nil
}

func (s *Shifter) render(k key) (stepseq.PCM, error) {
	src, err := s.bank.Decoder(k.slot)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	if s.bank.SampleID(k.slot) != k.id {
		return nil, fmt.Errorf("slot %d was reloaded during generation", k.slot)
	}
	var pcm stepseq.PCM
	if n := s.bank.Frames(k.slot); n > 0 {
		pcm = make(stepseq.PCM, 0, int(float64(n)/float64(k.ratio))+1)
	}
	r := samplebank.NewSource(beep.ResampleRatio(s.quality, float64(k.ratio), &streamer{src: src}))
	chunk := make([][2]float32, 4096)
	for {
		n, err := r.Read(chunk)
		pcm = append(pcm, chunk[:n]...)
		if errors.Is(err, io.EOF) {
			return pcm, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *Shifter) cached(k key) (stepseq.PCM, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pcm, ok := s.cache[k]
	return pcm, ok
}

func (s *Shifter) store(k key, pcm stepseq.PCM) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// the slot may have been reloaded or forgotten while generating
	if s.bank.SampleID(k.slot) != k.id {
		return
	}
	if _, ok := s.cache[k]; !ok {
		s.cache[k] = pcm
		s.bytes.Add(pcm.Bytes())
	}
}

// Wait blocks until the background generations have finished.
func (s *Shifter) Wait() {
	s.pending.Wait()
}

// Forget drops the cached assets of a slot. Called when the slot is reloaded
// or unloaded.
func (s *Shifter) Forget(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, pcm := range s.cache {
		if k.slot == slot {
			delete(s.cache, k)
			s.bytes.Add(-pcm.Bytes())
		}
	}
}

// ClearCache drops every cached asset.
func (s *Shifter) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.cache)
	s.bytes.Store(0)
}

// CacheCount returns the number of cached assets.
func (s *Shifter) CacheCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// MemoryUsage returns the bytes held by the cached assets.
func (s *Shifter) MemoryUsage() int64 {
	return s.bytes.Load()
}

func (s *streamer) Stream(samples [][2]float64) (int, bool) {
	if s.done {
		return 0, false
	}
	if cap(s.buf) < len(samples) {
		s.buf = make([][2]float32, len(samples))
	}
	buf := s.buf[:len(samples)]
	n, err := stepseq.ReadFull(s.src, buf)
	for i := 0; i < n; i++ {
		samples[i] = [2]float64{float64(buf[i][0]), float64(buf[i][1])}
	}
	if err != nil || n < len(samples) {
		s.done = true
		if err != nil && !errors.Is(err, io.EOF) {
			s.err = err
		}
	}
	return n, n > 0
}

func (s *streamer) Err() error {
	return s.err
}

func (p *pitchedSource) Close() error {
	return errors.Join(p.Source.Close(), p.under.Close())
}
