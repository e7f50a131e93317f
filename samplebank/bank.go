// Package samplebank implements stepseq.SampleBank on top of .wav and .mp3
// files. The file bytes are kept in RAM and decoded on demand, so opening a
// decoder never touches the disk; files with a rate different from the engine
// rate are resampled while decoding.
package samplebank

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fortuned/stepseq"
	"github.com/google/uuid"
)

type (
	// Bank holds up to stepseq.MaxSampleSlots samples. Writers (Load, Unload,
	// SetSettings, ApplyState) are serialized by a mutex and publish an
	// immutable view; readers, including the audio and preload goroutines,
	// only load the view.
	Bank struct {
		sampleRate int

		mu       sync.Mutex
		store    map[string]*asset // every asset seen, by sample ID
		observer func(slot int)

		view atomic.Pointer[view]
	}

	asset struct {
		id     string
		path   string
		format format
		data   []byte
		rate   int
		frames int // at the file rate, -1 if unknown
	}

	view struct {
		state  stepseq.SampleBankState
		assets [stepseq.MaxSampleSlots]*asset
	}
)

// New returns an empty bank decoding at sampleRate.
func New(sampleRate int) *Bank {
	b := &Bank{sampleRate: sampleRate, store: map[string]*asset{}}
	b.view.Store(&view{})
	return b
}

// Observe registers f to be called with the slot after a slot has been
// loaded, unloaded or replaced. Used to drop cached assets derived from the
// previous sample.
func (b *Bank) Observe(f func(slot int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = f
}

// Load reads the file at path into slot with a fresh sample ID and default
// settings, replacing whatever was in the slot.
func (b *Bank) Load(slot int, path string) (stepseq.Sample, error) {
	return b.LoadWithID(slot, path, uuid.NewString())
}

// LoadWithID is Load with a given sample ID, used when restoring a project.
// If the ID is already in the store, the stored bytes are reused.
func (b *Bank) LoadWithID(slot int, path, id string) (stepseq.Sample, error) {
	if err := checkSlot(slot); err != nil {
		return stepseq.Sample{}, err
	}
	a, err := b.asset(path, id)
	if err != nil {
		return stepseq.Sample{}, err
	}
	smp := stepseq.Sample{
		Loaded:   true,
		ID:       a.id,
		Path:     path,
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Settings: stepseq.DefaultSampleSettings(),
	}
	b.mu.Lock()
	b.store[a.id] = a
	b.update(func(v *view) {
		v.state.Samples[slot] = smp
		v.assets[slot] = a
	})
	f := b.observer
	b.mu.Unlock()
	if f != nil {
		f(slot)
	}
	return smp, nil
}

func (b *Bank) asset(path, id string) (*asset, error) {
	b.mu.Lock()
	a, ok := b.store[id]
	b.mu.Unlock()
	if ok {
		return a, nil
	}
	return readAsset(path, id)
}

func readAsset(path, id string) (*asset, error) {
	var f format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		f = formatWav
	case ".mp3":
		f = formatMp3
	default:
		return nil, fmt.Errorf("cannot load %s: %w", path, ErrFormat)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read sample: %w", err)
	}
	rate, frames, err := info(f, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if rate <= 0 {
		return nil, fmt.Errorf("%s has sample rate %d: %w", path, rate, ErrFormat)
	}
	return &asset{id: id, path: path, format: f, data: data, rate: rate, frames: frames}, nil
}

// OpenFile decodes the file at path without putting it into a slot, at the
// engine rate and played pitch times faster. Used for auditioning files.
func (b *Bank) OpenFile(path string, pitch float32) (stepseq.Source, error) {
	if pitch < stepseq.MinPitch || pitch > stepseq.MaxPitch {
		return nil, fmt.Errorf("pitch %v: %w", pitch, stepseq.ErrPitch)
	}
	a, err := readAsset(path, "")
	if err != nil {
		return nil, err
	}
	return a.openAt(b.sampleRate, float64(pitch))
}

// Unload empties the slot. The bytes stay in the store, so undoing the
// unload does not read the file again.
func (b *Bank) Unload(slot int) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	b.mu.Lock()
	b.update(func(v *view) {
		v.state.Samples[slot] = stepseq.Sample{}
		v.assets[slot] = nil
	})
	f := b.observer
	b.mu.Unlock()
	if f != nil {
		f(slot)
	}
	return nil
}

// SetSettings changes the default volume (0..1) and pitch of a loaded sample.
func (b *Bank) SetSettings(slot int, volume, pitch float32) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	settings := stepseq.SampleSettings{Volume: volume, Pitch: pitch}
	if err := settings.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.view.Load().state.Samples[slot].Loaded {
		return fmt.Errorf("slot %d: %w", slot, stepseq.ErrNotLoaded)
	}
	b.update(func(v *view) {
		v.state.Samples[slot].Settings = settings
	})
	return nil
}

// update copies the current view, lets f modify the copy and publishes it.
// Must be called with mu held.
func (b *Bank) update(f func(v *view)) {
	v := *b.view.Load()
	f(&v)
	b.view.Store(&v)
}

// Sample returns the description of the slot.
func (b *Bank) Sample(slot int) (stepseq.Sample, bool) {
	if checkSlot(slot) != nil {
		return stepseq.Sample{}, false
	}
	smp := b.view.Load().state.Samples[slot]
	return smp, smp.Loaded
}

// SampleID returns the ID of the sample in the slot, or "" if empty.
func (b *Bank) SampleID(slot int) string {
	smp, _ := b.Sample(slot)
	return smp.ID
}

func (b *Bank) LoadedCount() int {
	return b.view.Load().state.LoadedCount()
}

func (b *Bank) SampleRate() int {
	return b.sampleRate
}

func (b *Bank) IsLoaded(slot int) bool {
	_, ok := b.Sample(slot)
	return ok
}

// Decoder opens a new stream of the sample at the engine rate.
func (b *Bank) Decoder(slot int) (stepseq.Source, error) {
	if err := checkSlot(slot); err != nil {
		return nil, err
	}
	a := b.view.Load().assets[slot]
	if a == nil {
		return nil, fmt.Errorf("slot %d: %w", slot, stepseq.ErrNotLoaded)
	}
	return a.open(b.sampleRate)
}

// DefaultSettings returns the settings of the sample in slot, and whether
// the slot is loaded.
func (b *Bank) DefaultSettings(slot int) (stepseq.SampleSettings, bool) {
	smp, ok := b.Sample(slot)
	return smp.Settings, ok
}

// Frames returns the length of the sample at the engine rate, or -1.
func (b *Bank) Frames(slot int) int {
	if checkSlot(slot) != nil {
		return -1
	}
	a := b.view.Load().assets[slot]
	if a == nil || a.frames < 0 {
		return -1
	}
	return int(int64(a.frames) * int64(b.sampleRate) / int64(a.rate))
}

// State returns the loaded samples and their settings, without audio data.
func (b *Bank) State() stepseq.SampleBankState {
	return b.view.Load().state
}

// ApplyState restores a captured state. Samples whose ID is in the store are
// restored without I/O; others are read again from their path and get a new
// ID if they have none. Slots that cannot be restored, or whose settings are
// out of range, are left empty and reported in the returned error; the rest
// of the state is still applied.
func (b *Bank) ApplyState(s stepseq.SampleBankState) error {
	var errs []error
	var v view
	var changed []int
	b.mu.Lock()
	cur := b.view.Load()
	for slot, smp := range s.Samples {
		if !smp.Loaded {
			continue
		}
		if err := smp.Settings.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("slot %s: %w", stepseq.SlotName(slot), err))
			continue
		}
		if smp.ID == "" {
			smp.ID = uuid.NewString()
		}
		a, ok := b.store[smp.ID]
		if !ok {
			var err error
			if a, err = readAsset(smp.Path, smp.ID); err != nil {
				errs = append(errs, fmt.Errorf("slot %s: %w", stepseq.SlotName(slot), err))
				continue
			}
			b.store[smp.ID] = a
		}
		v.state.Samples[slot] = smp
		v.assets[slot] = a
	}
	for slot := range v.assets {
		if v.assets[slot] != cur.assets[slot] {
			changed = append(changed, slot)
		}
	}
	b.view.Store(&v)
	f := b.observer
	b.mu.Unlock()
	if f != nil {
		for _, slot := range changed {
			f(slot)
		}
	}
	return errors.Join(errs...)
}

// Forget drops stored bytes that no slot uses. Undo entries referring to a
// forgotten sample read it again from its path.
func (b *Bank) Forget() {
	b.mu.Lock()
	defer b.mu.Unlock()
	used := map[string]bool{}
	for _, a := range b.view.Load().assets {
		if a != nil {
			used[a.id] = true
		}
	}
	for id := range b.store {
		if !used[id] {
			delete(b.store, id)
		}
	}
}

// StoreBytes returns the memory held by the stored file bytes.
func (b *Bank) StoreBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for _, a := range b.store {
		n += int64(len(a.data))
	}
	return n
}

func checkSlot(slot int) error {
	if slot < 0 || slot >= stepseq.MaxSampleSlots {
		return fmt.Errorf("slot %d: %w", slot, stepseq.ErrSampleSlot)
	}
	return nil
}
