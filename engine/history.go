package engine

import (
	"sync"
	"sync/atomic"

	"github.com/fortuned/stepseq"
)

type (
	// Snapshot is a full copy of the engine state restored by undo and redo.
	Snapshot struct {
		Table    stepseq.TableState
		Playback stepseq.PlaybackState
		Bank     stepseq.SampleBankState
	}

	// SnapshotTarget is what the history captures snapshots from and applies
	// them to. Engine implements it.
	SnapshotTarget interface {
		Capture() Snapshot
		Apply(s Snapshot) error
	}

	// History is a bounded list of snapshots with a cursor pointing at the
	// snapshot of the current state. Record, Undo, Redo and Clear are meant to
	// be called from the control goroutine; the queries may be called from
	// anywhere.
	History struct {
		target   SnapshotTarget
		capacity int

		mu      sync.Mutex
		entries []Snapshot
		cursor  int // -1 when empty

		applying atomic.Bool
	}
)

// DefaultHistoryCapacity is used when NewHistory gets no capacity.
const DefaultHistoryCapacity = 100

// Equal reports whether two snapshots hold identical state.
func (s *Snapshot) Equal(o *Snapshot) bool {
	return s.Playback == o.Playback && s.Bank == o.Bank && s.Table.Equal(o.Table)
}

// NewHistory returns an empty history holding at most capacity snapshots.
func NewHistory(target SnapshotTarget, capacity int) *History {
	if capacity < 1 {
		capacity = DefaultHistoryCapacity
	}
	return &History{target: target, capacity: capacity, cursor: -1}
}

// Record captures the current state and makes it the newest entry. Nothing
// is recorded if the state equals the entry at the cursor, or if a snapshot
// is being applied. Any redo entries are discarded, and the oldest entry is
// evicted when the history is full. Returns true if an entry was added.
func (h *History) Record() bool {
	if h.applying.Load() {
		return false
	}
	s := h.target.Capture()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cursor >= 0 && h.entries[h.cursor].Equal(&s) {
		return false
	}
	h.entries = h.entries[:h.cursor+1]
	if len(h.entries) >= h.capacity {
		copy(h.entries, h.entries[1:])
		h.entries[len(h.entries)-1] = Snapshot{}
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, s)
	h.cursor = len(h.entries) - 1
	return true
}

// Undo moves the cursor one entry back and applies that snapshot. Returns
// false if there is nothing to undo. An apply error does not move the cursor
// back: with Engine as the target, the error only means some samples could
// not be restored, and the rest of the entry is in effect.
func (h *History) Undo() (bool, error) {
	h.mu.Lock()
	if h.cursor <= 0 {
		h.mu.Unlock()
		return false, nil
	}
	h.cursor--
	s := h.entries[h.cursor]
	h.mu.Unlock()
	return true, h.apply(s)
}

// Redo moves the cursor one entry forward and applies that snapshot. Returns
// false if there is nothing to redo. Errors are handled as in Undo.
func (h *History) Redo() (bool, error) {
	h.mu.Lock()
	if h.cursor < 0 || h.cursor >= len(h.entries)-1 {
		h.mu.Unlock()
		return false, nil
	}
	h.cursor++
	s := h.entries[h.cursor]
	h.mu.Unlock()
	return true, h.apply(s)
}

func (h *History) apply(s Snapshot) error {
	h.applying.Store(true)
	defer h.applying.Store(false)
	return h.target.Apply(s)
}

// CanUndo reports whether there is an entry before the cursor.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor > 0
}

// CanRedo reports whether there is an entry after the cursor.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor >= 0 && h.cursor < len(h.entries)-1
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Cursor returns the index of the current entry, or -1 if empty.
func (h *History) Cursor() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor
}

// Applying reports whether a snapshot is being applied right now.
func (h *History) Applying() bool {
	return h.applying.Load()
}

// Clear drops all entries.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.entries)
	h.entries = h.entries[:0]
	h.cursor = -1
}
