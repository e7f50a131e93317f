/*
Package engine contains the real-time sequencing and playback core: the
timeline Table, the playback Scheduler, the per-lane ColumnEngine, the
background Preloader and the undo/redo History, tied together by the Engine
context object.

Two goroutines matter. The audio goroutine calls Engine.Process once per
audio block; it advances the scheduler, retriggers lanes and mixes. The
preload goroutine, started by Engine.Start, decodes the samples of the
upcoming step into RAM. Everything else (table edits, playback commands,
undo/redo) is called from a single control goroutine, typically the UI.

The audio goroutine never takes a lock. Table and sample bank readers load
immutable views published through atomic pointers, playback state is swapped
with compare-and-swap, and prepared preload buffers are handed over by an
atomic pointer exchange.
*/
package engine
