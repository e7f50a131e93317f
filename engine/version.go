package engine

import "sync/atomic"

// versionCounter is bumped around every write: odd while a write is in
// progress, even when the state is stable. Readers use it to notice changes;
// they never wait on it, as the consistent data is always available through
// the published views.
type versionCounter struct {
	v atomic.Uint64
}

func (c *versionCounter) begin() { c.v.Add(1) }
func (c *versionCounter) end()   { c.v.Add(1) }

// Load returns the current version.
func (c *versionCounter) Load() uint64 { return c.v.Load() }
