// Package oto plays an engine through the default audio device using
// github.com/ebitengine/oto/v3.
package oto

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/fortuned/stepseq"
)

type (
	// Context implements stepseq.AudioContext. oto allows only one context
	// per process.
	Context struct {
		ctx        *oto.Context
		sampleRate int
	}

	// Output is a running playback returned by Context.Play.
	Output struct {
		player *oto.Player
		reader *reader
	}

	// reader pulls audio from the source whenever the oto player needs more
	// bytes. It runs on oto's audio goroutine.
	reader struct {
		source stepseq.AudioSource
		buf    stepseq.AudioBuffer
		bytes  []byte
		pos    int

		err      error
		finished chan struct{}
		once     sync.Once
	}
)

const frameBytes = stepseq.NumChannels * 4

// DefaultBufferSize is the device buffer size used when none is given.
const DefaultBufferSize = 40 * time.Millisecond

// NewContext opens the audio device at the given rate and waits until it is
// ready.
func NewContext(sampleRate int, bufferSize time.Duration) (*Context, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: stepseq.NumChannels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   bufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &Context{ctx: ctx, sampleRate: sampleRate}, nil
}

func (c *Context) SampleRate() int {
	return c.sampleRate
}

// Play starts pulling audio from source. The source is called from oto's
// goroutine, which becomes the audio goroutine of the engine.
func (c *Context) Play(source stepseq.AudioSource) stepseq.CloserWaiter {
	r := newReader(source)
	p := c.ctx.NewPlayer(r)
	p.Play()
	return &Output{player: p, reader: r}
}

// Close suspends the device. oto contexts cannot be destroyed.
func (c *Context) Close() error {
	if err := c.ctx.Suspend(); err != nil {
		return fmt.Errorf("cannot suspend oto context: %w", err)
	}
	return nil
}

// Close stops the playback.
func (o *Output) Close() error {
	o.player.Pause()
	o.reader.finish(nil)
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}

// Wait blocks until the playback has stopped, either by Close or because
// the source returned an error.
func (o *Output) Wait() {
	<-o.reader.finished
}

// Err returns the error the source stopped with, if any.
func (o *Output) Err() error {
	<-o.reader.finished
	return o.reader.err
}

func newReader(source stepseq.AudioSource) *reader {
	return &reader{source: source, finished: make(chan struct{})}
}

func (r *reader) Read(b []byte) (int, error) {
	select {
	case <-r.finished:
		return 0, io.EOF
	default:
	}
	if r.pos >= len(r.bytes) {
		frames := max(len(b)/frameBytes, 1)
		r.buf = setSliceLength(r.buf, frames)
		clear(r.buf)
		if err := r.source(r.buf); err != nil {
			r.finish(err)
			return 0, io.EOF
		}
		r.bytes = AudioBufferToFloat32LE(r.buf, r.bytes[:0])
		r.pos = 0
	}
	n := copy(b, r.bytes[r.pos:])
	r.pos += n
	return n, nil
}

func (r *reader) finish(err error) {
	r.once.Do(func() {
		if err != nil && !errors.Is(err, io.EOF) {
			r.err = err
		}
		close(r.finished)
	})
}
