package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortuned/stepseq"
)

// Recorder writes the engine output to a .wav file. The audio goroutine hands
// copies of the rendered blocks to the writer goroutine through the broker;
// if the writer falls behind, blocks are dropped rather than blocking audio.
type Recorder struct {
	broker     *Broker
	sampleRate int

	active  atomic.Bool
	frames  atomic.Int64
	dropped atomic.Int64

	mu       sync.Mutex // serializes Start and Stop
	close    chan struct{}
	finished chan struct{}
	err      error
}

// ErrRecording is returned by Start while a recording is active.
var ErrRecording = errors.New("already recording")

// NewRecorder returns an inactive recorder writing blocks taken from the
// broker's pool.
func NewRecorder(broker *Broker, sampleRate int) *Recorder {
	return &Recorder{broker: broker, sampleRate: sampleRate}
}

// Start starts recording into a new file at path.
func (r *Recorder) Start(path string) error {
	if r.active.Load() {
		return ErrRecording
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create recording: %w", err)
	}
	if err := r.StartWriter(f); err != nil {
		f.Close()
		return err
	}
	return nil
}

// StartWriter starts recording into w, which is closed by Stop if it is an
// io.Closer.
func (r *Recorder) StartWriter(w io.WriteSeeker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active.Load() {
		return ErrRecording
	}
	// blocks left over from the previous recording
	r.drain(r.broker.PutAudioBuffer)
	r.close = make(chan struct{}, 1)
	r.finished = make(chan struct{})
	r.err = nil
	r.frames.Store(0)
	r.dropped.Store(0)
	go r.run(w, r.close, r.finished)
	r.active.Store(true)
	return nil
}

func (r *Recorder) run(w io.WriteSeeker, closeCh <-chan struct{}, finished chan<- struct{}) {
	defer close(finished)
	ww := stepseq.NewWavWriter(w, r.sampleRate)
	var err error
	write := func(b *stepseq.AudioBuffer) {
		if err == nil {
			err = ww.Write(*b)
		}
		r.broker.PutAudioBuffer(b)
	}
loop:
	for {
		select {
		case b := <-r.broker.ToRecorder:
			write(b)
		case <-closeCh:
			break loop
		}
	}
	r.drain(write)
	err = errors.Join(err, ww.Close())
	if c, ok := w.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	r.err = err
}

// Stop ends the recording and waits for the file to be finalized.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active.Swap(false) {
		return nil
	}
	TrySend(r.close, struct{}{})
	select {
	case <-r.finished:
	case <-time.After(5 * time.Second):
		return errors.New("recording writer did not finish")
	}
	return r.err
}

func (r *Recorder) drain(f func(b *stepseq.AudioBuffer)) {
	for {
		select {
		case b := <-r.broker.ToRecorder:
			f(b)
		default:
			return
		}
	}
}

// Active reports whether a recording is in progress.
func (r *Recorder) Active() bool {
	return r.active.Load()
}

// Frames returns how many frames the current or last recording has received.
func (r *Recorder) Frames() int64 {
	return r.frames.Load()
}

// Dropped returns how many blocks were dropped because the writer was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Write hands a copy of buf to the writer goroutine. Called on the audio
// goroutine; it never blocks.
func (r *Recorder) Write(buf stepseq.AudioBuffer) {
	if !r.active.Load() {
		return
	}
	b := r.broker.GetAudioBuffer()
	*b = append(*b, buf...)
	if !TrySend(r.broker.ToRecorder, b) {
		r.broker.PutAudioBuffer(b)
		r.dropped.Add(1)
		return
	}
	r.frames.Add(int64(len(buf)))
}
