package stepseq

import (
	"errors"
	"io"
)

type (
	// AudioBuffer is a buffer of stereo audio frames, each frame being
	// [left, right].
	AudioBuffer [][2]float32

	// AudioSource fills the buffer with audio. It is called on the audio
	// goroutine.
	AudioSource func(buf AudioBuffer) error

	// AudioContext is the real-time audio output. Play starts pulling audio
	// from the source until the returned CloserWaiter is closed.
	AudioContext interface {
		Play(source AudioSource) CloserWaiter
		Close() error
	}

	// CloserWaiter is returned by AudioContext.Play. Close stops the playback,
	// Wait blocks until the playback has stopped.
	CloserWaiter interface {
		io.Closer
		Wait()
	}

	// Source streams stereo frames at the engine sample rate. Read fills dst
	// and returns the number of frames written; io.EOF marks the end of the
	// stream and may be returned together with a short read.
	Source interface {
		Read(dst [][2]float32) (int, error)
		Close() error
	}

	// PCM is decoded audio kept in RAM.
	PCM [][2]float32

	// PCMReader plays a PCM buffer from the start.
	PCMReader struct {
		pcm PCM
		pos int
	}

	concatSource struct {
		head, tail Source
	}
)

// Bytes returns the memory footprint of the frames.
func (p PCM) Bytes() int64 {
	return int64(len(p)) * 2 * 4
}

// NewReader returns a Source reading the PCM from the start.
func (p PCM) NewReader() *PCMReader {
	return &PCMReader{pcm: p}
}

func (r *PCMReader) Read(dst [][2]float32) (int, error) {
	n := copy(dst, r.pcm[r.pos:])
	r.pos += n
	if r.pos >= len(r.pcm) {
		return n, io.EOF
	}
	return n, nil
}

func (r *PCMReader) Close() error { return nil }

// ReadFull reads from src until dst is full or the source ends. It returns
// io.EOF only if the source ended before any frame was read.
func ReadFull(src Source, dst [][2]float32) (int, error) {
	total := 0
	for total < len(dst) {
		n, err := src.Read(dst[total:])
		total += n
		if errors.Is(err, io.EOF) {
			if total == 0 {
				return 0, io.EOF
			}
			return total, nil
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrNoProgress
		}
	}
	return total, nil
}

// Concat returns a Source playing head and then tail. A nil tail is allowed.
func Concat(head, tail Source) Source {
	if tail == nil {
		return head
	}
	return &concatSource{head: head, tail: tail}
}

func (c *concatSource) Read(dst [][2]float32) (int, error) {
	total := 0
	if c.head != nil {
		n, err := c.head.Read(dst)
		total = n
		if err == nil {
			return total, nil
		}
		if !errors.Is(err, io.EOF) {
			return total, err
		}
		c.head.Close()
		c.head = nil
	}
	if total == len(dst) {
		return total, nil
	}
	n, err := c.tail.Read(dst[total:])
	return total + n, err
}

func (c *concatSource) Close() error {
	var err error
	if c.head != nil {
		err = c.head.Close()
	}
	return errors.Join(err, c.tail.Close())
}
