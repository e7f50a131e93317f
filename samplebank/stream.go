package samplebank

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/faiface/beep"
	"github.com/fortuned/stepseq"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

type (
	format int

	// wavStreamer decodes a .wav file chunk by chunk. Mono files are played
	// on both channels, channels beyond the second are ignored.
	wavStreamer struct {
		dec      *wav.Decoder
		buf      *audio.IntBuffer
		channels int
		scale    float64
		offset   float64
		pending  []int
		err      error
	}

	// mp3Streamer decodes an .mp3 file. go-mp3 always outputs 16-bit
	// little-endian stereo.
	mp3Streamer struct {
		dec *mp3.Decoder
		raw []byte
		err error
	}

	// source adapts a beep.Streamer to stepseq.Source.
	source struct {
		s   beep.Streamer
		buf [][2]float64
	}
)

const (
	formatWav format = iota
	formatMp3
)

// ResampleQuality is passed to beep.ResampleRatio when a file is not played
// at the engine rate.
const ResampleQuality = 4

const chunkFrames = 1024

// ErrFormat is returned for files that are neither .wav nor .mp3, or whose
// headers cannot be decoded.
var ErrFormat = errors.New("unsupported audio format")

// info opens the file once to validate it and returns its rate and its
// length in frames at that rate, -1 if unknown.
func info(f format, data []byte) (rate int, frames int, err error) {
	switch f {
	case formatWav:
		dec := wav.NewDecoder(bytes.NewReader(data))
		if !dec.IsValidFile() {
			return 0, 0, fmt.Errorf("invalid wav file: %w", ErrFormat)
		}
		if err := dec.FwdToPCM(); err != nil {
			return 0, 0, fmt.Errorf("could not read wav header: %w", err)
		}
		format := dec.Format()
		depth := int(dec.SampleBitDepth())
		if depth == 0 || format.NumChannels == 0 {
			return 0, 0, fmt.Errorf("wav file has no bit depth or channels: %w", ErrFormat)
		}
		bytesPerFrame := ((depth-1)/8 + 1) * format.NumChannels
		return format.SampleRate, int(dec.PCMLen()) / bytesPerFrame, nil
	case formatMp3:
		dec, err := mp3.NewDecoder(bytes.NewReader(data))
		if err != nil {
			return 0, 0, fmt.Errorf("could not decode mp3: %w", err)
		}
		frames := -1
		if l := dec.Length(); l > 0 {
			frames = int(l / 4)
		}
		return dec.SampleRate(), frames, nil
	}
	return 0, 0, ErrFormat
}

// open returns a fresh Source of the asset at the given engine rate.
func (a *asset) open(sampleRate int) (stepseq.Source, error) {
	return a.openAt(sampleRate, 1)
}

// openAt is open for a source played pitch times faster.
func (a *asset) openAt(sampleRate int, pitch float64) (stepseq.Source, error) {
	var s beep.Streamer
	switch a.format {
	case formatWav:
		dec := wav.NewDecoder(bytes.NewReader(a.data))
		if err := dec.FwdToPCM(); err != nil {
			return nil, fmt.Errorf("could not read wav header: %w", err)
		}
		s = newWavStreamer(dec)
	case formatMp3:
		dec, err := mp3.NewDecoder(bytes.NewReader(a.data))
		if err != nil {
			return nil, fmt.Errorf("could not decode mp3: %w", err)
		}
		s = &mp3Streamer{dec: dec, raw: make([]byte, chunkFrames*4)}
	default:
		return nil, ErrFormat
	}
	if ratio := float64(a.rate) / float64(sampleRate) * pitch; ratio != 1 {
		s = beep.ResampleRatio(ResampleQuality, ratio, s)
	}
	return NewSource(s), nil
}

func newWavStreamer(dec *wav.Decoder) *wavStreamer {
	format := dec.Format()
	depth := int(dec.SampleBitDepth())
	w := &wavStreamer{
		dec:      dec,
		channels: format.NumChannels,
		buf: &audio.IntBuffer{
			Format: format,
			Data:   make([]int, chunkFrames*format.NumChannels),
		},
	}
	// 8-bit wav is unsigned, everything else is signed
	if depth == 8 {
		w.scale, w.offset = 1.0/128, -128
	} else {
		w.scale = 1 / float64(int(1)<<(depth-1))
	}
	return w
}

func (w *wavStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for n < len(samples) {
		if len(w.pending) < w.channels {
			if w.err != nil {
				break
			}
			m, err := w.dec.PCMBuffer(w.buf)
			if err != nil {
				w.err = err
			}
			if m <= 0 {
				if w.err == nil {
					w.err = io.EOF
				}
				break
			}
			w.pending = w.buf.Data[:m-m%w.channels]
			continue
		}
		l := (float64(w.pending[0]) + w.offset) * w.scale
		r := l
		if w.channels > 1 {
			r = (float64(w.pending[1]) + w.offset) * w.scale
		}
		samples[n] = [2]float64{l, r}
		w.pending = w.pending[w.channels:]
		n++
	}
	return n, n > 0 || w.err == nil
}

func (w *wavStreamer) Err() error {
	if errors.Is(w.err, io.EOF) {
		return nil
	}
	return w.err
}

func (m *mp3Streamer) Stream(samples [][2]float64) (n int, ok bool) {
	if m.err != nil {
		return 0, false
	}
	for n < len(samples) {
		want := min(len(samples)-n, chunkFrames) * 4
		read, err := io.ReadFull(m.dec, m.raw[:want])
		for i := 0; i+4 <= read; i += 4 {
			l := int16(uint16(m.raw[i]) | uint16(m.raw[i+1])<<8)
			r := int16(uint16(m.raw[i+2]) | uint16(m.raw[i+3])<<8)
			samples[n] = [2]float64{float64(l) / 32768, float64(r) / 32768}
			n++
		}
		if err != nil {
			m.err = err
			break
		}
	}
	return n, n > 0
}

func (m *mp3Streamer) Err() error {
	if errors.Is(m.err, io.EOF) || errors.Is(m.err, io.ErrUnexpectedEOF) {
		return nil
	}
	return m.err
}

// NewSource wraps a beep.Streamer as a stepseq.Source.
func NewSource(s beep.Streamer) stepseq.Source {
	return &source{s: s}
}

func (s *source) Read(dst [][2]float32) (int, error) {
	if s.s == nil {
		return 0, io.EOF
	}
	if cap(s.buf) < len(dst) {
		s.buf = make([][2]float64, len(dst))
	}
	buf := s.buf[:len(dst)]
	n, ok := s.s.Stream(buf)
	for i := 0; i < n; i++ {
		dst[i] = [2]float32{float32(buf[i][0]), float32(buf[i][1])}
	}
	if !ok {
		err := s.s.Err()
		s.s = nil
		if err != nil {
			return n, err
		}
		return n, io.EOF
	}
	return n, nil
}

func (s *source) Close() error {
	s.s = nil
	return nil
}
