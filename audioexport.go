package stepseq

import (
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WavWriter incrementally encodes stereo audio as a 16-bit PCM .wav file. The
// header is finalized by Close, which needs the writer to be seekable.
type WavWriter struct {
	enc *wav.Encoder
	buf *audio.IntBuffer
}

const wavBitDepth = 16

// NewWavWriter starts a .wav stream at the given sample rate.
func NewWavWriter(w io.WriteSeeker, sampleRate int) *WavWriter {
	return &WavWriter{
		enc: wav.NewEncoder(w, sampleRate, wavBitDepth, NumChannels, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: NumChannels, SampleRate: sampleRate},
			SourceBitDepth: wavBitDepth,
		},
	}
}

// Write appends the frames to the file.
func (w *WavWriter) Write(buffer AudioBuffer) error {
	w.buf.Data = w.buf.Data[:0]
	for _, frame := range buffer {
		w.buf.Data = append(w.buf.Data, toInt16(frame[0]), toInt16(frame[1]))
	}
	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("could not write wav frames: %w", err)
	}
	return nil
}

// Close writes the final header. It does not close the underlying writer.
func (w *WavWriter) Close() error {
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("could not finalize wav: %w", err)
	}
	return nil
}

// WriteWav encodes a whole buffer as a .wav file.
func WriteWav(w io.WriteSeeker, buffer AudioBuffer, sampleRate int) error {
	ww := NewWavWriter(w, sampleRate)
	if err := ww.Write(buffer); err != nil {
		return err
	}
	return ww.Close()
}

func toInt16(v float32) int {
	return Clamp(int(v*math.MaxInt16), math.MinInt16, math.MaxInt16)
}
