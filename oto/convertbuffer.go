package oto

import (
	"encoding/binary"
	"math"

	"github.com/fortuned/stepseq"
)

// AudioBufferToFloat32LE appends the frames to dst as interleaved 32-bit
// little-endian floats, the format the oto player is opened with. Samples
// are clipped to [-1, 1].
func AudioBufferToFloat32LE(buf stepseq.AudioBuffer, dst []byte) []byte {
	n := len(dst)
	dst = setSliceLength(dst, n+len(buf)*frameBytes)
	b := dst[n:]
	for i, frame := range buf {
		binary.LittleEndian.PutUint32(b[i*frameBytes:], math.Float32bits(stepseq.Clamp(frame[0], -1, 1)))
		binary.LittleEndian.PutUint32(b[i*frameBytes+4:], math.Float32bits(stepseq.Clamp(frame[1], -1, 1)))
	}
	return dst
}

func setSliceLength[S ~[]E, E any](slice S, length int) S {
	if len(slice) < length {
		slice = append(slice, make(S, length-len(slice))...)
	}
	return slice[:length]
}
