package audio

import (
	"encoding/binary"
	"time"
)

const (
	SampleRate          = 44100
	BytesPerSample      = 2
	DefaultFrameSamples = 2048
	maxSample           = 32767
)

// Frame is a block of signed 16-bit mono samples at SampleRate.
type Frame []int16

// Duration is the playback time of the frame.
func (f Frame) Duration() time.Duration {
	return time.Duration(len(f)) * time.Second / SampleRate
}

// Clone returns a copy that does not share the backing array.
func (f Frame) Clone() Frame {
	out := make(Frame, len(f))
	copy(out, f)
	return out
}

// EncodePCM appends f to dst as little-endian bytes.
func EncodePCM(dst []byte, f Frame) []byte {
	for _, s := range f {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// DecodePCM reads len(b)/2 samples from little-endian bytes. A trailing odd
// byte is ignored.
func DecodePCM(b []byte) Frame {
	out := make(Frame, len(b)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*BytesPerSample:]))
	}
	return out
}
