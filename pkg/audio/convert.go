package audio

import (
	"encoding/binary"
	"math"
)

// bytesPerSample maps an encoding to its per-channel width. Unknown encodings
// fall back to 4 bytes rather than failing.
func bytesPerSample(e SampleEncoding) int {
	switch e {
	case EncodingU8, EncodingU8Planar:
		return 1
	case EncodingS16, EncodingS16Planar:
		return 2
	case EncodingS32, EncodingS32Planar, EncodingFloat, EncodingFloatPlanar:
		return 4
	default:
		return 4
	}
}

// FrameByteSize returns the size of one frame across all channels.
func FrameByteSize(channels int, e SampleEncoding) int {
	if channels <= 0 {
		return 0
	}
	return channels * bytesPerSample(e)
}

// DataSize returns the byte size of frames frames.
func DataSize(frames, channels int, e SampleEncoding) int {
	if frames <= 0 {
		return 0
	}
	return frames * FrameByteSize(channels, e)
}

// ApplyVolume scales every sample in place. A level of exactly 1.0 leaves the
// buffers untouched.
func ApplyVolume(planes [][]float32, frames, channels int, level float32) {
	if planes == nil || level == 1.0 {
		return
	}
	for ch := 0; ch < channels && ch < len(planes); ch++ {
		plane := planes[ch]
		if plane == nil {
			continue
		}
		n := min(frames, len(plane))
		for i := 0; i < n; i++ {
			plane[i] *= level
		}
	}
}

// PlanarToInterleaved writes frames frames from planes into dst, which must hold
// frames*channels samples. Missing planes read as silence.
func PlanarToInterleaved(planes [][]float32, dst []float32, frames, channels int) {
	if dst == nil {
		return
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			var s float32
			if ch < len(planes) && planes[ch] != nil && i < len(planes[ch]) {
				s = planes[ch][i]
			}
			dst[i*channels+ch] = s
		}
	}
}

// InterleavedToPlanar splits src into planes. Nil destination planes are skipped.
func InterleavedToPlanar(src []float32, planes [][]float32, frames, channels int) {
	if src == nil || planes == nil {
		return
	}
	for ch := 0; ch < channels && ch < len(planes); ch++ {
		plane := planes[ch]
		if plane == nil {
			continue
		}
		for i := 0; i < frames; i++ {
			plane[i] = src[i*channels+ch]
		}
	}
}

// InterleaveScaled is PlanarToInterleaved with the volume folded in, so the bypass
// path touches every sample once.
func InterleaveScaled(planes [][]float32, dst []float32, frames, channels int, level float32) {
	if level == 1.0 {
		PlanarToInterleaved(planes, dst, frames, channels)
		return
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			var s float32
			if ch < len(planes) && planes[ch] != nil && i < len(planes[ch]) {
				s = planes[ch][i] * level
			}
			dst[i*channels+ch] = s
		}
	}
}

// MapChannels converts planes to outChannels planes for resamplers that cannot
// remix on their own. Mono is duplicated, surplus channels fold into the last
// output channel by averaging, and missing channels repeat the last input.
func MapChannels(planes [][]float32, frames, outChannels int) [][]float32 {
	in := len(planes)
	if in == outChannels || in == 0 || outChannels <= 0 {
		return planes
	}

	out := make([][]float32, outChannels)
	if in < outChannels {
		for ch := 0; ch < outChannels; ch++ {
			src := planes[min(ch, in-1)]
			dst := make([]float32, frames)
			if src != nil {
				copy(dst, src)
			}
			out[ch] = dst
		}
		return out
	}

	for ch := 0; ch < outChannels-1; ch++ {
		dst := make([]float32, frames)
		if planes[ch] != nil {
			copy(dst, planes[ch])
		}
		out[ch] = dst
	}
	last := make([]float32, frames)
	folded := in - (outChannels - 1)
	for ch := outChannels - 1; ch < in; ch++ {
		src := planes[ch]
		if src == nil {
			continue
		}
		for i := 0; i < frames && i < len(src); i++ {
			last[i] += src[i]
		}
	}
	scale := 1 / float32(folded)
	for i := range last {
		last[i] *= scale
	}
	out[outChannels-1] = last
	return out
}

// EncodeFloat32LE writes samples into dst as little-endian 32-bit floats and
// returns the written slice. dst is grown if it is too small.
func EncodeFloat32LE(samples []float32, dst []byte) []byte {
	need := len(samples) * 4
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]
	for i, s := range samples {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
	return dst
}

// DecodeFloat32LE is the inverse of EncodeFloat32LE. Trailing bytes that do not
// make a full sample are ignored.
func DecodeFloat32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
