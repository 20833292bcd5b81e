package audio

import (
	"fmt"

	"github.com/qieqieplus/cef-audio-bridge/pkg/log"
)

// SampleEncoding is the on-the-wire representation of a single sample.
type SampleEncoding int

const (
	EncodingUnknown SampleEncoding = iota
	EncodingU8
	EncodingS16
	EncodingS32
	EncodingFloat
	EncodingU8Planar
	EncodingS16Planar
	EncodingS32Planar
	EncodingFloatPlanar
)

func (e SampleEncoding) String() string {
	switch e {
	case EncodingU8:
		return "u8"
	case EncodingS16:
		return "s16"
	case EncodingS32:
		return "s32"
	case EncodingFloat:
		return "float"
	case EncodingU8Planar:
		return "u8_planar"
	case EncodingS16Planar:
		return "s16_planar"
	case EncodingS32Planar:
		return "s32_planar"
	case EncodingFloatPlanar:
		return "float_planar"
	default:
		return "unknown"
	}
}

// IsPlanar reports whether each channel lives in its own buffer.
func (e SampleEncoding) IsPlanar() bool {
	return e >= EncodingU8Planar && e <= EncodingFloatPlanar
}

// Packed returns the interleaved counterpart of a planar encoding.
func (e SampleEncoding) Packed() SampleEncoding {
	if e.IsPlanar() {
		return e - (EncodingU8Planar - EncodingU8)
	}
	return e
}

// Fixed output contract. Changing any of these is a version-level change.
const (
	OutputSampleRate      = 48000
	OutputChannels        = 2
	OutputFramesPerBuffer = 1024
)

// AudioFormat describes one side of the conversion.
type AudioFormat struct {
	SampleRate      int
	Channels        int
	Encoding        SampleEncoding
	FramesPerBuffer int
}

func (f AudioFormat) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %s, %d frames", f.SampleRate, f.Channels, f.Encoding, f.FramesPerBuffer)
}

// Valid reports whether the format can be fed to a resampler at all.
func (f AudioFormat) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Compatible reports whether audio in f can be buffered as other without resampling.
// Encoding differences are handled by repacking and do not count here.
func (f AudioFormat) Compatible(other AudioFormat) bool {
	return f.Valid() && other.Valid() &&
		f.SampleRate == other.SampleRate &&
		f.Channels == other.Channels
}

// FrameSize is the byte width of one interleaved frame.
func (f AudioFormat) FrameSize() int {
	return FrameByteSize(f.Channels, f.Encoding)
}

// OutputFormat returns the format the host pipeline consumes.
func OutputFormat() AudioFormat {
	return AudioFormat{
		SampleRate:      OutputSampleRate,
		Channels:        OutputChannels,
		Encoding:        EncodingFloatPlanar,
		FramesPerBuffer: OutputFramesPerBuffer,
	}
}

// RequestedParameters is what the engine is asked to deliver. The engine may
// ignore it and report something else at stream start.
func RequestedParameters() AudioFormat {
	params := OutputFormat()
	log.Infof("Requested audio parameters: %d Hz, stereo, %d frames", params.SampleRate, params.FramesPerBuffer)
	return params
}

// InputFormat builds the input side from what the engine reported at stream start.
// The engine always delivers float planes.
func InputFormat(sampleRate, channels, framesPerBuffer int) AudioFormat {
	return AudioFormat{
		SampleRate:      sampleRate,
		Channels:        channels,
		Encoding:        EncodingFloatPlanar,
		FramesPerBuffer: framesPerBuffer,
	}
}

// Negotiation is the outcome of comparing the input and output formats.
type Negotiation struct {
	Input              AudioFormat
	Output             AudioFormat
	ConversionRequired bool
}

// Negotiate decides whether input needs resampling to reach output.
// Degenerate formats always require conversion so that resampler construction
// gets the chance to reject them.
func Negotiate(input, output AudioFormat) Negotiation {
	return Negotiation{
		Input:              input,
		Output:             output,
		ConversionRequired: !input.Compatible(output),
	}
}
