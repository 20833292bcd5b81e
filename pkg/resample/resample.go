// Package resample wraps an external resampling primitive behind an adapter that
// owns its lifecycle and rebuilds it whenever a stream (re)starts.
package resample

import (
	"errors"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
)

var (
	ErrInvalidFormat = errors.New("invalid audio format for resampling")
	ErrUnavailable   = errors.New("resampler required but unavailable")
)

// Primitive converts planar float audio between two fixed formats. It carries
// filter history between calls, so one instance serves exactly one stream.
type Primitive interface {
	// Resample consumes frames frames from in (one slice per input channel) and
	// returns planar output for the output format.
	Resample(in [][]float32, frames int) (out [][]float32, outFrames int, err error)
	Close()
}

// Capabilities describes what a primitive does beyond changing sample rate.
type Capabilities struct {
	// Remix is true when the primitive converts between channel layouts itself.
	Remix bool
}

// Factory constructs primitives for a format pair.
type Factory interface {
	New(in, out audio.AudioFormat) (Primitive, error)
	Capabilities() Capabilities
}
