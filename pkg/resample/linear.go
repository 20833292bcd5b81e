package resample

import (
	"fmt"
	"math"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
)

// LinearFactory builds pure-Go linear interpolation resamplers. It does not remix
// channel layouts; the adapter handles that.
type LinearFactory struct{}

func (LinearFactory) New(in, out audio.AudioFormat) (Primitive, error) {
	if !in.Valid() || !out.Valid() {
		return nil, fmt.Errorf("%w: %v -> %v", ErrInvalidFormat, in, out)
	}
	if in.Channels != out.Channels {
		return nil, fmt.Errorf("linear resampler cannot remix %d -> %d channels", in.Channels, out.Channels)
	}
	return NewLinear(in.SampleRate, out.SampleRate, in.Channels), nil
}

func (LinearFactory) Capabilities() Capabilities {
	return Capabilities{Remix: false}
}

// Linear performs linear interpolation between sample rates, keeping the last
// input frame so consecutive packets join without a seam.
type Linear struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64
	last       []float32 // one sample per channel
	primed     bool
}

// NewLinear creates a new linear resampler
func NewLinear(inputRate, outputRate, channels int) *Linear {
	return &Linear{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		last:       make([]float32, channels),
	}
}

// Resample converts planar input at inputRate to planar output at outputRate.
func (r *Linear) Resample(in [][]float32, frames int) ([][]float32, int, error) {
	if frames <= 0 {
		return nil, 0, nil
	}

	capacity := r.OutputFramesNeeded(frames) + 2
	out := make([][]float32, r.channels)
	for ch := range out {
		out[ch] = make([]float32, 0, capacity)
	}

	if !r.primed {
		r.position = 0
	}

	// On entry position lies in [-1, frames-1]; -1 addresses the carried frame.
	for {
		idx := int(math.Floor(r.position))
		if idx+1 > frames-1 {
			break
		}
		frac := float32(r.position - float64(idx))
		for ch := 0; ch < r.channels; ch++ {
			s1 := r.sample(in, ch, idx)
			s2 := r.sample(in, ch, idx+1)
			out[ch] = append(out[ch], s1+(s2-s1)*frac)
		}
		r.position += r.ratio
	}

	r.position -= float64(frames)
	for ch := 0; ch < r.channels; ch++ {
		r.last[ch] = r.sample(in, ch, frames-1)
	}
	r.primed = true

	return out, len(out[0]), nil
}

func (r *Linear) sample(in [][]float32, ch, idx int) float32 {
	if idx < 0 {
		return r.last[ch]
	}
	if ch >= len(in) || in[ch] == nil || idx >= len(in[ch]) {
		return 0
	}
	return in[ch][idx]
}

// Reset resets the resampler state
func (r *Linear) Reset() {
	r.position = 0
	r.primed = false
	for i := range r.last {
		r.last[i] = 0
	}
}

// OutputFramesNeeded estimates how many frames Resample produces for inputFrames.
func (r *Linear) OutputFramesNeeded(inputFrames int) int {
	return int(math.Ceil(float64(inputFrames) / r.ratio))
}

// Close is a no-op; Linear holds no external resources.
func (r *Linear) Close() {}
