package resample

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
	"github.com/qieqieplus/cef-audio-bridge/pkg/log"
)

// Adapter owns at most one Primitive. Rebuild and Convert run on the producer
// goroutine; Destroy may also be called from a teardown goroutine.
type Adapter struct {
	factory Factory

	mutex     sync.Mutex
	primitive Primitive
	input     audio.AudioFormat
	output    audio.AudioFormat
	required  bool
	remap     bool
	closed    bool

	builds atomic.Uint64
}

// NewAdapter creates an adapter with no primitive allocated.
func NewAdapter(factory Factory) *Adapter {
	if factory == nil {
		factory = LinearFactory{}
	}
	return &Adapter{factory: factory}
}

// Rebuild destroys any existing primitive and builds one for the new format
// pair. Compatible formats allocate nothing. On failure the adapter is left
// requiring conversion with no primitive, and Convert produces nothing. After
// Close it allocates nothing and returns ErrUnavailable.
func (a *Adapter) Rebuild(input, output audio.AudioFormat) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.destroyLocked()
	if a.closed {
		return ErrUnavailable
	}

	negotiation := audio.Negotiate(input, output)
	a.input = input
	a.output = output
	a.required = negotiation.ConversionRequired
	a.remap = false

	if !a.required {
		return nil
	}

	if !input.Valid() || !output.Valid() {
		return fmt.Errorf("%w: %v -> %v", ErrInvalidFormat, input, output)
	}

	// A primitive that cannot remix resamples at the input channel count and the
	// adapter maps channels afterwards.
	target := output
	if input.Channels != output.Channels && !a.factory.Capabilities().Remix {
		target.Channels = input.Channels
		a.remap = true
	}

	a.builds.Add(1)
	primitive, err := a.factory.New(input, target)
	if err != nil {
		return fmt.Errorf("create resampler: %w", err)
	}
	a.primitive = primitive

	log.Infof("Created resampler: %d Hz -> %d Hz, %d -> %d channels",
		input.SampleRate, output.SampleRate, input.Channels, output.Channels)
	return nil
}

// Convert resamples one packet. It returns zero frames for empty input, when the
// primitive is missing, or when the primitive fails.
func (a *Adapter) Convert(planes [][]float32, frames int) ([][]float32, int) {
	if frames <= 0 || len(planes) == 0 {
		return nil, 0
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.primitive == nil {
		return nil, 0
	}

	out, outFrames, err := a.primitive.Resample(planes, frames)
	if err != nil {
		log.Warnf("Resampler error: %v", err)
		return nil, 0
	}
	if outFrames <= 0 {
		return nil, 0
	}
	if a.remap {
		out = audio.MapChannels(out, outFrames, a.output.Channels)
	}
	return out, outFrames
}

// Destroy releases the primitive. Safe to call repeatedly and with none allocated.
func (a *Adapter) Destroy() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.destroyLocked()
}

// Close releases the primitive and refuses every later Rebuild.
func (a *Adapter) Close() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.closed = true
	a.destroyLocked()
}

func (a *Adapter) destroyLocked() {
	if a.primitive != nil {
		a.primitive.Close()
		a.primitive = nil
	}
}

// Active reports whether a primitive is allocated.
func (a *Adapter) Active() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.primitive != nil
}

// Required reports whether the last Rebuild decided conversion is needed.
func (a *Adapter) Required() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.required
}

// Degraded reports conversion required but no primitive available.
func (a *Adapter) Degraded() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.required && a.primitive == nil
}

// Builds counts construction attempts since the adapter was created.
func (a *Adapter) Builds() uint64 {
	return a.builds.Load()
}
