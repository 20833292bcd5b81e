package capture

import (
	"errors"
	"math"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
	"github.com/qieqieplus/cef-audio-bridge/pkg/engine"
	"github.com/qieqieplus/cef-audio-bridge/pkg/log"
	"github.com/qieqieplus/cef-audio-bridge/pkg/metrics"
	"github.com/qieqieplus/cef-audio-bridge/pkg/resample"
)

// Controller receives the engine's audio callbacks for one browser, converts
// every packet to the fixed output format, and appends it to a Channel the
// host drains on its own schedule.
//
// Stream callbacks arrive on one producer goroutine. Volume, mute and the
// query methods may be used from any goroutine, and Close may race the
// producer.
type Controller struct {
	id      string
	engine  engine.Engine
	output  audio.AudioFormat
	adapter *resample.Adapter
	channel *audio.Channel
	metrics *metrics.Metrics
	logger  *logrus.Entry

	state  atomic.Int32
	volume atomic.Uint32 // float32 bits
	muted  atomic.Bool
	closed atomic.Bool
	inFmt  atomic.Pointer[audio.AudioFormat]

	// Producer goroutine only.
	malformedLogged bool
	appendLogged    bool
	scratch         []byte
}

// Option configures a Controller.
type Option func(*Controller)

// WithFactory selects the resampling primitive. The default is resample.LinearFactory.
func WithFactory(factory resample.Factory) Option {
	return func(c *Controller) {
		c.adapter = resample.NewAdapter(factory)
	}
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithID names the controller in logs and chunks.
func WithID(id string) Option {
	return func(c *Controller) {
		c.id = id
	}
}

// WithOutputFormat overrides the output contract. Only tests should need this.
func WithOutputFormat(format audio.AudioFormat) Option {
	return func(c *Controller) {
		c.output = format
	}
}

// New creates an idle controller bound to the given engine handle.
func New(eng engine.Engine, opts ...Option) *Controller {
	c := &Controller{
		id:     "default",
		engine: eng,
		output: audio.OutputFormat(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.adapter == nil {
		c.adapter = resample.NewAdapter(resample.LinearFactory{})
	}
	c.channel = audio.NewChannel(audio.FrameByteSize(c.output.Channels, c.output.Encoding.Packed()))
	c.logger = log.WithField("source", c.id)
	c.volume.Store(math.Float32bits(1.0))
	c.setState(StateIdle)
	return c
}

// ID returns the controller's source ID.
func (c *Controller) ID() string {
	return c.id
}

// Engine returns the engine handle the controller was built with.
func (c *Controller) Engine() engine.Engine {
	return c.engine
}

// Channel returns the buffer the host drains.
func (c *Controller) Channel() *audio.Channel {
	return c.channel
}

// OutputFormat returns the format of the bytes in Channel.
func (c *Controller) OutputFormat() audio.AudioFormat {
	return c.output
}

// InputFormat returns the format recorded at the last stream start, or the
// zero format before any stream has started.
func (c *Controller) InputFormat() audio.AudioFormat {
	if f := c.inFmt.Load(); f != nil {
		return *f
	}
	return audio.AudioFormat{}
}

// Adapter exposes the resampling adapter for inspection.
func (c *Controller) Adapter() *resample.Adapter {
	return c.adapter
}

func (c *Controller) setState(s StreamState) {
	c.state.Store(int32(s))
	if c.metrics != nil {
		c.metrics.StreamState.Set(float64(s))
	}
}

// State returns the current stream state.
func (c *Controller) State() StreamState {
	return StreamState(c.state.Load())
}

// IsActive reports whether packets are currently accepted.
func (c *Controller) IsActive() bool {
	return c.State() == StateActive
}

// ClampVolume limits level to [0, 1]. NaN is treated as silence.
func ClampVolume(level float32) float32 {
	if level != level || level < 0 {
		return 0
	}
	if level > 1 {
		return 1
	}
	return level
}

// SetVolume stores level clamped to [0, 1].
func (c *Controller) SetVolume(level float32) {
	c.volume.Store(math.Float32bits(ClampVolume(level)))
}

// GetVolume returns the current volume level.
func (c *Controller) GetVolume() float32 {
	return math.Float32frombits(c.volume.Load())
}

// SetMuted stores the mute flag.
func (c *Controller) SetMuted(muted bool) {
	c.muted.Store(muted)
}

// IsMuted returns the mute flag.
func (c *Controller) IsMuted() bool {
	return c.muted.Load()
}

// GetAudioParameters answers the engine's format request.
func (c *Controller) GetAudioParameters() audio.AudioFormat {
	return audio.RequestedParameters()
}

// recoverCallback keeps panics from unwinding into the engine's thread.
func (c *Controller) recoverCallback(callback string) {
	if r := recover(); r != nil {
		c.logger.Errorf("Recovered panic in %s: %v", callback, r)
	}
}

// OnStreamStart records the input format and rebuilds the resampler, even when
// the format matches the previous stream.
func (c *Controller) OnStreamStart(format audio.AudioFormat, channels int) {
	defer c.recoverCallback("OnStreamStart")

	if c.closed.Load() {
		return
	}

	c.logger.Infof("Audio stream started: %d Hz, %d channels, %d frames",
		format.SampleRate, channels, format.FramesPerBuffer)

	input := audio.InputFormat(format.SampleRate, channels, format.FramesPerBuffer)
	c.inFmt.Store(&input)
	c.malformedLogged = false
	c.appendLogged = false

	negotiation := audio.Negotiate(input, c.output)
	if negotiation.ConversionRequired {
		c.logger.Debugf("Conversion required: %v -> %v", input, c.output)
	}

	before := c.adapter.Builds()
	err := c.adapter.Rebuild(negotiation.Input, negotiation.Output)
	if c.closed.Load() {
		// Close ran during the start and must win.
		c.adapter.Destroy()
		c.logger.Debug("Audio stream start abandoned: controller closed")
		return
	}
	if err != nil {
		// Degraded but still active; packets are dropped until the next start.
		c.logger.Errorf("Failed to create audio resampler: %v", err)
		if c.metrics != nil {
			c.metrics.ResamplerFailures.Inc()
		}
	}
	if c.metrics != nil {
		c.metrics.StreamStarts.Inc()
		c.metrics.ResamplerBuilds.Add(float64(c.adapter.Builds() - before))
	}

	c.setState(StateActive)
	if c.closed.Load() {
		c.setState(StateIdle)
	}
}

// OnPacket converts one packet and appends it to the channel.
func (c *Controller) OnPacket(planes [][]float32, frames int, pts int64) {
	defer c.recoverCallback("OnPacket")

	if c.metrics != nil {
		c.metrics.PacketsReceived.Inc()
	}

	if c.State() != StateActive || c.closed.Load() {
		c.metrics.Dropped(metrics.ReasonInactive)
		return
	}

	if planes == nil || frames <= 0 {
		if !c.malformedLogged {
			c.logger.Warnf("Discarding malformed audio packet (frames=%d, planes=%d)", frames, len(planes))
			c.malformedLogged = true
		}
		c.metrics.Dropped(metrics.ReasonMalformed)
		return
	}

	// Read volume once so the whole packet sees a single value.
	level := c.GetVolume()
	if c.IsMuted() || level <= 0 {
		c.metrics.Dropped(metrics.ReasonMuted)
		return
	}

	channels := c.output.Channels
	var (
		samples   []float32
		outFrames int
	)

	if c.adapter.Required() {
		out, n := c.adapter.Convert(planes, frames)
		if n == 0 {
			c.metrics.Dropped(metrics.ReasonResampler)
			return
		}
		// Volume follows resampling on this path.
		audio.ApplyVolume(out, n, channels, level)
		samples = audio.GetSamples(n * channels)
		audio.PlanarToInterleaved(out, samples, n, channels)
		outFrames = n
	} else {
		// Formats match; volume is folded into the interleave.
		samples = audio.GetSamples(frames * channels)
		audio.InterleaveScaled(planes, samples, frames, channels, level)
		outFrames = frames
	}

	c.scratch = audio.EncodeFloat32LE(samples, c.scratch)
	audio.PutSamples(samples)

	if err := c.channel.Append(c.scratch); err != nil {
		c.metrics.Dropped(metrics.ReasonBuffer)
		switch {
		case errors.Is(err, audio.ErrChannelClosed):
			c.logger.Debug("Dropping audio packet: channel destroyed")
		case errors.Is(err, audio.ErrBufferExhausted):
			c.logger.Errorf("Dropping audio packet: %v", err)
		case !c.appendLogged:
			c.logger.Warnf("Dropping audio packet: %v", err)
			c.appendLogged = true
		}
		return
	}

	if c.metrics != nil {
		c.metrics.FramesBuffered.Add(float64(outFrames))
		c.metrics.BytesBuffered.Set(float64(c.channel.Len()))
	}
}

// OnStreamStop releases the resampler and discards buffered audio so nothing
// from the closed stream plays against the next one.
func (c *Controller) OnStreamStop() {
	defer c.recoverCallback("OnStreamStop")

	c.logger.Info("Audio stream stopped")

	if c.State() == StateActive {
		c.setState(StateIdle)
	}
	c.adapter.Destroy()
	c.channel.Clear()

	if c.metrics != nil {
		c.metrics.BytesBuffered.Set(0)
	}
}

// OnStreamError stops packet processing until the next stream start.
func (c *Controller) OnStreamError(message string) {
	defer c.recoverCallback("OnStreamError")

	c.logger.Warnf("Audio stream error: %s", message)
	c.setState(StateError)

	if c.metrics != nil {
		c.metrics.StreamErrors.Inc()
	}
}

// Close tears the controller down. It may run concurrently with a packet in
// flight: the channel is destroyed under its own lock and the adapter's
// destroy is idempotent.
func (c *Controller) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.setState(StateIdle)
	c.adapter.Close()
	c.channel.Destroy()

	if c.metrics != nil {
		c.metrics.BytesBuffered.Set(0)
	}
	c.logger.Debug("Audio controller closed")
}
