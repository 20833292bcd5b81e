package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
	"github.com/qieqieplus/cef-audio-bridge/pkg/log"
)

var ErrEngineRunning = errors.New("tone engine already running")

// ToneConfig describes the stream the simulated browser produces.
type ToneConfig struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	Frequency       float64 // Hz
	Amplitude       float32 // 0..1
}

// DefaultToneConfig is a 440 Hz stereo tone at the engine's preferred rate.
func DefaultToneConfig() ToneConfig {
	return ToneConfig{
		SampleRate:      44100,
		Channels:        2,
		FramesPerBuffer: 441,
		Frequency:       440,
		Amplitude:       0.5,
	}
}

// ToneEngine stands in for the off-screen browser: it plays a sine tone into
// every attached handler from a single producer thread at real-time cadence.
type ToneEngine struct {
	registry *Registry

	mu      sync.Mutex
	config  ToneConfig
	thread  *Thread
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	phase   float64
	pts     int64
}

// NewToneEngine creates a stopped tone engine
func NewToneEngine(config ToneConfig) *ToneEngine {
	return &ToneEngine{
		registry: NewRegistry(),
		config:   config,
	}
}

func (e *ToneEngine) Name() string { return "tone" }

// Attach registers a handler. Handlers attached while running join at the next
// restart.
func (e *ToneEngine) Attach(browserID string, handler AudioHandler) error {
	return e.registry.Register(browserID, handler)
}

func (e *ToneEngine) Detach(browserID string) {
	e.registry.Unregister(browserID)
}

// Registry exposes routing for callers that dispatch events by hand.
func (e *ToneEngine) Registry() *Registry {
	return e.registry
}

// Config returns the current tone configuration
func (e *ToneEngine) Config() ToneConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

// Running reports whether the producer loop is active
func (e *ToneEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start begins the stream: every handler gets OnStreamStart, then packets.
func (e *ToneEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrEngineRunning
	}

	e.thread = NewThread()
	e.thread.Start()

	cfg := e.config
	format := audio.InputFormat(cfg.SampleRate, cfg.Channels, cfg.FramesPerBuffer)
	e.thread.Execute(func() {
		for _, id := range e.registry.IDs() {
			if h := e.registry.Lookup(id); h != nil {
				requested := h.GetAudioParameters()
				log.Debugf("Browser %s requested %v, delivering %v", id, requested, format)
			}
			e.registry.DispatchStreamStarted(id, format, cfg.Channels)
		}
	})

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	go e.run(loopCtx, e.thread, cfg, e.done)

	log.Infof("Tone engine started: %v, %.0f Hz tone", format, cfg.Frequency)
	return nil
}

func (e *ToneEngine) run(ctx context.Context, thread *Thread, cfg ToneConfig, done chan struct{}) {
	defer close(done)

	if cfg.SampleRate <= 0 || cfg.FramesPerBuffer <= 0 {
		log.Warnf("Tone engine has no valid cadence (%d Hz, %d frames); not producing packets",
			cfg.SampleRate, cfg.FramesPerBuffer)
		<-ctx.Done()
		return
	}

	period := time.Duration(float64(time.Second) * float64(cfg.FramesPerBuffer) / float64(cfg.SampleRate))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			planes, pts := e.nextPacket(cfg)
			thread.Execute(func() {
				for _, id := range e.registry.IDs() {
					e.registry.DispatchPacket(id, planes, cfg.FramesPerBuffer, pts)
				}
			})
		}
	}
}

// nextPacket synthesises one buffer of the tone, identical on every channel.
func (e *ToneEngine) nextPacket(cfg ToneConfig) ([][]float32, int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	planes := GenerateTone(cfg, e.phase)
	step := 2 * math.Pi * cfg.Frequency / float64(cfg.SampleRate)
	e.phase = math.Mod(e.phase+step*float64(cfg.FramesPerBuffer), 2*math.Pi)

	pts := e.pts
	e.pts += int64(cfg.FramesPerBuffer) * int64(time.Second/time.Microsecond) / int64(cfg.SampleRate)
	return planes, pts
}

// GenerateTone returns one planar buffer of a sine starting at phase.
func GenerateTone(cfg ToneConfig, phase float64) [][]float32 {
	if cfg.Channels <= 0 || cfg.FramesPerBuffer <= 0 || cfg.SampleRate <= 0 {
		return nil
	}
	step := 2 * math.Pi * cfg.Frequency / float64(cfg.SampleRate)
	first := make([]float32, cfg.FramesPerBuffer)
	for i := range first {
		first[i] = cfg.Amplitude * float32(math.Sin(phase+step*float64(i)))
	}
	planes := make([][]float32, cfg.Channels)
	planes[0] = first
	for ch := 1; ch < cfg.Channels; ch++ {
		planes[ch] = append([]float32(nil), first...)
	}
	return planes
}

// Stop ends the stream: the producer loop exits and every handler gets
// OnStreamStop on the producer thread.
func (e *ToneEngine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel, done, thread := e.cancel, e.done, e.thread
	e.mu.Unlock()

	cancel()
	<-done

	thread.Execute(func() {
		for _, id := range e.registry.IDs() {
			e.registry.DispatchStreamStopped(id)
		}
	})
	thread.Stop()

	log.Info("Tone engine stopped")
}

// Restart stops the stream, swaps the format, and starts it again.
func (e *ToneEngine) Restart(ctx context.Context, config ToneConfig) error {
	e.Stop()

	e.mu.Lock()
	e.config = config
	e.phase = 0
	e.mu.Unlock()

	return e.Start(ctx)
}

// Fail reports a delivery fault to every handler, as the engine would on a
// broken audio device. The producer loop keeps going.
func (e *ToneEngine) Fail(message string) {
	e.mu.Lock()
	thread := e.thread
	running := e.running
	e.mu.Unlock()

	dispatch := func() {
		for _, id := range e.registry.IDs() {
			e.registry.DispatchStreamError(id, message)
		}
	}
	if running && thread != nil {
		thread.Execute(dispatch)
		return
	}
	dispatch()
}
