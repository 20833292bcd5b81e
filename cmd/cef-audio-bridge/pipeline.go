package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
	"github.com/qieqieplus/cef-audio-bridge/pkg/capture"
	"github.com/qieqieplus/cef-audio-bridge/pkg/config"
	"github.com/qieqieplus/cef-audio-bridge/pkg/engine"
	"github.com/qieqieplus/cef-audio-bridge/pkg/host"
	"github.com/qieqieplus/cef-audio-bridge/pkg/log"
	"github.com/qieqieplus/cef-audio-bridge/pkg/metrics"
	"github.com/qieqieplus/cef-audio-bridge/pkg/resample"
	"github.com/qieqieplus/cef-audio-bridge/pkg/resample/swr"
)

var errNotStarted = errors.New("pipeline not started")

// pipeline owns everything between the simulated browser and the bus.
type pipeline struct {
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	engine   *engine.ToneEngine
	manager  *capture.Manager
	bus      *audio.Bus
	pumps    []*host.Pump

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func resamplerFactory(name string) (resample.Factory, error) {
	switch name {
	case config.ResamplerLinear:
		return resample.LinearFactory{}, nil
	case config.ResamplerSWR:
		return swr.Factory{}, nil
	default:
		return nil, fmt.Errorf("%w: got %q", config.ErrUnknownResampler, name)
	}
}

func toneConfig(cfg config.ToneConfig) engine.ToneConfig {
	return engine.ToneConfig{
		SampleRate:      cfg.SampleRate,
		Channels:        cfg.Channels,
		FramesPerBuffer: cfg.FramesPerBuffer,
		Frequency:       cfg.Frequency,
		Amplitude:       cfg.Amplitude,
	}
}

func newPipeline(cfg *config.Config) (*pipeline, error) {
	factory, err := resamplerFactory(cfg.Audio.Resampler)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	eng := engine.NewToneEngine(toneConfig(cfg.Tone))
	manager := capture.NewManager(eng, capture.WithFactory(factory), capture.WithMetrics(m))
	bus := audio.NewBus()

	p := &pipeline{
		cfg:      cfg,
		registry: registry,
		metrics:  m,
		engine:   eng,
		manager:  manager,
		bus:      bus,
	}

	settings := capture.Settings{Volume: cfg.Audio.Volume, Muted: cfg.Audio.Muted}
	for _, id := range cfg.Audio.Sources {
		source, err := manager.AddSource(id, settings)
		if err != nil {
			manager.Shutdown()
			return nil, fmt.Errorf("failed to add source %s: %w", id, err)
		}
		p.pumps = append(p.pumps, host.NewPump(id, source, bus,
			host.WithInterval(cfg.Audio.PumpInterval),
			host.WithMaxChunkBytes(cfg.Audio.MaxChunkBytes),
			host.WithPumpMetrics(m),
		))
	}

	log.Infof("Pipeline ready: %d source(s), %s resampler, output %v",
		len(cfg.Audio.Sources), cfg.Audio.Resampler, audio.OutputFormat())
	return p, nil
}

// start runs the pumps and then the engine, so no packet is buffered before
// something drains it.
func (p *pipeline) start(parent context.Context) error {
	p.ctx, p.cancel = context.WithCancel(parent)

	for _, pump := range p.pumps {
		p.wg.Add(1)
		go func(pump *host.Pump) {
			defer p.wg.Done()
			pump.Run(p.ctx)
		}(pump)
	}

	if err := p.engine.Start(p.ctx); err != nil {
		p.cancel()
		p.wg.Wait()
		return fmt.Errorf("failed to start engine: %w", err)
	}
	return nil
}

// restart replays the stream start on every source. The request context only
// bounds the call; the stream lives on the pipeline context.
func (p *pipeline) restart(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.ctx == nil {
		return errNotStarted
	}
	return p.engine.Restart(p.ctx, toneConfig(p.cfg.Tone))
}

// stop ends the stream, tears down the sources and stops the pumps. The pumps
// flush once more on the way out.
func (p *pipeline) stop() {
	p.engine.Stop()
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.manager.Shutdown()
	p.bus.Shutdown()
}
