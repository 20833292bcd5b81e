package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
	"github.com/qieqieplus/cef-audio-bridge/pkg/capture"
	"github.com/qieqieplus/cef-audio-bridge/pkg/config"
	"github.com/qieqieplus/cef-audio-bridge/pkg/log"
)

type captureOptions struct {
	output   string
	duration time.Duration
	stats    string
}

// captureStats is written with -stats when the capture ends.
type captureStats struct {
	SourceID     string              `json:"source_id"`
	Output       string              `json:"output"`
	BytesWritten uint64              `json:"bytes_written"`
	Frames       uint64              `json:"frames"`
	Chunks       uint64              `json:"chunks"`
	Duration     string              `json:"duration"`
	Source       capture.SourceStats `json:"source"`
}

// startCapture records the first configured source to a raw file until the
// duration elapses or a signal arrives.
func startCapture(cfg *config.Config, opts captureOptions) error {
	cfg.Audio.Sources = cfg.Audio.Sources[:1]
	sourceID := cfg.Audio.Sources[0]

	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	file, err := os.Create(opts.output)
	if err != nil {
		p.stop()
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	return runCapture(p, sourceID, file, opts)
}

// runCapture records sourceID to out and returns only after the pipeline has
// fully stopped.
func runCapture(p *pipeline, sourceID string, out io.Writer, opts captureOptions) error {
	writer := bufio.NewWriter(out)

	subscriber := audio.NewSubscriber("capture-"+sourceID, 1000)
	subscriber.SetSourceFilter(sourceID)
	p.bus.Subscribe(subscriber)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if opts.duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	started := time.Now()
	if err := p.start(context.Background()); err != nil {
		p.stop()
		return err
	}
	log.Infof("Capturing %s to %s", sourceID, opts.output)

	// The pipeline stops when ctx ends; its final flush reaches us before the
	// bus closes the subscriber channel.
	final := make(chan capture.SourceStats, 1)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		var snapshot capture.SourceStats
		if stats, err := p.manager.GetStats(sourceID); err == nil {
			snapshot = *stats
		}
		final <- snapshot
		p.stop()
	}()

	var result captureStats
	frameSize := audio.FrameByteSize(audio.OutputChannels, audio.EncodingFloat)
	for chunk := range subscriber.Channel {
		if _, err := writer.Write(chunk.Data); err != nil {
			cancel()
			<-final
			<-stopped
			return fmt.Errorf("failed to write audio: %w", err)
		}
		result.Chunks++
		result.BytesWritten += uint64(len(chunk.Data))
		result.Frames += uint64(chunk.Frames(frameSize))
	}

	<-stopped
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	result.SourceID = sourceID
	result.Output = opts.output
	result.Duration = time.Since(started).Round(time.Millisecond).String()
	result.Source = <-final
	log.Infof("Capture complete: %d frames in %d chunks (%s)", result.Frames, result.Chunks, result.Duration)

	if opts.stats != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode stats: %w", err)
		}
		if err := os.WriteFile(opts.stats, data, 0o644); err != nil {
			return fmt.Errorf("failed to write stats: %w", err)
		}
	}
	return nil
}
