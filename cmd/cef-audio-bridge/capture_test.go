package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qieqieplus/cef-audio-bridge/pkg/config"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func newTestPipeline(t *testing.T) *pipeline {
	t.Helper()
	cfg := config.Default()
	p, err := newPipeline(cfg)
	if err != nil {
		t.Fatalf("newPipeline() error = %v", err)
	}
	return p
}

func TestRunCaptureWritesAudio(t *testing.T) {
	p := newTestPipeline(t)
	var out bytes.Buffer

	err := runCapture(p, "main", &out, captureOptions{duration: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("runCapture() error = %v", err)
	}
	if out.Len() == 0 || out.Len()%8 != 0 {
		t.Errorf("captured %d bytes, want a non-empty whole number of frames", out.Len())
	}
	if got := p.manager.Count(); got != 0 {
		t.Errorf("manager.Count() = %d after capture, want 0", got)
	}
}

func TestRunCaptureWriteErrorStopsPipeline(t *testing.T) {
	p := newTestPipeline(t)

	err := runCapture(p, "main", failingWriter{}, captureOptions{duration: 5 * time.Second})
	if err == nil {
		t.Fatal("runCapture() error = nil, want write failure")
	}
	if got := p.manager.Count(); got != 0 {
		t.Errorf("manager.Count() = %d after failed capture, want 0", got)
	}
	if got := p.bus.GetSubscriberCount(); got != 0 {
		t.Errorf("bus.GetSubscriberCount() = %d after failed capture, want 0", got)
	}
}

func TestRestartBeforeStart(t *testing.T) {
	p := newTestPipeline(t)
	defer p.stop()

	if err := p.restart(context.Background()); !errors.Is(err, errNotStarted) {
		t.Errorf("restart() error = %v, want errNotStarted", err)
	}
}
