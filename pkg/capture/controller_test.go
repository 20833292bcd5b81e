package capture

import (
	"errors"
	"io"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
	"github.com/qieqieplus/cef-audio-bridge/pkg/engine"
	"github.com/qieqieplus/cef-audio-bridge/pkg/log"
	"github.com/qieqieplus/cef-audio-bridge/pkg/metrics"
	"github.com/qieqieplus/cef-audio-bridge/pkg/resample"
)

type fakeEngine struct {
	mu       sync.Mutex
	handlers map[string]engine.AudioHandler
	fail     error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{handlers: make(map[string]engine.AudioHandler)}
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Attach(browserID string, handler engine.AudioHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail != nil {
		return e.fail
	}
	e.handlers[browserID] = handler
	return nil
}

func (e *fakeEngine) Detach(browserID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, browserID)
}

func (e *fakeEngine) attached(browserID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.handlers[browserID]
	return ok
}

// countingFactory hands out pass-through primitives and counts their lifetimes.
type countingFactory struct {
	mu      sync.Mutex
	fail    error
	created int
	closed  int
	onNew   func()
}

func (f *countingFactory) New(in, out audio.AudioFormat) (resample.Primitive, error) {
	f.mu.Lock()
	if f.fail != nil {
		f.mu.Unlock()
		return nil, f.fail
	}
	f.created++
	onNew := f.onNew
	f.mu.Unlock()
	if onNew != nil {
		onNew()
	}
	return &passPrimitive{factory: f, channels: out.Channels}, nil
}

func (f *countingFactory) Capabilities() resample.Capabilities {
	return resample.Capabilities{Remix: true}
}

func (f *countingFactory) counts() (created, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.closed
}

type passPrimitive struct {
	factory  *countingFactory
	channels int
}

func (p *passPrimitive) Resample(in [][]float32, frames int) ([][]float32, int, error) {
	out := make([][]float32, p.channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
		copy(out[ch], in[min(ch, len(in)-1)])
	}
	return out, frames, nil
}

func (p *passPrimitive) Close() {
	p.factory.mu.Lock()
	defer p.factory.mu.Unlock()
	p.factory.closed++
}

func constantPlanes(channels, frames int, value float32) [][]float32 {
	planes := make([][]float32, channels)
	for ch := range planes {
		planes[ch] = make([]float32, frames)
		for i := range planes[ch] {
			planes[ch][i] = value
		}
	}
	return planes
}

func buffered(c *Controller) []float32 {
	return audio.DecodeFloat32LE(c.Channel().Drain())
}

func TestNewControllerDefaults(t *testing.T) {
	c := New(newFakeEngine())

	if got := c.State(); got != StateIdle {
		t.Errorf("State() = %v, want %v", got, StateIdle)
	}
	if got := c.GetVolume(); got != 1.0 {
		t.Errorf("GetVolume() = %v, want 1", got)
	}
	if c.IsMuted() {
		t.Error("IsMuted() = true, want false")
	}
	if c.IsActive() {
		t.Error("IsActive() = true, want false")
	}
	if got := c.Channel().FrameSize(); got != 8 {
		t.Errorf("Channel().FrameSize() = %d, want 8", got)
	}
	if got := c.GetAudioParameters(); !got.Compatible(audio.OutputFormat()) {
		t.Errorf("GetAudioParameters() = %v, want %v", got, audio.OutputFormat())
	}
}

func TestSetVolumeClamps(t *testing.T) {
	c := New(newFakeEngine())
	tests := []struct {
		in   float32
		want float32
	}{
		{0.5, 0.5},
		{0, 0},
		{1, 1},
		{-0.2, 0},
		{1.7, 1},
		{float32(math.NaN()), 0},
		{float32(math.Inf(1)), 1},
	}
	for _, tt := range tests {
		c.SetVolume(tt.in)
		if got := c.GetVolume(); got != tt.want {
			t.Errorf("SetVolume(%v): GetVolume() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPacketBeforeStartDropped(t *testing.T) {
	c := New(newFakeEngine())
	c.OnPacket(constantPlanes(2, 64, 0.5), 64, 0)
	if got := c.Channel().Len(); got != 0 {
		t.Errorf("Channel().Len() = %d, want 0", got)
	}
}

func TestIdenticalFormatsBypassResampler(t *testing.T) {
	factory := &countingFactory{}
	c := New(newFakeEngine(), WithFactory(factory))

	c.OnStreamStart(audio.InputFormat(48000, 2, 480), 2)
	if created, _ := factory.counts(); created != 0 {
		t.Errorf("created = %d, want 0", created)
	}
	if c.Adapter().Required() {
		t.Error("Adapter().Required() = true for identical formats")
	}

	planes := [][]float32{{0.1, 0.2, 0.3}, {-0.1, -0.2, -0.3}}
	c.OnPacket(planes, 3, 0)

	got := buffered(c)
	want := []float32{0.1, -0.1, 0.2, -0.2, 0.3, -0.3}
	if len(got) != len(want) {
		t.Fatalf("buffered %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBypassAppliesVolumeOnce(t *testing.T) {
	c := New(newFakeEngine(), WithFactory(&countingFactory{}))
	c.SetVolume(0.5)
	c.OnStreamStart(audio.InputFormat(48000, 2, 128), 2)

	planes := constantPlanes(2, 128, 0.8)
	c.OnPacket(planes, 128, 0)

	for i, s := range buffered(c) {
		if math.Abs(float64(s)-0.4) > 1e-6 {
			t.Fatalf("sample[%d] = %v, want 0.4", i, s)
		}
	}
	if planes[0][0] != 0.8 {
		t.Errorf("input plane modified: %v", planes[0][0])
	}
}

func TestMonoUpmixWithVolume(t *testing.T) {
	c := New(newFakeEngine())
	c.SetVolume(0.5)
	c.OnStreamStart(audio.InputFormat(44100, 1, 1024), 1)

	if !c.Adapter().Active() {
		t.Fatal("resampler not built for 44100 Hz mono")
	}

	c.OnPacket(constantPlanes(1, 1024, 0.5), 1024, 0)

	n := c.Channel().Len()
	if n == 0 {
		t.Fatal("no audio buffered")
	}
	if n%8 != 0 {
		t.Errorf("buffered %d bytes, not a whole number of stereo frames", n)
	}
	// 1024 frames at 44.1 kHz is roughly 1114 frames at 48 kHz.
	if frames := n / 8; frames < 1100 || frames > 1120 {
		t.Errorf("buffered %d frames, want about 1114", frames)
	}

	for i, s := range buffered(c) {
		if math.Abs(float64(s)-0.25) > 1e-5 {
			t.Fatalf("sample[%d] (channel %d) = %v, want 0.25", i, i%2, s)
		}
	}
}

func TestMutedPacketsNotBuffered(t *testing.T) {
	c := New(newFakeEngine(), WithFactory(&countingFactory{}))
	c.OnStreamStart(audio.InputFormat(44100, 2, 441), 2)
	c.SetMuted(true)

	c.OnPacket(constantPlanes(2, 441, 0.5), 441, 0)
	if got := c.Channel().Len(); got != 0 {
		t.Errorf("muted: Channel().Len() = %d, want 0", got)
	}

	c.SetMuted(false)
	c.SetVolume(0)
	c.OnPacket(constantPlanes(2, 441, 0.5), 441, 0)
	if got := c.Channel().Len(); got != 0 {
		t.Errorf("volume 0: Channel().Len() = %d, want 0", got)
	}

	c.SetVolume(1)
	c.OnPacket(constantPlanes(2, 441, 0.5), 441, 0)
	if got := c.Channel().Len(); got != 441*8 {
		t.Errorf("unmuted: Channel().Len() = %d, want %d", got, 441*8)
	}
}

func TestStreamStopClearsBuffer(t *testing.T) {
	factory := &countingFactory{}
	c := New(newFakeEngine(), WithFactory(factory))
	c.OnStreamStart(audio.InputFormat(44100, 2, 441), 2)
	c.OnPacket(constantPlanes(2, 441, 0.5), 441, 0)
	if c.Channel().Len() == 0 {
		t.Fatal("nothing buffered before stop")
	}

	c.OnStreamStop()

	if got := c.Channel().Len(); got != 0 {
		t.Errorf("after stop: Channel().Len() = %d, want 0", got)
	}
	if got := c.State(); got != StateIdle {
		t.Errorf("State() = %v, want %v", got, StateIdle)
	}
	if _, closed := factory.counts(); closed != 1 {
		t.Errorf("closed = %d, want 1", closed)
	}

	c.OnPacket(constantPlanes(2, 441, 0.5), 441, 0)
	if got := c.Channel().Len(); got != 0 {
		t.Errorf("packet after stop buffered %d bytes", got)
	}
}

func TestRestartRebuildsResampler(t *testing.T) {
	factory := &countingFactory{}
	c := New(newFakeEngine(), WithFactory(factory))
	format := audio.InputFormat(44100, 2, 441)

	c.OnStreamStart(format, 2)
	c.OnStreamStop()
	c.OnStreamStart(format, 2)

	created, closed := factory.counts()
	if created != 2 {
		t.Errorf("created = %d, want 2", created)
	}
	if closed != 1 {
		t.Errorf("closed = %d, want 1", closed)
	}

	// A second start without a stop also rebuilds.
	c.OnStreamStart(format, 2)
	created, closed = factory.counts()
	if created != 3 || closed != 2 {
		t.Errorf("created, closed = %d, %d, want 3, 2", created, closed)
	}
}

func TestResamplerFailureDegrades(t *testing.T) {
	factory := &countingFactory{fail: errors.New("no memory")}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	c := New(newFakeEngine(), WithFactory(factory), WithMetrics(m))

	c.OnStreamStart(audio.InputFormat(44100, 2, 441), 2)

	if got := c.State(); got != StateActive {
		t.Errorf("State() = %v, want %v", got, StateActive)
	}
	if !c.Adapter().Degraded() {
		t.Error("Adapter().Degraded() = false, want true")
	}

	c.OnPacket(constantPlanes(2, 441, 0.5), 441, 0)
	c.OnPacket(constantPlanes(2, 441, 0.5), 441, 0)

	if got := c.Channel().Len(); got != 0 {
		t.Errorf("Channel().Len() = %d, want 0", got)
	}
	if got := testutil.ToFloat64(m.ResamplerFailures); got != 1 {
		t.Errorf("ResamplerFailures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PacketsDropped.WithLabelValues(metrics.ReasonResampler)); got != 2 {
		t.Errorf("dropped(resampler) = %v, want 2", got)
	}
}

func TestZeroChannelStreamDegrades(t *testing.T) {
	c := New(newFakeEngine())
	c.OnStreamStart(audio.InputFormat(44100, 0, 441), 0)

	if !c.Adapter().Degraded() {
		t.Error("zero channels should leave the adapter degraded")
	}
	c.OnPacket(constantPlanes(2, 441, 0.5), 441, 0)
	if got := c.Channel().Len(); got != 0 {
		t.Errorf("Channel().Len() = %d, want 0", got)
	}
}

func TestMalformedPacketsDiscarded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	c := New(newFakeEngine(), WithFactory(&countingFactory{}), WithMetrics(m))
	c.OnStreamStart(audio.InputFormat(48000, 2, 480), 2)

	c.OnPacket(nil, 480, 0)
	c.OnPacket(constantPlanes(2, 480, 0.5), 0, 0)
	c.OnPacket(constantPlanes(2, 480, 0.5), -1, 0)

	if got := c.Channel().Len(); got != 0 {
		t.Errorf("Channel().Len() = %d, want 0", got)
	}
	if got := testutil.ToFloat64(m.PacketsDropped.WithLabelValues(metrics.ReasonMalformed)); got != 3 {
		t.Errorf("dropped(malformed) = %v, want 3", got)
	}
	if got := c.State(); got != StateActive {
		t.Errorf("State() = %v, want %v", got, StateActive)
	}
}

func TestStreamErrorStopsPackets(t *testing.T) {
	factory := &countingFactory{}
	c := New(newFakeEngine(), WithFactory(factory))
	c.OnStreamStart(audio.InputFormat(48000, 2, 480), 2)

	c.OnStreamError("device lost")
	if got := c.State(); got != StateError {
		t.Fatalf("State() = %v, want %v", got, StateError)
	}

	c.OnPacket(constantPlanes(2, 480, 0.5), 480, 0)
	if got := c.Channel().Len(); got != 0 {
		t.Errorf("packet in error state buffered %d bytes", got)
	}

	c.OnStreamStop()
	if got := c.State(); got != StateError {
		t.Errorf("stop in error state: State() = %v, want %v", got, StateError)
	}

	c.OnStreamStart(audio.InputFormat(48000, 2, 480), 2)
	if got := c.State(); got != StateActive {
		t.Errorf("after restart: State() = %v, want %v", got, StateActive)
	}
	c.OnPacket(constantPlanes(2, 480, 0.5), 480, 0)
	if got := c.Channel().Len(); got != 480*8 {
		t.Errorf("Channel().Len() = %d, want %d", got, 480*8)
	}
}

func TestControllerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	c := New(newFakeEngine(), WithMetrics(m))

	c.OnStreamStart(audio.InputFormat(44100, 2, 441), 2)
	c.OnPacket(constantPlanes(2, 441, 0.5), 441, 0)

	if got := testutil.ToFloat64(m.StreamStarts); got != 1 {
		t.Errorf("StreamStarts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ResamplerBuilds); got != 1 {
		t.Errorf("ResamplerBuilds = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PacketsReceived); got != 1 {
		t.Errorf("PacketsReceived = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StreamState); got != float64(StateActive) {
		t.Errorf("StreamState = %v, want %v", got, float64(StateActive))
	}
	if got := testutil.ToFloat64(m.BytesBuffered); got != float64(c.Channel().Len()) {
		t.Errorf("BytesBuffered = %v, want %d", got, c.Channel().Len())
	}
}

func TestCloseIdempotent(t *testing.T) {
	factory := &countingFactory{}
	c := New(newFakeEngine(), WithFactory(factory))
	c.OnStreamStart(audio.InputFormat(44100, 2, 441), 2)

	c.Close()
	c.Close()

	if _, closed := factory.counts(); closed != 1 {
		t.Errorf("closed = %d, want 1", closed)
	}
	if !c.Channel().Closed() {
		t.Error("Channel().Closed() = false after Close")
	}

	c.OnStreamStart(audio.InputFormat(44100, 2, 441), 2)
	if created, _ := factory.counts(); created != 1 {
		t.Errorf("start after Close built a resampler (created = %d)", created)
	}
	c.OnPacket(constantPlanes(2, 441, 0.5), 441, 0)
	if got := c.Channel().Len(); got != 0 {
		t.Errorf("Channel().Len() = %d, want 0", got)
	}
}

// messageHook runs fn the first time an entry with the given prefix is logged.
type messageHook struct {
	prefix string
	once   sync.Once
	fn     func()
}

func (h *messageHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *messageHook) Fire(e *logrus.Entry) error {
	if strings.HasPrefix(e.Message, h.prefix) {
		h.once.Do(h.fn)
	}
	return nil
}

func TestCloseDuringStreamStart(t *testing.T) {
	log.InitWithOutput("info", io.Discard)
	t.Cleanup(func() { log.Logger = nil })

	factory := &countingFactory{}
	c := New(newFakeEngine(), WithFactory(factory))
	log.Logger.AddHook(&messageHook{prefix: "Audio stream started", fn: c.Close})

	c.OnStreamStart(audio.InputFormat(44100, 2, 441), 2)

	if c.IsActive() {
		t.Errorf("State() = %v after Close, want idle", c.State())
	}
	if c.Adapter().Active() {
		t.Error("Adapter().Active() = true after Close")
	}
	if created, closed := factory.counts(); created != closed {
		t.Errorf("created, closed = %d, %d, want every primitive closed", created, closed)
	}
}

func TestCloseRacesResamplerBuild(t *testing.T) {
	factory := &countingFactory{}
	c := New(newFakeEngine(), WithFactory(factory))

	var wg sync.WaitGroup
	factory.onNew = func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Close()
		}()
	}

	c.OnStreamStart(audio.InputFormat(44100, 2, 441), 2)
	wg.Wait()

	if c.IsActive() {
		t.Errorf("State() = %v after Close, want idle", c.State())
	}
	if c.Adapter().Active() {
		t.Error("Adapter().Active() = true after Close")
	}
	if created, closed := factory.counts(); created != 1 || closed != 1 {
		t.Errorf("created, closed = %d, %d, want 1, 1", created, closed)
	}
}

func TestCloseDuringDelivery(t *testing.T) {
	c := New(newFakeEngine())
	c.OnStreamStart(audio.InputFormat(44100, 2, 441), 2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		planes := constantPlanes(2, 441, 0.5)
		for i := 0; i < 200; i++ {
			c.OnPacket(planes, 441, int64(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			c.SetVolume(float32(i%10) / 10)
			c.SetMuted(i%7 == 0)
			_ = c.GetVolume()
			_ = c.IsActive()
		}
		c.Close()
	}()
	wg.Wait()

	if got := c.Channel().Len(); got != 0 {
		t.Errorf("Channel().Len() = %d after Close, want 0", got)
	}
}

func TestStreamStateString(t *testing.T) {
	tests := []struct {
		state StreamState
		want  string
	}{
		{StateIdle, "idle"},
		{StateActive, "active"},
		{StateError, "error"},
		{StreamState(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
