package host

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
	"github.com/qieqieplus/cef-audio-bridge/pkg/metrics"
)

type staticSource struct {
	channel *audio.Channel
}

func (s staticSource) Channel() *audio.Channel { return s.channel }

func frames(n int) []byte {
	return make([]byte, n*8)
}

func TestFlushPublishesChunk(t *testing.T) {
	ch := audio.NewChannel(8)
	bus := audio.NewBus()
	sub := audio.NewSubscriber("sub", 4)
	sub.SetSourceFilter("main")
	bus.Subscribe(sub)

	p := NewPump("main", staticSource{ch}, bus)

	if got := p.Flush(); got != 0 {
		t.Errorf("Flush() on empty channel = %d, want 0", got)
	}

	if err := ch.Append(frames(10)); err != nil {
		t.Fatalf("Append error = %v", err)
	}
	if got := p.Flush(); got != 80 {
		t.Errorf("Flush() = %d, want 80", got)
	}
	if err := ch.Append(frames(3)); err != nil {
		t.Fatalf("Append error = %v", err)
	}
	p.Flush()

	first := <-sub.Channel
	second := <-sub.Channel
	if first.SourceID != "main" || first.Sequence != 1 || len(first.Data) != 80 {
		t.Errorf("first chunk = %q seq %d len %d", first.SourceID, first.Sequence, len(first.Data))
	}
	if second.Sequence != 2 || len(second.Data) != 24 {
		t.Errorf("second chunk seq %d len %d, want 2, 24", second.Sequence, len(second.Data))
	}

	stats := p.Stats()
	if stats.Chunks != 2 || stats.Bytes != 104 {
		t.Errorf("Stats() = %+v, want 2 chunks 104 bytes", stats)
	}
}

func TestFlushRespectsMaxChunk(t *testing.T) {
	ch := audio.NewChannel(8)
	p := NewPump("main", staticSource{ch}, nil, WithMaxChunkBytes(20))

	if err := ch.Append(frames(5)); err != nil {
		t.Fatalf("Append error = %v", err)
	}
	// 20 bytes rounds up to three whole frames.
	if got := p.Flush(); got != 24 {
		t.Errorf("Flush() = %d, want 24", got)
	}
	if got := ch.Len(); got != 16 {
		t.Errorf("remaining = %d, want 16", got)
	}
}

func TestFlushNilChannel(t *testing.T) {
	p := NewPump("main", staticSource{}, audio.NewBus())
	if got := p.Flush(); got != 0 {
		t.Errorf("Flush() = %d, want 0", got)
	}
}

func TestPumpMetrics(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	ch := audio.NewChannel(8)
	p := NewPump("main", staticSource{ch}, nil, WithPumpMetrics(m))

	if err := ch.Append(frames(4)); err != nil {
		t.Fatalf("Append error = %v", err)
	}
	p.Flush()

	if got := testutil.ToFloat64(m.BytesDrained); got != 32 {
		t.Errorf("BytesDrained = %v, want 32", got)
	}
	if got := testutil.ToFloat64(m.BytesBuffered); got != 0 {
		t.Errorf("BytesBuffered = %v, want 0", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ch := audio.NewChannel(8)
	p := NewPump("main", staticSource{ch}, nil, WithInterval(time.Millisecond))

	if p.Interval() != time.Millisecond {
		t.Errorf("Interval() = %v, want 1ms", p.Interval())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	if err := ch.Append(frames(2)); err != nil {
		t.Fatalf("Append error = %v", err)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	// The final flush on shutdown drains anything left.
	if got := ch.Len(); got != 0 {
		t.Errorf("Len() after Run = %d, want 0", got)
	}
}

func TestDefaultInterval(t *testing.T) {
	p := NewPump("main", staticSource{}, nil, WithInterval(0))
	if p.Interval() != DefaultInterval {
		t.Errorf("Interval() = %v, want %v", p.Interval(), DefaultInterval)
	}
}

func TestFlushSubFrameLimitStillDrains(t *testing.T) {
	ch := audio.NewChannel(8)
	p := NewPump("main", staticSource{ch}, audio.NewBus(), WithMaxChunkBytes(4))

	if err := ch.Append(frames(128)); err != nil {
		t.Fatalf("Append error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if got := p.Flush(); got != 8 {
			t.Errorf("Flush() #%d = %d, want 8", i, got)
		}
	}
	if got := ch.Len(); got != 1024-24 {
		t.Errorf("Len() = %d, want %d", got, 1024-24)
	}
}

func TestChunkCapacity(t *testing.T) {
	tests := []struct {
		limit, frameSize, want int
	}{
		{4, 8, 8},
		{8, 8, 8},
		{20, 8, 24},
		{20, 1, 20},
		{20, 0, 20},
	}
	for _, tt := range tests {
		if got := chunkCapacity(tt.limit, tt.frameSize); got != tt.want {
			t.Errorf("chunkCapacity(%d, %d) = %d, want %d", tt.limit, tt.frameSize, got, tt.want)
		}
	}
}
