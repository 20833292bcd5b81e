// Package host drains captured audio on the host's schedule and fans it out.
package host

import (
	"context"
	"sync"
	"time"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
	"github.com/qieqieplus/cef-audio-bridge/pkg/log"
	"github.com/qieqieplus/cef-audio-bridge/pkg/metrics"
)

// DefaultInterval is how often a Pump drains its channel.
const DefaultInterval = 10 * time.Millisecond

// ChannelSource yields the channel to drain. It may return nil while the
// source is uninitialized, and a different channel after a reinitialize.
type ChannelSource interface {
	Channel() *audio.Channel
}

// PumpStats counts what a pump has published.
type PumpStats struct {
	Chunks        uint64    `json:"chunks"`
	Bytes         uint64    `json:"bytes"`
	Unpublished   uint64    `json:"unpublished"`
	LastChunkTime time.Time `json:"last_chunk_time"`
}

// Pump periodically drains one source into Chunks on a Bus.
type Pump struct {
	sourceID string
	source   ChannelSource
	bus      *audio.Bus
	interval time.Duration
	maxBytes int
	metrics  *metrics.Metrics

	sequence uint64
	stats    PumpStats
	statsMux sync.RWMutex
}

// PumpOption configures a Pump.
type PumpOption func(*Pump)

// WithInterval sets the drain period.
func WithInterval(d time.Duration) PumpOption {
	return func(p *Pump) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxChunkBytes caps a single chunk, rounded up to a whole frame. Zero
// drains everything per tick.
func WithMaxChunkBytes(n int) PumpOption {
	return func(p *Pump) {
		p.maxBytes = n
	}
}

func WithPumpMetrics(m *metrics.Metrics) PumpOption {
	return func(p *Pump) {
		p.metrics = m
	}
}

// NewPump creates a pump publishing sourceID's audio on bus.
func NewPump(sourceID string, source ChannelSource, bus *audio.Bus, opts ...PumpOption) *Pump {
	p := &Pump{
		sourceID: sourceID,
		source:   source,
		bus:      bus,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// chunkCapacity rounds limit up to a whole frame so every read makes progress.
func chunkCapacity(limit, frameSize int) int {
	if frameSize <= 1 {
		return limit
	}
	return (limit + frameSize - 1) / frameSize * frameSize
}

// Interval returns the drain period.
func (p *Pump) Interval() time.Duration {
	return p.interval
}

// Run drains on every tick until ctx is cancelled, then flushes once more.
func (p *Pump) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Infof("Audio pump started for %s (interval %v)", p.sourceID, p.interval)

	for {
		select {
		case <-ctx.Done():
			p.Flush()
			log.Infof("Audio pump stopped for %s", p.sourceID)
			return
		case <-ticker.C:
			p.Flush()
		}
	}
}

// Flush publishes whatever is buffered now and returns the byte count.
func (p *Pump) Flush() int {
	channel := p.source.Channel()
	if channel == nil {
		return 0
	}

	var data []byte
	if p.maxBytes > 0 {
		buf := make([]byte, chunkCapacity(p.maxBytes, channel.FrameSize()))
		n := channel.Read(buf)
		data = buf[:n]
	} else {
		data = channel.Drain()
	}
	if len(data) == 0 {
		return 0
	}

	if p.metrics != nil {
		p.metrics.BytesDrained.Add(float64(len(data)))
		p.metrics.BytesBuffered.Set(float64(channel.Len()))
	}

	p.sequence++
	chunk := &audio.Chunk{
		SourceID:  p.sourceID,
		Sequence:  p.sequence,
		Timestamp: time.Now().UnixMicro(),
		Data:      data,
	}

	published := true
	if p.bus != nil {
		published = p.bus.Publish(chunk)
	}

	p.statsMux.Lock()
	p.stats.Chunks++
	p.stats.Bytes += uint64(len(data))
	p.stats.LastChunkTime = time.Now()
	if !published {
		p.stats.Unpublished++
	}
	p.statsMux.Unlock()

	return len(data)
}

// Stats returns a snapshot of the pump counters.
func (p *Pump) Stats() PumpStats {
	p.statsMux.RLock()
	defer p.statsMux.RUnlock()
	return p.stats
}
