package audio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/qieqieplus/cef-audio-bridge/pkg/log"
)

// Subscriber represents a client subscribed to drained audio
type Subscriber struct {
	ID           string
	SourceID     string // Filter by source ID (empty for all sources)
	Channel      chan *Chunk
	LastActivity time.Time
	connected    bool
	mutex        sync.RWMutex
}

// NewSubscriber creates a new audio subscriber
func NewSubscriber(id string, bufferSize int) *Subscriber {
	return &Subscriber{
		ID:           id,
		Channel:      make(chan *Chunk, bufferSize),
		LastActivity: time.Now(),
		connected:    true,
	}
}

// SetSourceFilter sets the source ID filter
func (s *Subscriber) SetSourceFilter(sourceID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.SourceID = sourceID
}

// ShouldReceive checks if the subscriber should receive this chunk
func (s *Subscriber) ShouldReceive(chunk *Chunk) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.connected {
		return false
	}

	if s.SourceID != "" && s.SourceID != chunk.SourceID {
		return false
	}

	return true
}

// Send sends a chunk to the subscriber (non-blocking)
func (s *Subscriber) Send(chunk *Chunk) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.connected {
		return false
	}

	select {
	case s.Channel <- chunk:
		s.LastActivity = time.Now()
		return true
	default:
		// Channel is full, drop the chunk
		log.Warnf("Dropping chunk for subscriber %s (channel full)", s.ID)
		return false
	}
}

// Touch records that the remote end is still alive, e.g. on a pong.
func (s *Subscriber) Touch() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.LastActivity = time.Now()
}

// Close closes the subscriber
func (s *Subscriber) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.connected {
		s.connected = false
		close(s.Channel)
	}
}

// IsConnected returns whether the subscriber is connected
func (s *Subscriber) IsConnected() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.connected
}

// Bus manages chunk distribution to subscribers
type Bus struct {
	subscribers map[string]*Subscriber
	mutex       sync.RWMutex

	totalChunks   atomic.Uint64
	droppedChunks atomic.Uint64
	lastChunkTime atomic.Int64
}

// BusStats holds statistics for the audio bus
type BusStats struct {
	TotalChunks       uint64    `json:"total_chunks"`
	DroppedChunks     uint64    `json:"dropped_chunks"`
	ActiveSubscribers int       `json:"active_subscribers"`
	LastChunkTime     time.Time `json:"last_chunk_time"`
}

// NewBus creates a new audio bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe adds a new subscriber to the bus
func (b *Bus) Subscribe(subscriber *Subscriber) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.subscribers[subscriber.ID] = subscriber

	log.Infof("Added subscriber: %s (total: %d)", subscriber.ID, len(b.subscribers))
}

// Unsubscribe removes a subscriber from the bus
func (b *Bus) Unsubscribe(subscriberID string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if subscriber, exists := b.subscribers[subscriberID]; exists {
		subscriber.Close()
		delete(b.subscribers, subscriberID)

		log.Infof("Removed subscriber: %s (total: %d)", subscriberID, len(b.subscribers))
	}
}

// Publish publishes a chunk to all matching subscribers
func (b *Bus) Publish(chunk *Chunk) bool {
	b.mutex.RLock()
	subscribers := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.ShouldReceive(chunk) {
			subscribers = append(subscribers, sub)
		}
	}
	b.mutex.RUnlock()

	b.totalChunks.Add(1)
	b.lastChunkTime.Store(time.Now().UnixNano())

	if len(subscribers) == 0 {
		return true // No subscribers, but not an error
	}

	sent := 0
	for _, subscriber := range subscribers {
		if subscriber.Send(chunk) {
			sent++
		} else {
			b.droppedChunks.Add(1)
		}
	}

	return sent > 0
}

// GetStats returns bus statistics
func (b *Bus) GetStats() BusStats {
	stats := BusStats{
		TotalChunks:   b.totalChunks.Load(),
		DroppedChunks: b.droppedChunks.Load(),
	}
	if ns := b.lastChunkTime.Load(); ns != 0 {
		stats.LastChunkTime = time.Unix(0, ns)
	}
	stats.ActiveSubscribers = b.GetSubscriberCount()
	return stats
}

// GetSubscriber returns a subscriber by ID
func (b *Bus) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	subscriber, exists := b.subscribers[subscriberID]
	return subscriber, exists
}

// GetSubscriberCount returns the number of active subscribers
func (b *Bus) GetSubscriberCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.subscribers)
}

// CleanupInactiveSubscribers removes subscribers that have neither received a
// chunk nor been touched within timeout
func (b *Bus) CleanupInactiveSubscribers(timeout time.Duration) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	now := time.Now()
	removed := 0

	for id, subscriber := range b.subscribers {
		subscriber.mutex.RLock()
		idle := now.Sub(subscriber.LastActivity) > timeout
		subscriber.mutex.RUnlock()

		if !subscriber.IsConnected() || idle {
			subscriber.Close()
			delete(b.subscribers, id)
			removed++
			log.Infof("Cleaned up inactive subscriber: %s", id)
		}
	}

	if removed > 0 {
		log.Infof("Cleaned up %d inactive subscribers (total: %d)", removed, len(b.subscribers))
	}

	return removed
}

// Shutdown closes all subscribers and shuts down the bus
func (b *Bus) Shutdown() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	log.Info("Shutting down audio bus")

	for id, subscriber := range b.subscribers {
		subscriber.Close()
		log.Debugf("Closed subscriber: %s", id)
	}

	b.subscribers = make(map[string]*Subscriber)

	log.Info("Audio bus shutdown complete")
}
