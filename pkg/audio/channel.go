package audio

import (
	"fmt"
	"sync"
)

const minChannelCapacity = 4096

// ChannelStats counts traffic through a Channel since it was created.
type ChannelStats struct {
	AppendedBytes uint64 `json:"appended_bytes"`
	DrainedBytes  uint64 `json:"drained_bytes"`
	DroppedBytes  uint64 `json:"dropped_bytes"`
	Clears        uint64 `json:"clears"`
}

// Channel is a growable byte ring buffer holding output-format samples. The
// producer appends whole frames, the host drains from the front. One mutex
// covers every operation and is held only for the copy.
type Channel struct {
	frameSize int

	mutex  sync.Mutex
	buf    []byte
	start  int
	size   int
	closed bool
	stats  ChannelStats
}

// NewChannel creates an empty channel for frames of frameSize bytes.
func NewChannel(frameSize int) *Channel {
	if frameSize <= 0 {
		frameSize = 1
	}
	return &Channel{frameSize: frameSize}
}

// FrameSize returns the frame width the channel enforces.
func (c *Channel) FrameSize() int {
	return c.frameSize
}

// Append copies b to the back of the channel. b must be a whole number of frames.
func (c *Channel) Append(b []byte) (err error) {
	if len(b) == 0 {
		return nil
	}
	if len(b)%c.frameSize != 0 {
		return fmt.Errorf("%w: %d bytes, frame size %d", ErrPartialFrame, len(b), c.frameSize)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrChannelClosed
	}

	defer func() {
		if r := recover(); r != nil {
			c.stats.DroppedBytes += uint64(len(b))
			err = fmt.Errorf("%w: %v", ErrBufferExhausted, r)
		}
	}()

	c.reserve(c.size + len(b))
	end := (c.start + c.size) % len(c.buf)
	n := copy(c.buf[end:], b)
	if n < len(b) {
		copy(c.buf, b[n:])
	}
	c.size += len(b)
	c.stats.AppendedBytes += uint64(len(b))
	return nil
}

// reserve grows the backing array to hold at least need bytes, unwrapping the
// ring in the process. Caller holds the mutex.
func (c *Channel) reserve(need int) {
	if need <= len(c.buf) {
		return
	}
	capacity := max(len(c.buf)*2, minChannelCapacity)
	for capacity < need {
		capacity *= 2
	}
	grown := make([]byte, capacity)
	c.copyOut(grown, c.size)
	c.buf = grown
	c.start = 0
}

// copyOut copies the first n buffered bytes into dst without consuming them.
func (c *Channel) copyOut(dst []byte, n int) {
	if n == 0 || len(c.buf) == 0 {
		return
	}
	first := copy(dst[:n], c.buf[c.start:min(c.start+n, len(c.buf))])
	if first < n {
		copy(dst[first:n], c.buf[:n-first])
	}
}

// Read drains up to len(p) bytes, rounded down to whole frames, into p.
// It never blocks on an empty channel.
func (c *Channel) Read(p []byte) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	n := min(len(p), c.size)
	n -= n % c.frameSize
	if n == 0 {
		return 0
	}
	c.copyOut(p, n)
	c.start = (c.start + n) % len(c.buf)
	c.size -= n
	if c.size == 0 {
		c.start = 0
	}
	c.stats.DrainedBytes += uint64(n)
	return n
}

// Drain removes and returns everything currently buffered.
func (c *Channel) Drain() []byte {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.size == 0 {
		return nil
	}
	out := make([]byte, c.size)
	c.copyOut(out, c.size)
	c.stats.DrainedBytes += uint64(c.size)
	c.start, c.size = 0, 0
	return out
}

// Len returns the number of buffered bytes. It is always a multiple of FrameSize.
func (c *Channel) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.size
}

// Clear empties the channel and drops its backing storage.
func (c *Channel) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.buf = nil
	c.start, c.size = 0, 0
	c.stats.Clears++
}

// Destroy releases all storage. Later appends fail with ErrChannelClosed.
func (c *Channel) Destroy() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.buf = nil
	c.start, c.size = 0, 0
}

// Closed reports whether Destroy has been called.
func (c *Channel) Closed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closed
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() ChannelStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stats
}
