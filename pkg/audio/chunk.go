package audio

import (
	"encoding/binary"
)

// Chunk is a run of output-format bytes drained from a Channel by the host.
type Chunk struct {
	SourceID  string // Browser source the bytes came from
	Sequence  uint64 // Monotonic per source
	Timestamp int64  // Host clock, microseconds
	Data      []byte // Interleaved f32le samples
}

var BinaryChunkHeaderSize = 2 * binary.Size(uint64(0)) // Sequence + Timestamp

// Encode serializes the chunk for WebSocket transmission.
func (c *Chunk) Encode() []byte {
	buf := make([]byte, BinaryChunkHeaderSize+len(c.Data))
	binary.LittleEndian.PutUint64(buf[0:8], c.Sequence)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(c.Timestamp))
	copy(buf[BinaryChunkHeaderSize:], c.Data)
	return buf
}

// Frames returns the number of frames in the chunk for the given frame size.
func (c *Chunk) Frames(frameSize int) int {
	if frameSize <= 0 {
		return 0
	}
	return len(c.Data) / frameSize
}
