package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestChunk_Encode(t *testing.T) {
	tests := []struct {
		chunk    Chunk
		wantSize int
	}{
		{
			chunk: Chunk{
				Sequence:  12345,
				Timestamp: 987654321,
				Data:      []byte{1, 2, 3, 4, 5, 6, 7, 8},
			},
			wantSize: BinaryChunkHeaderSize + 8,
		},
		{
			chunk: Chunk{
				Sequence: 0,
				Data:     []byte{},
			},
			wantSize: BinaryChunkHeaderSize,
		},
	}

	for i, test := range tests {
		got := test.chunk.Encode()

		if len(got) != test.wantSize {
			t.Errorf("Test %d: len(encoded) = %d, want %d", i, len(got), test.wantSize)
		}

		if seq := binary.LittleEndian.Uint64(got[0:8]); seq != test.chunk.Sequence {
			t.Errorf("Test %d: decoded Sequence = %d, want %d", i, seq, test.chunk.Sequence)
		}

		if ts := int64(binary.LittleEndian.Uint64(got[8:16])); ts != test.chunk.Timestamp {
			t.Errorf("Test %d: decoded Timestamp = %d, want %d", i, ts, test.chunk.Timestamp)
		}

		if !bytes.Equal(got[BinaryChunkHeaderSize:], test.chunk.Data) {
			t.Errorf("Test %d: decoded Data = %v, want %v", i, got[BinaryChunkHeaderSize:], test.chunk.Data)
		}
	}
}

func TestBinaryChunkHeaderSize(t *testing.T) {
	if BinaryChunkHeaderSize != 16 {
		t.Errorf("BinaryChunkHeaderSize = %d, want 16", BinaryChunkHeaderSize)
	}
}

func TestChunk_Frames(t *testing.T) {
	c := Chunk{Data: make([]byte, 80)}
	if got := c.Frames(8); got != 10 {
		t.Errorf("Frames(8) = %d, want 10", got)
	}
	if got := c.Frames(0); got != 0 {
		t.Errorf("Frames(0) = %d, want 0", got)
	}
}
