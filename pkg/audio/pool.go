package audio

import (
	"sync"
)

// Float32Pool manages reusable sample slices for per-packet scratch space
type Float32Pool struct {
	pool sync.Pool
}

// NewFloat32Pool creates a new sample pool
func NewFloat32Pool(initialSize int) *Float32Pool {
	return &Float32Pool{
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]float32, initialSize)
				return &buf
			},
		},
	}
}

// Get retrieves a slice of exactly size samples from the pool
func (p *Float32Pool) Get(size int) []float32 {
	buf := *p.pool.Get().(*[]float32)
	if cap(buf) < size {
		return make([]float32, size)
	}
	return buf[:size]
}

// Put returns a slice to the pool
func (p *Float32Pool) Put(buf []float32) {
	buf = buf[:cap(buf)]
	p.pool.Put(&buf)
}

// Global pool; 2048 samples covers one stereo buffer of 1024 frames.
var globalSamplePool = NewFloat32Pool(OutputFramesPerBuffer * OutputChannels)

// GetSamples gets a scratch slice from the global pool
func GetSamples(size int) []float32 {
	return globalSamplePool.Get(size)
}

// PutSamples returns a scratch slice to the global pool
func PutSamples(buf []float32) {
	globalSamplePool.Put(buf)
}
