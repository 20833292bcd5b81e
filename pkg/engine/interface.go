package engine

import "github.com/qieqieplus/cef-audio-bridge/pkg/audio"

// AudioHandler is the capability set the browser engine calls into. All calls
// for one browser arrive on a single producer goroutine.
type AudioHandler interface {
	// GetAudioParameters returns the format the engine is asked to deliver.
	GetAudioParameters() audio.AudioFormat
	OnStreamStart(format audio.AudioFormat, channels int)
	// OnPacket delivers one planar float packet; planes[ch] holds frames samples.
	OnPacket(planes [][]float32, frames int, pts int64)
	OnStreamStop()
	OnStreamError(message string)
}

// Engine is the explicitly owned handle to a running browser engine. The engine
// and its message loop are assumed to be up before a handler is attached.
type Engine interface {
	Name() string
	Attach(browserID string, handler AudioHandler) error
	Detach(browserID string)
}
