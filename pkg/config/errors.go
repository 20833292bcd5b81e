package config

import "errors"

var (
	ErrMissingHTTPAddr      = errors.New("HTTP address is required (set HTTP_ADDR env var or --http flag)")
	ErrInvalidVolume        = errors.New("audio volume must be between 0 and 1 (set AUDIO_VOLUME env var or --volume flag)")
	ErrUnknownResampler     = errors.New("resampler must be \"linear\" or \"swr\" (set RESAMPLER env var or --resampler flag)")
	ErrNoSources            = errors.New("at least one audio source is required (set AUDIO_SOURCES env var or --sources flag)")
	ErrInvalidInterval      = errors.New("pump interval must be positive")
	ErrInvalidTone          = errors.New("tone sample rate, channels and frames must be positive")
	ErrInvalidFlushInterval = errors.New("websocket audio flush interval must be positive")
	ErrInvalidChunkSize     = errors.New("max chunk bytes must be zero or at least one output frame")
)
