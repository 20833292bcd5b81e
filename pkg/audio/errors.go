package audio

import "errors"

var (
	ErrPartialFrame    = errors.New("append is not a whole number of frames")
	ErrChannelClosed   = errors.New("audio channel is destroyed")
	ErrBufferExhausted = errors.New("audio channel could not grow")
)
