package capture

// StreamState is the lifecycle of the engine's audio stream as the controller sees it.
type StreamState int32

const (
	StateIdle   StreamState = 0 // no input format, no resampler, buffer empty
	StateActive StreamState = 1 // packets accepted and converted
	StateError  StreamState = 2 // delivery fault; waits for the next stream start
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
