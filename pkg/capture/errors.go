package capture

import "errors"

var (
	// ErrNoEngine is returned when a source is initialized without an engine handle.
	ErrNoEngine = errors.New("capture: no engine")
	// ErrSourceExists is returned when a source ID is already managed.
	ErrSourceExists = errors.New("capture: source already exists")
	// ErrSourceNotFound is returned for an unknown source ID.
	ErrSourceNotFound = errors.New("capture: source not found")
)
