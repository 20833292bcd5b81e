package capture

import (
	"fmt"
	"sync"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
	"github.com/qieqieplus/cef-audio-bridge/pkg/engine"
	"github.com/qieqieplus/cef-audio-bridge/pkg/log"
)

// Settings are the user-facing source properties.
type Settings struct {
	Volume float32 `json:"volume" yaml:"volume"`
	Muted  bool    `json:"muted" yaml:"muted"`
}

// DefaultSettings returns full volume, unmuted.
func DefaultSettings() Settings {
	return Settings{Volume: 1.0}
}

// Source owns at most one Controller for a browser and forwards the audio
// settings to it. Settings made while no controller exists are kept and
// applied when one is created.
type Source struct {
	id     string
	engine engine.Engine
	opts   []Option

	mutex      sync.Mutex
	controller *Controller
	settings   Settings
}

// NewSource creates an uninitialized source for browserID.
func NewSource(browserID string, eng engine.Engine, opts ...Option) *Source {
	return &Source{
		id:       browserID,
		engine:   eng,
		opts:     opts,
		settings: DefaultSettings(),
	}
}

// ID returns the browser ID the source captures.
func (s *Source) ID() string {
	return s.id
}

// Initialize creates the controller and attaches it to the engine. Calling it
// again while initialized does nothing.
func (s *Source) Initialize() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.controller != nil {
		return nil
	}
	if s.engine == nil {
		return ErrNoEngine
	}

	opts := append([]Option{WithID(s.id)}, s.opts...)
	controller := New(s.engine, opts...)
	controller.SetVolume(s.settings.Volume)
	controller.SetMuted(s.settings.Muted)

	if err := s.engine.Attach(s.id, controller); err != nil {
		controller.Close()
		return fmt.Errorf("attach %s to %s engine: %w", s.id, s.engine.Name(), err)
	}

	s.controller = controller
	log.Infof("Audio source %s initialized on %s engine", s.id, s.engine.Name())
	return nil
}

// Shutdown detaches and closes the controller. Safe to call repeatedly.
func (s *Source) Shutdown() {
	s.mutex.Lock()
	controller := s.controller
	s.controller = nil
	s.mutex.Unlock()

	if controller == nil {
		return
	}
	s.engine.Detach(s.id)
	controller.Close()
	log.Infof("Audio source %s shut down", s.id)
}

// Controller returns the current controller, or nil.
func (s *Source) Controller() *Controller {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.controller
}

// Channel returns the controller's buffer, or nil when uninitialized.
func (s *Source) Channel() *audio.Channel {
	if c := s.Controller(); c != nil {
		return c.Channel()
	}
	return nil
}

// Update applies settings, clamping the volume.
func (s *Source) Update(settings Settings) {
	s.SetVolume(settings.Volume)
	s.SetMuted(settings.Muted)
}

// Settings returns the settings the source applies to its controller.
func (s *Source) Settings() Settings {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.settings
}

func (s *Source) SetVolume(level float32) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.settings.Volume = ClampVolume(level)
	if s.controller != nil {
		s.controller.SetVolume(level)
	}
}

// GetVolume returns 1.0 when no controller exists.
func (s *Source) GetVolume() float32 {
	if c := s.Controller(); c != nil {
		return c.GetVolume()
	}
	return 1.0
}

func (s *Source) SetMuted(muted bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.settings.Muted = muted
	if s.controller != nil {
		s.controller.SetMuted(muted)
	}
}

// IsMuted returns false when no controller exists.
func (s *Source) IsMuted() bool {
	if c := s.Controller(); c != nil {
		return c.IsMuted()
	}
	return false
}

// IsAudioActive reports whether the engine is currently streaming to this source.
func (s *Source) IsAudioActive() bool {
	if c := s.Controller(); c != nil {
		return c.IsActive()
	}
	return false
}

// State returns the controller's stream state, or StateIdle.
func (s *Source) State() StreamState {
	if c := s.Controller(); c != nil {
		return c.State()
	}
	return StateIdle
}
