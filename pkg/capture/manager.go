package capture

import (
	"fmt"
	"sort"
	"sync"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
	"github.com/qieqieplus/cef-audio-bridge/pkg/engine"
	"github.com/qieqieplus/cef-audio-bridge/pkg/log"
)

// SourceStats is a snapshot of one source for the monitor API.
type SourceStats struct {
	ID            string             `json:"id"`
	State         string             `json:"state"`
	Volume        float32            `json:"volume"`
	Muted         bool               `json:"muted"`
	BufferedBytes int                `json:"buffered_bytes"`
	Channel       audio.ChannelStats `json:"channel"`
	InputFormat   string             `json:"input_format,omitempty"`
	OutputFormat  string             `json:"output_format"`
}

// Manager tracks the sources attached to one engine.
type Manager struct {
	sources sync.Map // map[string]*Source
	engine  engine.Engine
	opts    []Option
}

// NewManager creates a manager whose sources use eng and opts.
func NewManager(eng engine.Engine, opts ...Option) *Manager {
	return &Manager{engine: eng, opts: opts}
}

// Engine returns the engine the sources attach to.
func (m *Manager) Engine() engine.Engine {
	return m.engine
}

// AddSource creates and initializes a source for browserID.
func (m *Manager) AddSource(browserID string, settings Settings) (*Source, error) {
	if _, exists := m.sources.Load(browserID); exists {
		return nil, fmt.Errorf("%w: %s", ErrSourceExists, browserID)
	}

	source := NewSource(browserID, m.engine, m.opts...)
	source.Update(settings)

	if _, loaded := m.sources.LoadOrStore(browserID, source); loaded {
		return nil, fmt.Errorf("%w: %s", ErrSourceExists, browserID)
	}

	if err := source.Initialize(); err != nil {
		m.sources.Delete(browserID)
		return nil, err
	}

	log.Infof("Added audio source: %s", browserID)
	return source, nil
}

// RemoveSource shuts a source down and forgets it.
func (m *Manager) RemoveSource(browserID string) error {
	value, exists := m.sources.LoadAndDelete(browserID)
	if !exists {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, browserID)
	}

	value.(*Source).Shutdown()
	log.Infof("Removed audio source: %s", browserID)
	return nil
}

func (m *Manager) GetSource(browserID string) (*Source, bool) {
	value, exists := m.sources.Load(browserID)
	if !exists {
		return nil, false
	}
	return value.(*Source), true
}

// ListSources returns the managed sources ordered by ID.
func (m *Manager) ListSources() []*Source {
	var result []*Source
	m.sources.Range(func(_, value interface{}) bool {
		result = append(result, value.(*Source))
		return true
	})
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// GetStats snapshots one source.
func (m *Manager) GetStats(browserID string) (*SourceStats, error) {
	source, ok := m.GetSource(browserID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, browserID)
	}
	stats := snapshot(source)
	return &stats, nil
}

// GetAllStats snapshots every source, keyed by ID.
func (m *Manager) GetAllStats() map[string]SourceStats {
	result := make(map[string]SourceStats)
	for _, source := range m.ListSources() {
		result[source.ID()] = snapshot(source)
	}
	return result
}

func snapshot(source *Source) SourceStats {
	settings := source.Settings()
	stats := SourceStats{
		ID:           source.ID(),
		State:        source.State().String(),
		Volume:       settings.Volume,
		Muted:        settings.Muted,
		OutputFormat: audio.OutputFormat().String(),
	}
	if c := source.Controller(); c != nil {
		stats.BufferedBytes = c.Channel().Len()
		stats.Channel = c.Channel().Stats()
		stats.OutputFormat = c.OutputFormat().String()
		if in := c.InputFormat(); in != (audio.AudioFormat{}) {
			stats.InputFormat = in.String()
		}
	}
	return stats
}

func (m *Manager) Count() int {
	count := 0
	m.sources.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// Shutdown removes every source.
func (m *Manager) Shutdown() {
	log.Info("Shutting down capture manager")

	m.sources.Range(func(key, value interface{}) bool {
		id := key.(string)
		value.(*Source).Shutdown()
		m.sources.Delete(id)
		return true
	})

	log.Info("Capture manager shutdown complete")
}
