package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
	"github.com/qieqieplus/cef-audio-bridge/pkg/log"
)

// Registry maps browser IDs to handlers for callback routing
type Registry struct {
	handlers map[string]AudioHandler
	mutex    sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]AudioHandler)}
}

// Register registers a handler for a browser ID
func (r *Registry) Register(browserID string, handler AudioHandler) error {
	if handler == nil {
		return fmt.Errorf("nil handler for browser %s", browserID)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.handlers[browserID]; exists {
		return fmt.Errorf("browser %s already has an audio handler", browserID)
	}
	r.handlers[browserID] = handler
	log.Debugf("Registered audio handler for browser: %s", browserID)
	return nil
}

// Unregister removes a browser from the registry
func (r *Registry) Unregister(browserID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.handlers, browserID)
}

// Lookup retrieves a handler by browser ID
func (r *Registry) Lookup(browserID string) AudioHandler {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.handlers[browserID]
}

// IDs returns the registered browser IDs in sorted order
func (r *Registry) IDs() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered handlers
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.handlers)
}

func (r *Registry) handler(browserID string) AudioHandler {
	h := r.Lookup(browserID)
	if h == nil {
		log.Warnf("Received audio callback for unknown browser: %s", browserID)
	}
	return h
}

// DispatchStreamStarted routes a stream start to the browser's handler
func (r *Registry) DispatchStreamStarted(browserID string, format audio.AudioFormat, channels int) {
	if h := r.handler(browserID); h != nil {
		h.OnStreamStart(format, channels)
	}
}

// DispatchPacket routes one packet to the browser's handler
func (r *Registry) DispatchPacket(browserID string, planes [][]float32, frames int, pts int64) {
	if h := r.handler(browserID); h != nil {
		h.OnPacket(planes, frames, pts)
	}
}

// DispatchStreamStopped routes a stream stop to the browser's handler
func (r *Registry) DispatchStreamStopped(browserID string) {
	if h := r.handler(browserID); h != nil {
		h.OnStreamStop()
	}
}

// DispatchStreamError routes a stream error to the browser's handler
func (r *Registry) DispatchStreamError(browserID, message string) {
	if h := r.handler(browserID); h != nil {
		h.OnStreamError(message)
	}
}
