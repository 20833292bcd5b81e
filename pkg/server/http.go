package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
	"github.com/qieqieplus/cef-audio-bridge/pkg/capture"
	"github.com/qieqieplus/cef-audio-bridge/pkg/log"
)

// RestartFunc restarts the engine's audio stream.
type RestartFunc func(ctx context.Context) error

// HTTPServer handles REST API requests
type HTTPServer struct {
	manager  *capture.Manager
	audioBus *audio.Bus
	wsServer *WebSocketServer
	restart  RestartFunc
	gatherer prometheus.Gatherer
	router   http.Handler
}

// HTTPOption configures an HTTPServer.
type HTTPOption func(*HTTPServer)

// WithRestart enables POST /api/stream/restart.
func WithRestart(fn RestartFunc) HTTPOption {
	return func(s *HTTPServer) {
		s.restart = fn
	}
}

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) HTTPOption {
	return func(s *HTTPServer) {
		s.gatherer = g
	}
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(manager *capture.Manager, audioBus *audio.Bus, wsServer *WebSocketServer, opts ...HTTPOption) *HTTPServer {
	server := &HTTPServer{
		manager:  manager,
		audioBus: audioBus,
		wsServer: wsServer,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(server)
	}
	server.registerRoutes()
	return server
}

// ServeHTTP implements the http.Handler interface
func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log.Debugf("Received request: %s %s", r.Method, r.URL.Path)
	s.router.ServeHTTP(w, r)
}

// registerRoutes sets up the API routes
func (s *HTTPServer) registerRoutes() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// Param router for paths with methods or {source_id}
	pr := NewParamRouter()
	pr.HandleMethod(http.MethodGet, "/api/audio", s.handleListSources)
	pr.HandleMethod(http.MethodPut, "/api/audio/volume", s.handleSetVolume)
	pr.HandleMethod(http.MethodPut, "/api/audio/mute", s.handleSetMute)
	pr.HandleMethod(http.MethodGet, "/api/audio/{source_id}", s.handleGetSource)
	pr.HandleMethod(http.MethodPut, "/api/audio/{source_id}/volume", s.handleSetVolume)
	pr.HandleMethod(http.MethodPut, "/api/audio/{source_id}/mute", s.handleSetMute)
	pr.HandleMethod(http.MethodPost, "/api/stream/restart", s.handleRestart)
	if s.wsServer != nil {
		pr.Handle("/ws/audio/{source_id}", s.wsServer.HandleConnection)
	}

	// Delegate: API and WebSocket paths use the param router; else use mux
	s.router = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws/") || strings.HasPrefix(r.URL.Path, "/api/") {
			pr.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

// targets returns the sources a settings request applies to: the one named in
// the path, or all of them.
func (s *HTTPServer) targets(r *http.Request) ([]*capture.Source, bool) {
	if id := GetPathParam(r, "source_id"); id != "" {
		source, ok := s.manager.GetSource(id)
		if !ok {
			return nil, false
		}
		return []*capture.Source{source}, true
	}
	return s.manager.ListSources(), true
}

// handleListSources returns every source's state
func (s *HTTPServer) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources := s.manager.ListSources()
	response := make([]capture.SourceStats, 0, len(sources))
	for _, source := range sources {
		if stats, err := s.manager.GetStats(source.ID()); err == nil {
			response = append(response, *stats)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources": response,
		"bus":     s.audioBus.GetStats(),
	})
}

// handleGetSource returns one source's state
func (s *HTTPServer) handleGetSource(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.GetStats(GetPathParam(r, "source_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// VolumeRequest is the request body for PUT .../volume
type VolumeRequest struct {
	Volume *float32 `json:"volume"`
}

// MuteRequest is the request body for PUT .../mute
type MuteRequest struct {
	Muted *bool `json:"muted"`
}

// handleSetVolume sets the volume; out-of-range values are clamped by the source
func (s *HTTPServer) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	var req VolumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Volume == nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sources, ok := s.targets(r)
	if !ok {
		http.Error(w, "Source not found", http.StatusNotFound)
		return
	}

	result := make(map[string]float32, len(sources))
	for _, source := range sources {
		source.SetVolume(*req.Volume)
		result[source.ID()] = source.GetVolume()
	}
	log.Infof("Volume set to %v on %d source(s)", *req.Volume, len(sources))
	writeJSON(w, http.StatusOK, map[string]interface{}{"volume": result})
}

// handleSetMute sets the mute flag
func (s *HTTPServer) handleSetMute(w http.ResponseWriter, r *http.Request) {
	var req MuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Muted == nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sources, ok := s.targets(r)
	if !ok {
		http.Error(w, "Source not found", http.StatusNotFound)
		return
	}

	result := make(map[string]bool, len(sources))
	for _, source := range sources {
		source.SetMuted(*req.Muted)
		result[source.ID()] = source.IsMuted()
	}
	log.Infof("Mute set to %v on %d source(s)", *req.Muted, len(sources))
	writeJSON(w, http.StatusOK, map[string]interface{}{"muted": result})
}

// handleRestart restarts the engine stream
func (s *HTTPServer) handleRestart(w http.ResponseWriter, r *http.Request) {
	if s.restart == nil {
		http.Error(w, "Restart not supported", http.StatusNotImplemented)
		return
	}
	if err := s.restart(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarted"})
}

// handleHealth returns health status
func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":       "ok",
		"source_count": s.manager.Count(),
		"engine":       s.manager.Engine().Name(),
	}
	if s.wsServer != nil {
		response["client_count"] = s.wsServer.ClientCount()
	}
	writeJSON(w, http.StatusOK, response)
}
