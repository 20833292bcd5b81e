package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
	"github.com/qieqieplus/cef-audio-bridge/pkg/capture"
	"github.com/qieqieplus/cef-audio-bridge/pkg/config"
	"github.com/qieqieplus/cef-audio-bridge/pkg/log"
)

// WebSocketServer handles WebSocket connections for audio streaming
type WebSocketServer struct {
	upgrader     websocket.Upgrader
	audioBus     *audio.Bus
	manager      *capture.Manager
	config       *config.Config
	clients      map[string]*Client
	clientsMutex sync.RWMutex
}

// NewWebSocketServer creates a new WebSocket server
func NewWebSocketServer(audioBus *audio.Bus, manager *capture.Manager, cfg *config.Config) *WebSocketServer {
	return &WebSocketServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		audioBus: audioBus,
		manager:  manager,
		config:   cfg,
		clients:  make(map[string]*Client),
	}
}

// HandleConnection handles incoming WebSocket connections
func (s *WebSocketServer) HandleConnection(w http.ResponseWriter, r *http.Request) {
	sourceID := GetPathParam(r, "source_id")
	if sourceID == "" {
		http.Error(w, "Source ID is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Failed to upgrade WebSocket connection: %v", err)
		return
	}

	source, ok := s.manager.GetSource(sourceID)
	if !ok {
		log.Warnf("WebSocket client requested unknown source: %s", sourceID)
		if msg, err := CreateErrorMessage("source not found: "+sourceID, http.StatusNotFound); err == nil {
			conn.SetWriteDeadline(time.Now().Add(s.config.WebSocket.WriteTimeout))
			conn.WriteMessage(websocket.TextMessage, msg)
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown source"))
		conn.Close()
		return
	}

	connConfig := ParseConnectionConfig(r.URL.Query(), s.config.WebSocket.QueueSize)
	connConfig.SourceID = sourceID

	client := NewClient(conn, s.audioBus, s.config)
	s.addClient(client)

	log.Infof("WebSocket client connected: %s for source: %s", client.ID, sourceID)

	format := audio.OutputFormat()
	if c := source.Controller(); c != nil {
		format = c.OutputFormat()
	}
	client.Process(connConfig, format)

	s.removeClient(client.ID)
	log.Infof("WebSocket client disconnected: %s", client.ID)
}

// ClientCount returns the number of connected clients.
func (s *WebSocketServer) ClientCount() int {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	return len(s.clients)
}

// addClient adds a client to the server's list
func (s *WebSocketServer) addClient(client *Client) {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()
	s.clients[client.ID] = client
}

// removeClient removes a client from the server's list
func (s *WebSocketServer) removeClient(clientID string) {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()
	delete(s.clients, clientID)
}

// Client represents a single WebSocket client
type Client struct {
	ID         string
	conn       *websocket.Conn
	audioBus   *audio.Bus
	config     *config.Config
	subscriber *audio.Subscriber
	heartbeat  bool
	sendChan   chan interface{} // Can be []byte (JSON) or *audio.Chunk
	stopChan   chan struct{}
}

// NewClient creates a new client
func NewClient(conn *websocket.Conn, audioBus *audio.Bus, cfg *config.Config) *Client {
	return &Client{
		ID:       uuid.New().String(),
		conn:     conn,
		audioBus: audioBus,
		config:   cfg,
		sendChan: make(chan interface{}, 100),
		stopChan: make(chan struct{}),
	}
}

// Process subscribes the client to its source and blocks until it disconnects.
func (c *Client) Process(connConfig *ConnectionConfig, format audio.AudioFormat) {
	c.heartbeat = connConfig.EnableHeartbeat
	c.subscriber = audio.NewSubscriber(c.ID, connConfig.QueueSize)
	c.subscriber.SetSourceFilter(connConfig.SourceID)
	c.audioBus.Subscribe(c.subscriber)
	defer c.audioBus.Unsubscribe(c.ID)

	// The format message is queued before the pumps start so it is always first.
	if formatMsg, err := CreateAudioFormatMessage(connConfig.SourceID, format); err == nil {
		c.sendChan <- formatMsg
	}

	go c.writePump()
	go c.readPump()

	defer c.closeConn()

	for chunk := range c.subscriber.Channel {
		select {
		case c.sendChan <- chunk:
		case <-c.stopChan:
			return
		default:
			log.Warnf("Dropping chunk for client %s (send channel full)", c.ID)
		}
	}
	log.Infof("Subscription ended for client %s", c.ID)
}

// closeConn sends a going-away close frame and closes the connection, which
// also ends both pumps.
func (c *Client) closeConn() {
	deadline := time.Now().Add(c.config.WebSocket.WriteTimeout)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"), deadline)
	c.conn.Close()
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *Client) writePump() {
	defer func() {
		c.conn.Close()
		close(c.stopChan)
	}()

	// Aggregate drained audio and send once per flush interval
	var (
		pending []byte
		first   *audio.Chunk
		last    uint64
	)

	ticker := time.NewTicker(c.config.WebSocket.AudioFlushInterval)
	defer ticker.Stop()

	// Ping ticker to keep connection alive
	pingTicker := time.NewTicker(c.config.WebSocket.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case message, ok := <-c.sendChan:
			if !ok {
				// Send channel closed
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			switch msg := message.(type) {
			case []byte:
				// Direct message
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WebSocket.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					log.Errorf("Error writing text message to WebSocket: %v", err)
					return
				}
			case *audio.Chunk:
				if first == nil {
					first = msg
				}
				last = msg.Sequence
				pending = append(pending, msg.Data...)
			}

		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			out := (&audio.Chunk{
				SourceID:  first.SourceID,
				Sequence:  last,
				Timestamp: first.Timestamp,
				Data:      pending,
			}).Encode()
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WebSocket.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
				log.Errorf("Error writing audio to WebSocket: %v", err)
				return
			}
			// Clear buffer for next tick
			pending = pending[:0]
			first = nil

		case <-pingTicker.C:
			// Send periodic ping to keep connection alive
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WebSocket.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Errorf("Error sending ping to WebSocket: %v", err)
				return
			}
			if c.heartbeat {
				if msg, err := CreateHeartbeatMessage(time.Now().UnixMilli()); err == nil {
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						log.Errorf("Error sending heartbeat to WebSocket: %v", err)
						return
					}
				}
			}
			log.Debugf("Sent ping to client %s", c.ID)
		}
	}
}

// readPump pumps messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		c.subscriber.Close()
		c.conn.Close()
	}()

	// Set initial read deadline
	c.conn.SetReadDeadline(time.Now().Add(c.config.WebSocket.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		// Reset read deadline when pong is received
		c.conn.SetReadDeadline(time.Now().Add(c.config.WebSocket.ReadTimeout))
		c.subscriber.Touch()
		log.Debugf("Received pong from client %s", c.ID)
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Errorf("WebSocket read error: %v", err)
			}
			break
		}
		// If we receive any message (not just pong), reset the deadline
		c.conn.SetReadDeadline(time.Now().Add(c.config.WebSocket.ReadTimeout))
		c.subscriber.Touch()
	}
}
