// Package events pushes change notifications to connected dashboards
// over websockets: new alerts, fresh visibility scores and completed
// tracking jobs.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/citewatch/citewatch/internal/models"
)

// EventType names one broadcast channel.
type EventType string

const (
	EventAlertCreated EventType = "alert.created"
	EventScoreUpdated EventType = "score.updated"
	EventJobCompleted EventType = "job.completed"
)

// Event is the wire envelope every broadcast uses.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
	At   time.Time `json:"at"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 64
)

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// Hub tracks connected clients and fans events out to them. A slow
// client gets disconnected rather than blocking the broadcast path.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}

	broadcast  chan []byte
	register   chan *client
	unregister chan *client
}

// NewHub builds a hub. allowedOrigins restricts websocket upgrades;
// empty means same-host only.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if u.Host == r.Host {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Run is the hub's main loop; it returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			log.Debug().Str("client", c.id).Msg("Websocket client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			log.Debug().Str("client", c.id).Msg("Websocket client disconnected")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// HandleWebSocket upgrades an HTTP request and attaches the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		id:   fmt.Sprintf("client-%d", time.Now().UnixNano()),
	}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastAlert pushes a persisted alert to every client. Plugs into
// the alert engine's OnAlert callback.
func (h *Hub) BroadcastAlert(alert models.Alert) {
	h.publish(EventAlertCreated, alert)
}

// BroadcastScore pushes a fresh visibility score.
func (h *Hub) BroadcastScore(score models.VisibilityScore) {
	h.publish(EventScoreUpdated, score)
}

// BroadcastJob pushes a completed tracking job summary.
func (h *Hub) BroadcastJob(job models.TrackingJob) {
	h.publish(EventJobCompleted, job)
}

func (h *Hub) publish(eventType EventType, data any) {
	payload, err := json.Marshal(Event{Type: eventType, Data: data, At: time.Now()})
	if err != nil {
		log.Error().Err(err).Str("type", string(eventType)).Msg("Failed to marshal event")
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		log.Warn().Str("type", string(eventType)).Msg("Event broadcast channel full, dropping")
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Clients only listen; any read error ends the session.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
