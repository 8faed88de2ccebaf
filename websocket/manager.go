// Package websocket fans domain events out to connected browsers.
package websocket

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"battletrails/logging"
	"battletrails/metrics"
	"battletrails/middleware"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	EventConnected   = "connected"
	EventPostCreated = "post_created"
	EventPostLiked   = "post_liked"
	EventPostViewed  = "post_viewed"
	EventPostDeleted = "post_deleted"
	EventPong        = "pong"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type Manager struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	secret   string
	origins  []string
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

type Client struct {
	conn   *websocket.Conn
	userID string
	// send carries broadcasts and is closed by the hub; direct carries
	// replies to this client only and is never closed.
	send    chan []byte
	direct  chan []byte
	manager *Manager
}

// NewManager validates connection tokens with secret. origins limits which
// pages may connect; empty allows any.
func NewManager(secret string, origins []string) *Manager {
	m := &Manager{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		secret:     secret,
		origins:    origins,
		log:        logging.WithComponent("websocket"),
	}
	m.upgrader = websocket.Upgrader{
		CheckOrigin:     m.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return m
}

func (m *Manager) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || len(m.origins) == 0 || slices.Contains(m.origins, origin)
}

// Start runs the hub until ctx is cancelled, then disconnects every client.
func (m *Manager) Start(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			for client := range m.clients {
				close(client.send)
				delete(m.clients, client)
			}
			m.mu.Unlock()
			metrics.WebSocketConnections.Set(0)
			return

		case client := <-m.register:
			m.mu.Lock()
			m.clients[client] = true
			total := len(m.clients)
			m.mu.Unlock()
			metrics.WebSocketConnections.Set(float64(total))
			m.log.Debug().Str("user_id", client.userID).Int("clients", total).Msg("client registered")

		case client := <-m.unregister:
			m.mu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
			}
			total := len(m.clients)
			m.mu.Unlock()
			metrics.WebSocketConnections.Set(float64(total))
			m.log.Debug().Str("user_id", client.userID).Int("clients", total).Msg("client unregistered")

		case message := <-m.broadcast:
			m.mu.Lock()
			for client := range m.clients {
				select {
				case client.send <- message:
				default:
					// slow consumer
					close(client.send)
					delete(m.clients, client)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Broadcast queues an event for every connected client. It never blocks;
// events are dropped when the hub is saturated.
func (m *Manager) Broadcast(eventType string, payload any) {
	msg, err := json.Marshal(Message{Type: eventType, Payload: payload})
	if err != nil {
		m.log.Error().Err(err).Str("type", eventType).Msg("failed to encode event")
		return
	}

	select {
	case m.broadcast <- msg:
	default:
		m.log.Warn().Str("type", eventType).Msg("broadcast queue full, dropping event")
	}
}

func (m *Manager) ConnectedClients() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Handler upgrades requests carrying a valid ?token= JWT.
func (m *Manager) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "Token required", http.StatusUnauthorized)
			return
		}
		claims, err := middleware.ParseToken(m.secret, token)
		if err != nil {
			m.log.Debug().Err(err).Msg("websocket connection rejected")
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := m.upgrader.Upgrade(w, r, nil)
		if err != nil {
			m.log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := &Client{
			conn:    conn,
			userID:  claims.UserID,
			send:    make(chan []byte, sendBuffer),
			direct:  make(chan []byte, 8),
			manager: m,
		}
		client.reply(EventConnected, map[string]any{
			"userId": claims.UserID,
			"time":   time.Now().Unix(),
		})

		select {
		case m.register <- client:
		case <-m.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) reply(eventType string, payload any) {
	msg, err := json.Marshal(Message{Type: eventType, Payload: payload})
	if err != nil {
		return
	}
	select {
	case c.direct <- msg:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.manager.log.Warn().Err(err).Str("user_id", c.userID).Msg("websocket read error")
			}
			return
		}

		var in struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			continue
		}
		if in.Type == "ping" {
			c.reply(EventPong, map[string]any{"time": time.Now().Unix()})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case message := <-c.direct:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
