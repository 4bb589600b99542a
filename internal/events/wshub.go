package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/curvewatch/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one connected websocket subscriber, with its own
// per-client event-kind filter.
type wsClient struct {
	conn          *websocket.Conn
	send          chan []byte
	mu            sync.RWMutex
	subscriptions map[Kind]bool
	hub           *WSHub
}

// WSHub broadcasts LifecycleEvent values to connected websocket clients.
// Shaped after the teacher's peer/status notification hub: a register/
// unregister/broadcast channel trio run from one goroutine, with slow
// clients evicted rather than allowed to back-pressure the broadcaster.
type WSHub struct {
	clients    map[*wsClient]bool
	broadcast  chan LifecycleEvent
	register   chan *wsClient
	unregister chan *wsClient
	log        *logging.Logger
	mu         sync.RWMutex
}

// NewWSHub builds a hub. Call Run in its own goroutine before serving any
// connections, and Register it on a Bus so it receives every event.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan LifecycleEvent, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		log:        logging.GetDefault().Component("events-ws"),
	}
}

// Publish implements Sink, queuing the event for broadcast.
func (h *WSHub) Publish(e LifecycleEvent) {
	select {
	case h.broadcast <- e:
	default:
		h.log.Warn("broadcast channel full, dropping event", "kind", e.Kind)
	}
}

// Run is the hub's event loop; it blocks until ctx-style cancellation is
// not needed because the hub has no external lifetime beyond the process.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("client connected", "clients", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debug("client disconnected", "clients", len(h.clients))

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.log.Error("failed to marshal event", "error", err)
				continue
			}
			h.fanOut(event.Kind, data)
		}
	}
}

func (h *WSHub) fanOut(kind Kind, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.mu.RLock()
		subscribed := len(client.subscriptions) == 0 || client.subscriptions[kind]
		client.mu.RUnlock()
		if !subscribed {
			continue
		}
		select {
		case client.send <- data:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// ServeHTTP upgrades a connection to a websocket and registers it with the
// hub as a read-only LifecycleEvent subscriber.
func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[Kind]bool),
		hub:           h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var sub struct {
			Action string   `json:"action"`
			Kinds  []string `json:"kinds"`
		}
		if err := json.Unmarshal(message, &sub); err != nil {
			continue
		}
		c.mu.Lock()
		for _, k := range sub.Kinds {
			switch sub.Action {
			case "subscribe":
				c.subscriptions[Kind(k)] = true
			case "unsubscribe":
				delete(c.subscriptions, Kind(k))
			}
		}
		c.mu.Unlock()
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
