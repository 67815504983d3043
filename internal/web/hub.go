package web

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/satindergrewal/bgmhub/internal/catalog"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// Event is one message pushed to browsers.
type Event struct {
	Type    string         `json:"type"`
	ID      string         `json:"id,omitempty"`
	Playing *bool          `json:"playing,omitempty"`
	Group   string         `json:"group,omitempty"`
	Clips   []catalog.Clip `json:"clips,omitempty"`
	Active  string         `json:"active,omitempty"`
}

func padEvent(id string, playing bool) Event {
	return Event{Type: "pad", ID: id, Playing: &playing}
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans pad and board events out to every connected browser. It keeps
// the set of playing pads so late joiners start from the current state.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	playing map[string]bool
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		playing: make(map[string]bool),
	}
}

// MarkPlaying shows the pad as playing.
func (h *Hub) MarkPlaying(id string) {
	h.update(padEvent(id, true), func() { h.playing[id] = true })
}

// MarkIdle shows the pad as idle.
func (h *Hub) MarkIdle(id string) {
	h.update(padEvent(id, false), func() { delete(h.playing, id) })
}

// MarkAllIdle resets every pad.
func (h *Hub) MarkAllIdle() {
	h.update(Event{Type: "idle_all"}, func() { h.playing = make(map[string]bool) })
}

// Render asks browsers to redraw the group's pads in the given order.
func (h *Hub) Render(group string, clips []catalog.Clip) {
	h.broadcast(Event{Type: "render", Group: group, Clips: clips})
}

// GroupChanged tells browsers to switch tabs.
func (h *Hub) GroupChanged(active string) {
	h.broadcast(Event{Type: "group", Active: active})
}

// Playing returns the ids currently shown as playing, sorted.
func (h *Hub) Playing() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.playing))
	for id := range h.playing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ClientCount returns the number of connected browsers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev Event) {
	h.update(ev, nil)
}

// update applies mutate and sends ev under one lock, so state and events stay
// in step for clients registering concurrently. Sends never block: a client
// whose buffer is full misses the event.
func (h *Hub) update(ev Event, mutate func()) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("EVENTS: marshal %s: %v", ev.Type, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if mutate != nil {
		mutate()
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("EVENTS: client %s lagging, dropped %s", c.id, ev.Type)
		}
	}
}

// register adds c and queues the playing snapshot under the same lock as
// broadcast, so no event can slip in between.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	for id := range h.playing {
		data, err := json.Marshal(padEvent(id, true))
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades to a websocket and streams events until the browser leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("EVENTS: upgrade: %v", err)
		return
	}
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)
	log.Printf("EVENTS: client %s connected (total: %d)", c.id, h.ClientCount())

	go c.writeLoop()

	// Drain incoming frames (pong, close) until the connection drops.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(c)
	log.Printf("EVENTS: client %s disconnected", c.id)
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
