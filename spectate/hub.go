// Package spectate broadcasts live match state to websocket viewers. It
// adapts the hub/client fan-out pattern used for the soup visualizer to a
// robot world: one goroutine per connection pumps frames out, nobody reads
// control commands back in, since that lane is server's line protocol.
package spectate

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/robotwar/robotwar/vm"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RobotView is the wire shape of one robot in a broadcast Frame.
type RobotView struct {
	ID   int    `json:"id"`
	Team int    `json:"team"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Dead bool   `json:"dead"`
	Dump string `json:"dump,omitempty"`
}

// Frame is one tick's worth of world state, as sent to every viewer.
type Frame struct {
	Tick   int         `json:"tick"`
	Robots []RobotView `json:"robots"`
}

// BuildFrame converts a world's current state into a broadcastable Frame.
// When debug is true each robot carries its full debug dump, mirroring the
// reference implementation's verbose standalone view.
func BuildFrame(w *vm.World, debug bool) Frame {
	robots := w.Robots()
	views := make([]RobotView, 0, len(robots))
	for _, r := range robots {
		v := RobotView{ID: r.ID, Team: r.Team, X: r.Position.X, Y: r.Position.Y, Dead: r.Dead}
		if debug {
			v.Dump = r.DebugString()
		}
		views = append(views, v)
	}
	return Frame{Tick: w.Ticks, Robots: views}
}

// Client is a middleman between one websocket connection and the Hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Debug("viewer connection error")
			}
			break
		}
		// Viewers are read-only; incoming frames are discarded.
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if message == nil {
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.hub.logger.WithError(err).Debug("viewer write failed, closing")
			return
		}
	}
}

// Hub maintains the set of connected viewers and fans broadcast frames out
// to all of them.
type Hub struct {
	clients    map[*Client]bool
	Broadcast  chan []byte
	Register   chan *Client
	Unregister chan *Client
	logger     *logrus.Logger
}

// NewHub returns a Hub ready for Run.
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		Broadcast:  make(chan []byte, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run drives the hub's register/unregister/broadcast loop. Call it in its
// own goroutine; it never returns.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case message := <-h.Broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow viewer: drop the frame rather than block the tick loop.
				}
			}
		}
	}
}

// BroadcastFrame encodes a frame and queues it for every connected viewer.
// It never blocks: a full broadcast channel drops the frame and logs it.
func (h *Hub) BroadcastFrame(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.WithError(err).Warn("failed to marshal frame")
		return
	}
	select {
	case h.Broadcast <- data:
	default:
		h.logger.Warn("broadcast channel full, dropping frame")
	}
}

// ServeHTTP upgrades an HTTP request to a websocket and registers the
// resulting client with the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.Register <- client

	go client.writePump()
	go client.readPump()
}
