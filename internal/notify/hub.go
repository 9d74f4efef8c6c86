package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"leasing-telephony/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Hub tracks the websocket clients connected to this process and delivers routed messages
// to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	byUser  map[string]map[*Client]struct{}

	log *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients: map[*Client]struct{}{},
		byUser:  map[string]map[*Client]struct{}{},
		log:     logger.OrDiscard(log),
	}
}

// Client is one agent connection.
type Client struct {
	id      string
	userID  string
	teamIDs map[string]struct{}

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

// Register adds a connection for userID, member of teamIDs, and starts its pumps.
func (h *Hub) Register(conn *websocket.Conn, userID string, teamIDs []string) *Client {
	c := newClient(h, conn, userID, teamIDs)
	h.add(c)
	go c.writePump()
	go c.readPump()
	return c
}

func newClient(h *Hub, conn *websocket.Conn, userID string, teamIDs []string) *Client {
	teams := make(map[string]struct{}, len(teamIDs))
	for _, id := range teamIDs {
		teams[id] = struct{}{}
	}
	return &Client{
		id:      uuid.NewString(),
		userID:  userID,
		teamIDs: teams,
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	set, ok := h.byUser[c.userID]
	if !ok {
		set = map[*Client]struct{}{}
		h.byUser[c.userID] = set
	}
	set[c] = struct{}{}
	h.log.Info("client connected", "client_id", c.id, "user_id", c.userID, "total_clients", len(h.clients))
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if set, ok := h.byUser[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	c.closeSend()
	h.log.Info("client disconnected", "client_id", c.id, "user_id", c.userID, "total_clients", len(h.clients))
}

// HasConnection reports whether userID holds a live connection on this process.
func (h *Hub) HasConnection(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Deliver sends msg to every local client matched by its routing.
func (h *Hub) Deliver(msg Message) {
	b, err := json.Marshal(struct {
		Event Event          `json:"event"`
		Data  map[string]any `json:"data,omitempty"`
	}{msg.Event, msg.Data})
	if err != nil {
		h.log.Error("hub: encode message", "event", msg.Event, "err", err)
		return
	}

	users := make(map[string]struct{}, len(msg.Routing.Users))
	for _, u := range msg.Routing.Users {
		users[u] = struct{}{}
	}

	h.mu.RLock()
	var targets []*Client
	for c := range h.clients {
		if c.matches(users, msg.Routing.Teams) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(b) {
			h.log.Warn("client send buffer full, closing connection", "client_id", c.id, "user_id", c.userID)
			h.remove(c)
		}
	}
}

// Notify delivers locally. It lets a single-process deployment skip Redis.
func (h *Hub) Notify(ctx context.Context, msg Message) { h.Deliver(msg) }

// Run delivers every message published on channel until ctx ends.
func (h *Hub) Run(ctx context.Context, rdb *redis.Client, channel string) error {
	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := Decode(m.Payload)
			if err != nil {
				h.log.Warn("hub: dropping malformed message", "err", err)
				continue
			}
			h.Deliver(msg)
		}
	}
}

func (c *Client) matches(users map[string]struct{}, teams []string) bool {
	if _, ok := users[c.userID]; ok {
		return true
	}
	for _, t := range teams {
		if _, ok := c.teamIDs[t]; ok {
			return true
		}
	}
	return false
}

func (c *Client) trySend(b []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = true
		}
	}()
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", "client_id", c.id, "err", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
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
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
