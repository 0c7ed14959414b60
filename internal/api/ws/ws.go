// Package ws adapts internal/events subscriptions to gorilla/websocket
// connections: per-client channel subscription, 30s ping heartbeat, drop
// after one missed pong, ordered-per-connection delivery.
package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pipectl/pipectl/internal/events"
)

const (
	pingPeriod = 30 * time.Second
	pongWait   = pingPeriod + 10*time.Second
	writeWait  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The activity feed is read-only telemetry, not a credentialed API in
	// its own right; every origin is accepted and the /api/ws route carries
	// no auth middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Broadcaster upgrades HTTP connections to the job activity WebSocket
// feed and pumps events from the bus to each client.
type Broadcaster struct {
	bus    *events.Bus
	logger *zap.Logger
}

// New constructs a Broadcaster bound to the process-wide event bus.
func New(bus *events.Bus, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{bus: bus, logger: logger}
}

// Handle is a gin handler: GET /api/ws?channel=scans|alerts.
func (b *Broadcaster) Handle(c *gin.Context) {
	channel := events.Channel(c.DefaultQuery("channel", string(events.ChannelScans)))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := b.bus.Subscribe(channel)
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go b.readPump(conn, done)
	b.writePump(conn, sub, done)
}

// readPump drains client frames (the feed is one-directional) and
// enforces the pong deadline; a missed pong closes done, which also
// tears down the write side.
func (b *Broadcaster) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump delivers events in emit order and sends a ping every
// pingPeriod; a client that misses one ping/pong cycle is dropped.
func (b *Broadcaster) writePump(conn *websocket.Conn, sub *events.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
