package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/orderflow-lab/orderflow/internal/core/aggregation"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stream carries derived, non-sensitive data; origin policy is
	// left to the deployment's proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamHandler upgrades the connection and pushes window updates until
// the client goes away or falls behind. A closed update channel means the
// hub dropped the subscription; the client should reconnect and resync
// from /v1/windows.
func (s *Server) streamHandler(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream unavailable"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("[Stream] Upgrade failed", "error", err)
		return
	}

	sub := s.hub.Subscribe()
	if sub == nil {
		conn.Close()
		return
	}
	slog.Info("[Stream] Client connected", "subscriber", sub.ID())

	// Reader only notices the peer closing; clients send nothing.
	go func() {
		defer s.hub.Unsubscribe(sub)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.writePump(conn, sub.ID(), sub.Updates())
}

func (s *Server) writePump(conn *websocket.Conn, id string, updates <-chan aggregation.Update) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		slog.Info("[Stream] Client disconnected", "subscriber", id)
	}()

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				// Dropped by the hub; tell the client to resync.
				conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber lagging, resync"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(u); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
