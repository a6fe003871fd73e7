package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/hub"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxFrameSize = 64 << 10
)

// wsConn adapts a WebSocket connection to hub.Conn. The hub serializes
// Send calls per client; pings go through WriteControl, which gorilla
// allows concurrently with writers.
type wsConn struct {
	conn *websocket.Conn
}

var _ hub.Conn = (*wsConn)(nil)

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error { return c.conn.Close() }

// clientMessage is a client-to-server frame.
type clientMessage struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	client := s.hub.Connect(&wsConn{conn: conn})
	defer s.hub.Disconnect(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go keepAlive(ctx, conn)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read failed", "client_id", client.ID(), "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if s.hub.Send(ctx, client, domain.ErrorNotification{Error: "invalid JSON"}) != nil {
				return
			}
			continue
		}

		var reply domain.Notification
		switch {
		case msg.TaskID != "" && msg.Type == "subscribe":
			s.hub.Subscribe(client, msg.TaskID)
			reply = domain.SubscribedNotification{TaskID: msg.TaskID}
		case msg.TaskID != "" && msg.Type == "unsubscribe":
			s.hub.Unsubscribe(client, msg.TaskID)
			reply = domain.UnsubscribedNotification{TaskID: msg.TaskID}
		default:
			reply = domain.ErrorNotification{Error: "invalid message"}
		}
		if s.hub.Send(ctx, client, reply) != nil {
			return
		}
	}
}

// keepAlive pings the peer until ctx is done.
func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
