package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventActivateRow is sent by the page when the user clicks a leak row.
const EventActivateRow = "activate_row"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the session token is the access check
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ActivateRowPayload is the body of an activate_row message.
type ActivateRowPayload struct {
	Index int `json:"index"`
}

// PageHooks connects page connections to the session layer.
type PageHooks struct {
	// Validate checks the token and returns the session it grants access to.
	Validate func(token string) (uuid.UUID, error)
	// Exists reports whether the session is live on this instance.
	Exists func(sessionID uuid.UUID) bool
	// Initial returns the snapshot sent to a page right after it attaches.
	Initial func(sessionID uuid.UUID) (interface{}, bool)
	// ActivateRow handles a row click coming from the page.
	ActivateRow func(sessionID uuid.UUID, index int) error
}

// Client represents a single page connection watching a session.
type Client struct {
	ID        string
	SessionID uuid.UUID
	JoinedAt  time.Time
	hub       *Hub
	hooks     PageHooks
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, logger *zap.Logger, hooks PageHooks) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		token := c.Query("token")
		if sessionIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "session_id and token required"})
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid session_id"})
			return
		}
		granted, err := hooks.Validate(token)
		if err != nil || granted != sessionID {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}
		if hooks.Exists != nil && !hooks.Exists(sessionID) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "session not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			JoinedAt:  time.Now(),
			hub:       hub,
			hooks:     hooks,
			conn:      conn,
			send:      make(chan WSMessage, 256),
			logger:    logger,
		}
		hub.Register(client)
		if hooks.Initial != nil {
			if snap, ok := hooks.Initial(sessionID); ok {
				hub.SendToClient(sessionID, client.ID, EventState, snap)
			}
		}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case EventActivateRow:
			var payload ActivateRowPayload
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				continue
			}
			if c.hooks.ActivateRow == nil {
				continue
			}
			if err := c.hooks.ActivateRow(c.SessionID, payload.Index); err != nil {
				c.logger.Debug("row activation rejected", zap.Error(err), zap.Int("index", payload.Index), zap.String("session_id", c.SessionID.String()))
			}
		default:
			// ignore
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
