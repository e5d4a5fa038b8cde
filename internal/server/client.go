package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/agoralabs/agora/internal/chat"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxFrameSize  = 4096
	pongWait      = 60 * time.Second
	pingInterval  = 54 * time.Second
	writeDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The chat surface is anonymous and public; any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebsocket upgrades the connection, registers it as a chat
// session, and runs the read/write pumps until disconnect.
func (h *httpHandler) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sessionID := uuid.NewString()
	session, events := h.room.Join(sessionID)

	clientConn := &client{
		conn:    conn,
		session: session,
		events:  events,
		room:    h.room,
		logger:  h.logger.With(zap.String("session_id", sessionID)),
	}

	h.logger.Info("session connected",
		zap.String("session_id", sessionID),
		zap.String("pseudonym", session.Pseudonym))

	go clientConn.writePump()
	clientConn.readPump()
}

// client binds one websocket connection to its chat session.
type client struct {
	conn    *websocket.Conn
	session chat.Session
	events  <-chan chat.Event
	room    *chat.Room
	logger  *zap.Logger
}

// readPump consumes inbound frames until the connection drops, then
// deregisters the session. Malformed frames and core rejections are
// dropped without a reply.
func (c *client) readPump() {
	defer func() {
		c.room.Leave(c.session.ID)
		c.conn.Close()
		c.logger.Info("session disconnected")
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var envelope inboundEnvelope
		if err := json.Unmarshal(frame, &envelope); err != nil {
			c.logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		c.dispatch(envelope)
	}
}

// dispatch routes one inbound event through the closed protocol.
func (c *client) dispatch(envelope inboundEnvelope) {
	switch envelope.Event {
	case inboundEventSendMessage:
		var payload sendMessagePayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			c.logger.Debug("dropping malformed send_message payload", zap.Error(err))
			return
		}
		if _, err := c.room.Post(c.session.ID, payload.Text); err != nil {
			c.logger.Debug("message rejected", zap.Error(err))
		}
	case inboundEventVoteMessage:
		var payload voteMessagePayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			c.logger.Debug("dropping malformed vote_message payload", zap.Error(err))
			return
		}
		direction, err := chat.ParseDirection(payload.VoteType)
		if err != nil {
			c.logger.Debug("vote rejected", zap.Error(err))
			return
		}
		if _, err := c.room.Vote(payload.MessageID, c.session.ID, direction); err != nil {
			c.logger.Debug("vote rejected",
				zap.String("message_id", payload.MessageID),
				zap.Error(err))
		}
	default:
		c.logger.Debug("dropping unknown event", zap.String("event", envelope.Event))
	}
}

// writePump forwards the session's event stream onto the wire and keeps
// the connection alive with pings. It exits when the stream is closed
// by Leave or when a write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.events:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			frame, err := json.Marshal(outboundEnvelope{
				Event: event.EventName(),
				Data:  event,
			})
			if err != nil {
				c.logger.Warn("event encoding failed", zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
