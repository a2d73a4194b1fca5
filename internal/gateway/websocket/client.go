package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
	ws "github.com/Gabriel0110/openwork-jarvis-sub000/pkg/websocket"
	"go.uber.org/zap"
)

const (
	// Deadline for a single write to the peer.
	writeWait = 10 * time.Second

	// The peer must answer a ping within this window or the read side
	// gives up.
	pongWait = 60 * time.Second

	// Ping cadence; must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Largest frame accepted from a peer.
	maxMessageSize = 512 * 1024
)

// Client is a single websocket connection.
type Client struct {
	ID            string
	conn          *websocket.Conn
	hub           *Hub
	send          chan []byte
	subscriptions map[string]bool // deployment ids this client follows
	logger        *logger.Logger
}

func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:            id,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
		logger:        log.WithFields(zap.String("client_id", id)),
	}
}

// ReadPump pumps frames from the connection into the dispatcher. It owns
// the read side: deadlines, pong handling, and teardown on error.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg ws.Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			c.logger.Error("Failed to parse message", zap.Error(err))
			c.sendError("", "", ws.ErrorCodeBadRequest, "Invalid message format", nil)
			continue
		}

		c.handleMessage(ctx, &msg)
	}
}

func (c *Client) handleMessage(ctx context.Context, msg *ws.Message) {
	c.logger.Debug("Received message",
		zap.String("action", msg.Action),
		zap.String("id", msg.ID))

	// Subscription actions bind state to this connection, so they never reach
	// the dispatcher.
	switch msg.Action {
	case ws.ActionDeploymentSubscribe:
		c.handleSubscription(msg, true)
		return
	case ws.ActionDeploymentUnsubscribe:
		c.handleSubscription(msg, false)
		return
	}

	response, err := c.hub.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		c.logger.Error("Handler error",
			zap.String("action", msg.Action),
			zap.Error(err))
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
		return
	}

	if response != nil {
		c.sendMessage(response)
	}
}

// SubscribeRequest is the payload for deployment.subscribe and
// deployment.unsubscribe.
type SubscribeRequest struct {
	DeploymentID string `json:"deployment_id"`
}

func (c *Client) handleSubscription(msg *ws.Message, subscribe bool) {
	var req SubscribeRequest
	if err := msg.ParsePayload(&req); err != nil {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
		return
	}
	if req.DeploymentID == "" {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeValidation, "deployment_id is required", nil)
		return
	}

	if subscribe {
		c.hub.SubscribeToDeployment(c, req.DeploymentID)
	} else {
		c.hub.UnsubscribeFromDeployment(c, req.DeploymentID)
	}

	resp, _ := ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success":       true,
		"deployment_id": req.DeploymentID,
	})
	c.sendMessage(resp)
}

func (c *Client) sendMessage(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("Client send buffer full")
	}
}

func (c *Client) sendError(id, action, code, message string, details map[string]interface{}) {
	msg, err := ws.NewError(id, action, code, message, details)
	if err != nil {
		c.logger.Error("Failed to create error message", zap.Error(err))
		return
	}
	c.sendMessage(msg)
}

// WritePump drains the send queue to the connection and keeps it alive
// with pings. One goroutine per client; the hub closes c.send to stop it.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeBatch(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeBatch writes first plus everything already queued behind it as one
// newline-separated frame.
func (c *Client) writeBatch(first []byte) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}

	w.Write(first)
	for n := len(c.send); n > 0; n-- {
		w.Write([]byte{'\n'})
		w.Write(<-c.send)
	}

	return w.Close()
}
