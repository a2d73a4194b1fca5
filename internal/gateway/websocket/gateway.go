package websocket

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
	ws "github.com/Gabriel0110/openwork-jarvis-sub000/pkg/websocket"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The daemon binds to loopback; cross-origin browsers still hit this
		// check, and local UIs connect from file:// and app origins.
		return true
	},
}

// Gateway owns the realtime surface: the action dispatcher, the client hub,
// and the HTTP upgrade endpoint.
type Gateway struct {
	Hub        *Hub
	Dispatcher *ws.Dispatcher
	logger     *logger.Logger
}

func NewGateway(log *logger.Logger) *Gateway {
	dispatcher := ws.NewDispatcher()
	registerHealthAction(dispatcher)

	return &Gateway{
		Hub:        NewHub(dispatcher, log),
		Dispatcher: dispatcher,
		logger:     log.WithFields(zap.String("component", "ws-gateway")),
	}
}

// SetupRoutes adds the websocket endpoint to the router.
func (g *Gateway) SetupRoutes(router *gin.Engine) {
	router.GET("/ws", g.HandleConnection)
}

// HandleConnection upgrades the request, registers the client with the hub,
// and runs the connection's pumps. Registration precedes the read loop.
func (g *Gateway) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	g.logger.Debug("WebSocket connection established",
		zap.String("client_id", clientID),
		zap.String("remote_addr", c.Request.RemoteAddr))

	client := NewClient(clientID, conn, g.Hub, g.logger)
	g.Hub.Register(client)

	go client.WritePump()
	client.ReadPump(c.Request.Context())
}

func registerHealthAction(d *ws.Dispatcher) {
	d.RegisterFunc(ws.ActionHealthCheck, func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
			"status":  "ok",
			"service": "openworkd",
		})
	})
}
