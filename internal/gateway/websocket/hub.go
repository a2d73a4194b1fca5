// Package websocket is the daemon's websocket gateway: one endpoint carrying
// request/response traffic for the dispatcher and push notifications relayed
// from the event bus.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
	ws "github.com/Gabriel0110/openwork-jarvis-sub000/pkg/websocket"
	"go.uber.org/zap"
)

// Hub owns all client connections. Catalog-level notifications go to every
// client; per-deployment notifications only to clients subscribed to that
// deployment id.
type Hub struct {
	clients map[*Client]bool

	// Clients subscribed to specific deployments
	deploymentSubscribers map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *ws.Message

	dispatcher *ws.Dispatcher

	mu     sync.RWMutex
	logger *logger.Logger
}

func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:               make(map[*Client]bool),
		deploymentSubscribers: make(map[string]map[*Client]bool),
		register:              make(chan *Client),
		unregister:            make(chan *Client),
		broadcast:             make(chan *ws.Message, 256),
		dispatcher:            dispatcher,
		logger:                log.WithFields(zap.String("component", "ws-hub")),
	}
}

// Run processes registration and broadcast traffic until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.send(h.allClients(), msg)
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast queues a notification for every connected client.
func (h *Hub) Broadcast(msg *ws.Message) {
	h.broadcast <- msg
}

// BroadcastToDeployment sends a notification to clients subscribed to one
// deployment.
func (h *Hub) BroadcastToDeployment(deploymentID string, msg *ws.Message) {
	h.send(h.deploymentClients(deploymentID), msg)
}

// SubscribeToDeployment subscribes a client to one deployment's scoped
// notifications: stream tokens, health transitions, runtime events.
func (h *Hub) SubscribeToDeployment(client *Client, deploymentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.deploymentSubscribers[deploymentID]; !ok {
		h.deploymentSubscribers[deploymentID] = make(map[*Client]bool)
	}
	h.deploymentSubscribers[deploymentID][client] = true
	client.subscriptions[deploymentID] = true

	h.logger.Debug("Client subscribed to deployment",
		zap.String("client_id", client.ID),
		zap.String("deployment_id", deploymentID))
}

// UnsubscribeFromDeployment drops a client's deployment subscription.
func (h *Hub) UnsubscribeFromDeployment(client *Client, deploymentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropSubscriberLocked(client, deploymentID)
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	h.logger.Debug("Client registered", zap.String("client_id", client.ID))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	for deploymentID := range client.subscriptions {
		h.dropSubscriberLocked(client, deploymentID)
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.deploymentSubscribers = make(map[string]map[*Client]bool)
}

// dropSubscriberLocked removes one client from one deployment's subscriber
// set and prunes the set when it empties. Callers hold h.mu.
func (h *Hub) dropSubscriberLocked(client *Client, deploymentID string) {
	delete(client.subscriptions, deploymentID)
	if clients, ok := h.deploymentSubscribers[deploymentID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.deploymentSubscribers, deploymentID)
		}
	}
}

// allClients snapshots the connected clients so delivery happens outside the
// lock.
func (h *Hub) allClients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		out = append(out, client)
	}
	return out
}

// deploymentClients snapshots one deployment's subscribers. Iterating the
// inner map after releasing the lock would race with new subscriptions.
func (h *Hub) deploymentClients(deploymentID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.deploymentSubscribers[deploymentID]
	out := make([]*Client, 0, len(set))
	for client := range set {
		out = append(out, client)
	}
	return out
}

func (h *Hub) send(clients []*Client, msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal notification", zap.Error(err))
		return
	}
	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			// Buffer full; the write pump cleans the client up.
		}
	}
}
