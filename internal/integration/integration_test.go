// Package integration provides end-to-end integration tests for openworkd.
// These tests start a real server and communicate via WebSocket and HTTP.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/config"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/db"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment"
	deployhandlers "github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/handlers"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/store"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/events/bus"
	gateways "github.com/Gabriel0110/openwork-jarvis-sub000/internal/gateway/websocket"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/policy"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/install"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/manifest"
	ws "github.com/Gabriel0110/openwork-jarvis-sub000/pkg/websocket"
)

// TestServer holds the test server and its dependencies
type TestServer struct {
	Server   *httptest.Server
	Gateway  *gateways.Gateway
	Store    store.Store
	Manager  *deployment.Manager
	EventBus bus.EventBus
	Logger   *logger.Logger

	pool       *db.Pool
	cancelFunc context.CancelFunc
}

// NewTestServer creates a test server with all components initialized.
// No runtime is installed and no deployment is started, so nothing spawns
// processes; lifecycle beyond CRUD is covered by the manager's own tests.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	// Initialize logger (quiet for tests)
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  "error",
		Format: "console",
	})
	require.NoError(t, err)

	// Create context
	ctx, cancel := context.WithCancel(context.Background())

	// Initialize event bus
	eventBus := bus.NewMemoryEventBus(log)

	tmpDir := t.TempDir()
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver: "sqlite3",
			Path:   filepath.Join(tmpDir, "openwork.db"),
		},
		Runtime: config.RuntimeConfig{
			RootDir:               filepath.Join(tmpDir, "runtime"),
			BinaryName:            "jarvis",
			LogDir:                filepath.Join(tmpDir, "logs"),
			HealthIntervalMs:      5000,
			HealthTimeoutMs:       2000,
			GatewayHost:           "127.0.0.1",
			PortRangeStart:        18800,
			PortRangeEnd:          18899,
			InstallTimeoutMinutes: 1,
			CargoBin:              "cargo",
			EventRetentionHours:   336,
			DefaultProvider:       "anthropic",
			DefaultModel:          "sonnet",
		},
	}

	pool, err := db.Open(&cfg.Database)
	require.NoError(t, err)
	repo, err := store.New(pool)
	require.NoError(t, err)

	registry, err := policy.LoadCatalog("", log)
	require.NoError(t, err)
	releases := manifest.Load("", log)
	installer := install.New(&cfg.Runtime, repo, releases, log)
	manager := deployment.New(cfg, repo, installer, registry, eventBus, log)

	// Create WebSocket gateway
	gateway := gateways.NewGateway(log)

	// Start hub
	go gateway.Hub.Run(ctx)

	// Bridge bus events to connected WebSocket clients
	gateways.RegisterDeploymentNotifications(ctx, eventBus, gateway.Hub, log)

	// Create router
	gin.SetMode(gin.TestMode)
	router := gin.New()
	gateway.SetupRoutes(router)
	deployhandlers.RegisterRoutes(router, gateway.Dispatcher, manager, log)

	// Create test server
	server := httptest.NewServer(router)

	return &TestServer{
		Server:     server,
		Gateway:    gateway,
		Store:      repo,
		Manager:    manager,
		EventBus:   eventBus,
		Logger:     log,
		pool:       pool,
		cancelFunc: cancel,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	ts.cancelFunc()
	ts.Server.Close()
	if err := ts.pool.Close(); err != nil {
		ts.Logger.Warn("failed to close db pool")
	}
	ts.EventBus.Close()
}

// WSClient is a helper for WebSocket communication in tests
type WSClient struct {
	conn          *websocket.Conn
	t             *testing.T
	notifications chan *ws.Message
	done          chan struct{}
	// pending tracks in-flight requests: request ID -> response channel
	pending map[string]chan *ws.Message
	// send is the channel for outgoing messages (serialized through writePump)
	send chan []byte
	mu   sync.Mutex
}

// NewWSClient creates a WebSocket connection to the test server
func NewWSClient(t *testing.T, serverURL string) *WSClient {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"

	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	conn, resp, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	client := &WSClient{
		conn:          conn,
		t:             t,
		notifications: make(chan *ws.Message, 100),
		done:          make(chan struct{}),
		pending:       make(map[string]chan *ws.Message),
		send:          make(chan []byte, 256),
	}

	go client.readPump()
	go client.writePump()

	return client
}

// readPump reads messages from the WebSocket connection
func (c *WSClient) readPump() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		// The server batches queued messages with newline separators
		for _, part := range strings.Split(string(data), "\n") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}

			var msg ws.Message
			if err := json.Unmarshal([]byte(part), &msg); err != nil {
				continue
			}

			if msg.Type == ws.MessageTypeNotification {
				select {
				case c.notifications <- &msg:
				default:
				}
				continue
			}

			// Route response to the pending request by ID
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- &msg:
				default:
				}
			}
		}
	}
}

// writePump serializes all writes to the WebSocket connection
func (c *WSClient) writePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// Close closes the WebSocket connection
func (c *WSClient) Close() {
	close(c.send)
	if err := c.conn.Close(); err != nil {
		c.t.Logf("failed to close websocket: %v", err)
	}
	<-c.done
}

// SendRequest sends a request and waits for the matching response or error frame
func (c *WSClient) SendRequest(id, action string, payload interface{}) (*ws.Message, error) {
	msg, err := ws.NewRequest(id, action, payload)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	respCh := make(chan *ws.Message, 1)

	// Register the pending request BEFORE sending so the response is not missed
	c.mu.Lock()
	c.pending[id] = respCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	select {
	case c.send <- data:
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("send buffer full")
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-time.After(10 * time.Second):
		return nil, context.DeadlineExceeded
	}
}

// WaitForNotification waits for a notification with the given action
func (c *WSClient) WaitForNotification(action string, timeout time.Duration) (*ws.Message, error) {
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-c.notifications:
			if msg.Action == action {
				return msg, nil
			}
		case <-deadline:
			return nil, context.DeadlineExceeded
		}
	}
}

func createDeployment(t *testing.T, client *WSClient, name string) string {
	t.Helper()

	resp, err := client.SendRequest("create-"+name, ws.ActionDeploymentCreate, map[string]interface{}{
		"name":           name,
		"workspace_path": t.TempDir(),
	})
	require.NoError(t, err)
	require.Equal(t, ws.MessageTypeResponse, resp.Type)

	var payload map[string]interface{}
	require.NoError(t, resp.ParsePayload(&payload))

	return payload["id"].(string)
}

// ============================================
// HEALTH CHECK TESTS
// ============================================

func TestHealthCheck(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	client := NewWSClient(t, ts.Server.URL)
	defer client.Close()

	resp, err := client.SendRequest("health-1", ws.ActionHealthCheck, map[string]interface{}{})
	require.NoError(t, err)

	assert.Equal(t, "health-1", resp.ID)
	assert.Equal(t, ws.MessageTypeResponse, resp.Type)
	assert.Equal(t, ws.ActionHealthCheck, resp.Action)

	var payload map[string]interface{}
	require.NoError(t, resp.ParsePayload(&payload))

	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, "openworkd", payload["service"])
}

// ============================================
// DEPLOYMENT CRUD TESTS
// ============================================

func TestDeploymentCRUD(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	client := NewWSClient(t, ts.Server.URL)
	defer client.Close()

	var deploymentID string

	t.Run("CreateDeployment", func(t *testing.T) {
		resp, err := client.SendRequest("deploy-create-1", ws.ActionDeploymentCreate, map[string]interface{}{
			"name":           "Integration Deployment",
			"workspace_path": t.TempDir(),
		})
		require.NoError(t, err)
		require.Equal(t, ws.MessageTypeResponse, resp.Type)

		var payload map[string]interface{}
		require.NoError(t, resp.ParsePayload(&payload))

		require.NotEmpty(t, payload["id"])
		deploymentID = payload["id"].(string)

		assert.Equal(t, "Integration Deployment", payload["name"])
		assert.Equal(t, "created", payload["status"])
		assert.Equal(t, "stopped", payload["desired_state"])
		// Defaults fill in what the request omitted
		assert.Equal(t, "anthropic", payload["model_provider"])
		assert.Equal(t, "sonnet", payload["model_name"])

		pol := payload["policy"].(map[string]interface{})
		assert.Equal(t, "global_only", pol["mode"])

		caps := payload["capabilities"].(map[string]interface{})
		assert.NotEmpty(t, caps["tools"])
	})

	t.Run("GetDeployment", func(t *testing.T) {
		resp, err := client.SendRequest("deploy-get-1", ws.ActionDeploymentGet, map[string]interface{}{
			"id": deploymentID,
		})
		require.NoError(t, err)
		require.Equal(t, ws.MessageTypeResponse, resp.Type)

		var payload map[string]interface{}
		require.NoError(t, resp.ParsePayload(&payload))
		assert.Equal(t, deploymentID, payload["id"])
	})

	t.Run("ListDeployments", func(t *testing.T) {
		resp, err := client.SendRequest("deploy-list-1", ws.ActionDeploymentList, map[string]interface{}{})
		require.NoError(t, err)
		require.Equal(t, ws.MessageTypeResponse, resp.Type)

		var payload map[string]interface{}
		require.NoError(t, resp.ParsePayload(&payload))

		assert.Equal(t, float64(1), payload["total"])
		deployments := payload["deployments"].([]interface{})
		require.Len(t, deployments, 1)
	})

	t.Run("UpdateDeployment", func(t *testing.T) {
		resp, err := client.SendRequest("deploy-update-1", ws.ActionDeploymentUpdate, map[string]interface{}{
			"id":   deploymentID,
			"name": "Renamed Deployment",
		})
		require.NoError(t, err)
		require.Equal(t, ws.MessageTypeResponse, resp.Type)

		var payload map[string]interface{}
		require.NoError(t, resp.ParsePayload(&payload))
		assert.Equal(t, "Renamed Deployment", payload["name"])
	})

	t.Run("ListEventsEmpty", func(t *testing.T) {
		resp, err := client.SendRequest("deploy-events-1", ws.ActionDeploymentEvents, map[string]interface{}{
			"id": deploymentID,
		})
		require.NoError(t, err)
		require.Equal(t, ws.MessageTypeResponse, resp.Type)

		var payload map[string]interface{}
		require.NoError(t, resp.ParsePayload(&payload))
		assert.Equal(t, float64(0), payload["total"])
	})

	t.Run("DeleteDeployment", func(t *testing.T) {
		resp, err := client.SendRequest("deploy-delete-1", ws.ActionDeploymentDelete, map[string]interface{}{
			"id": deploymentID,
		})
		require.NoError(t, err)
		require.Equal(t, ws.MessageTypeResponse, resp.Type)

		var payload map[string]interface{}
		require.NoError(t, resp.ParsePayload(&payload))
		assert.Equal(t, true, payload["success"])
	})

	t.Run("GetAfterDelete", func(t *testing.T) {
		resp, err := client.SendRequest("deploy-get-2", ws.ActionDeploymentGet, map[string]interface{}{
			"id": deploymentID,
		})
		require.NoError(t, err)
		require.Equal(t, ws.MessageTypeError, resp.Type)

		var errPayload ws.ErrorPayload
		require.NoError(t, resp.ParsePayload(&errPayload))
		assert.Equal(t, ws.ErrorCodeNotFound, errPayload.Code)
	})
}

func TestDeploymentValidationOverWebSocket(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	client := NewWSClient(t, ts.Server.URL)
	defer client.Close()

	resp, err := client.SendRequest("invalid-1", ws.ActionDeploymentCreate, map[string]interface{}{
		"workspace_path": t.TempDir(),
	})
	require.NoError(t, err)
	require.Equal(t, ws.MessageTypeError, resp.Type)

	var errPayload ws.ErrorPayload
	require.NoError(t, resp.ParsePayload(&errPayload))
	assert.Equal(t, ws.ErrorCodeValidation, errPayload.Code)
	assert.Contains(t, errPayload.Message, "name")
}

func TestUnknownActionReturnsErrorFrame(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	client := NewWSClient(t, ts.Server.URL)
	defer client.Close()

	resp, err := client.SendRequest("bogus-1", "bogus.action", map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, ws.MessageTypeError, resp.Type)

	var errPayload ws.ErrorPayload
	require.NoError(t, resp.ParsePayload(&errPayload))
	assert.Equal(t, ws.ErrorCodeUnknownAction, errPayload.Code)
}

// ============================================
// RUNTIME STATUS TESTS
// ============================================

func TestRuntimeStatusOverWebSocket(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	client := NewWSClient(t, ts.Server.URL)
	defer client.Close()

	resp, err := client.SendRequest("runtime-status-1", ws.ActionRuntimeStatus, map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, ws.MessageTypeResponse, resp.Type)

	var payload map[string]interface{}
	require.NoError(t, resp.ParsePayload(&payload))

	assert.Equal(t, "not_installed", payload["state"])
	versions := payload["available_versions"].([]interface{})
	assert.Contains(t, versions, "main")
}
