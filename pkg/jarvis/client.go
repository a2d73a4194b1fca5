// Package jarvis is the HTTP client for a managed jarvis runtime instance.
//
// The runtime exposes two endpoints: GET /health (probed by the supervisor's
// poller) and POST /webhook for chat messages. Webhook responses arrive over
// whichever transport the runtime build supports - event-stream framing,
// newline-delimited JSON, or a single JSON body - and StreamWebhook
// normalizes all three into one incremental token contract.
package jarvis

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
)

// Transports reported in StreamResult.
const (
	TransportEventStream = "event-stream"
	TransportNDJSON      = "ndjson"
	TransportJSON        = "json"
	// TransportNone means the request failed before a response arrived.
	TransportNone = "none"
)

// doneSentinel terminates OpenAI-style streams.
const doneSentinel = "[DONE]"

// Client sends webhook messages to one runtime instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a client for the runtime at baseURL. The underlying
// HTTP client carries no timeout; streams are bounded by the caller's
// context instead.
func NewClient(baseURL string, log *logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     log.WithFields(zap.String("component", "jarvis-client")),
	}
}

// StreamOptions configures one StreamWebhook call.
type StreamOptions struct {
	// DeploymentID tags logs and trace spans.
	DeploymentID string

	// Message is the chat message posted to the runtime.
	Message string

	// AuthToken, when set, is sent as a bearer token.
	AuthToken string

	// OnToken receives each incremental text chunk as it is decoded.
	OnToken func(token string)

	// DisableSyntheticFallback suppresses the chunked re-emission of a
	// non-streamed response.
	DisableSyntheticFallback bool
}

// StreamResult is the outcome of a webhook stream call. Failures are
// reported here, never as a panic or error return, so callers can tell auth
// failures from transient ones from genuinely empty output.
type StreamResult struct {
	OK                    bool   `json:"ok"`
	Response              string `json:"response,omitempty"`
	Model                 string `json:"model,omitempty"`
	Streamed              bool   `json:"streamed"`
	Transport             string `json:"transport"`
	TokenChunks           int    `json:"token_chunks"`
	SyntheticFallbackUsed bool   `json:"synthetic_fallback_used"`
	DurationMs            int64  `json:"duration_ms"`
	Error                 string `json:"error,omitempty"`
	Unauthorized          bool   `json:"unauthorized,omitempty"`
}

// classifyTransport maps a response Content-Type to a transport.
func classifyTransport(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.Contains(ct, "text/event-stream"):
		return TransportEventStream
	case strings.Contains(ct, "ndjson"), strings.Contains(ct, "jsonl"):
		return TransportNDJSON
	default:
		return TransportJSON
	}
}
