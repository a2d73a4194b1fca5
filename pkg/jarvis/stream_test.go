package jarvis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	return NewClient(baseURL, log)
}

// chunkedReader returns at most n bytes per Read to exercise arbitrary
// chunk boundaries.
type chunkedReader struct {
	data []byte
	n    int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.n
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestSSEFrameBoundaryInvariance(t *testing.T) {
	raw := "event: message\r\n" +
		"data: {\"delta\": \"Hel\"}\r\n" +
		"\r\n" +
		"data: {\"delta\": \"lo \"}\n" +
		"\n" +
		": keep-alive\n" +
		"data: {\"content\":\n" +
		"data:  \"Hello world\"}\n" +
		"\n" +
		"data: [DONE]\n" +
		"\n"

	want := []string{"Hel", "lo ", "world"}

	for _, chunkSize := range []int{1, 2, 3, 7, 16, len(raw)} {
		var tokens []string
		acc := newAccumulator(func(tok string) { tokens = append(tokens, tok) }, true)
		err := consumeEventStream(context.Background(), &chunkedReader{data: []byte(raw), n: chunkSize}, acc)
		require.NoError(t, err)

		assert.Equal(t, want, tokens, "chunk size %d", chunkSize)
		assert.True(t, acc.done, "chunk size %d should hit the sentinel", chunkSize)
		assert.Equal(t, "Hello world", acc.Final(), "chunk size %d", chunkSize)
	}
}

func TestStreamWebhookSSE(t *testing.T) {
	var gotBody map[string]string
	var gotAccept, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/webhook", r.URL.Path)
		gotAccept = r.Header.Get("Accept")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range []string{
			"data: {\"delta\": \"Hello\", \"model\": \"jarvis-1\"}\n\n",
			"data: {\"delta\": \", world\"}\n\n",
			"data: [DONE]\n\n",
		} {
			_, _ = io.WriteString(w, frame)
			flusher.Flush()
		}
	}))
	defer server.Close()

	var tokens []string
	res := newTestClient(t, server.URL).StreamWebhook(context.Background(), StreamOptions{
		DeploymentID: "dep-1",
		Message:      "hi there",
		AuthToken:    "sekret",
		OnToken:      func(tok string) { tokens = append(tokens, tok) },
	})

	assert.Equal(t, "hi there", gotBody["message"])
	assert.Contains(t, gotAccept, "text/event-stream")
	assert.Equal(t, "Bearer sekret", gotAuth)

	assert.True(t, res.OK)
	assert.Equal(t, "Hello, world", res.Response)
	assert.Equal(t, "jarvis-1", res.Model)
	assert.Equal(t, TransportEventStream, res.Transport)
	assert.True(t, res.Streamed)
	assert.False(t, res.SyntheticFallbackUsed)
	assert.Equal(t, []string{"Hello", ", world"}, tokens)
	assert.Equal(t, 2, res.TokenChunks)
	assert.GreaterOrEqual(t, res.DurationMs, int64(0))
}

func TestStreamWebhookNDJSONCumulative(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"content": "Hello"}`+"\n")
		_, _ = io.WriteString(w, `{"content": "Hello world"}`+"\n")
		_, _ = io.WriteString(w, `{"done": true, "model": "jarvis-1"}`+"\n")
	}))
	defer server.Close()

	var tokens []string
	res := newTestClient(t, server.URL).StreamWebhook(context.Background(), StreamOptions{
		Message: "hi",
		OnToken: func(tok string) { tokens = append(tokens, tok) },
	})

	assert.True(t, res.OK)
	assert.Equal(t, []string{"Hello", " world"}, tokens)
	assert.Equal(t, "Hello world", res.Response)
	assert.Equal(t, "jarvis-1", res.Model)
	assert.Equal(t, TransportNDJSON, res.Transport)
	assert.True(t, res.Streamed)
	assert.False(t, res.SyntheticFallbackUsed)
}

func TestStreamWebhookPlainJSONSyntheticFallback(t *testing.T) {
	response := strings.Repeat("lorem ipsum dolor sit amet ", 9) // ~250 chars
	require.Greater(t, len(response), 240)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"response": response})
	}))
	defer server.Close()

	var tokens []string
	res := newTestClient(t, server.URL).StreamWebhook(context.Background(), StreamOptions{
		Message: "hi",
		OnToken: func(tok string) { tokens = append(tokens, tok) },
	})

	assert.True(t, res.OK)
	assert.Equal(t, response, res.Response)
	assert.Equal(t, TransportJSON, res.Transport)
	assert.False(t, res.Streamed)
	assert.True(t, res.SyntheticFallbackUsed)
	assert.Greater(t, res.TokenChunks, 1)
	assert.Equal(t, response, strings.Join(tokens, ""))
	for _, tok := range tokens {
		assert.LessOrEqual(t, len(tok), DefaultChunkSize)
	}
}

func TestStreamWebhookSyntheticFallbackDisabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "short answer"})
	}))
	defer server.Close()

	var tokens []string
	res := newTestClient(t, server.URL).StreamWebhook(context.Background(), StreamOptions{
		Message:                  "hi",
		OnToken:                  func(tok string) { tokens = append(tokens, tok) },
		DisableSyntheticFallback: true,
	})

	assert.True(t, res.OK)
	assert.Equal(t, "short answer", res.Response)
	assert.Empty(t, tokens)
	assert.Zero(t, res.TokenChunks)
	assert.False(t, res.SyntheticFallbackUsed)
}

func TestStreamWebhookUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"Unauthorized token"}`)
	}))
	defer server.Close()

	res := newTestClient(t, server.URL).StreamWebhook(context.Background(), StreamOptions{Message: "hi"})

	assert.False(t, res.OK)
	assert.True(t, res.Unauthorized)
	assert.Equal(t, "Unauthorized token", res.Error)
}

func TestStreamWebhookServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"message":"runtime on fire"}`)
	}))
	defer server.Close()

	res := newTestClient(t, server.URL).StreamWebhook(context.Background(), StreamOptions{Message: "hi"})

	assert.False(t, res.OK)
	assert.False(t, res.Unauthorized)
	assert.Equal(t, "runtime on fire", res.Error)
}

func TestStreamWebhookNonJSONErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream exploded")
	}))
	defer server.Close()

	res := newTestClient(t, server.URL).StreamWebhook(context.Background(), StreamOptions{Message: "hi"})

	assert.False(t, res.OK)
	assert.Equal(t, "upstream exploded", res.Error)
}

func TestStreamWebhookEmptyResponseIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"response": "   "}`)
	}))
	defer server.Close()

	res := newTestClient(t, server.URL).StreamWebhook(context.Background(), StreamOptions{Message: "hi"})

	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Error)
}

func TestStreamWebhookErrorPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"error": "model overloaded"}`)
	}))
	defer server.Close()

	res := newTestClient(t, server.URL).StreamWebhook(context.Background(), StreamOptions{Message: "hi"})

	assert.False(t, res.OK)
	assert.Equal(t, "model overloaded", res.Error)
}

func TestStreamWebhookAbortMidStream(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, "data: {\"delta\": \"par\"}\n\n")
		flusher.Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	var tokens []string
	res := newTestClient(t, server.URL).StreamWebhook(ctx, StreamOptions{
		Message: "hi",
		OnToken: func(tok string) {
			tokens = append(tokens, tok)
			cancel()
		},
	})

	assert.False(t, res.OK)
	assert.Equal(t, "request aborted", res.Error)
	assert.Equal(t, []string{"par"}, tokens)
}

func TestStreamWebhookConnectionRefused(t *testing.T) {
	res := newTestClient(t, "http://127.0.0.1:1").StreamWebhook(context.Background(), StreamOptions{Message: "hi"})

	assert.False(t, res.OK)
	assert.False(t, res.Unauthorized)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, TransportNone, res.Transport)
}

func TestStreamWebhookAbortBeforeConnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer server.Close()

	res := newTestClient(t, server.URL).StreamWebhook(ctx, StreamOptions{Message: "hi"})

	assert.False(t, res.OK)
	assert.Equal(t, "request aborted", res.Error)
}

func TestClassifyTransport(t *testing.T) {
	cases := map[string]string{
		"text/event-stream":              TransportEventStream,
		"text/event-stream; charset=utf": TransportEventStream,
		"application/x-ndjson":           TransportNDJSON,
		"application/jsonl":              TransportNDJSON,
		"application/json":               TransportJSON,
		"text/plain":                     TransportJSON,
		"":                               TransportJSON,
	}
	for contentType, want := range cases {
		assert.Equal(t, want, classifyTransport(contentType), "content type %q", contentType)
	}
}
