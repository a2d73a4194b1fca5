package jarvis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/tracing"
)

// abortedError is returned whenever the caller's context cancels a call in
// flight, regardless of how far the stream got.
const abortedError = "request aborted"

// maxErrorBodyBytes bounds how much of a failure response is read for its
// error text.
const maxErrorBodyBytes = 64 * 1024

// StreamWebhook posts a message to the runtime's webhook endpoint and
// normalizes the response into incremental tokens. It never returns an
// error; every failure mode lands in the result so callers can branch on
// unauthorized vs. transient vs. empty output.
func (c *Client) StreamWebhook(ctx context.Context, opts StreamOptions) *StreamResult {
	start := time.Now()
	res := &StreamResult{Transport: TransportNone}
	finish := func() *StreamResult {
		res.DurationMs = time.Since(start).Milliseconds()
		return res
	}

	ctx, span := tracing.TraceWebhookRequest(ctx, opts.DeploymentID, c.baseURL)
	defer func() {
		tracing.TraceWebhookResult(span, res.Transport, res.TokenChunks, res.OK, res.Error)
		span.End()
	}()

	body, err := json.Marshal(map[string]string{"message": opts.Message})
	if err != nil {
		res.Error = fmt.Sprintf("failed to encode message: %v", err)
		return finish()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/webhook", bytes.NewReader(body))
	if err != nil {
		res.Error = fmt.Sprintf("failed to build request: %v", err)
		return finish()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream, application/x-ndjson, application/json")
	if opts.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+opts.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			res.Error = abortedError
		} else {
			res.Error = err.Error()
		}
		return finish()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		res.Unauthorized = true
		res.Error = extractHTTPError(resp)
		return finish()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.Error = extractHTTPError(resp)
		return finish()
	}

	res.Transport = classifyTransport(resp.Header.Get("Content-Type"))
	acc := newAccumulator(opts.OnToken, res.Transport != TransportJSON)

	c.logger.Debug("webhook stream opened",
		zap.String("deployment_id", opts.DeploymentID),
		zap.String("transport", res.Transport))

	switch res.Transport {
	case TransportEventStream:
		err = consumeEventStream(ctx, resp.Body, acc)
	case TransportNDJSON:
		err = consumeNDJSON(ctx, resp.Body, acc)
	default:
		err = consumeJSON(resp.Body, acc)
	}

	res.Model = acc.model
	res.TokenChunks = acc.tokenChunks
	res.Streamed = acc.tokenChunks > 0

	if err != nil {
		if ctx.Err() != nil {
			res.Error = abortedError
		} else {
			res.Error = err.Error()
		}
		return finish()
	}

	response := acc.Final()
	res.TokenChunks = acc.tokenChunks

	if strings.TrimSpace(response) == "" {
		if acc.errText != "" {
			res.Error = acc.errText
		} else {
			res.Error = "runtime returned an empty response"
		}
		return finish()
	}

	if acc.tokenChunks == 0 && !opts.DisableSyntheticFallback {
		for _, chunk := range SplitTextForStream(response, DefaultChunkSize) {
			if ctx.Err() != nil {
				res.Error = abortedError
				res.TokenChunks = acc.tokenChunks
				return finish()
			}
			acc.emitToken(chunk)
		}
		res.TokenChunks = acc.tokenChunks
		res.SyntheticFallbackUsed = true
	}

	res.OK = true
	res.Response = response
	return finish()
}

// consumeNDJSON feeds each newline-delimited JSON value to the
// accumulator. Lines that fail to decode degrade to raw text.
func consumeNDJSON(ctx context.Context, r io.Reader, acc *accumulator) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(strings.TrimSuffix(scanner.Text(), "\r"))
		if line == "" {
			continue
		}
		acc.interpret(decodeLoose(line), "", 0)
		if acc.done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// consumeJSON reads the whole body as one non-incremental payload.
func consumeJSON(r io.Reader, acc *accumulator) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil
	}
	acc.interpret(decodeLoose(trimmed), "", 0)
	return nil
}

// decodeLoose decodes JSON, falling back to the raw string for payloads
// that are not JSON at all.
func decodeLoose(data string) any {
	var payload any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return data
	}
	return payload
}

// extractHTTPError pulls the best available error text out of a non-2xx
// response: a JSON error/message field, the raw body, or the bare status.
func extractHTTPError(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	trimmed := strings.TrimSpace(string(data))
	if trimmed != "" {
		var body map[string]any
		if err := json.Unmarshal([]byte(trimmed), &body); err == nil {
			for _, key := range []string{"error", "message"} {
				if msg := errorText(body[key]); msg != "" {
					return msg
				}
			}
		}
		return trimmed
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}
