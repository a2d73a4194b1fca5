package jarvis

import "strings"

// maxInterpretDepth bounds recursion through nested data/payload envelopes.
const maxInterpretDepth = 5

// Payload field groups, checked in fallback order: explicit delta fields,
// then the choices array, then cumulative text fields, then nested
// envelopes. A payload is interpreted as exactly one of these shapes.
var (
	incrementalFields = []string{"delta", "token", "chunk", "text_delta", "content_delta", "partial"}
	cumulativeFields  = []string{"response", "message", "content", "text", "output"}
	envelopeFields    = []string{"data", "payload"}
	modelFields       = []string{"model", "model_name"}
	errorFields       = []string{"error", "message_error", "detail"}
	completionFields  = []string{"done", "complete", "completed", "finish", "finished"}
)

// accumulator collects the normalized output of one webhook stream: the
// incrementally emitted text, a held cumulative snapshot, and the metadata
// extracted along the way.
type accumulator struct {
	onToken func(string)

	// streaming is true for event-stream/ndjson transports. It makes raw
	// (non-JSON) payloads incremental and permits emitting a cumulative
	// snapshot that arrives before any incremental token.
	streaming bool

	emitted       strings.Builder
	finalResponse string
	hasFinal      bool

	model       string
	errText     string
	done        bool
	tokenChunks int
}

func newAccumulator(onToken func(string), streaming bool) *accumulator {
	return &accumulator{onToken: onToken, streaming: streaming}
}

func (a *accumulator) emitToken(s string) {
	if s == "" {
		return
	}
	if a.onToken != nil {
		a.onToken(s)
	}
	a.emitted.WriteString(s)
	a.tokenChunks++
}

// interpret dispatches one decoded payload. eventName carries transport
// framing metadata (the SSE event field) for payloads that omit their own.
func (a *accumulator) interpret(payload any, eventName string, depth int) {
	if a.done || depth > maxInterpretDepth {
		return
	}

	switch v := payload.(type) {
	case string:
		if strings.TrimSpace(v) == doneSentinel {
			a.done = true
			return
		}
		// Raw text on a streaming transport is a token; on a single-shot
		// body it is the whole answer.
		if a.streaming {
			a.emitToken(v)
		} else {
			a.applyCumulative(v)
		}

	case []any:
		for _, item := range v {
			a.interpret(item, eventName, depth+1)
			if a.done {
				return
			}
		}

	case map[string]any:
		a.interpretObject(v, eventName, depth)
	}
}

func (a *accumulator) interpretObject(obj map[string]any, eventName string, depth int) {
	// The payload's own event field overrides the frame-level one.
	if ev := stringAt(obj, "event"); ev != "" {
		eventName = ev
	}

	for _, key := range modelFields {
		if m := stringAt(obj, key); m != "" {
			a.model = m
		}
	}
	for _, key := range errorFields {
		if e := errorText(obj[key]); e != "" {
			a.errText = e
		}
	}

	switch {
	case a.applyIncremental(obj):
	case a.applyChoices(obj):
	case a.applyCumulativeFields(obj):
	default:
		for _, key := range envelopeFields {
			if nested, ok := obj[key]; ok {
				a.interpret(nested, eventName, depth+1)
			}
		}
	}

	if completionMarked(obj, eventName) {
		a.done = true
	}
}

// applyIncremental emits explicit delta-style fields. Returns true when the
// payload matched this shape, even if the text was empty.
func (a *accumulator) applyIncremental(obj map[string]any) bool {
	for _, key := range incrementalFields {
		v, ok := obj[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			a.emitToken(t)
			return true
		case map[string]any:
			// OpenAI-style {"delta": {"content": "..."}} without choices.
			if content := stringAt(t, "content"); content != "" {
				a.emitToken(content)
				return true
			}
		}
	}
	return false
}

// applyChoices emits OpenAI chat-completion chunks: choices[].delta.content.
func (a *accumulator) applyChoices(obj map[string]any) bool {
	choices, ok := obj["choices"].([]any)
	if !ok {
		return false
	}
	matched := false
	for _, c := range choices {
		choice, ok := c.(map[string]any)
		if !ok {
			continue
		}
		delta, ok := choice["delta"].(map[string]any)
		if !ok {
			continue
		}
		matched = true
		if content := stringAt(delta, "content"); content != "" {
			a.emitToken(content)
		}
	}
	return matched
}

func (a *accumulator) applyCumulativeFields(obj map[string]any) bool {
	for _, key := range cumulativeFields {
		if s, ok := obj[key].(string); ok {
			a.applyCumulative(s)
			return true
		}
	}
	return false
}

// applyCumulative reconciles a cumulative snapshot against what has already
// been emitted. A snapshot that extends the emitted text as a prefix yields
// only the suffix; a snapshot arriving before any token is held back unless
// the transport streams (single-shot JSON must not fake a token stream);
// anything else replaces the held response wholesale.
func (a *accumulator) applyCumulative(s string) {
	if s == "" {
		return
	}
	emitted := a.emitted.String()
	switch {
	case emitted == "" && a.streaming:
		a.emitToken(s)
	case emitted == "":
		a.finalResponse = s
		a.hasFinal = true
	case strings.HasPrefix(s, emitted):
		a.emitToken(s[len(emitted):])
	default:
		a.finalResponse = s
		a.hasFinal = true
	}
}

// Final reconciles the held snapshot against the emitted text and returns
// the authoritative response. A snapshot that still extends the emitted
// text emits the missing suffix; a snapshot with no emitted text at all is
// returned untouched so the synthetic fallback can stream it.
func (a *accumulator) Final() string {
	emitted := a.emitted.String()
	if !a.hasFinal {
		return emitted
	}
	switch {
	case emitted == "":
		return a.finalResponse
	case strings.HasPrefix(a.finalResponse, emitted):
		a.emitToken(a.finalResponse[len(emitted):])
		return a.finalResponse
	case strings.HasPrefix(emitted, a.finalResponse):
		return emitted
	default:
		return a.finalResponse
	}
}

func stringAt(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// errorText extracts a usable message from an error-ish value: a plain
// string, or an object carrying message/detail/error.
func errorText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		for _, key := range []string{"message", "detail", "error"} {
			if s := stringAt(t, key); s != "" {
				return s
			}
		}
	}
	return ""
}

func completionMarked(obj map[string]any, eventName string) bool {
	if isCompletionName(eventName) {
		return true
	}
	for _, key := range completionFields {
		if b, ok := obj[key].(bool); ok && b {
			return true
		}
	}
	return false
}

func isCompletionName(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "done", "complete", "completed", "finish", "finished":
		return true
	}
	return false
}
