package jarvis

import (
	"reflect"
	"testing"
)

func collectTokens() (*[]string, func(string)) {
	tokens := &[]string{}
	return tokens, func(t string) { *tokens = append(*tokens, t) }
}

func TestInterpretIncrementalFields(t *testing.T) {
	for _, field := range []string{"delta", "token", "chunk", "text_delta", "content_delta", "partial"} {
		tokens, onToken := collectTokens()
		acc := newAccumulator(onToken, true)
		acc.interpret(map[string]any{field: "abc"}, "", 0)

		if !reflect.DeepEqual(*tokens, []string{"abc"}) {
			t.Errorf("field %s: tokens = %v, want [abc]", field, *tokens)
		}
		if acc.tokenChunks != 1 {
			t.Errorf("field %s: tokenChunks = %d, want 1", field, acc.tokenChunks)
		}
	}
}

func TestInterpretDeltaObject(t *testing.T) {
	tokens, onToken := collectTokens()
	acc := newAccumulator(onToken, true)
	acc.interpret(map[string]any{"delta": map[string]any{"content": "hi"}}, "", 0)

	if !reflect.DeepEqual(*tokens, []string{"hi"}) {
		t.Errorf("tokens = %v, want [hi]", *tokens)
	}
}

func TestInterpretChoicesDelta(t *testing.T) {
	tokens, onToken := collectTokens()
	acc := newAccumulator(onToken, true)
	acc.interpret(map[string]any{
		"model": "jarvis-1",
		"choices": []any{
			map[string]any{"delta": map[string]any{"role": "assistant"}},
			map[string]any{"delta": map[string]any{"content": "Hel"}},
			map[string]any{"delta": map[string]any{"content": "lo"}},
		},
	}, "", 0)

	if !reflect.DeepEqual(*tokens, []string{"Hel", "lo"}) {
		t.Errorf("tokens = %v, want [Hel lo]", *tokens)
	}
	if acc.model != "jarvis-1" {
		t.Errorf("model = %q, want jarvis-1", acc.model)
	}
}

func TestCumulativeSnapshotsEmitOnlySuffix(t *testing.T) {
	tokens, onToken := collectTokens()
	acc := newAccumulator(onToken, true)

	acc.interpret(map[string]any{"content": "Hello"}, "", 0)
	acc.interpret(map[string]any{"content": "Hello world"}, "", 0)

	want := []string{"Hello", " world"}
	if !reflect.DeepEqual(*tokens, want) {
		t.Errorf("tokens = %v, want %v", *tokens, want)
	}
	if got := acc.Final(); got != "Hello world" {
		t.Errorf("Final() = %q, want %q", got, "Hello world")
	}
}

func TestCumulativeRepeatEmitsNothing(t *testing.T) {
	tokens, onToken := collectTokens()
	acc := newAccumulator(onToken, true)

	acc.interpret(map[string]any{"content": "Hello"}, "", 0)
	acc.interpret(map[string]any{"content": "Hello"}, "", 0)

	if !reflect.DeepEqual(*tokens, []string{"Hello"}) {
		t.Errorf("tokens = %v, want [Hello]", *tokens)
	}
	if acc.tokenChunks != 1 {
		t.Errorf("tokenChunks = %d, want 1", acc.tokenChunks)
	}
}

func TestCumulativeHeldOnSingleShotTransport(t *testing.T) {
	tokens, onToken := collectTokens()
	acc := newAccumulator(onToken, false)

	acc.interpret(map[string]any{"response": "full answer"}, "", 0)

	if len(*tokens) != 0 {
		t.Errorf("tokens = %v, want none", *tokens)
	}
	if got := acc.Final(); got != "full answer" {
		t.Errorf("Final() = %q, want %q", got, "full answer")
	}
	if acc.tokenChunks != 0 {
		t.Errorf("tokenChunks = %d, want 0", acc.tokenChunks)
	}
}

func TestDivergentSnapshotBecomesWholeMessage(t *testing.T) {
	_, onToken := collectTokens()
	acc := newAccumulator(onToken, true)

	acc.interpret(map[string]any{"content": "Hello"}, "", 0)
	acc.interpret(map[string]any{"content": "Goodbye"}, "", 0)

	if got := acc.Final(); got != "Goodbye" {
		t.Errorf("Final() = %q, want %q", got, "Goodbye")
	}
}

func TestSnapshotBehindEmittedKeepsEmitted(t *testing.T) {
	_, onToken := collectTokens()
	acc := newAccumulator(onToken, true)

	acc.interpret(map[string]any{"delta": "Hello world"}, "", 0)
	acc.interpret(map[string]any{"content": "Hello"}, "", 0)

	if got := acc.Final(); got != "Hello world" {
		t.Errorf("Final() = %q, want %q", got, "Hello world")
	}
}

func TestNestedEnvelopesUnwrapped(t *testing.T) {
	tokens, onToken := collectTokens()
	acc := newAccumulator(onToken, true)

	acc.interpret(map[string]any{"data": map[string]any{"payload": map[string]any{"delta": "deep"}}}, "", 0)

	if !reflect.DeepEqual(*tokens, []string{"deep"}) {
		t.Errorf("tokens = %v, want [deep]", *tokens)
	}
}

func TestInterpretDepthCapped(t *testing.T) {
	payload := map[string]any{"delta": "too deep"}
	for i := 0; i < maxInterpretDepth+2; i++ {
		payload = map[string]any{"data": payload}
	}

	tokens, onToken := collectTokens()
	acc := newAccumulator(onToken, true)
	acc.interpret(payload, "", 0)

	if len(*tokens) != 0 {
		t.Errorf("tokens = %v, want none past the depth cap", *tokens)
	}
}

func TestDoneSentinelStopsInterpretation(t *testing.T) {
	tokens, onToken := collectTokens()
	acc := newAccumulator(onToken, true)

	acc.interpret(doneSentinel, "", 0)
	if !acc.done {
		t.Fatal("sentinel should mark the stream done")
	}
	acc.interpret(map[string]any{"delta": "late"}, "", 0)
	if len(*tokens) != 0 {
		t.Errorf("tokens = %v, want none after done", *tokens)
	}
}

func TestCompletionFlagsAndEventNames(t *testing.T) {
	for _, payload := range []map[string]any{
		{"done": true},
		{"complete": true},
		{"completed": true},
		{"finish": true},
		{"finished": true},
		{"event": "done"},
	} {
		acc := newAccumulator(nil, true)
		acc.interpret(payload, "", 0)
		if !acc.done {
			t.Errorf("payload %v should mark done", payload)
		}
	}

	// A false flag does not complete.
	acc := newAccumulator(nil, true)
	acc.interpret(map[string]any{"done": false}, "", 0)
	if acc.done {
		t.Error("done=false should not complete the stream")
	}

	// Frame-level event names complete too.
	acc = newAccumulator(nil, true)
	acc.interpret(map[string]any{"delta": "x"}, "finished", 0)
	if !acc.done {
		t.Error("frame event name should mark done")
	}
}

func TestCompletionPayloadStillExtractsContent(t *testing.T) {
	tokens, onToken := collectTokens()
	acc := newAccumulator(onToken, true)

	acc.interpret(map[string]any{"done": true, "response": "final text", "model": "jarvis-1"}, "", 0)

	if !acc.done {
		t.Fatal("expected done")
	}
	if !reflect.DeepEqual(*tokens, []string{"final text"}) {
		t.Errorf("tokens = %v, want [final text]", *tokens)
	}
	if acc.model != "jarvis-1" {
		t.Errorf("model = %q, want jarvis-1", acc.model)
	}
}

func TestModelNameFallback(t *testing.T) {
	acc := newAccumulator(nil, true)
	acc.interpret(map[string]any{"model_name": "jarvis-mini"}, "", 0)
	if acc.model != "jarvis-mini" {
		t.Errorf("model = %q, want jarvis-mini", acc.model)
	}
}

func TestErrorExtraction(t *testing.T) {
	cases := []struct {
		payload map[string]any
		want    string
	}{
		{map[string]any{"error": "boom"}, "boom"},
		{map[string]any{"message_error": "bad input"}, "bad input"},
		{map[string]any{"detail": "not found"}, "not found"},
		{map[string]any{"error": map[string]any{"message": "nested boom"}}, "nested boom"},
	}
	for _, tc := range cases {
		acc := newAccumulator(nil, true)
		acc.interpret(tc.payload, "", 0)
		if acc.errText != tc.want {
			t.Errorf("payload %v: errText = %q, want %q", tc.payload, acc.errText, tc.want)
		}
	}
}

func TestRawStringStreamingVsSingleShot(t *testing.T) {
	tokens, onToken := collectTokens()
	acc := newAccumulator(onToken, true)
	acc.interpret("plain line", "", 0)
	if !reflect.DeepEqual(*tokens, []string{"plain line"}) {
		t.Errorf("streaming raw string: tokens = %v", *tokens)
	}

	tokens, onToken = collectTokens()
	acc = newAccumulator(onToken, false)
	acc.interpret("whole body", "", 0)
	if len(*tokens) != 0 {
		t.Errorf("single-shot raw string should not emit, got %v", *tokens)
	}
	if got := acc.Final(); got != "whole body" {
		t.Errorf("Final() = %q, want %q", got, "whole body")
	}
}
