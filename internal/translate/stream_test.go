package translate

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/labiium/routiium/internal/wire"
)

func collectEvents(t *StreamTranslator, input string) []string {
	var out []string
	for _, ev := range t.Feed([]byte(input)) {
		out = append(out, string(ev))
	}
	return out
}

func TestStreamTranslatesResponsesChunksToChat(t *testing.T) {
	tr := NewResponsesToChatStream()

	chunk := `data: {"id":"resp-1","object":"response.chunk","created":1,"model":"m","output_text_delta":"Hel"}` + "\n\n"
	events := collectEvents(tr, chunk)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	var parsed wire.ChatCompletionChunk
	payload := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(events[0]), "data:"))
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		t.Fatalf("parse translated chunk: %v", err)
	}
	if parsed.Object != "chat.completion.chunk" {
		t.Fatalf("object: %s", parsed.Object)
	}
	if parsed.Choices[0].Delta.Role == nil || *parsed.Choices[0].Delta.Role != "assistant" {
		t.Fatal("first chunk must announce assistant role")
	}
	if *parsed.Choices[0].Delta.Content != "Hel" {
		t.Fatalf("content: %v", parsed.Choices[0].Delta.Content)
	}

	// Second chunk: no role.
	events = collectEvents(tr, chunk)
	payload = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(events[0]), "data:"))
	parsed = wire.ChatCompletionChunk{}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		t.Fatalf("parse second chunk: %v", err)
	}
	if parsed.Choices[0].Delta.Role != nil {
		t.Fatal("later chunks must not repeat the role")
	}
}

func TestStreamHandlesEventsSplitAcrossReads(t *testing.T) {
	tr := NewResponsesToChatStream()
	full := `data: {"id":"r","object":"response.chunk","created":1,"model":"m","output_text_delta":"Hi"}` + "\n\n"

	if events := tr.Feed([]byte(full[:20])); len(events) != 0 {
		t.Fatalf("partial event emitted early: %d", len(events))
	}
	events := tr.Feed([]byte(full[20:]))
	if len(events) != 1 {
		t.Fatalf("expected reassembled event, got %d", len(events))
	}
}

func TestStreamPreservesChunkOrder(t *testing.T) {
	tr := NewResponsesToChatStream()
	var input bytes.Buffer
	for _, word := range []string{"alpha", "beta", "gamma"} {
		input.WriteString(`data: {"id":"r","object":"response.chunk","created":1,"model":"m","output_text_delta":"` + word + `"}` + "\n\n")
	}
	events := tr.Feed(input.Bytes())
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, word := range []string{"alpha", "beta", "gamma"} {
		if !strings.Contains(string(events[i]), word) {
			t.Fatalf("event %d out of order: %s", i, events[i])
		}
	}
}

func TestStreamEmitsDoneSentinel(t *testing.T) {
	tr := NewResponsesToChatStream()
	events := collectEvents(tr, "data: [DONE]\n\n")
	if len(events) != 1 || string(events[0]) != "data: [DONE]\n\n" {
		t.Fatalf("DONE handling: %q", events)
	}
}

func TestStreamForwardsUnparsableEventsVerbatim(t *testing.T) {
	tr := NewResponsesToChatStream()
	raw := "data: not json at all\n\n"
	events := collectEvents(tr, raw)
	if len(events) != 1 || string(events[0]) != raw {
		t.Fatalf("unparsable event mangled: %q", events)
	}
}

func TestStreamKeepsNonDataLines(t *testing.T) {
	tr := NewResponsesToChatStream()
	raw := "event: delta\ndata: {\"id\":\"r\",\"object\":\"response.chunk\",\"created\":1,\"model\":\"m\",\"output_text_delta\":\"x\"}\n\n"
	events := collectEvents(tr, raw)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !strings.HasPrefix(string(events[0]), "event: delta\n") {
		t.Fatalf("non-data line dropped: %q", events[0])
	}
}

func TestStreamChatToResponsesDirection(t *testing.T) {
	tr := NewChatToResponsesStream()
	chunk := `data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"yo"},"finish_reason":null}]}` + "\n\n"
	events := collectEvents(tr, chunk)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	var parsed wire.ResponsesChunk
	payload := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(events[0]), "data:"))
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.OutputTextDelta == nil || *parsed.OutputTextDelta != "yo" {
		t.Fatalf("delta: %v", parsed.OutputTextDelta)
	}
}

func TestStreamToolCallArgumentFragments(t *testing.T) {
	tr := NewResponsesToChatStream()
	var input bytes.Buffer
	for _, frag := range []string{`{\"q\":`, `\"x\"}`} {
		input.WriteString(`data: {"id":"r","object":"response.chunk","created":1,"model":"m","output_deltas":[{"type":"function_call","name":"lookup","arguments":"` + frag + `","call_id":"call-1"}]}` + "\n\n")
	}
	events := tr.Feed(input.Bytes())
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	var args strings.Builder
	for _, ev := range events {
		payload := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(ev)), "data:"))
		var chunk wire.ChatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			t.Fatalf("parse: %v", err)
		}
		for _, tc := range chunk.Choices[0].Delta.ToolCalls {
			if tc.Function != nil && tc.Function.Arguments != nil {
				args.WriteString(*tc.Function.Arguments)
			}
		}
	}
	if args.String() != `{"q":"x"}` {
		t.Fatalf("accumulated arguments: %s", args.String())
	}
}

func TestFlushReturnsTrailingBytes(t *testing.T) {
	tr := NewPassthroughStream()
	tr.Feed([]byte("data: {\"partial\":"))
	rest := tr.Flush()
	if string(rest) != "data: {\"partial\":" {
		t.Fatalf("flush: %q", rest)
	}
	if tr.Flush() != nil {
		t.Fatal("second flush should be empty")
	}
}
