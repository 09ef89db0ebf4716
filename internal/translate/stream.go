package translate

import (
	"bytes"
	"encoding/json"

	"github.com/labiium/routiium/internal/wire"
)

// StreamTranslator consumes raw SSE bytes from an upstream and yields fully
// formed SSE events for the client, translating the data payloads between the
// two chunk formats. One instance serves one stream; it owns a scratch buffer
// for events split across reads and tracks whether the first chunk (which
// announces the assistant role on the chat side) has been emitted.
//
// Events that fail to parse are forwarded verbatim so a translation gap never
// stalls the relay; the terminal "[DONE]" sentinel is always re-emitted in
// SSE form regardless of direction.
type StreamTranslator struct {
	direction streamDirection
	buf       []byte
	emitted   bool
}

type streamDirection int

const (
	directionPassthrough streamDirection = iota
	directionResponsesToChat
	directionChatToResponses
)

// NewResponsesToChatStream translates Responses-format chunks to Chat format.
func NewResponsesToChatStream() *StreamTranslator {
	return &StreamTranslator{direction: directionResponsesToChat}
}

// NewChatToResponsesStream translates Chat-format chunks to Responses format.
func NewChatToResponsesStream() *StreamTranslator {
	return &StreamTranslator{direction: directionChatToResponses}
}

// NewPassthroughStream forwards events untouched (still normalizing framing).
func NewPassthroughStream() *StreamTranslator {
	return &StreamTranslator{direction: directionPassthrough}
}

// Feed appends raw upstream bytes and returns zero or more complete SSE
// events ready to flush to the client, preserving upstream event order.
func (t *StreamTranslator) Feed(p []byte) [][]byte {
	t.buf = append(t.buf, p...)
	var events [][]byte
	for {
		idx := bytes.Index(t.buf, []byte("\n\n"))
		if idx < 0 {
			return events
		}
		raw := make([]byte, idx+2)
		copy(raw, t.buf[:idx+2])
		t.buf = t.buf[idx+2:]
		events = append(events, t.translateEvent(raw))
	}
}

// Flush drains any trailing bytes after the upstream closes without a final
// event delimiter.
func (t *StreamTranslator) Flush() []byte {
	if len(t.buf) == 0 {
		return nil
	}
	rest := t.buf
	t.buf = nil
	return rest
}

func (t *StreamTranslator) translateEvent(raw []byte) []byte {
	body := bytes.TrimSuffix(raw, []byte("\n\n"))

	var otherLines [][]byte
	var dataSegments [][]byte
	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if bytes.HasPrefix(line, []byte("data:")) {
			payload := bytes.TrimSpace(line[5:])
			if len(payload) > 0 {
				dataSegments = append(dataSegments, payload)
			}
		} else if len(line) > 0 {
			otherLines = append(otherLines, line)
		}
	}
	if len(dataSegments) == 0 {
		return raw
	}

	payload := bytes.Join(dataSegments, []byte("\n"))
	if bytes.Equal(bytes.TrimSpace(payload), []byte("[DONE]")) {
		return assembleEvent(otherLines, []byte("[DONE]"))
	}

	translated, ok := t.translatePayload(payload)
	if !ok {
		return raw
	}
	return assembleEvent(otherLines, translated)
}

func (t *StreamTranslator) translatePayload(payload []byte) ([]byte, bool) {
	switch t.direction {
	case directionResponsesToChat:
		var chunk wire.ResponsesChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			return nil, false
		}
		out := ResponsesChunkToChatChunk(&chunk, !t.emitted)
		t.emitted = true
		enc, err := json.Marshal(out)
		if err != nil {
			return nil, false
		}
		return enc, true
	case directionChatToResponses:
		var chunk wire.ChatCompletionChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			return nil, false
		}
		enc, err := json.Marshal(ChatChunkToResponsesChunk(&chunk))
		if err != nil {
			return nil, false
		}
		t.emitted = true
		return enc, true
	default:
		return payload, true
	}
}

func assembleEvent(otherLines [][]byte, data []byte) []byte {
	var out bytes.Buffer
	for _, line := range otherLines {
		out.Write(line)
		out.WriteByte('\n')
	}
	out.WriteString("data: ")
	out.Write(data)
	out.WriteString("\n\n")
	return out.Bytes()
}
