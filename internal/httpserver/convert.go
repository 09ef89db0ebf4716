package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/labiium/routiium/internal/enrich"
	"github.com/labiium/routiium/internal/translate"
)

// handleConvert exposes the Chat→Responses translation without an upstream
// call. Enrichment (system prompt + discovered tools) applies as it would on a
// proxied request, with the system prompt configured for the "responses" API,
// so clients can inspect the effective payload.
// No auth: the endpoint never spends upstream credentials.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(bodyBytes, &payload); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	model, _ := payload["model"].(string)
	promptCfg := s.prompts.Snapshot()
	if prompt := promptCfg.Prompt(model, "responses"); prompt != "" {
		enrich.InjectJSON(payload, "messages", prompt, promptCfg.Mode())
	}
	enrich.MergeToolsJSON(payload, s.tools.Tools(), false)

	q := r.URL.Query()
	conversationID := strings.TrimSpace(q.Get("conversation_id"))
	if conversationID == "" {
		conversationID = extractConversationID(payload)
	}
	previousResponseID := strings.TrimSpace(q.Get("previous_response_id"))
	if previousResponseID == "" {
		previousResponseID = extractPreviousResponseID(payload)
	}

	converted, err := translate.ChatJSONToResponsesValue(payload, optStr(conversationID), optStr(previousResponseID))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid chat request: "+err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, converted)
}
