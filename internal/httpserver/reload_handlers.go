package httpserver

import (
	"net/http"
)

// Reload endpoints swap one config snapshot each; /reload/all attempts every
// reloadable config and reports per-config results. A routing reload also
// flushes the plan cache so stale routing never outlives its config.

func (s *Server) handleReloadMCP(w http.ResponseWriter, _ *http.Request) {
	if s.tools.Path() == "" {
		s.respondError(w, http.StatusBadRequest, "no tool discovery config path configured")
		return
	}
	if err := s.tools.Reload(); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	servers := s.tools.Servers()
	s.logf("tool discovery config reloaded, %d servers", len(servers))
	s.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "tool discovery configuration reloaded",
		"servers": servers,
		"count":   len(servers),
	})
}

func (s *Server) handleReloadSystemPrompt(w http.ResponseWriter, _ *http.Request) {
	if s.prompts.Path() == "" {
		s.respondError(w, http.StatusBadRequest, "no system prompt config path configured")
		return
	}
	if err := s.prompts.Reload(); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cfg := s.prompts.Snapshot()
	s.logf("system prompt config reloaded (enabled=%v mode=%s)", cfg.Enabled, cfg.Mode())
	s.respondJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"message":         "system prompt configuration reloaded",
		"enabled":         cfg.Enabled,
		"has_global":      cfg.Global != "",
		"per_model_count": len(cfg.PerModel),
		"per_api_count":   len(cfg.PerAPI),
		"injection_mode":  cfg.Mode(),
	})
}

func (s *Server) handleReloadRouting(w http.ResponseWriter, _ *http.Request) {
	if err := s.aliasRouter.Reload(); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.planCache.Flush()
	s.logf("routing config reloaded, %d aliases", s.aliasRouter.Len())
	s.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "routing configuration reloaded",
		"aliases": s.aliasRouter.Len(),
	})
}

func (s *Server) handleReloadAll(w http.ResponseWriter, _ *http.Request) {
	results := map[string]any{}

	if s.tools.Path() == "" {
		results["mcp"] = reloadResult(false, "no tool discovery config path configured")
	} else if err := s.tools.Reload(); err != nil {
		results["mcp"] = reloadResult(false, err.Error())
	} else {
		results["mcp"] = reloadResult(true, "tool discovery configuration reloaded")
	}

	if s.prompts.Path() == "" {
		results["system_prompt"] = reloadResult(false, "no system prompt config path configured")
	} else if err := s.prompts.Reload(); err != nil {
		results["system_prompt"] = reloadResult(false, err.Error())
	} else {
		results["system_prompt"] = reloadResult(true, "system prompt configuration reloaded")
	}

	if err := s.aliasRouter.Reload(); err != nil {
		results["routing"] = reloadResult(false, err.Error())
	} else {
		s.planCache.Flush()
		results["routing"] = reloadResult(true, "routing configuration reloaded")
	}

	s.respondJSON(w, http.StatusOK, results)
}

func reloadResult(success bool, message string) map[string]any {
	return map[string]any{"success": success, "message": message}
}
