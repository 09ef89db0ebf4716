package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

func (s *Server) handleAnalyticsStats(w http.ResponseWriter, r *http.Request) {
	if s.analytics == nil {
		s.respondError(w, http.StatusServiceUnavailable, "analytics not enabled")
		return
	}
	stats, err := s.analytics.Stats(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to get analytics stats: "+err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAnalyticsEvents(w http.ResponseWriter, r *http.Request) {
	if s.analytics == nil {
		s.respondError(w, http.StatusServiceUnavailable, "analytics not enabled")
		return
	}
	start, end := timeRange(r, time.Hour)
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := s.analytics.Query(r.Context(), start, end, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to query events: "+err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
		"start":  start,
		"end":    end,
	})
}

func (s *Server) handleAnalyticsAggregate(w http.ResponseWriter, r *http.Request) {
	if s.analytics == nil {
		s.respondError(w, http.StatusServiceUnavailable, "analytics not enabled")
		return
	}
	start, end := timeRange(r, time.Hour)
	agg, err := s.analytics.Aggregate(r.Context(), start, end)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to aggregate analytics: "+err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, agg)
}

func (s *Server) handleAnalyticsExport(w http.ResponseWriter, r *http.Request) {
	if s.analytics == nil {
		s.respondError(w, http.StatusServiceUnavailable, "analytics not enabled")
		return
	}
	start, end := timeRange(r, 24*time.Hour)
	format := r.URL.Query().Get("format")

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("analytics_%d_to_%d.csv", start, end)))
		if err := s.analytics.ExportCSV(r.Context(), w, start, end); err != nil {
			s.logf("analytics CSV export failed: %v", err)
		}
		return
	}

	events, err := s.analytics.Query(r.Context(), start, end, 0)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to export analytics: "+err.Error())
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("analytics_%d_to_%d.json", start, end)))
	s.respondJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
		"period": map[string]int64{"start": start, "end": end},
	})
}

func (s *Server) handleAnalyticsClear(w http.ResponseWriter, r *http.Request) {
	if s.analytics == nil {
		s.respondError(w, http.StatusServiceUnavailable, "analytics not enabled")
		return
	}
	if err := s.analytics.Clear(r.Context()); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to clear analytics: "+err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "analytics data cleared"})
}

func timeRange(r *http.Request, defaultWindow time.Duration) (int64, int64) {
	now := time.Now().Unix()
	start := now - int64(defaultWindow/time.Second)
	end := now
	q := r.URL.Query()
	if raw := q.Get("start"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			start = n
		}
	}
	if raw := q.Get("end"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			end = n
		}
	}
	return start, end
}
