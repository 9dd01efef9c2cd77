package api

import (
	"net/http"
	"time"
)

// rangeWindow maps the range parameter to its lookback and bucketing.
func rangeWindow(rangeParam string) (time.Duration, bool, bool) {
	switch rangeParam {
	case "", "24h":
		return 24 * time.Hour, true, true
	case "7d":
		return 7 * 24 * time.Hour, false, true
	case "30d":
		return 30 * 24 * time.Hour, false, true
	default:
		return 0, false, false
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	window, _, ok := rangeWindow(r.URL.Query().Get("range"))
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_range",
			"range must be 24h, 7d, or 30d", s.logger)
		return
	}

	stats, err := s.store.StatsSince(r.Context(), time.Now().Add(-window))
	if err != nil {
		s.logger.Error("stats", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error",
			"failed to compute stats", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, stats, s.logger)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	window, hourly, ok := rangeWindow(r.URL.Query().Get("range"))
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_range",
			"range must be 24h, 7d, or 30d", s.logger)
		return
	}

	buckets, err := s.store.TrendSince(r.Context(), time.Now().Add(-window), hourly)
	if err != nil {
		s.logger.Error("trend", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error",
			"failed to compute trend", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"buckets": buckets}, s.logger)
}
