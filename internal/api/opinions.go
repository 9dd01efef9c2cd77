package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fusae/mailcheck/internal/extract"
	"github.com/fusae/mailcheck/internal/store"
)

// defaultPreview is the content preview length for compact listings.
const defaultPreview = 200

// opinionView is a sentiment shaped for the dashboard. In compact mode
// the content is trimmed to the preview length and insight is omitted.
type opinionView struct {
	*store.Sentiment
	Score float64 `json:"score"`
}

func (s *Server) handleListOpinions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := q.Get("status")
	switch status {
	case "":
		status = store.StatusActive
	case store.StatusActive, store.StatusDismissed, "all":
	default:
		writeError(w, http.StatusBadRequest, "bad_status",
			"status must be active, dismissed, or all", s.logger)
		return
	}

	filter := store.SentimentFilter{
		Status:   status,
		Hospital: q.Get("hospital"),
		Severity: q.Get("severity"),
		Limit:    intParam(q.Get("limit"), 100),
		Offset:   intParam(q.Get("offset"), 0),
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.ParseInLocation("2006-01-02", from, time.Local); err == nil {
			filter.From = t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.ParseInLocation("2006-01-02", to, time.Local); err == nil {
			filter.To = t.Add(24 * time.Hour)
		}
	}

	s.listOpinions(w, r, filter)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "query is required", s.logger)
		return
	}

	s.listOpinions(w, r, store.SentimentFilter{
		Status: "all",
		Search: query,
		Limit:  intParam(q.Get("limit"), 100),
		Offset: intParam(q.Get("offset"), 0),
	})
}

func (s *Server) listOpinions(w http.ResponseWriter, r *http.Request, filter store.SentimentFilter) {
	q := r.URL.Query()
	compact := q.Get("compact") == "true" || q.Get("compact") == "1"
	preview := intParam(q.Get("preview"), defaultPreview)

	sentiments, err := s.store.ListSentiments(r.Context(), filter)
	if err != nil {
		s.logger.Error("list sentiments", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error",
			"failed to list sentiments", s.logger)
		return
	}

	views := make([]opinionView, 0, len(sentiments))
	for _, sen := range sentiments {
		if compact {
			sen.Content = extract.TruncateBody(sen.Content, preview)
			sen.Insight = ""
		}
		views = append(views, opinionView{Sentiment: sen, Score: sen.Score()})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"opinions": views,
		"count":    len(views),
	}, s.logger)
}

func (s *Server) handleGetOpinion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sen, err := s.store.GetSentiment(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no such sentiment", s.logger)
		return
	}
	if err != nil {
		s.logger.Error("get sentiment", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "store_error",
			"failed to load sentiment", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, opinionView{Sentiment: sen, Score: sen.Score()}, s.logger)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_id", "event id must be numeric", s.logger)
		return
	}

	ev, err := s.store.GetEvent(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no such event", s.logger)
		return
	}
	if err != nil {
		s.logger.Error("get event", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "store_error",
			"failed to load event", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, ev, s.logger)
}

func (s *Server) handleEventSentiments(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_id", "event id must be numeric", s.logger)
		return
	}

	sentiments, err := s.store.ListEventSentiments(r.Context(), id,
		intParam(r.URL.Query().Get("limit"), 20))
	if err != nil {
		s.logger.Error("list event sentiments", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "store_error",
			"failed to list event sentiments", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sentiments": sentiments,
		"count":      len(sentiments),
	}, s.logger)
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
