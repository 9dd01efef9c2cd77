package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fusae/mailcheck/internal/classify"
	"github.com/fusae/mailcheck/internal/store"
)

// summaryRequest supplies the opinions a global briefing covers.
type summaryRequest struct {
	Opinions []struct {
		Hospital string `json:"hospital_name"`
		Title    string `json:"title"`
		Severity string `json:"severity"`
		Reason   string `json:"ai_reason"`
	} `json:"opinions"`
}

func (s *Server) handleAISummary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "invalid JSON body", s.logger)
		return
	}
	if len(req.Opinions) == 0 {
		writeError(w, http.StatusBadRequest, "empty_opinions",
			"opinions must not be empty", s.logger)
		return
	}

	var digest strings.Builder
	for i, o := range req.Opinions {
		fmt.Fprintf(&digest, "%d. [%s] %s - %s（%s）\n",
			i+1, o.Severity, o.Hospital, o.Title, o.Reason)
	}

	summary, err := s.llm.Chat(r.Context(), classify.SummaryMessages(digest.String()))
	if err != nil {
		s.logger.Error("ai summary", "error", err)
		writeError(w, http.StatusBadGateway, "llm_error",
			"summary generation failed", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"summary": summary}, s.logger)
}

// insightRequest names the sentiment a deep analysis targets.
type insightRequest struct {
	Opinion struct {
		SentimentID string `json:"sentiment_id"`
	} `json:"opinion"`
}

func (s *Server) handleAIInsight(w http.ResponseWriter, r *http.Request) {
	var req insightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "invalid JSON body", s.logger)
		return
	}
	if req.Opinion.SentimentID == "" {
		writeError(w, http.StatusBadRequest, "missing_id",
			"opinion.sentiment_id is required", s.logger)
		return
	}

	sen, err := s.store.GetSentiment(r.Context(), req.Opinion.SentimentID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no such sentiment", s.logger)
		return
	}
	if err != nil {
		s.logger.Error("insight lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error",
			"failed to load sentiment", s.logger)
		return
	}

	// Insight is generated once and cached on the sentiment row.
	if sen.Insight != "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"insight": sen.Insight,
			"cached":  true,
		}, s.logger)
		return
	}

	insight, err := s.llm.Chat(r.Context(),
		classify.InsightMessages(sen.Hospital, sen.Title, sen.Content, sen.Reason))
	if err != nil {
		s.logger.Error("ai insight", "error", err)
		writeError(w, http.StatusBadGateway, "llm_error",
			"insight generation failed", s.logger)
		return
	}

	if err := s.store.SetInsight(r.Context(), sen.SentimentID, insight); err != nil {
		// Serving the uncached insight beats failing the request.
		s.logger.Warn("insight cache write failed",
			"sentiment_id", sen.SentimentID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"insight": insight,
		"cached":  false,
	}, s.logger)
}
