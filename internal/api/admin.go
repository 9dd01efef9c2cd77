package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fusae/mailcheck/internal/feedback"
	"github.com/fusae/mailcheck/internal/report"
	"github.com/fusae/mailcheck/internal/store"
)

func (s *Server) handleGetSuppressKeywords(w http.ResponseWriter, r *http.Request) {
	keywords, err := s.store.ListSuppressKeywords(r.Context())
	if err != nil {
		s.logger.Error("list suppress keywords", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error",
			"failed to list keywords", s.logger)
		return
	}
	if keywords == nil {
		keywords = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keywords": keywords}, s.logger)
}

func (s *Server) handleSetSuppressKeywords(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "invalid JSON body", s.logger)
		return
	}

	if err := s.store.ReplaceSuppressKeywords(r.Context(), req.Keywords); err != nil {
		s.logger.Error("replace suppress keywords", "error", err)
		writeError(w, http.StatusInternalServerError, "store_error",
			"failed to replace keywords", s.logger)
		return
	}

	s.logger.Info("suppress keywords replaced", "count", len(req.Keywords))
	writeJSON(w, http.StatusOK, map[string]any{"keywords": req.Keywords}, s.logger)
}

type reportRequest struct {
	Hospital  string `json:"hospital"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Format    string `json:"format"`
}

func (s *Server) handleReportGenerate(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_body", "invalid JSON body", s.logger)
		return
	}
	if req.Hospital == "" {
		writeError(w, http.StatusBadRequest, "missing_hospital", "hospital is required", s.logger)
		return
	}
	if req.Format == "" {
		req.Format = report.FormatMarkdown
	}
	if req.Format != report.FormatMarkdown && req.Format != report.FormatWord {
		writeError(w, http.StatusBadRequest, "bad_format",
			"format must be markdown or word", s.logger)
		return
	}

	start, err := time.ParseInLocation("2006-01-02", req.StartDate, time.Local)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_date",
			"start_date must be YYYY-MM-DD", s.logger)
		return
	}
	end, err := time.ParseInLocation("2006-01-02", req.EndDate, time.Local)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_date",
			"end_date must be YYYY-MM-DD", s.logger)
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "bad_range",
			"end_date precedes start_date", s.logger)
		return
	}

	filename, err := s.reports.Generate(r.Context(), req.Hospital, start, end, req.Format)
	if err != nil {
		s.logger.Error("report generation", "error", err)
		writeError(w, http.StatusInternalServerError, "report_error",
			"report generation failed", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"filename": filename,
		"download": "/api/report/download/" + filename,
	}, s.logger)
}

func (s *Server) handleReportDownload(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	f, err := s.reports.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "not_found", "no such report", s.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "bad_filename", "invalid report filename", s.logger)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Debug("report stream interrupted", "file", filename, "error", err)
	}
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	// The signed link arrives as a GET from chat clients; dashboards
	// may POST the same fields.
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "bad_body", "invalid form body", s.logger)
			return
		}
	}
	q := r.URL.Query()
	get := func(key string) string {
		if v := r.FormValue(key); v != "" {
			return v
		}
		return q.Get(key)
	}

	queueID, err := strconv.ParseUint(get("queue_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_queue_id", "queue_id must be numeric", s.logger)
		return
	}
	expiry, err := strconv.ParseInt(get("exp"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_expiry", "exp must be numeric", s.logger)
		return
	}
	judgement := get("judgement") == "true" || get("judgement") == "1"

	err = s.loop.OnFeedback(r.Context(), queueID, get("sid"), expiry, get("sig"),
		judgement, get("type"), get("text"))
	switch {
	case errors.Is(err, feedback.ErrExpired):
		writeError(w, http.StatusUnauthorized, "expired", "feedback link expired", s.logger)
	case errors.Is(err, feedback.ErrBadSignature):
		writeError(w, http.StatusUnauthorized, "bad_signature", "signature verification failed", s.logger)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no such feedback entry", s.logger)
	case err != nil:
		s.logger.Error("feedback", "queue_id", queueID, "error", err)
		writeError(w, http.StatusInternalServerError, "feedback_error",
			"failed to record feedback", s.logger)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"}, s.logger)
	}
}
