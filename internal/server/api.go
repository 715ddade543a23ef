package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/TobiSchelling/ThreatWatch/internal/database"
	"github.com/TobiSchelling/ThreatWatch/internal/monitor"
	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

const (
	defaultLimit   = 50
	maxLimit       = 500
	maxAnalyzeBody = 10 << 20
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryLimit parses ?limit=, clamped to [1, maxLimit].
func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, maxLimit)
}

func (s *Server) handleThreats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := database.ThreatFilter{
		Category: q.Get("category"),
		Source:   q.Get("source"),
		Search:   strings.TrimSpace(q.Get("search")),
		Sort:     q.Get("sort"),
		Limit:    queryLimit(r, defaultLimit),
	}
	if !database.ValidThreatSort(f.Sort) {
		writeError(w, http.StatusBadRequest, "sort must be timestamp, severity or priority")
		return
	}
	if v := q.Get("min_severity"); v != "" {
		sev, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "min_severity must be a number")
			return
		}
		f.MinSeverity = sev
	}

	threats, err := s.db.GetThreats(f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading threats failed")
		return
	}
	if threats == nil {
		threats = []database.StoredThreat{}
	}
	writeJSON(w, http.StatusOK, threats)
}

func (s *Server) handleThreat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := s.db.GetThreat(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading threat failed")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "threat not found")
		return
	}
	score, _ := s.db.GetScore(id)
	writeJSON(w, http.StatusOK, map[string]any{"threat": t, "score": score})
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	related, err := s.db.GetRelatedThreats(r.PathValue("id"), queryLimit(r, 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading related threats failed")
		return
	}
	if related == nil {
		related = []database.RelatedThreat{}
	}
	writeJSON(w, http.StatusOK, related)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}
	network, err := s.db.GetThreatNetwork(ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading graph failed")
		return
	}
	writeJSON(w, http.StatusOK, network)
}

func (s *Server) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetGraphStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading graph stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	var patterns []database.StoredPattern
	var err error
	if period := r.URL.Query().Get("period"); period != "" {
		patterns, err = s.db.GetPatternsForPeriod(period)
	} else {
		patterns, err = s.db.GetLatestPatterns()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading patterns failed")
		return
	}
	if patterns == nil {
		patterns = []database.StoredPattern{}
	}
	writeJSON(w, http.StatusOK, patterns)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := database.AlertFilter{
		Status:   q.Get("status"),
		Category: q.Get("category"),
		PeriodID: q.Get("period"),
		Limit:    queryLimit(r, defaultLimit),
	}
	if f.Status != "" && !database.ValidAlertStatus(f.Status) {
		writeError(w, http.StatusBadRequest, "unknown status "+f.Status)
		return
	}
	if v := q.Get("min_severity"); v != "" {
		sev, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "min_severity must be a number")
			return
		}
		f.MinSeverity = sev
	}

	alerts, err := s.db.GetAlerts(f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading alerts failed")
		return
	}
	if alerts == nil {
		alerts = []database.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.db.GetAlert(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading alert failed")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAlertStatus(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "alert monitor not configured")
		return
	}
	status := strings.TrimSpace(r.FormValue("status"))
	var notes, assignee *string
	if v := strings.TrimSpace(r.FormValue("notes")); v != "" {
		notes = &v
	}
	if v := strings.TrimSpace(r.FormValue("assigned_to")); v != "" {
		assignee = &v
	}

	alert, err := s.monitor.SetStatus(r.Context(), r.PathValue("id"), status, notes, assignee)
	s.writeAlertResult(w, alert, err)
}

func (s *Server) handleAlertAck(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "alert monitor not configured")
		return
	}
	alert, err := s.monitor.Acknowledge(r.Context(), r.PathValue("id"), strings.TrimSpace(r.FormValue("user")))
	s.writeAlertResult(w, alert, err)
}

func (s *Server) writeAlertResult(w http.ResponseWriter, alert *database.Alert, err error) {
	switch {
	case errors.Is(err, monitor.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, monitor.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		log.Printf("Alert update failed: %v", err)
		writeError(w, http.StatusInternalServerError, "updating alert failed")
	default:
		writeJSON(w, http.StatusOK, alert)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading stats failed")
		return
	}
	monitoring, err := s.db.GetMonitoringStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading stats failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"database": stats, "monitoring": monitoring})
}

func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	states, err := s.db.GetFeedStates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading feeds failed")
		return
	}
	if states == nil {
		states = []database.FeedState{}
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "analyzer not configured")
		return
	}
	var records []threat.Record
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnalyzeBody)).Decode(&records); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON array of threats")
		return
	}
	writeJSON(w, http.StatusOK, s.analyzer.Analyze(records))
}
