package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/ThreatWatch/internal/database"
	"github.com/TobiSchelling/ThreatWatch/internal/metrics"
	"github.com/TobiSchelling/ThreatWatch/internal/monitor"
	"github.com/TobiSchelling/ThreatWatch/internal/pipeline"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Options carries the components behind the API. Endpoints whose component
// is nil respond 503.
type Options struct {
	Analyzer *pipeline.Analyzer
	Monitor  *monitor.Monitor
	Metrics  *metrics.Metrics
}

// Server is the HTTP server for the dashboard and JSON API.
type Server struct {
	db       *database.DB
	analyzer *pipeline.Analyzer
	monitor  *monitor.Monitor
	metrics  *metrics.Metrics
	pages    map[string]*template.Template
	mux      *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB, opts Options) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown":     renderMarkdown,
		"formatPeriod": database.FormatPeriodDisplay,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so its "title" and "content"
	// blocks don't collide.
	pageNames := []string{"index.html", "report.html", "alerts.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{
		db:       db,
		analyzer: opts.Analyzer,
		monitor:  opts.Monitor,
		metrics:  opts.Metrics,
		pages:    pages,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /report/{period}", s.handleReport)
	s.mux.HandleFunc("GET /alerts", s.handleAlertsPage)

	s.mux.HandleFunc("GET /api/threats", s.handleThreats)
	s.mux.HandleFunc("GET /api/threats/{id}", s.handleThreat)
	s.mux.HandleFunc("GET /api/threats/{id}/related", s.handleRelated)
	s.mux.HandleFunc("GET /api/graph", s.handleGraph)
	s.mux.HandleFunc("GET /api/graph/stats", s.handleGraphStats)
	s.mux.HandleFunc("GET /api/patterns", s.handlePatterns)
	s.mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	s.mux.HandleFunc("GET /api/alerts/{id}", s.handleAlert)
	s.mux.HandleFunc("POST /api/alerts/{id}/status", s.handleAlertStatus)
	s.mux.HandleFunc("POST /api/alerts/{id}/ack", s.handleAlertAck)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/feeds", s.handleFeeds)
	s.mux.HandleFunc("POST /api/analyze", s.handleAnalyze)

	s.mux.Handle("GET /metrics", s.metrics.Handler())
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	reports, err := s.db.GetAllReports()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	stats, _ := s.db.GetStats()

	s.render(w, "index.html", map[string]any{
		"Reports": reports,
		"Stats":   stats,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	periodID := r.PathValue("period")
	report, _ := s.db.GetReport(periodID)

	s.render(w, "report.html", map[string]any{
		"Report":   report,
		"PeriodID": periodID,
	})
}

func (s *Server) handleAlertsPage(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !database.ValidAlertStatus(status) {
		status = ""
	}
	alerts, err := s.db.GetAlerts(database.AlertFilter{Status: status, Limit: 200})
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, "alerts.html", map[string]any{
		"Alerts":   alerts,
		"Status":   status,
		"Statuses": database.AlertStatuses,
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("Server listening on http://%s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
