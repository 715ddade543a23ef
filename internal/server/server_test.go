package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/ThreatWatch/internal/broadcast"
	"github.com/TobiSchelling/ThreatWatch/internal/config"
	"github.com/TobiSchelling/ThreatWatch/internal/database"
	"github.com/TobiSchelling/ThreatWatch/internal/metrics"
	"github.com/TobiSchelling/ThreatWatch/internal/monitor"
	"github.com/TobiSchelling/ThreatWatch/internal/pipeline"
	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestServer(t *testing.T, db *database.DB) *Server {
	t.Helper()
	cfg := &config.Config{Scoring: config.Scoring{
		RelevanceThreshold: 0.3, SimilarityThreshold: 0.6, CategoryClusterMin: 3,
	}}
	m := metrics.New()
	analyzer, err := pipeline.NewAnalyzer(cfg, m)
	if err != nil {
		t.Fatalf("analyzer: %v", err)
	}
	mon := monitor.New(db, analyzer.Scorer, broadcast.Nop{}, monitor.Options{Metrics: m})
	srv, err := New(db, Options{Analyzer: analyzer, Monitor: mon, Metrics: m})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func do(t *testing.T, srv *Server, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		if strings.HasPrefix(body, "[") || strings.HasPrefix(body, "{") {
			req.Header.Set("Content-Type", "application/json")
		} else {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func seedThreats(t *testing.T, db *database.DB) {
	t.Helper()
	base := time.Date(2026, 2, 6, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		r := threat.Record{
			ID: id, Title: "Threat " + id, Description: "desc", Source: "NVD",
			Category: threat.CategoryVulnerability, Severity: 0.9, Timestamp: base.Add(time.Duration(i) * time.Hour),
		}
		if _, err := db.InsertThreat(r, "2026-02-06"); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if _, err := db.UpsertRelationships([]threat.Relationship{
		{ThreatID: "a", RelatedThreatID: "b", Type: threat.RelationSimilar, Confidence: 0.9},
		{ThreatID: "a", RelatedThreatID: "c", Type: threat.RelationSimilar, Confidence: 0.7},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func TestIndexRoute(t *testing.T) {
	srv := newTestServer(t, openTestDB(t))
	rec := do(t, srv, "GET", "/", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Threat Reports") {
		t.Error("expected 'Threat Reports' in response body")
	}

	if rec := do(t, srv, "GET", "/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestReportRoute(t *testing.T) {
	db := openTestDB(t)
	db.InsertReport(database.Report{
		PeriodID:     "2026-02-06",
		TLDR:         "- Key point",
		BodyMarkdown: "## Alerts\n\n| Title | Severity |\n|---|---|\n| LockBit | 0.90 |",
		ThreatCount:  1,
	})
	srv := newTestServer(t, db)

	rec := do(t, srv, "GET", "/report/2026-02-06", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"<li>Key point</li>", "<h2>Alerts</h2>", "<table>", "<td>LockBit</td>"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in rendered report", want)
		}
	}

	rec = do(t, srv, "GET", "/report/2020-01-01", "")
	if !strings.Contains(rec.Body.String(), "No report for this period") {
		t.Error("expected empty-report message")
	}
}

func TestAlertsPageAndStatic(t *testing.T) {
	srv := newTestServer(t, openTestDB(t))
	if rec := do(t, srv, "GET", "/alerts?status=bogus", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	rec := do(t, srv, "GET", "/static/style.css", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "font-family") {
		t.Errorf("expected stylesheet, got %d", rec.Code)
	}
}

func TestThreatEndpoints(t *testing.T) {
	db := openTestDB(t)
	seedThreats(t, db)
	srv := newTestServer(t, db)

	threats := decode[[]map[string]any](t, do(t, srv, "GET", "/api/threats?limit=2", ""))
	if len(threats) != 2 || threats[0]["id"] != "c" {
		t.Errorf("expected 2 most recent threats, got %v", threats)
	}

	if rec := do(t, srv, "GET", "/api/threats/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	related := decode[[]database.RelatedThreat](t, do(t, srv, "GET", "/api/threats/a/related", ""))
	if len(related) != 2 || related[0].Threat.ID != "b" {
		t.Errorf("expected b first by confidence, got %+v", related)
	}

	network := decode[database.Network](t, do(t, srv, "GET", "/api/graph?ids=b,+", ""))
	if len(network.Nodes) != 2 || len(network.Edges) != 1 {
		t.Errorf("unexpected network: %+v", network)
	}
	if rec := do(t, srv, "GET", "/api/graph", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without ids, got %d", rec.Code)
	}

	stats := decode[database.GraphStats](t, do(t, srv, "GET", "/api/graph/stats", ""))
	if stats.TotalRelationships != 2 {
		t.Errorf("expected 2 relationships, got %d", stats.TotalRelationships)
	}
}

func TestThreatListFilters(t *testing.T) {
	db := openTestDB(t)
	seedThreats(t, db)
	extra := threat.Record{
		ID: "d", Title: "LockBit ransomware campaign", Description: "desc", Source: "CISA",
		Category: threat.CategoryRansomware, Severity: 0.4, Timestamp: time.Date(2026, 2, 5, 8, 0, 0, 0, time.UTC),
	}
	if _, err := db.InsertThreat(extra, "2026-02-05"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	db.InsertScore("a", threat.Score{Priority: 0.95}, true)
	db.InsertScore("d", threat.Score{Priority: 0.5}, true)
	srv := newTestServer(t, db)

	got := decode[[]database.StoredThreat](t, do(t, srv, "GET", "/api/threats?source=CISA", ""))
	if len(got) != 1 || got[0].ID != "d" {
		t.Errorf("expected only CISA threat, got %+v", got)
	}
	got = decode[[]database.StoredThreat](t, do(t, srv, "GET", "/api/threats?category=vulnerability&min_severity=0.8", ""))
	if len(got) != 3 {
		t.Errorf("expected 3 severe vulnerabilities, got %d", len(got))
	}
	got = decode[[]database.StoredThreat](t, do(t, srv, "GET", "/api/threats?search=lockbit", ""))
	if len(got) != 1 || got[0].ID != "d" {
		t.Errorf("expected search to find d, got %+v", got)
	}
	got = decode[[]database.StoredThreat](t, do(t, srv, "GET", "/api/threats?sort=priority&limit=2", ""))
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "d" {
		t.Errorf("expected priority order a, d, got %+v", got)
	}

	if rec := do(t, srv, "GET", "/api/threats?sort=random", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown sort, got %d", rec.Code)
	}
	if rec := do(t, srv, "GET", "/api/threats?min_severity=high", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric min_severity, got %d", rec.Code)
	}
}

func TestAlertEndpoints(t *testing.T) {
	db := openTestDB(t)
	seedThreats(t, db)
	db.InsertAlert(database.Alert{ID: "al-1", ThreatID: "a", Title: "Threat a", Category: "vulnerability", Severity: 0.9, Priority: 0.8})
	db.InsertAlert(database.Alert{ID: "al-2", ThreatID: "b", Title: "Threat b", Category: "vulnerability", Severity: 0.5, Priority: 0.65})
	srv := newTestServer(t, db)

	alerts := decode[[]database.Alert](t, do(t, srv, "GET", "/api/alerts?min_severity=0.8", ""))
	if len(alerts) != 1 || alerts[0].ID != "al-1" {
		t.Errorf("expected only al-1, got %+v", alerts)
	}
	if rec := do(t, srv, "GET", "/api/alerts?status=closed", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", rec.Code)
	}

	one := decode[database.Alert](t, do(t, srv, "GET", "/api/alerts/al-2", ""))
	if one.ID != "al-2" || one.ThreatID != "b" {
		t.Errorf("expected al-2, got %+v", one)
	}
	if rec := do(t, srv, "GET", "/api/alerts/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing alert, got %d", rec.Code)
	}

	form := url.Values{"status": {"investigating"}, "notes": {"looking"}}.Encode()
	rec := do(t, srv, "POST", "/api/alerts/al-1/status", form)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decode[database.Alert](t, rec)
	if updated.Status != "investigating" || updated.Notes == nil || *updated.Notes != "looking" {
		t.Errorf("unexpected updated alert: %+v", updated)
	}

	if rec := do(t, srv, "POST", "/api/alerts/al-1/status", "status=closed"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid status, got %d", rec.Code)
	}
	if rec := do(t, srv, "POST", "/api/alerts/missing/status", "status=resolved"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing alert, got %d", rec.Code)
	}

	acked := decode[database.Alert](t, do(t, srv, "POST", "/api/alerts/al-2/ack", "user=analyst"))
	if acked.Status != "acknowledged" || acked.AssignedTo == nil || *acked.AssignedTo != "analyst" {
		t.Errorf("unexpected acknowledged alert: %+v", acked)
	}
}

func TestAlertUpdateWithoutMonitor(t *testing.T) {
	srv, err := New(openTestDB(t), Options{})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	if rec := do(t, srv, "POST", "/api/alerts/x/status", "status=resolved"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if rec := do(t, srv, "POST", "/api/analyze", "[]"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	srv := newTestServer(t, openTestDB(t))
	body := `[
		{"id":"1","title":"Ransomware attack on hospital","description":"LockBit ransomware","source":"Krebs","category":"ransomware","severity":"high","timestamp":"2026-02-06T08:00:00Z"},
		{"id":"2","title":"Weekly roundup","description":"good news","source":"blog","category":"general","severity":0.1,"timestamp":"2026-02-06T09:00:00Z"}
	]`
	rec := do(t, srv, "POST", "/api/analyze", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	a := decode[pipeline.Analysis](t, rec)
	if len(a.Scores) != 2 || len(a.Relevant) != 1 || a.NoiseDropped != 1 {
		t.Errorf("unexpected analysis: %+v", a)
	}

	if rec := do(t, srv, "POST", "/api/analyze", `{"not":"an array"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestStatsHealthMetrics(t *testing.T) {
	db := openTestDB(t)
	seedThreats(t, db)
	srv := newTestServer(t, db)

	stats := decode[map[string]json.RawMessage](t, do(t, srv, "GET", "/api/stats", ""))
	if _, ok := stats["monitoring"]; !ok {
		t.Errorf("expected monitoring stats, got %v", stats)
	}
	if rec := do(t, srv, "GET", "/health", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, srv, "GET", "/metrics", ""); !strings.Contains(rec.Body.String(), "threatwatch_") {
		t.Error("expected threatwatch metrics")
	}
	if rec := do(t, srv, "GET", "/api/feeds", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
