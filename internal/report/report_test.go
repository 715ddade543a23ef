package report

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/ThreatWatch/internal/database"
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

func seed(t *testing.T, db *database.DB) {
	t.Helper()
	base := time.Date(2026, 2, 6, 8, 0, 0, 0, time.UTC)
	records := []threat.Record{
		{ID: "r1", Title: "LockBit hits clinic", Category: threat.CategoryRansomware, Severity: 0.9, Source: "Krebs", Timestamp: base},
		{ID: "r2", Title: "LockBit hits | hospital", Category: threat.CategoryRansomware, Severity: 0.8, Source: "Krebs", Timestamp: base.Add(time.Hour)},
		{ID: "p1", Title: "Phishing wave", Category: threat.CategoryPhishing, Severity: 0.4, Source: "US-CERT", Timestamp: base.Add(2 * time.Hour)},
	}
	for _, r := range records {
		if _, err := db.InsertThreat(r, "2026-02-06"); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	db.InsertScore("r1", threat.Score{Relevance: 0.6, Severity: 0.9, Confidence: 0.8, Priority: 0.76}, true)
	db.InsertScore("r2", threat.Score{Relevance: 0.6, Severity: 0.8, Confidence: 0.8, Priority: 0.72}, true)
	db.InsertScore("p1", threat.Score{Relevance: 0.1, Severity: 0.4, Confidence: 0.5, Priority: 0.3}, false)

	if err := db.InsertAlert(database.Alert{
		ID: "a1", ThreatID: "r2", Title: "LockBit hits | hospital", Category: threat.CategoryRansomware,
		Severity: 0.8, Priority: 0.72,
	}); err != nil {
		t.Fatalf("insert alert: %v", err)
	}
	if err := db.ReplacePatterns("2026-02-06", []threat.Pattern{{
		Type: threat.PatternCategoryCluster, Category: threat.CategoryRansomware, Count: 2,
		Severity: 0.9, Confidence: 0.7, Description: "Cluster of 2 ransomware threats detected",
		Indicators: []string{"lockbit"}, AffectedSectors: []string{"Healthcare"},
	}}); err != nil {
		t.Fatalf("replace patterns: %v", err)
	}
	if _, err := db.UpsertRelationships([]threat.Relationship{{
		ThreatID: "r1", RelatedThreatID: "r2", Type: threat.RelationSimilar, Confidence: 0.8,
	}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func TestCompose(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)

	report, err := NewComposer(db).Compose("2026-02-06")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report == nil {
		t.Fatal("expected report")
	}
	if report.ThreatCount != 3 || report.AlertCount != 1 || report.PatternCount != 1 {
		t.Errorf("unexpected counts: %+v", report)
	}
	if !strings.HasPrefix(report.TLDR, "- 3 threats collected, 2 relevant, 1 alerts raised.") {
		t.Errorf("unexpected TL;DR: %q", report.TLDR)
	}
	if !strings.Contains(report.TLDR, "Cluster of 2 ransomware threats detected") {
		t.Error("expected pattern description in TL;DR")
	}
	for _, want := range []string{
		"## Alerts",
		`LockBit hits \| hospital`,
		"## Patterns",
		"Sectors: Healthcare",
		"- ransomware: 2\n- phishing: 1",
		"## Threat Graph",
		"1 relationships",
	} {
		if !strings.Contains(report.BodyMarkdown, want) {
			t.Errorf("expected body to contain %q", want)
		}
	}

	// Recomposing replaces the stored report.
	if _, err := NewComposer(db).Compose("2026-02-06"); err != nil {
		t.Fatalf("recompose: %v", err)
	}
	all, _ := db.GetAllReports()
	if len(all) != 1 {
		t.Errorf("expected 1 report, got %d", len(all))
	}
}

func TestComposeEmptyPeriod(t *testing.T) {
	db := openTestDB(t)
	report, err := NewComposer(db).Compose("2026-02-06")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report == nil || report.ThreatCount != 0 {
		t.Fatalf("expected empty report, got %+v", report)
	}
	if report.TLDR != "- No threats collected in this period." {
		t.Errorf("unexpected TL;DR: %q", report.TLDR)
	}
}

func TestBuildLimitsTLDR(t *testing.T) {
	in := Input{Threats: []database.StoredThreat{{}}}
	for i := 0; i < 5; i++ {
		in.Patterns = append(in.Patterns, database.StoredPattern{Pattern: threat.Pattern{Description: "p"}})
		in.Alerts = append(in.Alerts, database.Alert{Title: "a"})
	}
	tldr, _ := Build(in)
	if n := strings.Count(tldr, "\n") + 1; n != 1+maxTLDRPatterns+maxTLDRAlerts {
		t.Errorf("expected %d bullets, got %d", 1+maxTLDRPatterns+maxTLDRAlerts, n)
	}
}
