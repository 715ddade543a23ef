package monitor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/ThreatWatch/internal/database"
	"github.com/TobiSchelling/ThreatWatch/internal/scoring"
	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

type published struct {
	channel string
	event   any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) Publish(_ context.Context, channel string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{channel, v})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) channels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.channel)
	}
	return out
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func zeroDay() threat.Record {
	return threat.Record{
		ID:          "cve-1",
		Title:       "Critical Zero-Day Vulnerability",
		Description: "A remote code execution flaw affecting widely deployed VPN appliances is being exploited.",
		Source:      "CVE Database",
		Category:    threat.CategoryVulnerability,
		Severity:    0.9,
		Timestamp:   time.Date(2026, 2, 6, 9, 0, 0, 0, time.UTC),
	}
}

func roundup() threat.Record {
	return threat.Record{
		ID:          "blog-1",
		Title:       "Weekly roundup",
		Description: "good great success",
		Source:      "reddit",
		Category:    threat.CategoryGeneral,
		Severity:    0.2,
		Timestamp:   time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC),
	}
}

func newTestMonitor(t *testing.T, records ...threat.Record) (*Monitor, *database.DB, *fakePublisher) {
	t.Helper()
	db := openTestDB(t)
	for _, r := range records {
		if _, err := db.InsertThreat(r, "2026-02-06"); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	pub := &fakePublisher{}
	m := New(db, scoring.New(scoring.DefaultTables(), 0), pub, Options{})
	n := 0
	m.newID = func() string { n++; return fmt.Sprintf("alert-%d", n) }
	return m, db, pub
}

func TestProcessRaisesAlertForSignificantThreat(t *testing.T) {
	m, db, pub := newTestMonitor(t, zeroDay(), roundup())

	result, err := m.Process(context.Background(), []threat.Record{zeroDay(), roundup()})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Processed != 2 || len(result.Alerts) != 1 || result.Critical != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	alert := result.Alerts[0]
	if alert.ID != "alert-1" || alert.ThreatID != "cve-1" || alert.Status != database.AlertNew {
		t.Errorf("unexpected alert: %+v", alert)
	}
	if alert.Priority <= DefaultAlertPriority {
		t.Errorf("expected priority above %v, got %v", DefaultAlertPriority, alert.Priority)
	}

	stored, err := db.GetAlert("alert-1")
	if err != nil || stored == nil {
		t.Fatalf("get alert: %v", err)
	}
	if stored.Score.Priority != alert.Priority {
		t.Errorf("expected score persisted with alert, got %+v", stored.Score)
	}

	want := []string{"new-alert", "category-alert:vulnerability", "high-severity-alert"}
	if got := pub.channels(); !slices.Equal(got, want) {
		t.Errorf("expected channels %v, got %v", want, got)
	}
}

func TestProcessSkipsSeenAndAlerted(t *testing.T) {
	m, _, _ := newTestMonitor(t, zeroDay())
	ctx := context.Background()

	if _, err := m.Process(ctx, []threat.Record{zeroDay()}); err != nil {
		t.Fatalf("process: %v", err)
	}
	again, err := m.Process(ctx, []threat.Record{zeroDay()})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if again.Skipped != 1 || len(again.Alerts) != 0 {
		t.Errorf("expected seen threat to be skipped, got %+v", again)
	}

	// A fresh cache still finds the existing alert in the database.
	m.seen = newSeenCache(10)
	third, err := m.Process(ctx, []threat.Record{zeroDay()})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if third.Skipped != 1 || len(third.Alerts) != 0 {
		t.Errorf("expected alerted threat to be skipped, got %+v", third)
	}
}

func TestSetStatus(t *testing.T) {
	m, _, pub := newTestMonitor(t, zeroDay())
	ctx := context.Background()
	if _, err := m.Process(ctx, []threat.Record{zeroDay()}); err != nil {
		t.Fatalf("process: %v", err)
	}

	alert, err := m.Acknowledge(ctx, "alert-1", "analyst")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if alert.Status != database.AlertAcknowledged || alert.AssignedTo == nil || *alert.AssignedTo != "analyst" {
		t.Errorf("unexpected acknowledged alert: %+v", alert)
	}

	notes := "confirmed in lab"
	alert, err = m.SetStatus(ctx, "alert-1", database.AlertResolved, &notes, nil)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if alert.Status != database.AlertResolved || alert.Notes == nil || *alert.Notes != notes {
		t.Errorf("unexpected resolved alert: %+v", alert)
	}

	channels := pub.channels()
	if channels[len(channels)-1] != "alert-updated" || channels[len(channels)-2] != "alert-updated" {
		t.Errorf("expected two alert-updated events, got %v", channels)
	}

	if _, err := m.SetStatus(ctx, "alert-1", "closed", nil, nil); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := m.SetStatus(ctx, "missing", database.AlertResolved, nil, nil); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("expected ErrAlertNotFound, got %v", err)
	}
}

func TestPublishPatterns(t *testing.T) {
	m, _, pub := newTestMonitor(t)
	ctx := context.Background()

	if err := m.PublishPatterns(ctx, "2026-02-06", nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(pub.channels()) != 0 {
		t.Error("expected no event for empty pattern list")
	}

	err := m.PublishPatterns(ctx, "2026-02-06", []threat.Pattern{{Type: threat.PatternCategoryCluster, Category: "ransomware"}})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := pub.channels(); len(got) != 1 || got[0] != "threat-patterns" {
		t.Errorf("expected one threat-patterns event, got %v", got)
	}
}

func TestSeenCacheEvictsLeastRecent(t *testing.T) {
	c := newSeenCache(2)
	c.visit("a")
	c.visit("b")
	c.visit("a") // a becomes most recent
	c.visit("c") // evicts b

	if c.len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.len())
	}
	if !c.visit("a") {
		t.Error("expected 'a' to be retained")
	}
	if c.visit("b") {
		t.Error("expected 'b' to have been evicted")
	}
}

func TestSeenCacheDefaultCapacity(t *testing.T) {
	if c := newSeenCache(0); c.capacity != DefaultSeenCapacity {
		t.Errorf("expected default capacity %d, got %d", DefaultSeenCapacity, c.capacity)
	}
}
