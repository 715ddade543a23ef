package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TobiSchelling/ThreatWatch/internal/database"
	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

const paragraph = "Attackers exploited an authentication bypass in the management interface of the appliance, " +
	"deploying a web shell and moving laterally into the internal network before exfiltrating credentials."

func articlePage() string {
	var b strings.Builder
	b.WriteString("<html><head><title>Advisory</title></head><body><nav>Home | About</nav><article><h1>Advisory</h1>")
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&b, "<p>%s</p>", paragraph)
	}
	b.WriteString("</article><footer>Copyright</footer></body></html>")
	return b.String()
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

func insert(t *testing.T, db *database.DB, id, link string, ts time.Time) {
	t.Helper()
	meta := threat.Metadata{}
	if link != "" {
		meta[threat.KeyLink] = threat.String(link)
	}
	r := threat.Record{
		ID: id, Title: "Threat " + id, Description: "short", Source: "Test",
		Category: threat.CategoryAttack, Severity: 0.5, Timestamp: ts, Metadata: meta,
	}
	if _, err := db.InsertThreat(r, "2026-02-06"); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func TestEnrichMissing(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articlePage())
	}))
	defer good.Close()

	var badHits atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badHits.Add(1)
		http.NotFound(w, r)
	}))
	defer bad.Close()

	db := openTestDB(t)
	base := time.Date(2026, 2, 6, 8, 0, 0, 0, time.UTC)
	insert(t, db, "good", good.URL+"/advisory", base)
	insert(t, db, "bad-1", bad.URL+"/a", base.Add(time.Hour))
	insert(t, db, "bad-2", bad.URL+"/b", base.Add(2*time.Hour))
	insert(t, db, "nolink", "", base.Add(3*time.Hour))

	e := NewEnricher(db, 5*time.Second, 200)
	result := e.EnrichMissing(context.Background(), nil)

	if result.Enriched != 1 || result.Failed != 2 || result.NoLink != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
	if badHits.Load() != 1 {
		t.Errorf("expected failing domain to be requested once, got %d", badHits.Load())
	}

	stored, err := db.GetThreat("good")
	if err != nil || stored == nil {
		t.Fatalf("get threat: %v", err)
	}
	if !strings.Contains(stored.Description, "authentication bypass") {
		t.Errorf("expected extracted text, got %q", stored.Description)
	}
	if len([]rune(stored.Description)) > maxDescription {
		t.Errorf("description not truncated: %d runes", len([]rune(stored.Description)))
	}

	again := e.EnrichMissing(context.Background(), nil)
	if again.Enriched+again.Failed+again.NoLink != 0 {
		t.Errorf("expected attempted threats to be skipped, got %+v", again)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo", 2); got != "hé" {
		t.Errorf("expected 'hé', got %q", got)
	}
	if got := truncate("abc", 10); got != "abc" {
		t.Errorf("expected unchanged, got %q", got)
	}
}
