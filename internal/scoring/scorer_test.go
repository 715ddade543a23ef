package scoring

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

func newTestScorer() *Scorer {
	return New(DefaultTables(), 0)
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func inUnit(v float64) bool { return v >= 0 && v <= 1 }

func TestDefaultTablesParse(t *testing.T) {
	tables := DefaultTables()
	if len(tables.Relevance.Groups) != 2 {
		t.Fatalf("expected 2 relevance groups, got %d", len(tables.Relevance.Groups))
	}
	if tables.Relevance.Groups[0].Weight != 0.3 || tables.Relevance.Groups[1].Weight != 0.1 {
		t.Errorf("unexpected group weights: %+v", tables.Relevance.Groups)
	}
	if len(tables.Severity.Tiers) != 4 || tables.Severity.Tiers[0].Name != "critical" {
		t.Errorf("expected critical tier first, got %+v", tables.Severity.Tiers)
	}
	if tables.Sentiment["fraud"] >= 0 {
		t.Error("expected negative valence for 'fraud'")
	}
}

func TestScoresStayInUnitRange(t *testing.T) {
	s := newTestScorer()
	records := []threat.Record{
		{},
		{Title: "Critical zero-day exploit ransomware malware phishing ddos breach backdoor trojan apt intrusion",
			Description: "urgent severe emergency fraud victims stolen malicious catastrophic attack compromise",
			Source:      "https://nvd.nist.gov/feed", Severity: 1,
			Metadata: threat.Metadata{"iocs": threat.List("1.1.1.1")}},
		{Title: "Minor informational note", Description: "low", Source: "someone's blog"},
		{Title: "Weekly roundup", Description: "good great success secure improved", Source: "reddit"},
	}
	for i, r := range records {
		sc := s.Score(r)
		if !inUnit(sc.Relevance) || !inUnit(sc.Severity) || !inUnit(sc.Confidence) || !inUnit(sc.Priority) {
			t.Errorf("record %d: score out of range: %+v", i, sc)
		}
	}
}

func TestCriticalZeroDayFromCredibleSource(t *testing.T) {
	s := newTestScorer()
	r := threat.Record{
		ID:          "cve-1",
		Title:       "Critical Zero-Day Vulnerability",
		Description: "A remote code execution flaw affecting widely deployed VPN appliances is being exploited.",
		Source:      "CVE Database",
		Category:    threat.CategoryVulnerability,
		Timestamp:   time.Now(),
	}
	sc := s.Score(r)
	if sc.Severity < 0.8 {
		t.Errorf("expected severity >= 0.8, got %v", sc.Severity)
	}
	if sc.Confidence < 0.7 {
		t.Errorf("expected confidence >= 0.7, got %v", sc.Confidence)
	}
	if !approx(sc.Priority, min(0.4*sc.Relevance+0.4*sc.Severity+0.2*sc.Confidence, 1)) {
		t.Errorf("priority does not match weighted sum: %+v", sc)
	}
}

func TestRelevanceCountsKeywordOnce(t *testing.T) {
	s := newTestScorer()
	got := s.Relevance(threat.Record{Title: "ddos ddos ddos", Description: "ddos"})
	if !approx(got, 0.3) {
		t.Errorf("expected 0.3 for repeated keyword, got %v", got)
	}
}

func TestRelevanceNegativeSentimentBonus(t *testing.T) {
	s := newTestScorer()
	plain := s.Relevance(threat.Record{Title: "ddos"})
	negative := s.Relevance(threat.Record{Title: "ddos", Description: "fraud victims"})
	if !approx(negative-plain, 0.2) {
		t.Errorf("expected +0.2 for negative sentiment, got %v vs %v", negative, plain)
	}
	if s.Sentiment("fraud victims") >= -2 {
		t.Errorf("expected sentiment below -2, got %d", s.Sentiment("fraud victims"))
	}
}

func TestRelevanceCapsAtOne(t *testing.T) {
	s := newTestScorer()
	got := s.Relevance(threat.Record{Title: "zero-day exploit ransomware malware phishing ddos"})
	if got != 1.0 {
		t.Errorf("expected relevance capped at 1, got %v", got)
	}
}

func TestSeverityFirstTierWins(t *testing.T) {
	s := newTestScorer()
	sc := s.Score(threat.Record{Title: "low impact but critical", Source: "nvd.nist.gov"})
	if !approx(sc.Severity, 0.9*0.9) {
		t.Errorf("expected critical tier x high credibility, got %v", sc.Severity)
	}

	sc = s.Score(threat.Record{Title: "nothing to see", Source: "unknown blog"})
	if !approx(sc.Severity, 0.5*0.4) {
		t.Errorf("expected default severity x default credibility, got %v", sc.Severity)
	}
}

func TestCredibility(t *testing.T) {
	s := newTestScorer()
	if got := s.Credibility("https://KrebsOnSecurity.com/feed/"); got != 0.9 {
		t.Errorf("expected 0.9, got %v", got)
	}
	if got := s.Credibility("github.com/advisories"); got != 0.6 {
		t.Errorf("expected 0.6, got %v", got)
	}
	if got := s.Credibility("pastebin"); got != 0.4 {
		t.Errorf("expected 0.4, got %v", got)
	}
}

func TestConfidenceShortDescriptionAndFloor(t *testing.T) {
	s := newTestScorer()
	sc := s.Score(threat.Record{Title: "x", Source: "unknown"})
	// 0.5 base + 0.4*0.2 credibility - 0.2 short description
	if !approx(sc.Confidence, 0.38) {
		t.Errorf("expected 0.38, got %v", sc.Confidence)
	}

	tables := DefaultTables()
	tables.Confidence.ShortDescriptionPenalty = 5
	sc = New(tables, 0).Score(threat.Record{Title: "x"})
	if sc.Confidence != 0.1 {
		t.Errorf("expected floor 0.1, got %v", sc.Confidence)
	}
}

func TestInjectedTables(t *testing.T) {
	tables := Tables{
		Relevance: RelevanceTable{Groups: []KeywordGroup{{Name: "synthetic", Weight: 0.45, Keywords: []string{"FOO", "bar"}}}},
		Severity:  SeverityTable{Default: 0.5},
		Credibility: CredibilityTable{
			Default: 1,
		},
		Confidence: ConfidenceTable{Base: 0.5, Floor: 0.1, Ceiling: 1},
	}
	s := New(tables, 0.5)
	if got := s.Relevance(threat.Record{Title: "foo and bar"}); !approx(got, 0.9) {
		t.Errorf("expected 0.9 from synthetic keywords, got %v", got)
	}
	kept, dropped := s.FilterNoise([]threat.Record{{ID: "1", Title: "foo"}, {ID: "2", Title: "foo bar"}})
	if len(kept) != 1 || kept[0].ID != "2" || dropped != 1 {
		t.Errorf("unexpected filter result: kept=%v dropped=%d", kept, dropped)
	}
}

func TestFilterNoisePreservesOrder(t *testing.T) {
	s := newTestScorer()
	batch := []threat.Record{
		{ID: "a", Title: "Ransomware attack hits hospital"},
		{ID: "b", Title: "Weekly newsletter"},
		{ID: "c", Title: "New exploit for CVE-2024-1234"},
		{ID: "d", Title: "Quarterly update"},
	}
	kept, dropped := s.FilterNoise(batch)
	if dropped != 2 {
		t.Errorf("expected 2 dropped, got %d", dropped)
	}
	if len(kept) != 2 || kept[0].ID != "a" || kept[1].ID != "c" {
		t.Fatalf("expected [a c], got %v", kept)
	}
	for _, r := range kept {
		if s.Relevance(r) <= s.Threshold() {
			t.Errorf("kept record %s at or below threshold", r.ID)
		}
	}
}

func TestFilterNoiseEmpty(t *testing.T) {
	kept, dropped := newTestScorer().FilterNoise(nil)
	if len(kept) != 0 || dropped != 0 {
		t.Errorf("expected empty result, got %v / %d", kept, dropped)
	}
}

func TestLoadTablesOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	data := []byte(`
credibility:
  default: 0.5
  tiers:
    - name: internal
      score: 1.0
      sources: [soc.internal]
sentiment:
  pwned: -5
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tables, err := LoadTables(path)
	if err != nil {
		t.Fatalf("LoadTables: %v", err)
	}
	s := New(tables, 0)
	if got := s.Credibility("soc.internal"); got != 1.0 {
		t.Errorf("expected overridden credibility, got %v", got)
	}
	if got := s.Credibility("nvd.nist.gov"); got != 0.5 {
		t.Errorf("expected default tiers replaced, got %v", got)
	}
	if s.Sentiment("pwned") != -5 || s.Sentiment("fraud") >= 0 {
		t.Error("expected sentiment entries merged into default lexicon")
	}
	if len(tables.Severity.Tiers) != 4 {
		t.Error("expected severity tiers kept from defaults")
	}
}
