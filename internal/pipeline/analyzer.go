package pipeline

import (
	"fmt"
	"log"

	"github.com/TobiSchelling/ThreatWatch/internal/config"
	"github.com/TobiSchelling/ThreatWatch/internal/correlate"
	"github.com/TobiSchelling/ThreatWatch/internal/metrics"
	"github.com/TobiSchelling/ThreatWatch/internal/patterns"
	"github.com/TobiSchelling/ThreatWatch/internal/scoring"
	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

// ScoredThreat pairs a threat ID with its scores.
type ScoredThreat struct {
	ID       string       `json:"id"`
	Score    threat.Score `json:"score"`
	Relevant bool         `json:"relevant"`
}

// Analysis is the outcome of analyzing one batch of records.
type Analysis struct {
	Scores        []ScoredThreat        `json:"scores"`
	Relevant      []threat.Record       `json:"relevant"`
	NoiseDropped  int                   `json:"noiseDropped"`
	Relationships []threat.Relationship `json:"relationships"`
	Patterns      []threat.Pattern      `json:"patterns"`
}

// Analyzer bundles the scorer, relationship builder, and pattern detector.
type Analyzer struct {
	Scorer   *scoring.Scorer
	Builder  *correlate.Builder
	Detector *patterns.Detector
}

// NewAnalyzer builds an analyzer from the scoring section of cfg. Detector
// failures are logged and counted in m.
func NewAnalyzer(cfg *config.Config, m *metrics.Metrics) (*Analyzer, error) {
	tables := scoring.DefaultTables()
	if cfg.Scoring.TablesPath != "" {
		var err error
		tables, err = scoring.LoadTables(cfg.Scoring.TablesPath)
		if err != nil {
			return nil, fmt.Errorf("loading scoring tables: %w", err)
		}
	}

	detector := patterns.New(cfg.Scoring.CategoryClusterMin)
	detector.OnError = func(name string, err error) {
		log.Printf("Pattern detector %s failed: %v", name, err)
		m.DetectorFailed(name)
	}

	return &Analyzer{
		Scorer:   scoring.New(tables, cfg.Scoring.RelevanceThreshold),
		Builder:  correlate.NewBuilder(cfg.Scoring.SimilarityThreshold),
		Detector: detector,
	}, nil
}

// Analyze scores every record, drops noise, and correlates and detects
// patterns over the relevant remainder.
func (a *Analyzer) Analyze(records []threat.Record) *Analysis {
	out := a.Filter(records)
	if rels := a.Builder.Build(out.Relevant); len(rels) > 0 {
		out.Relationships = rels
	}
	if found := a.Detector.Detect(out.Relevant); len(found) > 0 {
		out.Patterns = found
	}
	return out
}

// Filter scores every record and splits off the noise. Relationships and
// patterns are left empty.
func (a *Analyzer) Filter(records []threat.Record) *Analysis {
	out := &Analysis{
		Scores:        make([]ScoredThreat, 0, len(records)),
		Relevant:      []threat.Record{},
		Relationships: []threat.Relationship{},
		Patterns:      []threat.Pattern{},
	}
	for _, r := range records {
		score := a.Scorer.Score(r)
		relevant := score.Relevance > a.Scorer.Threshold()
		out.Scores = append(out.Scores, ScoredThreat{ID: r.ID, Score: score, Relevant: relevant})
		if relevant {
			out.Relevant = append(out.Relevant, r)
		} else {
			out.NoiseDropped++
		}
	}
	return out
}
