package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/TobiSchelling/ThreatWatch/internal/collect"
	"github.com/TobiSchelling/ThreatWatch/internal/config"
	"github.com/TobiSchelling/ThreatWatch/internal/database"
	"github.com/TobiSchelling/ThreatWatch/internal/fetch"
	"github.com/TobiSchelling/ThreatWatch/internal/metrics"
	"github.com/TobiSchelling/ThreatWatch/internal/monitor"
	"github.com/TobiSchelling/ThreatWatch/internal/report"
	"github.com/TobiSchelling/ThreatWatch/internal/threat"
	"github.com/robfig/cron/v3"
)

const totalSteps = 7

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name     string
	Summary  string
	Err      error
	Duration time.Duration
}

// Result holds the results of a full pipeline run.
type Result struct {
	PeriodID string
	Steps    []StepResult
}

// Failed reports whether any step returned an error.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Pipeline orchestrates the threat monitoring run:
// Collect, Enrich, Filter, Alert, Relate, Patterns, Report.
type Pipeline struct {
	cfg      *config.Config
	db       *database.DB
	analyzer *Analyzer
	monitor  *monitor.Monitor
	metrics  *metrics.Metrics
}

// New creates a new pipeline.
func New(cfg *config.Config, db *database.DB, analyzer *Analyzer, mon *monitor.Monitor, m *metrics.Metrics) *Pipeline {
	return &Pipeline{cfg: cfg, db: db, analyzer: analyzer, monitor: mon, metrics: m}
}

// Run executes the full pipeline for a period.
func (p *Pipeline) Run(ctx context.Context, periodID string, daysBack int) *Result {
	r := &Result{PeriodID: periodID}

	step := p.step(1, "Collect", func() (string, error) { return p.runCollect(ctx, periodID, daysBack) })
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	r.Steps = append(r.Steps, p.step(2, "Enrich", func() (string, error) { return p.runEnrich(ctx, periodID) }))

	step = p.step(3, "Filter", func() (string, error) { return p.runFilter(periodID) })
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	relevant, err := p.db.GetRelevantThreats(periodID)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Alert", Err: fmt.Errorf("loading relevant threats: %w", err)})
		return r
	}
	records := database.Records(relevant)

	var alerts int
	r.Steps = append(r.Steps, p.step(4, "Alert", func() (string, error) {
		n, summary, err := p.runAlert(ctx, records)
		alerts = n
		return summary, err
	}))
	r.Steps = append(r.Steps, p.step(5, "Relate", func() (string, error) { return p.runRelate(records) }))
	r.Steps = append(r.Steps, p.step(6, "Patterns", func() (string, error) { return p.runPatterns(ctx, periodID, records) }))

	step = p.step(7, "Report", func() (string, error) { return p.runReport(periodID) })
	r.Steps = append(r.Steps, step)
	if step.Err == nil {
		threats, err := p.db.GetThreatsForPeriod(periodID)
		if err != nil {
			log.Printf("Failed to count threats for run: %v", err)
		}
		if _, err := p.db.InsertRun(periodID, len(threats), alerts); err != nil {
			log.Printf("Failed to record run: %v", err)
		}
		p.metrics.RunCompleted(time.Now())
	}
	return r
}

// DryRun shows what would be done without executing. A failed lookup is
// reported on its step rather than counted as zero.
func (p *Pipeline) DryRun(periodID string) *Result {
	r := &Result{PeriodID: periodID}

	sources := 0
	for _, f := range p.cfg.Sources.Feeds {
		if f.IsEnabled() {
			sources++
		}
	}
	threats, err := p.db.GetThreatsForPeriod(periodID)
	r.Steps = append(r.Steps, dryStep("Collect", err, "loading threats",
		"[dry-run] %d threats already in DB for %s, %d feeds enabled", len(threats), periodID, sources))

	needing, err := p.db.GetThreatsNeedingEnrichment(&periodID, p.cfg.Fetch.MinDescription)
	r.Steps = append(r.Steps, dryStep("Enrich", err, "loading threats needing enrichment",
		"[dry-run] %d threats need enrichment", len(needing)))

	unscored, err := p.db.GetUnscoredThreats(&periodID)
	r.Steps = append(r.Steps, dryStep("Filter", err, "loading unscored threats",
		"[dry-run] %d threats need scoring", len(unscored)))

	relevant, err := p.db.GetRelevantThreats(periodID)
	r.Steps = append(r.Steps,
		dryStep("Alert", err, "loading relevant threats", "[dry-run] %d relevant threats to evaluate for alerts", len(relevant)),
		dryStep("Relate", err, "loading relevant threats", "[dry-run] %d relevant threats to correlate", len(relevant)),
		dryStep("Patterns", err, "loading relevant threats", "[dry-run] %d relevant threats to scan for patterns", len(relevant)),
	)

	existing, err := p.db.GetReport(periodID)
	switch {
	case err != nil:
		r.Steps = append(r.Steps, dryStep("Report", err, "loading report", ""))
	case existing != nil:
		r.Steps = append(r.Steps, StepResult{
			Name:    "Report",
			Summary: fmt.Sprintf("[dry-run] Report already exists for %s", periodID),
		})
	default:
		r.Steps = append(r.Steps, StepResult{
			Name:    "Report",
			Summary: fmt.Sprintf("[dry-run] Would compose report for %s", periodID),
		})
	}
	return r
}

func dryStep(name string, err error, doing, format string, args ...any) StepResult {
	if err != nil {
		return StepResult{Name: name, Err: fmt.Errorf("%s: %w", doing, err)}
	}
	return StepResult{Name: name, Summary: fmt.Sprintf(format, args...)}
}

// Watch runs the pipeline once, then on every tick of the cron schedule until
// ctx is cancelled. The period is recomputed for each run and overlapping runs
// are skipped.
func (p *Pipeline) Watch(ctx context.Context, schedule string, daysBack int, period func() string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	runOnce := func() {
		result := p.Run(ctx, period(), daysBack)
		for _, s := range result.Steps {
			if s.Err != nil {
				log.Printf("%s failed: %v", s.Name, s.Err)
			}
		}
	}
	if _, err := c.AddFunc(schedule, runOnce); err != nil {
		return fmt.Errorf("parsing schedule %q: %w", schedule, err)
	}

	runOnce()
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (p *Pipeline) step(n int, name string, fn func() (string, error)) StepResult {
	log.Printf("Step %d/%d: %s...", n, totalSteps, name)
	start := time.Now()
	summary, err := fn()
	d := time.Since(start)
	p.metrics.ObserveStep(name, d)
	return StepResult{Name: name, Summary: summary, Err: err, Duration: d}
}

func (p *Pipeline) runCollect(ctx context.Context, periodID string, daysBack int) (string, error) {
	collector := collect.NewCollector(p.cfg, p.db, daysBack)
	if len(collector.Sources()) == 0 {
		return "", errors.New("no enabled feeds configured")
	}
	result := collector.Collect(ctx, periodID)
	for source, n := range result.Sources {
		p.metrics.ThreatsIngested(source, n)
	}
	return fmt.Sprintf("Found %d new threats (%d total, %d duplicates, %d feeds failed)",
		result.NewThreats, result.TotalFound, result.Duplicates, result.FailedFeeds), nil
}

func (p *Pipeline) runEnrich(ctx context.Context, periodID string) (string, error) {
	enricher := fetch.NewEnricher(p.db, p.cfg.Fetch.Timeout, p.cfg.Fetch.MinDescription)
	result := enricher.EnrichMissing(ctx, &periodID)
	return fmt.Sprintf("Enriched %d threats, %d without link, %d failed",
		result.Enriched, result.NoLink, result.Failed), nil
}

func (p *Pipeline) runFilter(periodID string) (string, error) {
	unscored, err := p.db.GetUnscoredThreats(&periodID)
	if err != nil {
		return "", fmt.Errorf("loading unscored threats: %w", err)
	}

	analysis := p.analyzer.Filter(database.Records(unscored))
	relevant := 0
	for _, s := range analysis.Scores {
		if err := p.db.InsertScore(s.ID, s.Score, s.Relevant); err != nil {
			return "", fmt.Errorf("storing score for %s: %w", s.ID, err)
		}
		if s.Relevant {
			relevant++
		}
	}
	p.metrics.NoiseDropped(analysis.NoiseDropped)
	return fmt.Sprintf("Scored %d threats: %d relevant, %d dropped as noise",
		len(analysis.Scores), relevant, analysis.NoiseDropped), nil
}

func (p *Pipeline) runAlert(ctx context.Context, records []threat.Record) (int, string, error) {
	result, err := p.monitor.Process(ctx, records)
	if err != nil {
		return 0, "", err
	}
	return len(result.Alerts), fmt.Sprintf("Raised %d alerts (%d critical) from %d threats, %d already seen",
		len(result.Alerts), result.Critical, result.Processed, result.Skipped), nil
}

func (p *Pipeline) runRelate(records []threat.Record) (string, error) {
	rels := p.analyzer.Builder.Build(records)
	n, err := p.db.UpsertRelationships(rels)
	if err != nil {
		return "", fmt.Errorf("storing relationships: %w", err)
	}
	p.metrics.RelationshipsBuilt(len(rels))
	return fmt.Sprintf("Built %d relationships, %d stored", len(rels), n), nil
}

func (p *Pipeline) runPatterns(ctx context.Context, periodID string, records []threat.Record) (string, error) {
	found := p.analyzer.Detector.Detect(records)
	if err := p.db.ReplacePatterns(periodID, found); err != nil {
		return "", fmt.Errorf("storing patterns: %w", err)
	}
	for _, pat := range found {
		p.metrics.PatternDetected(string(pat.Type))
	}
	if err := p.monitor.PublishPatterns(ctx, periodID, found); err != nil {
		log.Printf("Failed to broadcast patterns: %v", err)
	}
	return fmt.Sprintf("Detected %d patterns", len(found)), nil
}

func (p *Pipeline) runReport(periodID string) (string, error) {
	rep, err := report.NewComposer(p.db).Compose(periodID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Report composed: %d threats, %d alerts, %d patterns",
		rep.ThreatCount, rep.AlertCount, rep.PatternCount), nil
}
