package report

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/TobiSchelling/ThreatWatch/internal/database"
)

const (
	maxAlerts       = 10
	maxTLDRPatterns = 3
	maxTLDRAlerts   = 2
)

// Composer builds the markdown digest for a period.
type Composer struct {
	db *database.DB
}

// NewComposer creates a new report composer.
func NewComposer(db *database.DB) *Composer {
	return &Composer{db: db}
}

// Input is everything a digest is built from.
type Input struct {
	PeriodID string
	Threats  []database.StoredThreat
	Relevant int
	Alerts   []database.Alert
	Patterns []database.StoredPattern
	Graph    *database.GraphStats
}

// Compose builds and stores the report for a period.
func (c *Composer) Compose(periodID string) (*database.Report, error) {
	in, err := c.gather(periodID)
	if err != nil {
		return nil, err
	}

	tldr, body := Build(in)
	_, err = c.db.InsertReport(database.Report{
		PeriodID:     periodID,
		TLDR:         tldr,
		BodyMarkdown: body,
		ThreatCount:  len(in.Threats),
		AlertCount:   len(in.Alerts),
		PatternCount: len(in.Patterns),
	})
	if err != nil {
		return nil, fmt.Errorf("storing report: %w", err)
	}

	report, err := c.db.GetReport(periodID)
	if err != nil {
		return nil, err
	}
	log.Printf("Report composed for %s: %d threats, %d alerts, %d patterns",
		periodID, len(in.Threats), len(in.Alerts), len(in.Patterns))
	return report, nil
}

func (c *Composer) gather(periodID string) (Input, error) {
	in := Input{PeriodID: periodID}
	var err error
	if in.Threats, err = c.db.GetThreatsForPeriod(periodID); err != nil {
		return in, fmt.Errorf("loading threats: %w", err)
	}
	relevant, err := c.db.GetRelevantThreats(periodID)
	if err != nil {
		return in, fmt.Errorf("loading relevant threats: %w", err)
	}
	in.Relevant = len(relevant)
	if in.Alerts, err = c.db.GetAlerts(database.AlertFilter{PeriodID: periodID, Limit: maxAlerts}); err != nil {
		return in, fmt.Errorf("loading alerts: %w", err)
	}
	if in.Patterns, err = c.db.GetPatternsForPeriod(periodID); err != nil {
		return in, fmt.Errorf("loading patterns: %w", err)
	}
	if in.Graph, err = c.db.GetGraphStats(); err != nil {
		return in, fmt.Errorf("loading graph stats: %w", err)
	}
	return in, nil
}

// Build renders the TL;DR bullets and the markdown body.
func Build(in Input) (tldr, body string) {
	if len(in.Threats) == 0 {
		return "- No threats collected in this period.", "No report content available for this period."
	}
	return buildTLDR(in), buildBody(in)
}

func buildTLDR(in Input) string {
	bullets := []string{fmt.Sprintf("- %d threats collected, %d relevant, %d alerts raised.",
		len(in.Threats), in.Relevant, len(in.Alerts))}

	for i, p := range in.Patterns {
		if i == maxTLDRPatterns {
			break
		}
		bullets = append(bullets, "- "+p.Description)
	}
	for i, a := range in.Alerts {
		if i == maxTLDRAlerts {
			break
		}
		bullets = append(bullets, fmt.Sprintf("- Alert: %s (%s, severity %.2f)", a.Title, a.Category, a.Severity))
	}
	return strings.Join(bullets, "\n")
}

func buildBody(in Input) string {
	var sections []string

	if len(in.Alerts) > 0 {
		var lines []string
		for _, a := range in.Alerts {
			lines = append(lines, fmt.Sprintf("| %s | %s | %.2f | %.2f | %s |",
				escapeCell(a.Title), a.Category, a.Severity, a.Priority, a.Status))
		}
		sections = append(sections, "## Alerts\n\n"+
			"| Title | Category | Severity | Priority | Status |\n"+
			"|---|---|---|---|---|\n"+strings.Join(lines, "\n"))
	}

	if len(in.Patterns) > 0 {
		var lines []string
		for _, p := range in.Patterns {
			line := fmt.Sprintf("- **%s** %s (confidence %.2f)", p.Type, p.Description, p.Confidence)
			if len(p.Indicators) > 0 {
				line += "\n  - Indicators: " + strings.Join(p.Indicators, ", ")
			}
			if len(p.AffectedSectors) > 0 {
				line += "\n  - Sectors: " + strings.Join(p.AffectedSectors, ", ")
			}
			if len(p.AttackVectors) > 0 {
				line += "\n  - Vectors: " + strings.Join(p.AttackVectors, ", ")
			}
			lines = append(lines, line)
		}
		sections = append(sections, "## Patterns\n\n"+strings.Join(lines, "\n"))
	}

	sections = append(sections, "## Threats by Category\n\n"+categoryBreakdown(in.Threats))

	if in.Graph != nil && in.Graph.TotalRelationships > 0 {
		g := in.Graph
		section := fmt.Sprintf("## Threat Graph\n\n%d relationships, average confidence %.2f.",
			g.TotalRelationships, g.AverageConfidence)
		if len(g.TopThreats) > 0 {
			var tops []string
			for _, t := range g.TopThreats {
				tops = append(tops, fmt.Sprintf("- `%s` (%d connections)", t.ThreatID, t.RelationshipCount))
			}
			section += "\n\n**Most connected:**\n" + strings.Join(tops, "\n")
		}
		sections = append(sections, section)
	}

	return strings.Join(sections, "\n\n---\n\n")
}

func categoryBreakdown(threats []database.StoredThreat) string {
	counts := make(map[string]int)
	for _, t := range threats {
		counts[t.Category]++
	}
	categories := make([]string, 0, len(counts))
	for c := range counts {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool {
		if counts[categories[i]] != counts[categories[j]] {
			return counts[categories[i]] > counts[categories[j]]
		}
		return categories[i] < categories[j]
	})

	var lines []string
	for _, c := range categories {
		lines = append(lines, fmt.Sprintf("- %s: %d", c, counts[c]))
	}
	return strings.Join(lines, "\n")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
