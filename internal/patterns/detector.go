// Package patterns finds clusters of related activity in a batch of threats.
package patterns

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

// DefaultCategoryClusterMin is the group size a category must exceed to form
// a cluster.
const DefaultCategoryClusterMin = 3

const (
	temporalClusterMin    = 3
	sourceCorrelationMin  = 2
	escalationMin         = 2
	escalationStep        = 0.1
	categoryCountSaturate = 10.0
)

// Detector runs the category, temporal, source, and escalation detectors over
// a batch. A zero Detector is not usable; create one with New.
type Detector struct {
	CategoryClusterMin int
	Sectors            []Label
	Vectors            []Label

	// OnError is called when a detector panics. The batch continues with
	// the remaining detectors.
	OnError func(detector string, err error)
}

// New returns a detector with the default label tables. A non-positive
// categoryMin selects DefaultCategoryClusterMin.
func New(categoryMin int) *Detector {
	if categoryMin <= 0 {
		categoryMin = DefaultCategoryClusterMin
	}
	return &Detector{
		CategoryClusterMin: categoryMin,
		Sectors:            DefaultSectors,
		Vectors:            DefaultVectors,
	}
}

type detectFunc func([]threat.Record) []threat.Pattern

// Detect returns every pattern found in records. The input slice is not
// modified.
func (d *Detector) Detect(records []threat.Record) []threat.Pattern {
	if len(records) == 0 {
		return nil
	}
	steps := []struct {
		name string
		fn   detectFunc
	}{
		{"category_cluster", d.categoryClusters},
		{"temporal_cluster", d.temporalClusters},
		{"source_correlation", d.sourceCorrelations},
		{"severity_escalation", d.severityEscalation},
	}

	var out []threat.Pattern
	for _, s := range steps {
		out = append(out, d.run(s.name, s.fn, records)...)
	}
	return out
}

func (d *Detector) run(name string, fn detectFunc, records []threat.Record) (found []threat.Pattern) {
	defer func() {
		if r := recover(); r != nil {
			found = nil
			if d.OnError != nil {
				d.OnError(name, fmt.Errorf("detector %s: %v", name, r))
			}
		}
	}()
	return fn(records)
}

// group buckets records by key, returning keys in order of first appearance.
func group[K comparable](records []threat.Record, key func(threat.Record) K) ([]K, map[K][]threat.Record) {
	var order []K
	groups := make(map[K][]threat.Record)
	for _, r := range records {
		k := key(r)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}
	return order, groups
}

func (d *Detector) categoryClusters(records []threat.Record) []threat.Pattern {
	order, groups := group(records, func(r threat.Record) string { return r.Category })
	var out []threat.Pattern
	for _, category := range order {
		members := groups[category]
		n := len(members)
		if n <= d.CategoryClusterMin {
			continue
		}
		sev := maxSeverity(members)
		tf := Timeframe(members)
		out = append(out, threat.Pattern{
			Type:      threat.PatternCategoryCluster,
			Category:  category,
			Count:     n,
			Severity:  sev,
			Timeframe: tf,
			Confidence: 0.4*min(float64(n)/categoryCountSaturate, 1) +
				0.4*sev + 0.2*TemporalClustering(members),
			Description: fmt.Sprintf("Cluster of %d %s severity %s threats detected %s",
				n, severityText(sev), category, timeframeText(tf)),
			Indicators:      indicators(members),
			AffectedSectors: d.sectors(members),
			AttackVectors:   d.vectors(members),
		})
	}
	return out
}

func (d *Detector) temporalClusters(records []threat.Record) []threat.Pattern {
	_, groups := group(records, func(r threat.Record) int { return r.Timestamp.UTC().Hour() })
	var out []threat.Pattern
	for hour := range 24 {
		members := groups[hour]
		n := len(members)
		if n <= temporalClusterMin {
			continue
		}
		bucket := fmt.Sprintf("hour_%d", hour)
		out = append(out, threat.Pattern{
			Type:            threat.PatternTemporalCluster,
			Category:        "timing_pattern",
			Count:           n,
			Severity:        maxSeverity(members),
			Timeframe:       bucket,
			Confidence:      min(float64(n)/5, 1),
			Description:     fmt.Sprintf("Unusual threat activity detected at hour %d:00", hour),
			Indicators:      []string{bucket, "temporal_clustering"},
			AffectedSectors: d.sectors(members),
			AttackVectors:   d.vectors(members),
		})
	}
	return out
}

func (d *Detector) sourceCorrelations(records []threat.Record) []threat.Pattern {
	order, groups := group(records, func(r threat.Record) string { return r.Source })
	var out []threat.Pattern
	for _, source := range order {
		members := groups[source]
		n := len(members)
		if n <= sourceCorrelationMin {
			continue
		}
		out = append(out, threat.Pattern{
			Type:            threat.PatternSourceCorrelation,
			Category:        "source_pattern",
			Count:           n,
			Severity:        maxSeverity(members),
			Timeframe:       Timeframe(members),
			Confidence:      min(float64(n)/3, 1),
			Description:     "High activity from source: " + source,
			Indicators:      []string{source, "source_correlation"},
			AffectedSectors: d.sectors(members),
			AttackVectors:   d.vectors(members),
		})
	}
	return out
}

func (d *Detector) severityEscalation(records []threat.Record) []threat.Pattern {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b threat.Record) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	count := 0
	current := 0.0
	for _, r := range sorted {
		sev := threat.ClampSeverity(r.Severity)
		if sev > current+escalationStep {
			count++
			current = sev
		}
	}
	if count <= escalationMin {
		return nil
	}
	return []threat.Pattern{{
		Type:            threat.PatternSeverityEscalation,
		Category:        "escalation_pattern",
		Count:           count,
		Severity:        maxSeverity(records),
		Timeframe:       Timeframe(records),
		Confidence:      min(float64(count)/5, 1),
		Description:     fmt.Sprintf("Severity escalation pattern detected with %d escalating threats", count),
		Indicators:      []string{"severity_escalation", "increasing_threat_level"},
		AffectedSectors: d.sectors(records),
		AttackVectors:   d.vectors(records),
	}}
}

// TemporalClustering rates how evenly spaced the records are in time, from 0
// (irregular) to 1 (regular or simultaneous). Fewer than two records score 0.
func TemporalClustering(records []threat.Record) float64 {
	if len(records) < 2 {
		return 0
	}
	ts := make([]int64, len(records))
	for i, r := range records {
		ts[i] = r.Timestamp.UnixMilli()
	}
	slices.Sort(ts)

	intervals := make([]float64, len(ts)-1)
	var sum float64
	for i := 1; i < len(ts); i++ {
		intervals[i-1] = float64(ts[i] - ts[i-1])
		sum += intervals[i-1]
	}
	mean := sum / float64(len(intervals))
	if mean == 0 {
		return 1
	}
	var variance float64
	for _, iv := range intervals {
		variance += (iv - mean) * (iv - mean)
	}
	variance /= float64(len(intervals))
	score := 1 - variance/(mean*mean)
	if math.IsNaN(score) {
		return 0
	}
	return max(0, score)
}

// Timeframe buckets the span between the earliest and latest record.
func Timeframe(records []threat.Record) string {
	if len(records) == 0 {
		return threat.TimeframeWithinHour
	}
	lo, hi := records[0].Timestamp, records[0].Timestamp
	for _, r := range records[1:] {
		if r.Timestamp.Before(lo) {
			lo = r.Timestamp
		}
		if r.Timestamp.After(hi) {
			hi = r.Timestamp
		}
	}
	switch span := hi.Sub(lo); {
	case span < time.Hour:
		return threat.TimeframeWithinHour
	case span < 24*time.Hour:
		return threat.TimeframeWithinDay
	case span < 7*24*time.Hour:
		return threat.TimeframeWithinWeek
	default:
		return threat.TimeframeOverWeek
	}
}

func timeframeText(tf string) string {
	switch tf {
	case threat.TimeframeWithinHour:
		return "within the last hour"
	case threat.TimeframeWithinDay:
		return "within the last 24 hours"
	case threat.TimeframeWithinWeek:
		return "within the last week"
	default:
		return "over the past week"
	}
}

func severityText(sev float64) string {
	switch {
	case sev > 0.8:
		return "critical"
	case sev > 0.6:
		return "high"
	default:
		return "medium"
	}
}

func maxSeverity(records []threat.Record) float64 {
	m := 0.0
	for _, r := range records {
		m = max(m, threat.ClampSeverity(r.Severity))
	}
	return m
}
