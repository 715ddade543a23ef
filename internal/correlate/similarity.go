// Package correlate links threats that look alike into relationship edges.
package correlate

import (
	"math"
	"strings"
	"time"

	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

// Weights of the similarity terms.
const (
	textWeight     = 0.4
	categoryWeight = 0.3
	severityWeight = 0.2
	sourceWeight   = 0.1

	// Only shared words longer than this count toward text overlap.
	minSharedWordLen = 3
)

// Similarity scores how alike two threats are, in [0,1]. It is symmetric in
// its arguments.
func Similarity(a, b threat.Record) float64 {
	score := textOverlap(wordSet(a), wordSet(b)) * textWeight
	if a.Category == b.Category {
		score += categoryWeight
	}
	score += severityCorrelation(a, b) * severityWeight
	if a.Source == b.Source {
		score += sourceWeight
	}
	return min(score, 1.0)
}

func wordSet(r threat.Record) map[string]struct{} {
	words := strings.Fields(r.Text())
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// textOverlap is the share of the union made up of shared long words.
func textOverlap(a, b map[string]struct{}) float64 {
	shared := 0
	union := len(a)
	for w := range b {
		if _, ok := a[w]; ok {
			if len([]rune(w)) > minSharedWordLen {
				shared++
			}
			continue
		}
		union++
	}
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// severityCorrelation clamps both severities first so NaN or out-of-range
// values built outside JSON decoding cannot leak out of [0,1].
func severityCorrelation(a, b threat.Record) float64 {
	return 1 - math.Abs(threat.ClampSeverity(a.Severity)-threat.ClampSeverity(b.Severity))
}

// TemporalProximity maps the distance between two timestamps onto a step
// scale from 1.0 (under an hour) down to 0.2 (a month or more).
func TemporalProximity(a, b time.Time) float64 {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	switch {
	case d < time.Hour:
		return 1.0
	case d < 24*time.Hour:
		return 0.8
	case d < 7*24*time.Hour:
		return 0.6
	case d < 30*24*time.Hour:
		return 0.4
	default:
		return 0.2
	}
}
