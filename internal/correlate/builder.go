package correlate

import "github.com/TobiSchelling/ThreatWatch/internal/threat"

// DefaultThreshold is the similarity an edge must exceed.
const DefaultThreshold = 0.6

// Builder turns a batch of threats into "similar" relationship edges.
type Builder struct {
	threshold float64
}

// NewBuilder returns a builder that links pairs whose similarity exceeds
// threshold. A non-positive threshold selects DefaultThreshold.
func NewBuilder(threshold float64) *Builder {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Builder{threshold: threshold}
}

// Threshold returns the similarity cut-off.
func (b *Builder) Threshold() float64 { return b.threshold }

// Build compares every unordered pair once and returns an edge from the
// earlier record to the later one for each pair above the threshold. Edges are
// not deduplicated against anything already stored.
func (b *Builder) Build(records []threat.Record) []threat.Relationship {
	var edges []threat.Relationship
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			x, y := records[i], records[j]
			sim := Similarity(x, y)
			if sim <= b.threshold {
				continue
			}
			edges = append(edges, threat.Relationship{
				ThreatID:        x.ID,
				RelatedThreatID: y.ID,
				Type:            threat.RelationSimilar,
				Confidence:      sim,
				Metadata: threat.RelationshipMetadata{
					SimilarityScore:     sim,
					TemporalProximity:   TemporalProximity(x.Timestamp, y.Timestamp),
					SourceOverlap:       boolInt(x.Source == y.Source),
					CategoryMatch:       x.Category == y.Category,
					SeverityCorrelation: severityCorrelation(x, y),
				},
			})
		}
	}
	return edges
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
