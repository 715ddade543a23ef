package threat

// RelationshipType labels a graph edge between two threats.
type RelationshipType string

const (
	RelationSimilar  RelationshipType = "similar"
	RelationRelated  RelationshipType = "related"
	RelationDerived  RelationshipType = "derived"
	RelationConflict RelationshipType = "conflict"
	RelationTimeline RelationshipType = "timeline"
)

// Valid reports whether t is one of the known relationship types.
func (t RelationshipType) Valid() bool {
	switch t {
	case RelationSimilar, RelationRelated, RelationDerived, RelationConflict, RelationTimeline:
		return true
	}
	return false
}

// RelationshipMetadata describes why two threats were linked.
type RelationshipMetadata struct {
	SimilarityScore     float64 `json:"similarityScore"`
	TemporalProximity   float64 `json:"temporalProximity"`
	SourceOverlap       int     `json:"sourceOverlap"`
	CategoryMatch       bool    `json:"categoryMatch"`
	SeverityCorrelation float64 `json:"severityCorrelation"`
}

// Relationship is a directed edge in the threat graph. Storage treats
// (ThreatID, RelatedThreatID, Type) as its identity.
type Relationship struct {
	ThreatID        string               `json:"threatId"`
	RelatedThreatID string               `json:"relatedThreatId"`
	Type            RelationshipType     `json:"relationshipType"`
	Confidence      float64              `json:"confidence"`
	Metadata        RelationshipMetadata `json:"metadata"`
}
