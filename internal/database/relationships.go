package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

// UpsertRelationships stores edges, treating (threat, related threat, type)
// as the identity. An existing edge gets the new confidence and metadata.
// Returns the number of edges written.
func (db *DB) UpsertRelationships(rels []threat.Relationship) (int, error) {
	if len(rels) == 0 {
		return 0, nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO threat_relationships
		(threat_id, related_threat_id, relationship_type, confidence, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(threat_id, related_threat_id, relationship_type)
		DO UPDATE SET confidence = excluded.confidence, metadata = excluded.metadata`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, r := range rels {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encoding relationship metadata: %w", err)
		}
		if _, err := stmt.Exec(r.ThreatID, r.RelatedThreatID, string(r.Type), r.Confidence, string(meta)); err != nil {
			return 0, fmt.Errorf("storing relationship %s -> %s: %w", r.ThreatID, r.RelatedThreatID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(rels), nil
}

// GetRelatedThreats returns edges touching threatID in either direction,
// strongest first, each paired with the threat on the other end.
func (db *DB) GetRelatedThreats(threatID string, limit int) ([]RelatedThreat, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.conn.Query(
		`SELECT r.threat_id, r.related_threat_id, r.relationship_type, r.confidence, r.metadata
		FROM threat_relationships r
		WHERE r.threat_id = ? OR r.related_threat_id = ?
		ORDER BY r.confidence DESC, r.id ASC
		LIMIT ?`, threatID, threatID, limit,
	)
	if err != nil {
		return nil, err
	}
	rels, err := scanRelationships(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	others := make([]string, 0, len(rels))
	for _, r := range rels {
		others = append(others, otherEnd(r, threatID))
	}
	threats, err := db.GetThreatsByIDs(others)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]threat.Record, len(threats))
	for _, t := range threats {
		byID[t.ID] = t.Record
	}

	var out []RelatedThreat
	for _, r := range rels {
		other, ok := byID[otherEnd(r, threatID)]
		if !ok {
			continue
		}
		out = append(out, RelatedThreat{Threat: other, Relationship: r})
	}
	return out, nil
}

// GetThreatNetwork returns every edge touching any of ids, plus the threats at
// both ends of those edges.
func (db *DB) GetThreatNetwork(ids []string) (*Network, error) {
	net := &Network{Nodes: []NetworkNode{}, Edges: []NetworkEdge{}}
	if len(ids) == 0 {
		return net, nil
	}
	args := append(stringArgs(ids), stringArgs(ids)...)
	rows, err := db.conn.Query(
		`SELECT r.threat_id, r.related_threat_id, r.relationship_type, r.confidence, r.metadata
		FROM threat_relationships r
		WHERE r.threat_id IN (`+placeholders(len(ids))+`)
		   OR r.related_threat_id IN (`+placeholders(len(ids))+`)
		ORDER BY r.id ASC`, args...,
	)
	if err != nil {
		return nil, err
	}
	rels, err := scanRelationships(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	var nodeIDs []string
	seen := make(map[string]bool)
	for _, r := range rels {
		for _, id := range []string{r.ThreatID, r.RelatedThreatID} {
			if !seen[id] {
				seen[id] = true
				nodeIDs = append(nodeIDs, id)
			}
		}
		net.Edges = append(net.Edges, NetworkEdge{
			Source:           r.ThreatID,
			Target:           r.RelatedThreatID,
			RelationshipType: r.Type,
			Confidence:       r.Confidence,
		})
	}

	threats, err := db.GetThreatsByIDs(nodeIDs)
	if err != nil {
		return nil, err
	}
	for _, t := range threats {
		net.Nodes = append(net.Nodes, NetworkNode{
			ID:        t.ID,
			Title:     t.Title,
			Category:  t.Category,
			Severity:  t.Severity,
			Timestamp: formatTime(t.Timestamp),
		})
	}
	return net, nil
}

// GetGraphStats summarises the relationship graph.
func (db *DB) GetGraphStats() (*GraphStats, error) {
	s := &GraphStats{RelationshipsByType: make(map[string]int), TopThreats: []ThreatConnections{}}

	var avg *float64
	if err := db.conn.QueryRow(
		"SELECT COUNT(*), AVG(confidence) FROM threat_relationships",
	).Scan(&s.TotalRelationships, &avg); err != nil {
		return nil, err
	}
	if avg != nil {
		s.AverageConfidence = *avg
	}

	typeRows, err := db.conn.Query(
		"SELECT relationship_type, COUNT(*) FROM threat_relationships GROUP BY relationship_type",
	)
	if err != nil {
		return nil, err
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var typ string
		var n int
		if err := typeRows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		s.RelationshipsByType[typ] = n
	}
	if err := typeRows.Err(); err != nil {
		return nil, err
	}

	topRows, err := db.conn.Query(
		`SELECT threat_id, COUNT(*) AS n FROM threat_relationships
		GROUP BY threat_id ORDER BY n DESC, threat_id ASC LIMIT 10`,
	)
	if err != nil {
		return nil, err
	}
	defer topRows.Close()
	for topRows.Next() {
		var tc ThreatConnections
		if err := topRows.Scan(&tc.ThreatID, &tc.RelationshipCount); err != nil {
			return nil, err
		}
		s.TopThreats = append(s.TopThreats, tc)
	}
	return s, topRows.Err()
}

func scanRelationships(rows *sql.Rows) ([]threat.Relationship, error) {
	var rels []threat.Relationship
	for rows.Next() {
		var r threat.Relationship
		var typ string
		var meta *string
		if err := rows.Scan(&r.ThreatID, &r.RelatedThreatID, &typ, &r.Confidence, &meta); err != nil {
			return nil, err
		}
		r.Type = threat.RelationshipType(typ)
		if meta != nil {
			if err := json.Unmarshal([]byte(*meta), &r.Metadata); err != nil {
				r.Metadata = threat.RelationshipMetadata{}
			}
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

func otherEnd(r threat.Relationship, id string) string {
	if r.ThreatID == id {
		return r.RelatedThreatID
	}
	return r.ThreatID
}
