package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

// timeLayout is fixed-width so timestamps sort correctly as text.
const timeLayout = "2006-01-02T15:04:05.000Z"

const threatColumns = `t.id, t.title, t.description, t.source, t.category, t.severity,
	t.timestamp, t.metadata, t.period_id, t.enriched, t.collected_at`

// InsertThreat stores a threat for a period. Returns false if the ID already
// exists.
func (db *DB) InsertThreat(r threat.Record, periodID string) (bool, error) {
	meta, err := encodeMetadata(r.Metadata)
	if err != nil {
		return false, err
	}
	category := r.Category
	if category == "" {
		category = threat.CategoryGeneral
	}
	result, err := db.conn.Exec(
		`INSERT OR IGNORE INTO threats
		(id, title, description, source, category, severity, timestamp, metadata, period_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Title, r.Description, r.Source, category,
		threat.ClampSeverity(r.Severity), formatTime(r.Timestamp), meta, periodID,
	)
	if err != nil {
		return false, fmt.Errorf("inserting threat %s: %w", r.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetThreat returns a single threat by ID, or nil if missing.
func (db *DB) GetThreat(id string) (*StoredThreat, error) {
	rows, err := db.conn.Query(`SELECT `+threatColumns+` FROM threats t WHERE t.id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	threats, err := scanThreats(rows)
	if err != nil || len(threats) == 0 {
		return nil, err
	}
	return &threats[0], nil
}

// GetThreatsForPeriod returns a period's threats in timestamp order.
func (db *DB) GetThreatsForPeriod(periodID string) ([]StoredThreat, error) {
	rows, err := db.conn.Query(
		`SELECT `+threatColumns+` FROM threats t WHERE t.period_id = ?
		ORDER BY t.timestamp ASC, t.id ASC`, periodID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanThreats(rows)
}

// GetRecentThreats returns the newest threats first.
func (db *DB) GetRecentThreats(limit int) ([]StoredThreat, error) {
	return db.GetThreats(ThreatFilter{Limit: limit})
}

// GetThreats returns threats matching the filter. Category and source match
// exactly, Search is a case-insensitive substring of title or description,
// and priority sorting ranks unscored threats last.
func (db *DB) GetThreats(f ThreatFilter) ([]StoredThreat, error) {
	if !ValidThreatSort(f.Sort) {
		return nil, fmt.Errorf("unknown sort %q", f.Sort)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + threatColumns + ` FROM threats t`
	if f.Sort == SortPriority {
		query += " LEFT JOIN threat_scores s ON s.threat_id = t.id"
	}
	var where []string
	var args []any
	if f.Category != "" {
		where = append(where, "t.category = ?")
		args = append(args, f.Category)
	}
	if f.Source != "" {
		where = append(where, "t.source = ?")
		args = append(args, f.Source)
	}
	if f.MinSeverity > 0 {
		where = append(where, "t.severity >= ?")
		args = append(args, f.MinSeverity)
	}
	if f.Search != "" {
		where = append(where, `(t.title LIKE ? ESCAPE '\' OR t.description LIKE ? ESCAPE '\')`)
		pattern := "%" + escapeLike(f.Search) + "%"
		args = append(args, pattern, pattern)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	switch f.Sort {
	case SortSeverity:
		query += " ORDER BY t.severity DESC, t.timestamp DESC, t.id ASC"
	case SortPriority:
		query += " ORDER BY COALESCE(s.priority, -1) DESC, t.timestamp DESC, t.id ASC"
	default:
		query += " ORDER BY t.timestamp DESC, t.id ASC"
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanThreats(rows)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

// GetThreatsByIDs returns the threats whose IDs are listed, in timestamp order.
func (db *DB) GetThreatsByIDs(ids []string) ([]StoredThreat, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.conn.Query(
		`SELECT `+threatColumns+` FROM threats t WHERE t.id IN (`+placeholders(len(ids))+`)
		ORDER BY t.timestamp ASC, t.id ASC`, stringArgs(ids)...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanThreats(rows)
}

// GetThreatsNeedingEnrichment returns threats with a description shorter than
// minLength that have not been enriched yet.
func (db *DB) GetThreatsNeedingEnrichment(periodID *string, minLength int) ([]StoredThreat, error) {
	query := `SELECT ` + threatColumns + ` FROM threats t
		WHERE length(t.description) < ? AND t.enriched = 0`
	args := []any{minLength}
	if periodID != nil {
		query += " AND t.period_id = ?"
		args = append(args, *periodID)
	}
	query += " ORDER BY t.timestamp DESC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanThreats(rows)
}

// UpdateThreatDescription replaces the description after enrichment.
func (db *DB) UpdateThreatDescription(id, description string) error {
	_, err := db.conn.Exec(
		"UPDATE threats SET description = ?, enriched = 1 WHERE id = ?", description, id,
	)
	return err
}

// MarkThreatEnrichAttempted marks that enrichment was tried.
func (db *DB) MarkThreatEnrichAttempted(id string) error {
	_, err := db.conn.Exec("UPDATE threats SET enriched = 1 WHERE id = ?", id)
	return err
}

// Records strips bookkeeping columns.
func Records(threats []StoredThreat) []threat.Record {
	out := make([]threat.Record, len(threats))
	for i, t := range threats {
		out[i] = t.Record
	}
	return out
}

func scanThreats(rows *sql.Rows) ([]StoredThreat, error) {
	var threats []StoredThreat
	for rows.Next() {
		var t StoredThreat
		var ts string
		var meta, period *string
		var enriched int
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Source, &t.Category,
			&t.Severity, &ts, &meta, &period, &enriched, &t.CollectedAt); err != nil {
			return nil, err
		}
		t.Timestamp = parseTime(ts)
		t.Metadata = decodeMetadata(meta)
		if period != nil {
			t.PeriodID = *period
		}
		t.Enriched = enriched != 0
		threats = append(threats, t)
	}
	return threats, rows.Err()
}

func encodeMetadata(m threat.Metadata) (*string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	s := string(data)
	return &s, nil
}

func decodeMetadata(s *string) threat.Metadata {
	if s == nil || *s == "" {
		return nil
	}
	var m threat.Metadata
	if err := json.Unmarshal([]byte(*s), &m); err != nil {
		return nil
	}
	return m
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return "?" + strings.Repeat(",?", n-1)
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
