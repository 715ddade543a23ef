package database

import "github.com/TobiSchelling/ThreatWatch/internal/threat"

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM threats", &s.TotalThreats},
		{"SELECT COUNT(*) FROM threat_scores", &s.ScoredThreats},
		{"SELECT COUNT(*) FROM threat_scores WHERE relevant = 1", &s.RelevantThreats},
		{"SELECT COUNT(DISTINCT period_id) FROM threats", &s.PeriodsWithThreats},
		{"SELECT COUNT(*) FROM threat_relationships", &s.Relationships},
		{"SELECT COUNT(*) FROM threat_patterns", &s.Patterns},
		{"SELECT COUNT(*) FROM alerts", &s.Alerts},
		{"SELECT COUNT(*) FROM alerts WHERE status IN ('new', 'acknowledged', 'investigating')", &s.OpenAlerts},
		{"SELECT COUNT(*) FROM reports", &s.Reports},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// GetMonitoringStats buckets stored threats by severity and counts them by
// category and source.
func (db *DB) GetMonitoringStats() (*MonitoringStats, error) {
	s := &MonitoringStats{
		ByCategory: make(map[string]int),
		BySource:   make(map[string]int),
		Recent:     []threat.Record{},
	}

	var critical, high, medium, low *int
	if err := db.conn.QueryRow(`
		SELECT COUNT(*),
			SUM(CASE WHEN severity > 0.8 THEN 1 ELSE 0 END),
			SUM(CASE WHEN severity > 0.6 AND severity <= 0.8 THEN 1 ELSE 0 END),
			SUM(CASE WHEN severity > 0.4 AND severity <= 0.6 THEN 1 ELSE 0 END),
			SUM(CASE WHEN severity <= 0.4 THEN 1 ELSE 0 END)
		FROM threats`).Scan(&s.Total, &critical, &high, &medium, &low); err != nil {
		return nil, err
	}
	s.Critical, s.High, s.Medium, s.Low = deref(critical), deref(high), deref(medium), deref(low)

	for _, g := range []struct {
		column string
		dest   map[string]int
	}{
		{"category", s.ByCategory},
		{"source", s.BySource},
	} {
		if err := db.countBy(g.column, g.dest); err != nil {
			return nil, err
		}
	}

	recent, err := db.GetRecentThreats(10)
	if err != nil {
		return nil, err
	}
	s.Recent = Records(recent)
	return s, nil
}

// countBy fills dest with row counts grouped by a threats column. column is
// never user input.
func (db *DB) countBy(column string, dest map[string]int) error {
	rows, err := db.conn.Query("SELECT " + column + ", COUNT(*) FROM threats GROUP BY " + column)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		dest[key] = n
	}
	return rows.Err()
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
