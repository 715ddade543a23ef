package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS threats (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT 'general',
    severity REAL NOT NULL DEFAULT 0.5,
    timestamp TEXT NOT NULL,
    metadata TEXT,
    period_id TEXT,
    enriched INTEGER DEFAULT 0,
    collected_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS threat_scores (
    threat_id TEXT PRIMARY KEY REFERENCES threats(id),
    relevance REAL NOT NULL,
    severity REAL NOT NULL,
    confidence REAL NOT NULL,
    priority REAL NOT NULL,
    relevant INTEGER NOT NULL DEFAULT 0,
    scored_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS threat_relationships (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    threat_id TEXT NOT NULL REFERENCES threats(id),
    related_threat_id TEXT NOT NULL REFERENCES threats(id),
    relationship_type TEXT NOT NULL
        CHECK(relationship_type IN ('similar', 'related', 'derived', 'conflict', 'timeline')),
    confidence REAL NOT NULL,
    metadata TEXT,
    created_at TEXT DEFAULT (datetime('now')),
    UNIQUE(threat_id, related_threat_id, relationship_type)
);

CREATE TABLE IF NOT EXISTS threat_patterns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    period_id TEXT NOT NULL,
    pattern_type TEXT NOT NULL,
    category TEXT NOT NULL,
    count INTEGER NOT NULL,
    severity REAL NOT NULL,
    timeframe TEXT NOT NULL,
    confidence REAL NOT NULL,
    description TEXT NOT NULL,
    indicators TEXT,
    affected_sectors TEXT,
    attack_vectors TEXT,
    detected_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    threat_id TEXT NOT NULL REFERENCES threats(id),
    title TEXT NOT NULL,
    description TEXT,
    category TEXT,
    severity REAL NOT NULL,
    priority REAL NOT NULL,
    status TEXT NOT NULL DEFAULT 'new'
        CHECK(status IN ('new', 'acknowledged', 'investigating', 'resolved', 'false_positive')),
    assigned_to TEXT,
    notes TEXT,
    metadata TEXT,
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    period_id TEXT UNIQUE NOT NULL,
    tldr TEXT NOT NULL,
    body_markdown TEXT NOT NULL,
    threat_count INTEGER DEFAULT 0,
    alert_count INTEGER DEFAULT 0,
    pattern_count INTEGER DEFAULT 0,
    generated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    period_id TEXT UNIQUE NOT NULL,
    generated_at TEXT DEFAULT (datetime('now')),
    threat_count INTEGER DEFAULT 0,
    alert_count INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS feed_state (
    feed_id TEXT PRIMARY KEY,
    last_fetch TEXT NOT NULL,
    last_count INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_threats_period ON threats(period_id);
CREATE INDEX IF NOT EXISTS idx_threats_timestamp ON threats(timestamp);
CREATE INDEX IF NOT EXISTS idx_relationships_related ON threat_relationships(related_threat_id);
CREATE INDEX IF NOT EXISTS idx_patterns_period ON threat_patterns(period_id);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
CREATE INDEX IF NOT EXISTS idx_alerts_threat ON alerts(threat_id);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
