package database

import "time"

// RecordFeedFetch stores the time and item count of a feed's latest fetch.
func (db *DB) RecordFeedFetch(feedID string, count int, at time.Time) error {
	_, err := db.conn.Exec(
		`INSERT INTO feed_state (feed_id, last_fetch, last_count) VALUES (?, ?, ?)
		ON CONFLICT(feed_id) DO UPDATE SET last_fetch = excluded.last_fetch, last_count = excluded.last_count`,
		feedID, formatTime(at), count,
	)
	return err
}

// GetFeedStates returns the fetch state of every feed seen so far.
func (db *DB) GetFeedStates() ([]FeedState, error) {
	rows, err := db.conn.Query("SELECT feed_id, last_fetch, last_count FROM feed_state ORDER BY feed_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []FeedState
	for rows.Next() {
		var s FeedState
		if err := rows.Scan(&s.FeedID, &s.LastFetch, &s.LastCount); err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, rows.Err()
}
