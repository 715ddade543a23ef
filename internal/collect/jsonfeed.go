package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

// JSONClient reads generic JSON threat APIs: either a top-level array or an
// object with an "items" or "results" array.
type JSONClient struct {
	client *http.Client
}

// NewJSONClient creates a JSON source client.
func NewJSONClient(client *http.Client) *JSONClient {
	return &JSONClient{client: client}
}

// Fetch downloads the document and converts each entry into a record.
func (c *JSONClient) Fetch(ctx context.Context, src Source, cutoff time.Time) ([]threat.Record, error) {
	body, err := get(ctx, c.client, src.URL, "application/json")
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var raw any
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", src.Name, err)
	}
	return jsonRecords(raw, src, cutoff), nil
}

func jsonRecords(raw any, src Source, cutoff time.Time) []threat.Record {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		if arr, ok := v["items"].([]any); ok {
			items = arr
		} else if arr, ok := v["results"].([]any); ok {
			items = arr
		}
	}

	var records []threat.Record
	for i, it := range items {
		if len(records) >= maxPerFeed {
			break
		}
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		r := jsonRecord(obj, src, i)
		if r.Timestamp.Before(cutoff) {
			continue
		}
		records = append(records, r)
	}
	return records
}

func jsonRecord(obj map[string]any, src Source, index int) threat.Record {
	key := firstString(obj, "id", "url")
	if key == "" {
		key = fmt.Sprintf("item-%d", index)
	}
	title := firstString(obj, "title", "name")
	if title == "" {
		title = "Threat Alert"
	}
	description := stripHTML(firstString(obj, "description", "summary"))

	ts := time.Now()
	if s := firstString(obj, "timestamp", "date"); s != "" {
		if parsed, ok := parseTimestamp(s); ok {
			ts = parsed
		}
	}

	meta := threat.FromMap(obj)
	if meta == nil {
		meta = threat.Metadata{}
	}
	meta[threat.KeyFeedID] = threat.String(src.ID)
	if link := firstString(obj, "url", "link"); link != "" {
		meta[threat.KeyLink] = threat.String(link)
	}

	return threat.Record{
		ID:          threatID(src.ID, key),
		Title:       strings.TrimSpace(title),
		Description: description,
		Source:      src.Name,
		Category:    Categorize(title, description),
		Severity:    SeverityFromText(description),
		Timestamp:   ts,
		Metadata:    meta,
	}
}

// firstString returns the first key holding a non-empty string or number.
func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
