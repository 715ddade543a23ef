package collect

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

type cveDocument struct {
	Vulnerabilities []cveEntry `xml:"vulnerability"`
}

type cveEntry struct {
	ID         string   `xml:"id,attr"`
	Summary    string   `xml:"summary"`
	Published  string   `xml:"published"`
	CVSS       *cvss    `xml:"cvss"`
	References []string `xml:"references>reference"`
}

type cvss struct {
	Score string `xml:"score,attr"`
}

// CVEClient reads CVE list XML documents (<vulnerabilities><vulnerability id="...">).
type CVEClient struct {
	client *http.Client
}

// NewCVEClient creates a CVE XML source client.
func NewCVEClient(client *http.Client) *CVEClient {
	return &CVEClient{client: client}
}

// Fetch downloads and decodes the document.
func (c *CVEClient) Fetch(ctx context.Context, src Source, cutoff time.Time) ([]threat.Record, error) {
	body, err := get(ctx, c.client, src.URL, "application/xml")
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var doc cveDocument
	if err := xml.NewDecoder(body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", src.Name, err)
	}
	return cveRecords(doc, src, cutoff), nil
}

func cveRecords(doc cveDocument, src Source, cutoff time.Time) []threat.Record {
	var records []threat.Record
	for _, v := range doc.Vulnerabilities {
		if len(records) >= maxPerFeed {
			break
		}
		id := strings.TrimPrefix(strings.TrimSpace(v.ID), "CVE-")
		if id == "" {
			continue
		}

		ts := time.Now()
		if parsed, ok := parseTimestamp(strings.TrimSpace(v.Published)); ok {
			ts = parsed
		}
		if ts.Before(cutoff) {
			continue
		}

		severity := threat.DefaultSeverity
		if v.CVSS != nil {
			if score, err := strconv.ParseFloat(strings.TrimSpace(v.CVSS.Score), 64); err == nil {
				severity = CVSSSeverity(score)
			}
		}

		meta := threat.Metadata{
			threat.KeyFeedID: threat.String(src.ID),
			"cveId":          threat.String("CVE-" + id),
		}
		if len(v.References) > 0 {
			meta["references"] = threat.List(v.References...)
			meta[threat.KeyLink] = threat.String(v.References[0])
		}

		records = append(records, threat.Record{
			ID:          threatID(src.ID, id),
			Title:       "CVE-" + id,
			Description: strings.TrimSpace(v.Summary),
			Source:      src.Name,
			Category:    threat.CategoryVulnerability,
			Severity:    severity,
			Timestamp:   ts,
			Metadata:    meta,
		})
	}
	return records
}
