package collect

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/TobiSchelling/ThreatWatch/internal/config"
	"github.com/TobiSchelling/ThreatWatch/internal/database"
	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

const maxPerFeed = 50

// Fetcher turns one source into threat records.
type Fetcher interface {
	Fetch(ctx context.Context, src Source, cutoff time.Time) ([]threat.Record, error)
}

// Result holds the results of a collection run.
type Result struct {
	TotalFound  int
	NewThreats  int
	Duplicates  int
	FailedFeeds int
	Sources     map[string]int
	// New holds the records inserted by this run.
	New []threat.Record
}

// Collector pulls threats from every enabled feed into the database.
type Collector struct {
	db       *database.DB
	sources  []Source
	fetchers map[string]Fetcher
	daysBack int
	now      func() time.Time
}

// NewCollector creates a collector for the enabled feeds in cfg.
func NewCollector(cfg *config.Config, db *database.DB, daysBack int) *Collector {
	client := &http.Client{Timeout: 30 * time.Second}
	if cfg.Fetch.Timeout > 0 {
		client.Timeout = cfg.Fetch.Timeout
	}

	var sources []Source
	for _, f := range cfg.Sources.Feeds {
		if !f.IsEnabled() {
			continue
		}
		name := f.Name
		if name == "" {
			name = extractSourceName(f.URL)
		}
		sources = append(sources, Source{ID: FeedID(name), Name: name, URL: f.URL, Type: f.Kind()})
	}

	return &Collector{
		db:      db,
		sources: sources,
		fetchers: map[string]Fetcher{
			config.FeedRSS:    NewFeedParser(client),
			config.FeedJSON:   NewJSONClient(client),
			config.FeedCVEXML: NewCVEClient(client),
		},
		daysBack: daysBack,
		now:      time.Now,
	}
}

// Sources returns the feeds this collector will fetch.
func (c *Collector) Sources() []Source { return c.sources }

// Collect fetches every source and stores new threats under periodID. A
// failing feed is logged and skipped.
func (c *Collector) Collect(ctx context.Context, periodID string) *Result {
	r := &Result{Sources: make(map[string]int)}
	cutoff := c.now().AddDate(0, 0, -max(c.daysBack, 1))

	for _, src := range c.sources {
		if ctx.Err() != nil {
			break
		}
		fetcher, ok := c.fetchers[src.Type]
		if !ok {
			log.Printf("Unsupported feed type %q for %s", src.Type, src.Name)
			r.FailedFeeds++
			continue
		}

		records, err := fetcher.Fetch(ctx, src, cutoff)
		if err != nil {
			log.Printf("Failed to fetch %s: %v", src.Name, err)
			r.FailedFeeds++
			continue
		}
		log.Printf("Parsed %d threats from %s", len(records), src.Name)
		r.TotalFound += len(records)

		for _, rec := range records {
			inserted, err := c.db.InsertThreat(rec, periodID)
			if err != nil {
				log.Printf("Failed to store %s: %v", rec.ID, err)
				continue
			}
			if inserted {
				r.NewThreats++
				r.Sources[src.Name]++
				r.New = append(r.New, rec)
			} else {
				r.Duplicates++
			}
		}

		if err := c.db.RecordFeedFetch(src.ID, len(records), c.now()); err != nil {
			log.Printf("Failed to record fetch of %s: %v", src.Name, err)
		}
	}

	log.Printf("Collection complete: %d found, %d new, %d duplicates, %d feeds failed",
		r.TotalFound, r.NewThreats, r.Duplicates, r.FailedFeeds)
	return r
}

// get issues a GET and returns the body of a 200 response.
func get(ctx context.Context, client *http.Client, url, accept string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
	return resp.Body, nil
}
