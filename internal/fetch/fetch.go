package fetch

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/ThreatWatch/internal/database"
	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

const (
	// maxDescription bounds the stored description after enrichment.
	maxDescription = 2000
	minExtracted   = 100
	maxBody        = 5 << 20
)

// Result holds the results of an enrichment run.
type Result struct {
	Enriched int
	NoLink   int
	Failed   int
}

// Enricher replaces short threat descriptions with the readable text of the
// page the threat links to.
type Enricher struct {
	db        *database.DB
	client    *http.Client
	minLength int
}

// NewEnricher creates an enricher. Threats whose description is shorter than
// minLength are candidates.
func NewEnricher(db *database.DB, timeout time.Duration, minLength int) *Enricher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if minLength <= 0 {
		minLength = 200
	}
	return &Enricher{
		db:        db,
		minLength: minLength,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// EnrichMissing fetches linked pages for threats with thin descriptions. After
// an HTTP error from a domain, remaining threats from that domain are skipped.
func (e *Enricher) EnrichMissing(ctx context.Context, periodID *string) *Result {
	threats, err := e.db.GetThreatsNeedingEnrichment(periodID, e.minLength)
	if err != nil {
		log.Printf("Error getting threats needing enrichment: %v", err)
		return &Result{}
	}
	if len(threats) == 0 {
		log.Println("No threats need enrichment")
		return &Result{}
	}

	result := &Result{}
	failedDomains := make(map[string]struct{})

	for _, t := range threats {
		if ctx.Err() != nil {
			break
		}
		link := t.Metadata.String(threat.KeyLink)
		u, err := url.Parse(link)
		if link == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			e.markAttempted(t.ID)
			result.NoLink++
			continue
		}
		domain := strings.ToLower(u.Host)

		if _, failed := failedDomains[domain]; failed {
			e.markAttempted(t.ID)
			result.Failed++
			continue
		}

		text, httpErr := e.extract(ctx, u)
		if httpErr != nil {
			e.markAttempted(t.ID)
			result.Failed++
			failedDomains[domain] = struct{}{}
			log.Printf("HTTP error for %s, skipping remaining from %s", link, domain)
			continue
		}

		if text == "" {
			e.markAttempted(t.ID)
			result.Failed++
			log.Printf("No extractable content from: %s", link)
			continue
		}
		if err := e.db.UpdateThreatDescription(t.ID, truncate(text, maxDescription)); err != nil {
			log.Printf("Failed to store enriched description for %s: %v", t.ID, err)
			result.Failed++
			continue
		}
		result.Enriched++
		log.Printf("Enriched: %s", t.Title)
	}

	log.Printf("Enrichment complete: %d enriched, %d without link, %d failed",
		result.Enriched, result.NoLink, result.Failed)
	return result
}

func (e *Enricher) markAttempted(id string) {
	if err := e.db.MarkThreatEnrichAttempted(id); err != nil {
		log.Printf("Failed to mark %s: %v", id, err)
	}
}

// extract returns the readable text of a page. Only HTTP status errors are
// returned as errors; connection and parse failures yield empty text.
func (e *Enricher) extract(ctx context.Context, u *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", nil
	}
	req.Header.Set("User-Agent", "ThreatWatch/1.0 (threat monitor)")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", nil
	}

	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return "", nil
	}

	text := strings.Join(strings.Fields(article.TextContent), " ")
	if len(text) > minExtracted {
		return text, nil
	}
	return "", nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return http.StatusText(e.code)
}
