package collect

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

const userAgent = "ThreatWatch/1.0"

// Source describes one configured feed.
type Source struct {
	ID   string
	Name string
	URL  string
	Type string
}

// FeedParser reads RSS, Atom, and JSON Feed documents through gofeed.
type FeedParser struct {
	parser *gofeed.Parser
}

// NewFeedParser creates a parser that fetches with the given client.
func NewFeedParser(client *http.Client) *FeedParser {
	p := gofeed.NewParser()
	p.Client = client
	p.UserAgent = userAgent
	return &FeedParser{parser: p}
}

// Fetch downloads and parses a feed, returning at most maxPerFeed records
// published after cutoff.
func (fp *FeedParser) Fetch(ctx context.Context, src Source, cutoff time.Time) ([]threat.Record, error) {
	feed, err := fp.parser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		return nil, err
	}
	return itemsToRecords(feed.Items, src, cutoff), nil
}

func itemsToRecords(items []*gofeed.Item, src Source, cutoff time.Time) []threat.Record {
	var records []threat.Record
	for _, item := range items {
		if len(records) >= maxPerFeed {
			break
		}
		r, ok := parseItem(item, src)
		if !ok {
			continue
		}
		if r.Timestamp.Before(cutoff) {
			continue
		}
		records = append(records, r)
	}
	return records
}

func parseItem(item *gofeed.Item, src Source) (threat.Record, bool) {
	key := item.GUID
	if key == "" {
		key = item.Link
	}
	if key == "" {
		return threat.Record{}, false
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = "Untitled"
	}

	var description string
	if item.Description != "" {
		description = stripHTML(item.Description)
	} else if item.Content != "" {
		description = stripHTML(item.Content)
	}

	ts := time.Now()
	if item.PublishedParsed != nil {
		ts = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		ts = *item.UpdatedParsed
	}

	meta := threat.Metadata{threat.KeyFeedID: threat.String(src.ID)}
	if item.Link != "" {
		meta[threat.KeyLink] = threat.String(item.Link)
	}
	if item.Author != nil && item.Author.Name != "" {
		meta["author"] = threat.String(item.Author.Name)
	}
	if len(item.Categories) > 0 {
		meta["category"] = threat.String(item.Categories[0])
		meta[threat.KeyTags] = threat.List(item.Categories...)
	}

	return threat.Record{
		ID:          threatID(src.ID, key),
		Title:       title,
		Description: description,
		Source:      src.Name,
		Category:    Categorize(title, description),
		Severity:    SeverityFromText(description),
		Timestamp:   ts,
		Metadata:    meta,
	}, true
}

func stripHTML(text string) string {
	// Simple HTML tag removal
	var result strings.Builder
	inTag := false
	for _, r := range text {
		if r == '<' {
			inTag = true
			result.WriteRune(' ')
			continue
		}
		if r == '>' {
			inTag = false
			continue
		}
		if !inTag {
			result.WriteRune(r)
		}
	}

	s := result.String()
	// Decode common entities
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")

	// Normalize whitespace
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds.", "api."} {
		host = strings.TrimPrefix(host, prefix)
	}
	if host == "" {
		return feedURL
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		name := parts[len(parts)-2]
		return strings.ToUpper(name[:1]) + name[1:]
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
