package patterns

import (
	"strings"

	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

// Label is attached when any of its keywords appears in the text being
// examined.
type Label struct {
	Name     string
	Keywords []string
}

// DefaultSectors are matched against record descriptions.
var DefaultSectors = []Label{
	{Name: "Healthcare", Keywords: []string{"healthcare"}},
	{Name: "Financial Services", Keywords: []string{"financial"}},
	{Name: "Government", Keywords: []string{"government"}},
	{Name: "Education", Keywords: []string{"education"}},
	{Name: "Retail", Keywords: []string{"retail"}},
	{Name: "Manufacturing", Keywords: []string{"manufacturing"}},
	{Name: "Energy", Keywords: []string{"energy"}},
	{Name: "Telecommunications", Keywords: []string{"telecommunications"}},
}

// DefaultVectors are matched against title and description.
var DefaultVectors = []Label{
	{Name: "Email", Keywords: []string{"email", "phishing"}},
	{Name: "Web", Keywords: []string{"web", "browser"}},
	{Name: "Network", Keywords: []string{"network"}},
	{Name: "Social Engineering", Keywords: []string{"social"}},
	{Name: "Physical", Keywords: []string{"physical"}},
	{Name: "Supply Chain", Keywords: []string{"supply chain"}},
}

// orderedSet collects strings once each, keeping first-seen order.
type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func (s *orderedSet) add(v string) {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

// list never returns nil so patterns encode empty sets as [].
func (s *orderedSet) list() []string {
	if s.items == nil {
		return []string{}
	}
	return s.items
}

func matchLabels(records []threat.Record, labels []Label, text func(threat.Record) string) []string {
	var set orderedSet
	for _, r := range records {
		t := strings.ToLower(text(r))
		for _, l := range labels {
			for _, kw := range l.Keywords {
				if kw != "" && strings.Contains(t, strings.ToLower(kw)) {
					set.add(l.Name)
					break
				}
			}
		}
	}
	return set.list()
}

func (d *Detector) sectors(records []threat.Record) []string {
	return matchLabels(records, d.Sectors, func(r threat.Record) string { return r.Description })
}

func (d *Detector) vectors(records []threat.Record) []string {
	return matchLabels(records, d.Vectors, threat.Record.Text)
}

// indicators is the union of metadata IOCs and tags across records.
func indicators(records []threat.Record) []string {
	var set orderedSet
	for _, r := range records {
		for _, ioc := range r.Metadata.IOCs() {
			set.add(ioc)
		}
		for _, tag := range r.Metadata.Tags() {
			set.add(tag)
		}
	}
	return set.list()
}
