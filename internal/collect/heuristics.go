package collect

import (
	"strings"

	"github.com/TobiSchelling/ThreatWatch/internal/threat"
)

// categoryRules are checked in order; the first rule with a matching keyword
// decides the category.
var categoryRules = []struct {
	category string
	keywords []string
}{
	{threat.CategoryVulnerability, []string{"cve", "vulnerability"}},
	{threat.CategoryRansomware, []string{"ransomware"}},
	{threat.CategoryMalware, []string{"malware", "virus", "trojan"}},
	{threat.CategoryPhishing, []string{"phishing", "scam"}},
	{threat.CategoryAttack, []string{"ddos", "attack"}},
	{threat.CategoryBreach, []string{"breach", "leak"}},
}

// Categorize assigns a category from keywords in the title and description.
func Categorize(title, description string) string {
	text := strings.ToLower(title + " " + description)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.category
			}
		}
	}
	return threat.CategoryGeneral
}

var severityRules = []struct {
	severity float64
	keywords []string
}{
	{0.9, []string{"critical", "severe"}},
	{0.7, []string{"high", "serious"}},
	{0.5, []string{"medium", "moderate"}},
	{0.3, []string{"low", "minor"}},
}

// SeverityFromText guesses a severity from wording in free text.
func SeverityFromText(text string) float64 {
	lower := strings.ToLower(text)
	for _, rule := range severityRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.severity
			}
		}
	}
	return threat.DefaultSeverity
}

// CVSSSeverity maps a CVSS base score onto the [0,1] severity scale.
func CVSSSeverity(score float64) float64 {
	switch {
	case score >= 9.0:
		return 0.9
	case score >= 7.0:
		return 0.7
	case score >= 4.0:
		return 0.5
	default:
		return 0.3
	}
}

// FeedID derives a stable identifier from a feed's name.
func FeedID(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func threatID(feedID, identifier string) string {
	return feedID + "_" + identifier
}
