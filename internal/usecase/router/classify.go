package router

import (
	"strings"

	"campaignflow/internal/domain"
)

// Classification thresholds: High needs at least three distinct complexity
// indicators, Medium at least one.
const (
	highComplexityMatches   = 3
	mediumComplexityMatches = 1
)

// DomainKeywords binds a marketing domain to its indicator terms. Order in
// the table is priority order: the first domain with any match wins.
type DomainKeywords struct {
	Domain   string
	Keywords []string
}

// KeywordTables holds the classifier's fixed indicator sets. The zero value
// is filled from DefaultTables by NewClassifier.
type KeywordTables struct {
	Complexity    []string
	Urgency       []string
	Domains       []DomainKeywords
	DefaultDomain string
}

// DefaultTables returns the built-in marketing keyword tables.
func DefaultTables() KeywordTables {
	return KeywordTables{
		Complexity: []string{
			"strategy", "multi-channel", "campaign", "comprehensive", "integrate",
			"segmentation", "funnel", "roadmap", "competitive", "rebrand",
			"launch", "optimize", "analyze", "positioning", "attribution",
		},
		Urgency: []string{
			"urgent", "asap", "immediately", "today", "right away", "deadline",
			"emergency", "now",
		},
		Domains: []DomainKeywords{
			{Domain: "seo", Keywords: []string{"seo", "search ranking", "keyword", "backlink", "serp", "organic traffic"}},
			{Domain: "social", Keywords: []string{"social", "instagram", "twitter", "linkedin", "tiktok", "facebook", "hashtag"}},
			{Domain: "email", Keywords: []string{"email", "newsletter", "drip", "subject line", "open rate", "mailing list"}},
			{Domain: "content", Keywords: []string{"blog", "article", "copy", "content", "post", "whitepaper", "headline"}},
			{Domain: "analytics", Keywords: []string{"report", "metric", "roi", "analytics", "performance", "conversion rate", "dashboard"}},
			{Domain: "brand", Keywords: []string{"brand", "identity", "voice", "tone", "logo", "messaging"}},
		},
		DefaultDomain: "strategy",
	}
}

// Classifier performs deterministic keyword classification of free-form
// tasks. It is pure and safe for concurrent use.
type Classifier struct {
	tables KeywordTables
}

// NewClassifier creates a classifier, filling empty table fields from
// DefaultTables.
func NewClassifier(tables KeywordTables) *Classifier {
	defaults := DefaultTables()
	if len(tables.Complexity) == 0 {
		tables.Complexity = defaults.Complexity
	}
	if len(tables.Urgency) == 0 {
		tables.Urgency = defaults.Urgency
	}
	if len(tables.Domains) == 0 {
		tables.Domains = defaults.Domains
	}
	if tables.DefaultDomain == "" {
		tables.DefaultDomain = defaults.DefaultDomain
	}
	return &Classifier{tables: tables}
}

// Classify buckets a task by complexity, urgency, and marketing domain.
// Matching is case-insensitive substring matching; each indicator counts at
// most once however often it appears.
func (c *Classifier) Classify(task string) (domain.Complexity, domain.Urgency, string) {
	lowered := strings.ToLower(task)

	matches := 0
	for _, indicator := range c.tables.Complexity {
		if strings.Contains(lowered, indicator) {
			matches++
		}
	}
	complexity := domain.ComplexityLow
	switch {
	case matches >= highComplexityMatches:
		complexity = domain.ComplexityHigh
	case matches >= mediumComplexityMatches:
		complexity = domain.ComplexityMedium
	}

	// Urgency is two-valued: anything not urgent settles at Medium.
	urgency := domain.UrgencyMedium
	for _, indicator := range c.tables.Urgency {
		if strings.Contains(lowered, indicator) {
			urgency = domain.UrgencyHigh
			break
		}
	}

	taskDomain := c.tables.DefaultDomain
	for _, entry := range c.tables.Domains {
		if containsAny(lowered, entry.Keywords) {
			taskDomain = entry.Domain
			break
		}
	}

	return complexity, urgency, taskDomain
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
