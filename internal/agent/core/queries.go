package core

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// QueryPolicy bounds the derived query set
type QueryPolicy struct {
	MinQueries int
	MaxQueries int
	MaxLength  int
}

// minQueryLength leaves room for the numbered padding suffix.
const minQueryLength = 32

// DefaultQueryPolicy returns the 5..9 queries, 200 runes policy
func DefaultQueryPolicy() QueryPolicy {
	return QueryPolicy{MinQueries: 5, MaxQueries: 9, MaxLength: 200}
}

// Validate checks the bounds are usable
func (p QueryPolicy) Validate() error {
	if p.MinQueries < 1 {
		return fmt.Errorf("%w: min queries must be at least 1", ErrInvalidDerivation)
	}
	if p.MaxQueries < p.MinQueries {
		return fmt.Errorf("%w: max queries (%d) below min queries (%d)", ErrInvalidDerivation, p.MaxQueries, p.MinQueries)
	}
	if p.MaxLength < minQueryLength {
		return fmt.Errorf("%w: max query length must be at least %d", ErrInvalidDerivation, minQueryLength)
	}
	return nil
}

const maxKeywords = 5

// minTopicLength drops plan items too short to search on their own.
const minTopicLength = 10

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "to": {}, "of": {}, "in": {}, "it": {}, "and": {},
	"or": {}, "for": {}, "on": {}, "with": {}, "as": {}, "by": {}, "at": {}, "from": {}, "what": {},
	"who": {}, "when": {}, "where": {}, "why": {}, "how": {}, "tell": {}, "me": {}, "about": {},
	"create": {}, "give": {}, "provide": {},
}

var planItemPattern = regexp.MustCompile(`(?m)^[ \t]*(?:\d+\.|[-*+][ \t]+)(.*)$`)

// DeriveQueries turns a plan and the original query into a unique, bounded
// list of search queries. The result is a pure function of its inputs.
func DeriveQueries(plan, originalQuery string, policy QueryPolicy) ([]string, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(originalQuery)
	if query == "" {
		return nil, fmt.Errorf("%w: original query is blank", ErrInvalidDerivation)
	}

	keywords := extractKeywords(query)
	anchor := query
	if len(keywords) > 0 {
		anchor = keywords[0]
	} else if fields := strings.Fields(query); len(fields) > 0 {
		anchor = fields[0]
	}
	scope := strings.Join(keywords, " ")
	if scope == "" {
		scope = strings.ToLower(query)
	}

	b := queryBuilder{maxLength: policy.MaxLength}
	for _, topic := range extractPlanItems(plan) {
		b.add(topic + " related to " + scope)
		if b.len() < policy.MaxQueries {
			words := strings.Fields(topic)
			lead := words[0]
			if len(words) > 1 {
				lead += " " + words[1]
			}
			b.add(fmt.Sprintf("Can you analyze different aspects (positive, negative and other areas..) of %s in context of %s", lead, anchor))
		}
		lower := strings.ToLower(topic)
		if b.len() < policy.MaxQueries && (strings.Contains(lower, "anal") || strings.Contains(lower, "invest")) {
			b.add("recent developments or news about " + topic)
		}
		if b.len() < policy.MaxQueries && strings.Contains(lower, "defin") {
			b.add("examples of " + topic)
		}
	}

	if b.len() < policy.MaxQueries {
		b.add("detailed overview of " + query)
	}
	if b.len() < policy.MaxQueries {
		b.add("key aspects of " + query)
	}
	if b.len() < policy.MinQueries {
		b.add("latest news about " + query)
		b.add("benefits of " + query)
		b.add("challenges of " + query)
		b.add("how does " + query + " work")
	}

	out := b.unique()
	if len(out) > policy.MaxQueries {
		out = out[:policy.MaxQueries]
	}
	return pad(out, anchor, policy), nil
}

// queryBuilder collects normalized candidates in emission order.
type queryBuilder struct {
	maxLength int
	items     []string
}

func (b *queryBuilder) add(q string) {
	q = strings.TrimSpace(truncateRunes(strings.TrimSpace(q), b.maxLength))
	if q != "" {
		b.items = append(b.items, q)
	}
}

// len counts emitted candidates, duplicates included.
func (b *queryBuilder) len() int { return len(b.items) }

func (b *queryBuilder) unique() []string {
	seen := make(map[string]struct{}, len(b.items))
	out := make([]string, 0, len(b.items))
	for _, q := range b.items {
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}

// pad appends numbered background queries until the minimum is met. The
// prefix is shortened before the suffix is attached so each number stays distinct.
func pad(queries []string, anchor string, policy QueryPolicy) []string {
	seen := make(map[string]struct{}, len(queries))
	for _, q := range queries {
		seen[q] = struct{}{}
	}
	prefix := "background information on " + anchor
	for n := 1; len(queries) < policy.MinQueries; n++ {
		suffix := fmt.Sprintf(" part %d", n)
		head := strings.TrimSpace(truncateRunes(prefix, policy.MaxLength-utf8.RuneCountInString(suffix)))
		q := head + suffix
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		queries = append(queries, q)
	}
	return queries
}

func extractKeywords(query string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(query)) {
		if utf8.RuneCountInString(word) <= 3 {
			continue
		}
		if _, stop := stopWords[stripNonWord(word)]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		out = append(out, word)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

func extractPlanItems(plan string) []string {
	var topics []string
	for _, m := range planItemPattern.FindAllStringSubmatch(plan, -1) {
		topic := strings.TrimSpace(m[1])
		if utf8.RuneCountInString(topic) < minTopicLength {
			continue
		}
		topics = append(topics, topic)
	}
	return topics
}

func stripNonWord(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
