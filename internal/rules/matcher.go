package rules

import (
	"sort"
	"strings"
)

// specificity ranks match types so that more precise predicates win.
// Higher is more specific.
func specificity(m MatchType) int {
	switch m {
	case MatchExact:
		return 3
	case MatchDomain:
		return 2
	case MatchContains:
		return 1
	default:
		return 0
	}
}

// Match returns the rule that should handle mail from sender, or false
// when no enabled rule matches. The result is deterministic regardless
// of input order: candidates are ranked exact > domain > contains, ties
// broken by earliest creation time, then by id.
func Match(sender string, ruleset []Rule) (Rule, bool) {
	sender = strings.ToLower(strings.TrimSpace(sender))
	if sender == "" {
		return Rule{}, false
	}

	var candidates []Rule
	for _, r := range ruleset {
		if !r.Enabled {
			continue
		}
		if Matches(sender, r.Pattern, r.Match) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return Rule{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		si, sj := specificity(candidates[i].Match), specificity(candidates[j].Match)
		if si != sj {
			return si > sj
		}
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true
}

// Matches evaluates a single pattern against a sender address. Both
// sides are compared lower-cased.
func Matches(sender, pattern string, match MatchType) bool {
	sender = strings.ToLower(sender)
	pattern = strings.ToLower(pattern)
	if sender == "" || pattern == "" {
		return false
	}
	switch match {
	case MatchExact:
		return sender == pattern
	case MatchDomain:
		// Pattern may be "@example.com" or "example.com".
		return strings.HasSuffix(sender, "@"+strings.TrimPrefix(pattern, "@"))
	case MatchContains:
		return strings.Contains(sender, pattern)
	default:
		return false
	}
}
