package rules

import (
	"testing"
	"time"
)

func TestDeterministicID(t *testing.T) {
	a := DeterministicID("bob@news.com")
	b := DeterministicID("BOB@NEWS.COM")
	if a != b {
		t.Fatalf("id must be case-insensitive: %s vs %s", a, b)
	}
	if len(a) != 20 {
		t.Fatalf("id length = %d, want 20", len(a))
	}
	if DeterministicID("other@news.com") == a {
		t.Fatalf("distinct patterns must not collide")
	}
}

func TestRuleValidate(t *testing.T) {
	now := time.Now()
	valid := Rule{ID: "x", Pattern: "a@b.com", Match: MatchExact, Action: ActionMove,
		DestinationID: "L1", DestinationName: "Promos", Enabled: true, CreatedAt: now}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Rule)
	}{
		{name: "empty-pattern", mutate: func(r *Rule) { r.Pattern = "" }},
		{name: "upper-pattern", mutate: func(r *Rule) { r.Pattern = "A@B.com" }},
		{name: "bad-match-type", mutate: func(r *Rule) { r.Match = "glob" }},
		{name: "bad-action", mutate: func(r *Rule) { r.Action = "forward" }},
		{name: "move-without-destination", mutate: func(r *Rule) { r.DestinationID = "" }},
		{name: "archive-with-destination", mutate: func(r *Rule) { r.Action = ActionReadArchive }},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			tc.mutate(&r)
			if err := r.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	r := Rule{Pattern: "  Bob@News.COM "}
	now := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	r.Normalize(now)
	if r.Pattern != "bob@news.com" {
		t.Fatalf("pattern = %q", r.Pattern)
	}
	if !r.CreatedAt.Equal(now) {
		t.Fatalf("created at = %v", r.CreatedAt)
	}

	// An already-set creation time survives.
	r.Normalize(now.Add(time.Hour))
	if !r.CreatedAt.Equal(now) {
		t.Fatalf("created at overwritten: %v", r.CreatedAt)
	}
}
