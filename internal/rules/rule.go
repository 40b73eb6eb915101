// Package rules holds the sorting-rule data model and the matcher that
// maps a sender address onto at most one rule.
package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joshsymonds/autosort/internal/gmail"
)

// MatchType selects the predicate a rule's pattern is evaluated with.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchDomain   MatchType = "domain"
	MatchContains MatchType = "contains"
)

// Action is what happens to a message once a rule matches.
type Action string

const (
	ActionMove        Action = "move"
	ActionReadArchive Action = "read_archive"
	ActionBlockDelete Action = "block_delete"
)

// Rule sorts mail from matching senders. Pattern is always stored
// lower-cased; Destination fields are set iff Action is ActionMove.
type Rule struct {
	ID              string
	Pattern         string
	Match           MatchType
	Action          Action
	DestinationID   gmail.LabelID
	DestinationName string
	MarkRead        bool
	Enabled         bool
	CreatedAt       time.Time
	TimesApplied    int64
}

// deterministicIDLen is the truncation applied to the pattern hash.
// Changing it breaks dedup of learned rules across deployments.
const deterministicIDLen = 20

// DeterministicID derives the stable rule id for a learned pattern.
// Two independent learn attempts for the same sender produce the same
// id, so they collide on storage instead of duplicating.
func DeterministicID(pattern string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(pattern)))
	return hex.EncodeToString(sum[:])[:deterministicIDLen]
}

// NewID returns a random id for manually created rules.
func NewID() string { return uuid.NewString() }

// Normalize lower-cases the pattern and fills server-populated fields.
func (r *Rule) Normalize(now time.Time) {
	r.Pattern = strings.ToLower(strings.TrimSpace(r.Pattern))
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
}

// Validate enforces the rule invariants.
func (r Rule) Validate() error {
	if r.Pattern == "" {
		return fmt.Errorf("rule pattern must not be empty")
	}
	if r.Pattern != strings.ToLower(r.Pattern) {
		return fmt.Errorf("rule pattern must be lower-cased")
	}
	switch r.Match {
	case MatchExact, MatchDomain, MatchContains:
	default:
		return fmt.Errorf("unknown match type %q", r.Match)
	}
	switch r.Action {
	case ActionMove:
		if r.DestinationID == "" {
			return fmt.Errorf("move rule requires a destination folder")
		}
	case ActionReadArchive, ActionBlockDelete:
		if r.DestinationID != "" {
			return fmt.Errorf("%s rule must not carry a destination folder", r.Action)
		}
	default:
		return fmt.Errorf("unknown action %q", r.Action)
	}
	return nil
}
