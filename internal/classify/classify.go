// Package classify maps a session's sequence of correlation snapshots to
// a monotonically non-decreasing severity level, and decides when that
// progression should emit an alert.
package classify

import (
	"context"
	"fmt"

	"github.com/navshield/tracer/internal/store"
)

// Classifier tracks one session's severity state machine. Severity only
// ever increases for the lifetime of a Classifier: adversarial tradecraft
// unfolds monotonically, so retracting a level would mask earlier signal.
type Classifier struct {
	store     *store.Store
	sessionID int64
	current   store.SeverityLevel
}

// New returns a Classifier for sessionID, seeded at previous (typically
// store.SeverityGreen for a fresh session, or the session's last known
// level when resuming).
func New(s *store.Store, sessionID int64, previous store.SeverityLevel) *Classifier {
	if previous == "" {
		previous = store.SeverityGreen
	}
	return &Classifier{store: s, sessionID: sessionID, current: previous}
}

// Current returns the classifier's present severity level.
func (c *Classifier) Current() store.SeverityLevel {
	return c.current
}

// Apply scores snapshot against the classifier's current level. If the
// level escalates, it persists an alert and advances Current(); the
// snapshot itself is assumed already persisted by the caller, since
// AppendAlert needs a snapshot id to link against.
func (c *Classifier) Apply(ctx context.Context, snapshotID int64, snapshot store.Snapshot) (store.SeverityLevel, *store.Alert, error) {
	significant := significantMatches(snapshot.Matches, store.ConfidenceMedium)

	if len(significant) == 0 {
		return c.current, nil, nil
	}

	candidate := store.SeverityGreen
	var dominant store.Match
	for _, m := range significant {
		lvl := store.SeverityLevel(m.Severity)
		if lvl.Rank() > candidate.Rank() {
			candidate = lvl
			dominant = m
		}
	}

	newLevel := c.current.Max(candidate)
	if newLevel.Rank() <= c.current.Rank() {
		c.current = newLevel
		return c.current, nil, nil
	}

	alert := store.Alert{
		SessionID:          c.sessionID,
		PreviousLevel:      c.current,
		NewLevel:           newLevel,
		Reason:             fmt.Sprintf("session escalated to %s: technique %s matched at similarity %.2f", newLevel, dominant.TechniqueID, dominant.Similarity),
		TriggerTechniqueID: dominant.TechniqueID,
		TriggerSimilarity:  dominant.Similarity,
		SnapshotID:         &snapshotID,
	}

	if _, err := c.store.AppendAlert(ctx, alert); err != nil {
		return c.current, nil, fmt.Errorf("classify: append alert: %w", err)
	}

	c.current = newLevel
	return c.current, &alert, nil
}

// significantMatches filters to matches whose confidence is at least the
// given tier (medium or high).
func significantMatches(matches []store.Match, minTier store.ConfidenceTier) []store.Match {
	out := make([]store.Match, 0, len(matches))
	for _, m := range matches {
		if tierRank(m.Confidence) >= tierRank(minTier) {
			out = append(out, m)
		}
	}
	return out
}

var tierOrder = map[store.ConfidenceTier]int{
	store.ConfidenceLow:    0,
	store.ConfidenceMedium: 1,
	store.ConfidenceHigh:   2,
}

func tierRank(t store.ConfidenceTier) int {
	return tierOrder[t]
}
