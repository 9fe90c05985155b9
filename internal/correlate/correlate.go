// Package correlate scores a live monitor session against every finalized
// catalog signature and produces a SessionSnapshot: the per-technique
// similarity breakdown, the highest match and the session's activity
// counts at the moment of the scan.
package correlate

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/navshield/tracer/internal/config"
	"github.com/navshield/tracer/internal/event"
	"github.com/navshield/tracer/internal/normalize"
	"github.com/navshield/tracer/internal/store"
)

// ActiveProcessCounter reports how many processes a session currently has
// under lineage tracking. Satisfied by *lineage.Tracker; kept as an
// interface here to avoid a dependency from correlate back to lineage.
type ActiveProcessCounter interface {
	ActiveProcessCount() int
}

// Engine scores monitor sessions against the catalog's finalized
// signatures on demand, one invocation per correlation tick.
type Engine struct {
	store *store.Store
	cfg   config.Config
}

// New returns an Engine backed by s, scoring with cfg's weights and
// thresholds.
func New(s *store.Store, cfg config.Config) *Engine {
	return &Engine{store: s, cfg: cfg}
}

// Scan loads sessionID's events and every finalized signature, scores
// each, and returns the resulting snapshot without persisting it; callers
// (typically the runtime supervisor) are responsible for calling
// store.AppendSnapshot.
func (e *Engine) Scan(ctx context.Context, sessionID int64, processes ActiveProcessCounter) (store.Snapshot, error) {
	events, err := e.store.EventsOfSession(ctx, sessionID)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("correlate: load session events: %w", err)
	}
	signatures, err := e.store.ListSignatures(ctx)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("correlate: load signatures: %w", err)
	}
	tests, err := e.store.ListTests(ctx)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("correlate: load tests: %w", err)
	}
	testByID := make(map[int64]store.AtomicTest, len(tests))
	for _, test := range tests {
		testByID[test.ID] = test
	}

	liveCore, _, _ := normalize.Segregate(events)

	matches := make([]store.Match, 0, len(signatures))
	for _, sig := range signatures {
		test, ok := testByID[sig.TestID]
		if !ok || !test.Finalized {
			continue
		}
		match := e.score(events, liveCore, sig, test)
		matches = append(matches, match)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })

	snapshot := store.Snapshot{
		SessionID:            sessionID,
		Matches:              matches,
		EventCountAtSnapshot: len(events),
	}
	if processes != nil {
		snapshot.ActiveProcessCount = processes.ActiveProcessCount()
	}
	if len(matches) > 0 {
		snapshot.HighestMatchTechniqueID = matches[0].TechniqueID
		snapshot.HighestMatchSimilarity = matches[0].Similarity
	}
	return snapshot, nil
}

func (e *Engine) score(liveEvents, liveCore []event.Event, sig store.Signature, test store.AtomicTest) store.Match {
	filteredEvents := applyWhitelist(liveEvents, sig.Whitelist)
	filteredCore, _, _ := normalize.Segregate(filteredEvents)
	liveVector := normalize.ComputeFeatureVector(filteredEvents)

	histogramSim := cosineSimilarity(liveVector.EventTypeHistogram, sig.FeatureVector.EventTypeHistogram)
	structuralSim := structuralSimilarity(filteredCore, sig.CorePattern)
	orderedSim := orderedSimilarity(filteredCore, sig.CorePattern)

	similarity := e.cfg.HistogramWeight*histogramSim + e.cfg.StructuralWeight*structuralSim + e.cfg.OrderedWeight*orderedSim

	confidence := store.ConfidenceLow
	switch {
	case similarity >= e.cfg.HighConfidenceThreshold:
		confidence = store.ConfidenceHigh
	case similarity >= e.cfg.MediumConfidenceThreshold:
		confidence = store.ConfidenceMedium
	}

	return store.Match{
		TestID:               sig.TestID,
		TechniqueID:          test.TechniqueID,
		DisplayName:          test.DisplayName,
		HistogramSimilarity:  histogramSim,
		StructuralSimilarity: structuralSim,
		OrderedSimilarity:    orderedSim,
		Similarity:           similarity,
		Confidence:           confidence,
		Severity:             sig.Severity,
	}
}

// applyWhitelist drops events whose destination IP, DNS query or process
// image matches an approved whitelist entry, so benign telemetry the
// catalog author has vetted cannot inflate a live session's similarity.
func applyWhitelist(events []event.Event, entries []store.WhitelistEntry) []event.Event {
	approved := make(map[string]bool)
	for _, entry := range entries {
		if entry.Approved {
			approved[entry.Value] = true
		}
	}
	if len(approved) == 0 {
		return events
	}

	filtered := make([]event.Event, 0, len(events))
	for _, ev := range events {
		if whitelistedValue(ev, approved) {
			continue
		}
		filtered = append(filtered, ev)
	}
	return filtered
}

func whitelistedValue(ev event.Event, approved map[string]bool) bool {
	switch p := ev.Payload.(type) {
	case event.NetworkPayload:
		return approved[p.DstIP]
	case event.DNSPayload:
		return approved[p.Query]
	case event.ProcessPayload:
		return approved[p.Image]
	default:
		return false
	}
}

// cosineSimilarity compares two kind->count histograms as sparse count
// vectors. Both-zero (or either-zero) vectors return 0, the smoothed
// floor rather than an undefined division.
func cosineSimilarity(a, b map[int]int) float64 {
	var dot, normA, normB float64
	for k, v := range a {
		normA += float64(v) * float64(v)
		if bv, ok := b[k]; ok {
			dot += float64(v) * float64(bv)
		}
	}
	for _, v := range b {
		normB += float64(v) * float64(v)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// structuralSimilarity is the fraction of the catalog pattern's distinct
// event kinds observed at least once among the live session's core
// events.
func structuralSimilarity(liveCore []event.Event, pattern []store.CoreEventEntry) float64 {
	if len(pattern) == 0 {
		return 0
	}
	wantKinds := make(map[int]bool)
	for _, entry := range pattern {
		wantKinds[entry.EventKind] = true
	}
	haveKinds := make(map[int]bool)
	for _, ev := range liveCore {
		haveKinds[int(ev.Header.Kind)] = true
	}
	matched := 0
	for k := range wantKinds {
		if haveKinds[k] {
			matched++
		}
	}
	return float64(matched) / float64(len(wantKinds))
}

// orderedSimilarity is the longest prefix of the catalog's core-event
// pattern observable, in order, among the live session's core events
// sorted by sensor_time. Observable means the same kind sequence appears
// as a subsequence; relative timing is advisory and not checked.
func orderedSimilarity(liveCore []event.Event, pattern []store.CoreEventEntry) float64 {
	if len(pattern) == 0 {
		return 0
	}
	ordered := normalize.BuildCorePattern(liveCore)

	liveIdx := 0
	matchedPrefix := 0
	for _, want := range pattern {
		found := -1
		for i := liveIdx; i < len(ordered); i++ {
			if ordered[i].EventKind == want.EventKind {
				found = i
				break
			}
		}
		if found == -1 {
			break
		}
		liveIdx = found + 1
		matchedPrefix++
	}
	return float64(matchedPrefix) / float64(len(pattern))
}
