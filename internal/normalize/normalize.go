// Package normalize converts a finished catalog session into a signature:
// a feature vector, an ordered core-event pattern, a suggested whitelist
// and a severity label. It is invoked once per atomic test at
// finalization and is safe to rerun idempotently.
package normalize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"sort"

	"github.com/navshield/tracer/internal/event"
	"github.com/navshield/tracer/internal/store"
)

// signatureHashDomain separates this package's content hash from any other
// domain in the store so colliding byte sequences from unrelated hashing
// paths cannot be mistaken for one another.
const signatureHashDomain = "tracer/signature/v1"

// Pipeline runs the catalog normalizer against a store.
type Pipeline struct {
	store *store.Store
}

// New returns a Pipeline backed by s.
func New(s *store.Store) *Pipeline {
	return &Pipeline{store: s}
}

// Run executes the full normalization pipeline for testID and persists
// the resulting signature, replacing any prior one for the same test.
// Rerunning it against an unchanged session produces a byte-identical
// feature vector and signature hash.
func (p *Pipeline) Run(ctx context.Context, testID int64) (store.Signature, error) {
	test, err := p.store.GetTest(ctx, testID)
	if err != nil {
		return store.Signature{}, fmt.Errorf("normalize: load test: %w", err)
	}

	events, err := p.store.EventsOfSession(ctx, test.SessionID)
	if err != nil {
		return store.Signature{}, fmt.Errorf("normalize: load events: %w", err)
	}

	core, support, noise := segregate(events)
	fv := computeFeatureVector(events, core)
	pattern := buildCorePattern(core)
	whitelist := suggestWhitelist(core, support)
	severity, reason := classifySeverity(fv, len(events))
	quality, warnings := scoreQuality(len(events), core, support, fv)

	sig := store.Signature{
		SignatureHash:     contentHash(fv, pattern),
		FeatureVector:     fv,
		CoreEventCount:    len(core),
		SupportEventCount: len(support),
		NoiseEventCount:   len(noise),
		DurationSeconds:   fv.TemporalSpanSeconds,
		QualityScore:      quality,
		Warnings:          warnings,
		Status:            store.StatusCompleted,
		Severity:          severity,
		SeverityReason:    reason,
		CorePattern:       pattern,
		Whitelist:         whitelist,
	}

	if _, err := p.store.SaveNormalization(ctx, testID, sig); err != nil {
		return store.Signature{}, fmt.Errorf("normalize: persist: %w", err)
	}
	return sig, nil
}

// unconditionalCoreKinds names the core kinds that are unconditionally core,
// independent of the network-connect destination exception handled
// separately in isCore.
var unconditionalCoreKinds = map[event.Kind]bool{
	event.KindProcessCreate:     true,
	event.KindCreateRemoteThread: true,
	event.KindProcessAccess:     true,
	event.KindFileCreate:        true,
	event.KindRegistryValueSet:  true,
	event.KindDNSQuery:          true,
	event.KindFileDelete:        true,
}

var supportKindSet = map[event.Kind]bool{
	event.KindFileCreateTimeChanged:    true,
	event.KindDriverLoad:               true,
	event.KindImageLoad:                true,
	event.KindPipeCreated:              true,
	event.KindPipeConnected:            true,
	event.KindWMIEventFilter:           true,
	event.KindWMIEventConsumer:         true,
	event.KindWMIEventConsumerToFilter: true,
	event.KindClipboardChange:          true,
	event.KindProcessTampering:         true,
	event.KindFileDeleteDetected:       true,
}

func isCore(ev event.Event) bool {
	if unconditionalCoreKinds[ev.Header.Kind] {
		return true
	}
	if ev.Header.Kind == event.KindNetworkConnect {
		if net, ok := ev.Payload.(event.NetworkPayload); ok {
			return !isPrivateOrLoopback(net.DstIP)
		}
	}
	return false
}

func isPrivateOrLoopback(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		// Unparseable destinations (hostnames, empty strings) are treated
		// as not private, the conservative choice for hypothesis-advancing
		// network activity.
		return false
	}
	return ip.IsPrivate() || ip.IsLoopback()
}

// Segregate classifies events into core, support and noise per the same
// rules the catalog pipeline uses, exported so the correlation engine can
// apply identical classification to a live session's events.
func Segregate(events []event.Event) (core, support, noise []event.Event) {
	return segregate(events)
}

// ComputeFeatureVector computes the deterministic feature vector for an
// arbitrary event slice (a finished catalog session or a live session's
// events so far), exported for reuse by the correlation engine.
func ComputeFeatureVector(events []event.Event) store.FeatureVector {
	core, _, _ := segregate(events)
	return computeFeatureVector(events, core)
}

// BuildCorePattern is the exported form of buildCorePattern, for any
// caller needing the ordered core-event sequence of an arbitrary event
// slice.
func BuildCorePattern(core []event.Event) []store.CoreEventEntry {
	return buildCorePattern(core)
}

func segregate(events []event.Event) (core, support, noise []event.Event) {
	for _, ev := range events {
		switch {
		case isCore(ev):
			core = append(core, ev)
		case supportKindSet[ev.Header.Kind]:
			support = append(support, ev)
		default:
			noise = append(noise, ev)
		}
	}
	return core, support, noise
}

func computeFeatureVector(all, core []event.Event) store.FeatureVector {
	fv := store.FeatureVector{EventTypeHistogram: make(map[int]int)}

	var haveSpan bool
	var first, last event.Event

	for _, ev := range all {
		fv.EventTypeHistogram[int(ev.Header.Kind)]++
		if event.CriticalKinds[ev.Header.Kind] {
			fv.CriticalEventsCount++
		}
		switch ev.Header.Kind {
		case event.KindRegistryObjectChange, event.KindRegistryValueSet, event.KindRegistryRename:
			fv.RegistryOperationsCount++
		case event.KindFileCreate, event.KindFileDelete:
			fv.FileOperationsCount++
		}
		if ev.Header.SensorTime.IsZero() {
			continue
		}
		if !haveSpan {
			first, last = ev, ev
			haveSpan = true
			continue
		}
		if ev.Header.SensorTime.Before(first.Header.SensorTime) {
			first = ev
		}
		if ev.Header.SensorTime.After(last.Header.SensorTime) {
			last = ev
		}
	}

	for _, ev := range core {
		if ev.Header.Kind == event.KindNetworkConnect {
			fv.NetworkConnectionsCount++
		}
	}

	if haveSpan {
		fv.TemporalSpanSeconds = last.Header.SensorTime.Sub(first.Header.SensorTime).Seconds()
		if fv.TemporalSpanSeconds < 0 {
			fv.TemporalSpanSeconds = 0
		}
	}

	fv.ProcessTreeDepth = processTreeDepth(all)
	return fv
}

// processTreeDepth finds the longest parent-child chain of process-create
// events reachable inside the session, by pid/ppid linkage.
func processTreeDepth(events []event.Event) int {
	parentOf := make(map[int]int)
	seen := make(map[int]bool)
	for _, ev := range events {
		if ev.Header.Kind != event.KindProcessCreate {
			continue
		}
		proc, ok := ev.Payload.(event.ProcessPayload)
		if !ok {
			continue
		}
		seen[proc.PID] = true
		if proc.PPID != 0 {
			parentOf[proc.PID] = proc.PPID
		}
	}

	var depthOf func(pid int, visiting map[int]bool) int
	depthOf = func(pid int, visiting map[int]bool) int {
		if visiting[pid] {
			return 1 // cyclic linkage guard; should not occur in practice
		}
		parent, ok := parentOf[pid]
		if !ok || !seen[parent] {
			return 1
		}
		visiting[pid] = true
		return 1 + depthOf(parent, visiting)
	}

	depth := 0
	for pid := range seen {
		if d := depthOf(pid, make(map[int]bool)); d > depth {
			depth = d
		}
	}
	return depth
}

// buildCorePattern orders core events by sensor_time, tying to a stable
// original-position order when timestamps are equal, and records each
// event's offset from the first core event's sensor_time.
func buildCorePattern(core []event.Event) []store.CoreEventEntry {
	if len(core) == 0 {
		return nil
	}

	ordered := make([]event.Event, len(core))
	copy(ordered, core)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Header.SensorTime.Before(ordered[j].Header.SensorTime)
	})

	var zeroTime = ordered[0].Header.SensorTime
	hasZero := !zeroTime.IsZero()

	pattern := make([]store.CoreEventEntry, 0, len(ordered))
	for i, ev := range ordered {
		entry := store.CoreEventEntry{Position: i, EventKind: int(ev.Header.Kind)}
		if hasZero && !ev.Header.SensorTime.IsZero() {
			rel := ev.Header.SensorTime.Sub(zeroTime).Seconds()
			entry.RelativeSeconds = &rel
		}
		pattern = append(pattern, entry)
	}
	return pattern
}

// suggestWhitelist flags destination IPs and DNS names that repeatedly
// co-occur with a process image that carries signed, OS-shipped image-load
// evidence, as candidates an operator may later approve.
func suggestWhitelist(core, support []event.Event) []store.WhitelistEntry {
	signedImages := make(map[int]bool) // pid -> saw a signed image load
	for _, ev := range support {
		if ev.Header.Kind != event.KindImageLoad {
			continue
		}
		img, ok := ev.Payload.(event.ImageLoadPayload)
		if ok && img.Signed {
			signedImages[img.PID] = true
		}
	}

	destCounts := make(map[string]int)
	destBenign := make(map[string]bool)
	order := make([]string, 0)
	addDest := func(value string, pid int) {
		if value == "" {
			return
		}
		if _, seen := destCounts[value]; !seen {
			order = append(order, value)
		}
		destCounts[value]++
		if signedImages[pid] {
			destBenign[value] = true
		}
	}

	for _, ev := range core {
		switch ev.Header.Kind {
		case event.KindNetworkConnect:
			if n, ok := ev.Payload.(event.NetworkPayload); ok {
				addDest(n.DstIP, n.PID)
			}
		case event.KindDNSQuery:
			if d, ok := ev.Payload.(event.DNSPayload); ok {
				addDest(d.Query, d.PID)
			}
		}
	}

	const repeatThreshold = 2
	entries := make([]store.WhitelistEntry, 0)
	for _, value := range order {
		if destCounts[value] < repeatThreshold || !destBenign[value] {
			continue
		}
		entryType := "IP"
		if net.ParseIP(value) == nil {
			entryType = "DOMAIN"
		}
		entries = append(entries, store.WhitelistEntry{
			EntryType:     entryType,
			Value:         value,
			Reason:        "repeated co-occurrence with a signed, OS-shipped process image",
			AutoGenerated: true,
		})
	}
	return entries
}

// classifySeverity assigns a severity band to a finished signature from
// rules on its feature vector.
func classifySeverity(fv store.FeatureVector, totalEvents int) (string, string) {
	remoteThreads := fv.EventTypeHistogram[int(event.KindCreateRemoteThread)]
	tampering := fv.EventTypeHistogram[int(event.KindProcessTampering)]
	if remoteThreads > 0 || tampering > 0 {
		return "red", "remote-thread or process-tampering activity observed"
	}

	deletions := fv.EventTypeHistogram[int(event.KindFileDelete)] + fv.EventTypeHistogram[int(event.KindFileDeleteDetected)]
	if totalEvents > 0 && float64(deletions)/float64(totalEvents) > 0.3 {
		return "orange", "high proportion of file deletion activity"
	}

	heavy := fv.NetworkConnectionsCount >= 5 || fv.EventTypeHistogram[int(event.KindProcessAccess)] >= 5
	if heavy {
		return "yellow", "elevated network or process-access volume"
	}

	return "blue", "baseline adversary-technique activity"
}

// scoreQuality computes a [0,1] confidence in the signature itself,
// combining core/total ratio, temporal coverage and kind diversity.
func scoreQuality(total int, core, support []event.Event, fv store.FeatureVector) (float64, []string) {
	var warnings []string
	if total == 0 {
		return 0, []string{"zero events observed"}
	}

	coreRatio := float64(len(core)) / float64(total)
	if len(core) == 0 {
		warnings = append(warnings, "zero core events")
	}

	temporalCoverage := 1.0
	if fv.TemporalSpanSeconds <= 0 {
		temporalCoverage = 0
		warnings = append(warnings, "zero temporal span")
	} else if fv.TemporalSpanSeconds < 1 {
		temporalCoverage = fv.TemporalSpanSeconds
	}

	diversity := float64(len(fv.EventTypeHistogram)) / 26.0
	if diversity > 1 {
		diversity = 1
	}

	if total < 5 {
		warnings = append(warnings, "tiny sample size")
	}

	score := 0.5*coreRatio + 0.25*temporalCoverage + 0.25*diversity
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score, warnings
}

// contentHash computes a deterministic, domain-separated SHA-256 of the
// signature's feature vector and core pattern, so two normalization runs
// over unchanged input produce an identical hash.
func contentHash(fv store.FeatureVector, pattern []store.CoreEventEntry) string {
	h := sha256.New()
	h.Write([]byte(signatureHashDomain))
	h.Write([]byte{0x00})

	kinds := make([]int, 0, len(fv.EventTypeHistogram))
	for k := range fv.EventTypeHistogram {
		kinds = append(kinds, k)
	}
	sort.Ints(kinds)
	for _, k := range kinds {
		fmt.Fprintf(h, "hist:%d=%d;", k, fv.EventTypeHistogram[k])
	}
	fmt.Fprintf(h, "depth:%d;net:%d;reg:%d;file:%d;span:%.6f;crit:%d;",
		fv.ProcessTreeDepth, fv.NetworkConnectionsCount, fv.RegistryOperationsCount,
		fv.FileOperationsCount, fv.TemporalSpanSeconds, fv.CriticalEventsCount)

	for _, entry := range pattern {
		rel := "nil"
		if entry.RelativeSeconds != nil {
			rel = fmt.Sprintf("%.6f", *entry.RelativeSeconds)
		}
		fmt.Fprintf(h, "pat:%d=%d@%s;", entry.Position, entry.EventKind, rel)
	}

	return hex.EncodeToString(h.Sum(nil))
}
