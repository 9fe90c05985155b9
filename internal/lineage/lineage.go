// Package lineage decides, per active session, whether an incoming event
// concerns a process worth keeping: the target executable itself or any
// descendant spawned under it. It is the single filter standing between
// the raw sensor stream and the store's write path.
package lineage

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/time/rate"

	"github.com/navshield/tracer/internal/event"
	"github.com/navshield/tracer/internal/store"
	"github.com/navshield/tracer/internal/tracererr"
)

// trackedProcess is the lineage tracker's record of one monitored pid.
type trackedProcess struct {
	image     string
	startTime time.Time
}

// Tracker owns the monitored-pid set for one active session and decides
// event relevance against it. Safe for concurrent use by multiple sensor
// delivery goroutines.
type Tracker struct {
	store     *store.Store
	sessionID int64
	target    string // lowercased basename, without ".exe"

	mu                  sync.Mutex
	monitored           map[int]trackedProcess
	terminatedLifetimes []time.Duration
	totalTracked        int

	// droppedStorage counts relevant (monitored-pid) events that could not
	// be persisted after the store's one retry: the data-loss signal
	// required by the store's error-handling contract.
	droppedStorage uint64
	// noiseFiltered counts events discarded because they concern no
	// monitored pid. This is expected, by-design filtering, not data loss,
	// and is kept separate so it never masks droppedStorage.
	noiseFiltered uint64

	warnLimiter *rate.Limiter
	logger      *slog.Logger
}

// Stats is a point-in-time copy of the tracker's bookkeeping, safe to hand
// to a caller without holding the tracker's lock.
type Stats struct {
	ActiveCount            int
	TotalTracked           int
	TerminatedCount        int
	MeanTerminatedLifetime time.Duration
	ActiveProcesses        []ActiveProcess
	// DroppedEvents is the data-loss counter: relevant events the store
	// could not persist even after its one retry.
	DroppedEvents uint64
	// NoiseFiltered is the count of events silently discarded because they
	// concerned no monitored pid — expected filtering, not data loss.
	NoiseFiltered uint64
}

// ActiveProcess describes one currently monitored pid.
type ActiveProcess struct {
	PID             int
	Image           string
	StartTime       time.Time
	CurrentDuration time.Duration
}

// enumerator abstracts process enumeration so tests can substitute a fake
// process table without touching the real OS.
type enumerator interface {
	Enumerate() ([]enumeratedProcess, error)
}

type enumeratedProcess struct {
	PID       int
	PPID      int
	Name      string
	StartTime time.Time
	Err       error // set when this process's fields could not be read
}

// osEnumerator enumerates the live process table via gopsutil.
type osEnumerator struct{}

func (osEnumerator) Enumerate() ([]enumeratedProcess, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]enumeratedProcess, 0, len(procs))
	for _, p := range procs {
		name, nameErr := p.Name()
		ppid, ppidErr := p.Ppid()
		createMS, createErr := p.CreateTime()
		ep := enumeratedProcess{PID: int(p.Pid), PPID: int(ppid)}
		if nameErr != nil {
			ep.Err = nameErr
			out = append(out, ep)
			continue
		}
		ep.Name = name
		if createErr != nil || ppidErr != nil {
			ep.Err = createErr
			ep.StartTime = time.Now().UTC()
		} else {
			ep.StartTime = time.UnixMilli(createMS).UTC()
		}
		out = append(out, ep)
	}
	return out, nil
}

// New builds a Tracker for sessionID, scoped to target (an executable
// name, with or without ".exe"). Persisted events are written through s.
func New(s *store.Store, sessionID int64, target string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:       s,
		sessionID:   sessionID,
		target:      normalizeBasename(target),
		monitored:   make(map[int]trackedProcess),
		warnLimiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
		logger:      logger,
	}
}

func normalizeBasename(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimSuffix(name, ".exe")
	return name
}

func matchesTarget(target, name string) bool {
	return normalizeBasename(name) == target
}

// Initialize enumerates the live process table and seeds the monitored
// set with every process whose basename matches the tracker's target. A
// process whose fields cannot be read (access denied) is still adopted,
// with its start time falling back to "now" and a rate-limited warning
// logged, per the rule that enumeration failures degrade gracefully
// rather than abort the session.
func (t *Tracker) Initialize(ctx context.Context) error {
	return t.initializeWith(osEnumerator{})
}

func (t *Tracker) initializeWith(e enumerator) error {
	procs, err := e.Enumerate()
	if err != nil {
		return tracererr.Wrap(tracererr.CodeProcessEnumDenied, "enumerate processes", err).WithSession(t.sessionID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range procs {
		if !matchesTarget(t.target, p.Name) {
			continue
		}
		if p.Err != nil && t.warnLimiter.Allow() {
			t.logger.Warn("process enumeration denied access, using fallback start time",
				"pid", p.PID, "target", t.target, "err", p.Err)
		}
		if _, exists := t.monitored[p.PID]; exists {
			continue
		}
		t.monitored[p.PID] = trackedProcess{image: p.Name, startTime: p.StartTime}
		t.totalTracked++
	}
	return nil
}

// Handle evaluates one event against the monitored set, forwarding it to
// the store if relevant and dropping it silently otherwise. It implements
// the full per-kind protocol: process-create may grow the monitored set,
// process-terminate shrinks it, everything else is a membership check.
func (t *Tracker) Handle(ctx context.Context, evt event.Event) error {
	switch evt.Header.Kind {
	case event.KindProcessCreate:
		return t.handleProcessCreate(ctx, evt)
	case event.KindProcessTerminate:
		return t.handleProcessTerminate(ctx, evt)
	default:
		return t.handleOther(ctx, evt)
	}
}

func (t *Tracker) handleProcessCreate(ctx context.Context, evt event.Event) error {
	proc, ok := evt.Payload.(event.ProcessPayload)
	if !ok {
		return nil
	}

	t.mu.Lock()
	_, alreadyMonitored := t.monitored[proc.PID]
	_, parentMonitored := t.monitored[proc.PPID]
	relevant := matchesTarget(t.target, proc.Image) || parentMonitored
	if relevant && !alreadyMonitored {
		t.monitored[proc.PID] = trackedProcess{image: proc.Image, startTime: evt.Header.SensorTime}
		t.totalTracked++
	}
	t.mu.Unlock()

	if !relevant {
		t.recordNoise()
		return nil
	}
	return t.forward(ctx, evt)
}

func (t *Tracker) handleProcessTerminate(ctx context.Context, evt event.Event) error {
	proc, ok := evt.Payload.(event.ProcessPayload)
	if !ok {
		return nil
	}

	t.mu.Lock()
	tracked, ok := t.monitored[proc.PID]
	if ok {
		delete(t.monitored, proc.PID)
		lifetime := evt.Header.SensorTime.Sub(tracked.startTime)
		if lifetime > 0 {
			t.terminatedLifetimes = append(t.terminatedLifetimes, lifetime)
		}
	}
	t.mu.Unlock()

	if !ok {
		t.recordNoise()
		return nil
	}
	return t.forward(ctx, evt)
}

func (t *Tracker) handleOther(ctx context.Context, evt event.Event) error {
	pid, ok := evt.PID()
	if !ok {
		t.recordNoise()
		return nil
	}

	t.mu.Lock()
	_, monitored := t.monitored[pid]
	t.mu.Unlock()

	if !monitored {
		t.recordNoise()
		return nil
	}
	return t.forward(ctx, evt)
}

func (t *Tracker) forward(ctx context.Context, evt event.Event) error {
	if err := t.store.InsertEvent(ctx, t.sessionID, evt); err != nil {
		if tracererr.IsStorageBusy(err) {
			t.mu.Lock()
			t.droppedStorage++
			t.mu.Unlock()
			if t.warnLimiter.Allow() {
				t.logger.Warn("dropping event after storage contention", "session", t.sessionID, "kind", evt.Header.Kind)
			}
			return nil
		}
		return err
	}
	return nil
}

func (t *Tracker) recordNoise() {
	t.mu.Lock()
	t.noiseFiltered++
	t.mu.Unlock()
}

// ActiveProcessCount reports the number of currently monitored pids.
func (t *Tracker) ActiveProcessCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.monitored)
}

// Statistics returns a point-in-time snapshot of the tracker's state.
func (t *Tracker) Statistics() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	active := make([]ActiveProcess, 0, len(t.monitored))
	for pid, tp := range t.monitored {
		active = append(active, ActiveProcess{
			PID:             pid,
			Image:           tp.image,
			StartTime:       tp.startTime,
			CurrentDuration: now.Sub(tp.startTime),
		})
	}

	var mean time.Duration
	if n := len(t.terminatedLifetimes); n > 0 {
		var total time.Duration
		for _, d := range t.terminatedLifetimes {
			total += d
		}
		mean = total / time.Duration(n)
	}

	return Stats{
		ActiveCount:            len(t.monitored),
		TotalTracked:           t.totalTracked,
		TerminatedCount:        len(t.terminatedLifetimes),
		MeanTerminatedLifetime: mean,
		ActiveProcesses:        active,
		DroppedEvents:          t.droppedStorage,
		NoiseFiltered:          t.noiseFiltered,
	}
}
