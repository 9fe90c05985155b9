// Package runtime supervises the goroutines that drive a live monitor
// session: the sensor-event delivery loop and the periodic correlation
// scan. It owns graceful shutdown, cooperative cancellation between
// ticks/events, and the "log and continue" error philosophy the rest of
// the ingestion path follows.
package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/navshield/tracer/internal/classify"
	"github.com/navshield/tracer/internal/correlate"
	"github.com/navshield/tracer/internal/event"
	"github.com/navshield/tracer/internal/store"
	"github.com/navshield/tracer/internal/tracererr"
)

// EventSource is anything the supervisor can pull sensor events from: a
// live adapter in production, a recorded fixture in tests.
type EventSource interface {
	// Next blocks until an event is available or ctx is cancelled. ok is
	// false once the source is exhausted, e.g. at end of input for the
	// JSON-lines adapter; a source that never runs dry simply blocks until
	// cancellation.
	Next(ctx context.Context) (event.Event, bool, error)
}

// EventSink receives events the lineage tracker has judged relevant.
type EventSink interface {
	Handle(ctx context.Context, ev event.Event) error
}

// MonitorSupervisor drives one monitor session's event loop and
// correlation ticker until its context is cancelled.
type MonitorSupervisor struct {
	store      *store.Store
	sessionID  int64
	sink       EventSink
	engine     *correlate.Engine
	classifier *classify.Classifier
	processes  correlate.ActiveProcessCounter
	cadence    time.Duration
	logger     *slog.Logger
}

// NewMonitorSupervisor wires a correlation engine, classifier and lineage
// sink for one monitor session.
func NewMonitorSupervisor(
	s *store.Store,
	sessionID int64,
	sink EventSink,
	engine *correlate.Engine,
	classifier *classify.Classifier,
	processes correlate.ActiveProcessCounter,
	cadence time.Duration,
	logger *slog.Logger,
) *MonitorSupervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonitorSupervisor{
		store: s, sessionID: sessionID, sink: sink, engine: engine,
		classifier: classifier, processes: processes, cadence: cadence, logger: logger,
	}
}

// Run pulls events from source and forwards them to the sink, while a
// correlation tick fires every cadence, until ctx is cancelled. Event and
// correlation errors are logged and do not stop the loop: a single
// malformed event or one failed scan should not take down an otherwise
// healthy session. The exception is a fatal handler error
// (tracererr.IsFatal: a foreign-key or schema violation), which is logged
// and returned, ending the run.
func (m *MonitorSupervisor) Run(ctx context.Context, source EventSource) error {
	// A non-positive cadence means the correlation task is disabled; tick
	// is then a channel that never fires instead of a nil-duration ticker,
	// which time.NewTicker would reject.
	var tickCh <-chan time.Time
	if m.cadence > 0 {
		ticker := time.NewTicker(m.cadence)
		defer ticker.Stop()
		tickCh = ticker.C
	}

	eventCh := make(chan event.Event)
	errCh := make(chan error, 1)
	go m.pump(ctx, source, eventCh, errCh)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor supervisor stopping: context cancelled", "session", m.sessionID)
			return ctx.Err()

		case err := <-errCh:
			if err != nil {
				m.logger.Error("event source failed", "session", m.sessionID, "error", err)
			}
			return err

		case ev, ok := <-eventCh:
			if !ok {
				m.logger.Info("monitor supervisor stopping: event source exhausted", "session", m.sessionID)
				return nil
			}
			if err := m.sink.Handle(ctx, ev); err != nil {
				if tracererr.IsFatal(err) {
					m.logger.Error("stopping after fatal handler error", "session", m.sessionID, "error", err, "kind", ev.Header.Kind)
					return err
				}
				m.logger.Error("dropping event after handler error", "session", m.sessionID, "error", err, "kind", ev.Header.Kind)
			}

		case <-tickCh:
			if err := m.tick(ctx); err != nil {
				m.logger.Error("correlation tick failed", "session", m.sessionID, "error", err)
			}
		}
	}
}

func (m *MonitorSupervisor) pump(ctx context.Context, source EventSource, out chan<- event.Event, errCh chan<- error) {
	defer close(out)
	for {
		ev, ok, err := source.Next(ctx)
		if err != nil {
			errCh <- err
			return
		}
		if !ok {
			return
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (m *MonitorSupervisor) tick(ctx context.Context) error {
	snapshot, err := m.engine.Scan(ctx, m.sessionID, m.processes)
	if err != nil {
		return err
	}

	snapshotID, err := m.store.AppendSnapshot(ctx, snapshot)
	if err != nil {
		return err
	}

	level, alert, err := m.classifier.Apply(ctx, snapshotID, snapshot)
	if err != nil {
		return err
	}
	if alert != nil {
		m.logger.Warn("session severity escalated", "session", m.sessionID, "level", level, "reason", alert.Reason)
	}
	return nil
}
