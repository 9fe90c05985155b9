// Package sensor adapts the external host sensor's record stream into
// the event package's tagged union. The only wire format implemented
// here is newline-delimited JSON, one RawRecord object per line, which is
// how the bundled sensor emits events on stdout.
package sensor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/navshield/tracer/internal/event"
)

// rawLine mirrors event.RawRecord's shape for JSON decoding; the sensor
// emits its variant-specific fields as a flat string map regardless of
// kind, leaving interpretation to event.Decode.
type rawLine struct {
	Kind     int               `json:"kind"`
	Host     string            `json:"host"`
	RecordID int64             `json:"recordId"`
	TimeUTC  string            `json:"timeUtc"`
	Fields   map[string]string `json:"fields"`
}

// JSONLineSource reads newline-delimited sensor records from r and decodes
// each into an event.Event, implementing runtime.EventSource. Lines that
// fail to parse as JSON, or whose kind the adapter does not recognize,
// are logged and skipped rather than treated as fatal.
type JSONLineSource struct {
	scanner *bufio.Scanner
	logger  *slog.Logger
}

// NewJSONLineSource wraps r. logger may be nil, in which case slog's
// default logger is used.
func NewJSONLineSource(r io.Reader, logger *slog.Logger) *JSONLineSource {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &JSONLineSource{scanner: scanner, logger: logger}
}

// Next returns the next decodable event, skipping malformed or
// unrecognized lines. ok is false once the underlying reader is
// exhausted (EOF).
func (s *JSONLineSource) Next(ctx context.Context) (event.Event, bool, error) {
	for {
		select {
		case <-ctx.Done():
			return event.Event{}, false, nil
		default:
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return event.Event{}, false, fmt.Errorf("sensor: read line: %w", err)
			}
			return event.Event{}, false, nil
		}

		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw rawLine
		if err := json.Unmarshal(line, &raw); err != nil {
			s.logger.Warn("sensor: dropping malformed record", "error", err)
			continue
		}

		ev, ok := event.Decode(event.RawRecord{
			Kind:     raw.Kind,
			Host:     raw.Host,
			RecordID: raw.RecordID,
			TimeUTC:  raw.TimeUTC,
			Raw:      string(line),
			Fields:   raw.Fields,
		})
		if !ok {
			s.logger.Warn("sensor: dropping unrecognized record", "kind", raw.Kind)
			continue
		}
		return ev, true, nil
	}
}
