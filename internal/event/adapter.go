package event

import (
	"strconv"
	"time"
)

// SensorTimeUnset is the sentinel sensor_time used when the raw record's
// timestamp cannot be parsed. It is the zero time.Time, matching Go's
// natural "not set" value so callers can test with IsZero().
var SensorTimeUnset = time.Time{}

// RawRecord is the shape the external host sensor emits: a kind tag, the
// natural-key pair (Host, RecordID), a sensor-side UTC timestamp, an
// opaque archival blob, and a flat string/string field bag holding
// whatever variant-specific payload the kind carries. The adapter in this
// file is the only place that interprets Fields.
type RawRecord struct {
	Kind     int
	Host     string
	RecordID int64
	TimeUTC  string
	Raw      string
	Fields   map[string]string
}

// Decode converts a RawRecord into exactly one Event variant, or reports
// ok=false when the kind is unrecognized. Fields are parsed defensively:
// malformed integers/ports/booleans default to their zero value rather
// than failing the whole record, and a malformed timestamp leaves
// SensorTime at SensorTimeUnset. The raw blob is always retained.
func Decode(rec RawRecord) (ev Event, ok bool) {
	kind := Kind(rec.Kind)
	if !kind.Valid() {
		return Event{}, false
	}

	hdr := Header{
		Kind:       kind,
		Host:       rec.Host,
		RecordID:   rec.RecordID,
		SensorTime: parseTime(rec.TimeUTC),
		RawJSON:    rec.Raw,
	}

	payload := decodePayload(kind, rec.Fields)
	if payload == nil {
		return Event{}, false
	}

	return Event{Header: hdr, Payload: payload}, true
}

func decodePayload(kind Kind, f map[string]string) Payload {
	switch kind {
	case KindProcessCreate, KindProcessTerminate, KindProcessAccess, KindProcessTampering:
		return ProcessPayload{
			PID:               parseInt(f["pid"]),
			PPID:              parseInt(f["ppid"]),
			GUID:              f["guid"],
			ParentGUID:        f["parent_guid"],
			Image:             f["image"],
			CommandLine:       f["command_line"],
			ParentImage:       f["parent_image"],
			ParentCommandLine: f["parent_command_line"],
			WorkingDirectory:  f["working_directory"],
			User:              f["user"],
			IntegrityLevel:    f["integrity_level"],
			Hashes:            f["hashes"],
		}

	case KindNetworkConnect:
		return NetworkPayload{
			PID:      parseInt(f["pid"]),
			SrcIP:    f["src_ip"],
			SrcPort:  parsePort(f["src_port"]),
			DstIP:    f["dst_ip"],
			DstPort:  parsePort(f["dst_port"]),
			Protocol: f["protocol"],
		}

	case KindDNSQuery:
		return DNSPayload{
			PID:    parseInt(f["pid"]),
			Query:  f["query"],
			Type:   f["type"],
			Result: f["result"],
		}

	case KindFileCreateTimeChanged, KindFileCreate, KindFileCreateStreamHash,
		KindFileDelete, KindFileDeleteDetected:
		return FilePayload{
			PID:            parseInt(f["pid"]),
			TargetFilename: f["target_filename"],
		}

	case KindRegistryObjectChange, KindRegistryValueSet, KindRegistryRename:
		return RegistryPayload{
			PID:       parseInt(f["pid"]),
			Operation: f["operation"],
			TargetObj: f["target_object"],
			Details:   f["details"],
		}

	case KindImageLoad:
		return ImageLoadPayload{
			PID:         parseInt(f["pid"]),
			ImageLoaded: f["image_loaded"],
			Signed:      parseBool(f["signed"]),
			Signature:   f["signature"],
			Hashes:      f["hashes"],
		}

	case KindCreateRemoteThread:
		return RemoteThreadPayload{
			SourcePID: parseInt(f["source_pid"]),
			TargetPID: parseInt(f["target_pid"]),
			StartAddr: f["start_address"],
		}

	case KindPipeCreated, KindPipeConnected:
		return PipePayload{
			PID:      parseInt(f["pid"]),
			PipeName: f["pipe_name"],
		}

	case KindWMIEventFilter, KindWMIEventConsumer, KindWMIEventConsumerToFilter:
		return WMIPayload{
			Operation: f["operation"],
			Name:      f["name"],
			Query:     f["query"],
		}

	case KindClipboardChange:
		return ClipboardPayload{
			PID:       parseInt(f["pid"]),
			Operation: f["operation"],
			Contents:  f["contents"],
		}

	case KindDriverLoad, KindSensorServiceStateChanged, KindServiceConfigChange, KindRawAccessRead:
		return GenericPayload{PID: parseInt(f["pid"])}

	default:
		return nil
	}
}

func parseInt(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func parsePort(s string) uint16 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(n)
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}

func parseTime(s string) time.Time {
	if s == "" {
		return SensorTimeUnset
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return SensorTimeUnset
	}
	return t.UTC()
}
