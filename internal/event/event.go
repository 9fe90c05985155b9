package event

import "time"

// Header carries the fields every event variant shares, regardless of kind.
type Header struct {
	SessionID    int64
	Kind         Kind
	Host         string
	RecordID     int64 // sensor_record_id: monotonic within Host
	SensorTime   time.Time
	CaptureTime  time.Time
	SequenceNum  int64 // assigned by the store at insert time
	RawJSON      string
}

// Payload is implemented by every event variant. The marker method keeps
// the union closed: only variants declared in this package may satisfy it.
// Kind-level decisions (lineage protocol, core/support segregation,
// severity) switch on Header.Kind; type switches on Payload are used only
// to read a variant's fields, such as its pid or network destination.
type Payload interface {
	payload()
}

// Event is one normalized telemetry record: a shared Header plus exactly
// one Payload variant selected by Header.Kind.
type Event struct {
	Header
	Payload Payload
}

// ProcessPayload covers process-create, process-terminate, process-access
// and process-tampering events (kinds 1, 5, 10, 25).
type ProcessPayload struct {
	PID               int
	PPID              int
	GUID              string
	ParentGUID        string
	Image             string
	CommandLine       string
	ParentImage       string
	ParentCommandLine string
	WorkingDirectory  string
	User              string
	IntegrityLevel    string
	Hashes            string
}

func (ProcessPayload) payload() {}

// NetworkPayload covers network-connect events (kind 3).
type NetworkPayload struct {
	PID      int
	SrcIP    string
	SrcPort  uint16
	DstIP    string
	DstPort  uint16
	Protocol string
}

func (NetworkPayload) payload() {}

// DNSPayload covers dns-query events (kind 22).
type DNSPayload struct {
	PID     int
	Query   string
	Type    string
	Result  string
}

func (DNSPayload) payload() {}

// FilePayload covers file-create, file-delete and related file events
// (kinds 2, 11, 15, 23, 26).
type FilePayload struct {
	PID            int
	TargetFilename string
}

func (FilePayload) payload() {}

// RegistryPayload covers registry events (kinds 12, 13, 14).
type RegistryPayload struct {
	PID       int
	Operation string
	TargetObj string
	Details   string
}

func (RegistryPayload) payload() {}

// ImageLoadPayload covers image-load events (kind 7).
type ImageLoadPayload struct {
	PID        int
	ImageLoaded string
	Signed     bool
	Signature  string
	Hashes     string
}

func (ImageLoadPayload) payload() {}

// RemoteThreadPayload covers create-remote-thread events (kind 8).
type RemoteThreadPayload struct {
	SourcePID  int
	TargetPID  int
	StartAddr  string
}

func (RemoteThreadPayload) payload() {}

// PipePayload covers named-pipe events (kinds 17, 18).
type PipePayload struct {
	PID      int
	PipeName string
}

func (PipePayload) payload() {}

// WMIPayload covers WMI events (kinds 19, 20, 21).
type WMIPayload struct {
	Operation string
	Name      string
	Query     string
}

func (WMIPayload) payload() {}

// ClipboardPayload covers clipboard-change events (kind 24).
type ClipboardPayload struct {
	PID       int
	Operation string
	Contents  string
}

func (ClipboardPayload) payload() {}

// GenericPayload is used for kinds that carry no variant-specific columns
// beyond the header (e.g. sensor-service-state-changed, driver-load).
type GenericPayload struct {
	PID int
}

func (GenericPayload) payload() {}

// PID extracts the process id from an event's payload, by table, for
// lineage matching. Unknown payload types contribute no pid (returns 0,
// false), matching the design rule that unknown variants never adopt pid
// membership.
func (e Event) PID() (int, bool) {
	switch p := e.Payload.(type) {
	case ProcessPayload:
		return p.PID, true
	case NetworkPayload:
		return p.PID, true
	case DNSPayload:
		return p.PID, true
	case FilePayload:
		return p.PID, true
	case RegistryPayload:
		return p.PID, true
	case ImageLoadPayload:
		return p.PID, true
	case RemoteThreadPayload:
		return p.SourcePID, true
	case PipePayload:
		return p.PID, true
	case ClipboardPayload:
		return p.PID, true
	case GenericPayload:
		if p.PID != 0 {
			return p.PID, true
		}
		return 0, false
	default:
		return 0, false
	}
}
