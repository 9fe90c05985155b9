// Package event defines the closed tagged union of telemetry events the
// host sensor produces, and the header fields shared by every variant.
package event

import "fmt"

// Kind identifies the sensor classification of an event. Values mirror the
// 26-category scheme the external host sensor emits (process, network,
// file, registry, image-load, pipe, WMI, DNS and clipboard activity).
type Kind int

const (
	KindProcessCreate            Kind = 1
	KindFileCreateTimeChanged     Kind = 2
	KindNetworkConnect            Kind = 3
	KindSensorServiceStateChanged Kind = 4
	KindProcessTerminate          Kind = 5
	KindDriverLoad                Kind = 6
	KindImageLoad                 Kind = 7
	KindCreateRemoteThread        Kind = 8
	KindRawAccessRead             Kind = 9
	KindProcessAccess             Kind = 10
	KindFileCreate                Kind = 11
	KindRegistryObjectChange      Kind = 12
	KindRegistryValueSet          Kind = 13
	KindRegistryRename            Kind = 14
	KindFileCreateStreamHash      Kind = 15
	KindServiceConfigChange       Kind = 16
	KindPipeCreated               Kind = 17
	KindPipeConnected             Kind = 18
	KindWMIEventFilter            Kind = 19
	KindWMIEventConsumer          Kind = 20
	KindWMIEventConsumerToFilter  Kind = 21
	KindDNSQuery                  Kind = 22
	KindFileDelete                Kind = 23
	KindClipboardChange           Kind = 24
	KindProcessTampering          Kind = 25
	KindFileDeleteDetected        Kind = 26
)

// String implements fmt.Stringer for log-friendly output.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is one of the 26 recognized classifications.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

var kindNames = map[Kind]string{
	KindProcessCreate:             "process-create",
	KindFileCreateTimeChanged:     "file-create-time-changed",
	KindNetworkConnect:            "network-connect",
	KindSensorServiceStateChanged: "sensor-service-state-changed",
	KindProcessTerminate:          "process-terminate",
	KindDriverLoad:                "driver-load",
	KindImageLoad:                 "image-load",
	KindCreateRemoteThread:        "create-remote-thread",
	KindRawAccessRead:             "raw-access-read",
	KindProcessAccess:             "process-access",
	KindFileCreate:                "file-create",
	KindRegistryObjectChange:      "registry-object-change",
	KindRegistryValueSet:          "registry-value-set",
	KindRegistryRename:            "registry-rename",
	KindFileCreateStreamHash:      "file-create-stream-hash",
	KindServiceConfigChange:       "service-config-change",
	KindPipeCreated:               "pipe-created",
	KindPipeConnected:             "pipe-connected",
	KindWMIEventFilter:            "wmi-event-filter",
	KindWMIEventConsumer:          "wmi-event-consumer",
	KindWMIEventConsumerToFilter:  "wmi-event-consumer-to-filter",
	KindDNSQuery:                  "dns-query",
	KindFileDelete:                "file-delete",
	KindClipboardChange:           "clipboard-change",
	KindProcessTampering:          "process-tampering",
	KindFileDeleteDetected:        "file-delete-detected",
}

// CriticalKinds is the subset of kinds that carry critical weight for
// session-level critical-event counting.
var CriticalKinds = map[Kind]bool{
	KindProcessCreate:     true,
	KindFileCreateTimeChanged: true,
	KindNetworkConnect:    true,
	KindCreateRemoteThread: true,
	KindProcessAccess:     true,
	KindRegistryValueSet:  true,
	KindPipeCreated:       true,
	KindDNSQuery:          true,
	KindFileDelete:        true,
	KindProcessTampering:  true,
}

// CoreKinds are kinds that advance the adversary hypothesis on their own,
// per the catalog normalizer's segregation rule. Kind 3 (network-connect)
// is core only when the destination is outside private/loopback ranges;
// that condition is evaluated separately, not encoded here.
var CoreKinds = map[Kind]bool{
	KindProcessCreate:      true,
	KindCreateRemoteThread: true,
	KindProcessAccess:      true,
	KindFileCreate:         true,
	KindRegistryValueSet:   true,
	KindDNSQuery:           true,
	KindFileDelete:         true,
}

// SupportKinds corroborate a hypothesis but rarely stand alone.
var SupportKinds = map[Kind]bool{
	KindFileCreateTimeChanged:    true,
	KindDriverLoad:               true,
	KindImageLoad:                true,
	KindPipeCreated:              true,
	KindPipeConnected:            true,
	KindWMIEventFilter:           true,
	KindWMIEventConsumer:         true,
	KindWMIEventConsumerToFilter: true,
	KindClipboardChange:          true,
	KindProcessTampering:         true,
	KindFileDeleteDetected:       true,
}
