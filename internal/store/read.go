package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/navshield/tracer/internal/event"
)

// EventsOfSession returns every event recorded for sessionID, ordered by
// (sensor_time, capture_time, sequence_number, id) per the store's read
// contract: sensor_time first when present, capture_time as a fallback,
// sequence_number and row id as final deterministic tie-breaks.
func (s *Store) EventsOfSession(ctx context.Context, sessionID int64) ([]event.Event, error) {
	rows, err := s.readDB.QueryContext(ctx, eventSelectColumns+`
		FROM events
		WHERE session_id = ?
		ORDER BY sensor_time IS NULL, sensor_time, capture_time, sequence_number, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events of session: %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// EventsSince returns events of sessionID whose sequence_number is greater
// than afterSeq (afterSeq itself excluded), in the same deterministic order
// as EventsOfSession.
func (s *Store) EventsSince(ctx context.Context, sessionID int64, afterSeq int64) ([]event.Event, error) {
	rows, err := s.readDB.QueryContext(ctx, eventSelectColumns+`
		FROM events
		WHERE session_id = ? AND sequence_number > ?
		ORDER BY sensor_time IS NULL, sensor_time, capture_time, sequence_number, id
	`, sessionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("query events since: %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// CountEvents returns the total number of events recorded for sessionID.
func (s *Store) CountEvents(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// CriticalEventCounts returns, for sessionID, a histogram of how many events
// of each critical kind (event.CriticalKinds) have been recorded. Kinds with
// zero occurrences are omitted.
func (s *Store) CriticalEventCounts(ctx context.Context, sessionID int64) (map[event.Kind]int, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT event_kind, COUNT(*)
		FROM events
		WHERE session_id = ?
		GROUP BY event_kind
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query critical event counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[event.Kind]int)
	for rows.Next() {
		var kind int
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan critical event count: %w", err)
		}
		k := event.Kind(kind)
		if event.CriticalKinds[k] {
			counts[k] = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate critical event counts: %w", err)
	}
	return counts, nil
}

const eventSelectColumns = `
	SELECT
		id, session_id, event_kind, host, sensor_record_id, sensor_time, capture_time,
		sequence_number, raw_json,
		pid, ppid, guid, parent_guid, image, command_line, parent_image,
		parent_command_line, working_dir, user, integrity_level, hashes,
		src_ip, src_port, dst_ip, dst_port, protocol,
		dns_query, dns_type, dns_result,
		target_filename,
		registry_operation, registry_target, registry_details,
		image_loaded, image_signed, image_signature,
		remote_thread_source_pid, remote_thread_target_pid, remote_thread_start_addr,
		pipe_name,
		wmi_operation, wmi_name, wmi_query,
		clipboard_operation, clipboard_contents
`

func scanEventRows(rows *sql.Rows) ([]event.Event, error) {
	events := make([]event.Event, 0)
	for rows.Next() {
		ev, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanEventRow(rows *sql.Rows) (event.Event, error) {
	var (
		id, sessionID, kind, recordID, seq int64
		host                               string
		sensorTime, captureTime            sql.NullString
		rawJSON                            sql.NullString

		pid, ppid                                 sql.NullInt64
		guid, parentGUID                          sql.NullString
		image, commandLine                        sql.NullString
		parentImage, parentCommandLine            sql.NullString
		workingDir, user, integrityLevel, hashes  sql.NullString
		srcIP, dstIP                               sql.NullString
		srcPort, dstPort                           sql.NullInt64
		protocol                                   sql.NullString
		dnsQuery, dnsType, dnsResult                sql.NullString
		targetFilename                             sql.NullString
		registryOp, registryTarget, registryDetails sql.NullString
		imageLoaded                                sql.NullString
		imageSigned                                sql.NullBool
		imageSignature                             sql.NullString
		remoteSrcPID, remoteDstPID                 sql.NullInt64
		remoteStartAddr                            sql.NullString
		pipeName                                   sql.NullString
		wmiOp, wmiName, wmiQuery                   sql.NullString
		clipboardOp, clipboardContents             sql.NullString
	)

	err := rows.Scan(
		&id, &sessionID, &kind, &host, &recordID, &sensorTime, &captureTime,
		&seq, &rawJSON,
		&pid, &ppid, &guid, &parentGUID, &image, &commandLine, &parentImage,
		&parentCommandLine, &workingDir, &user, &integrityLevel, &hashes,
		&srcIP, &srcPort, &dstIP, &dstPort, &protocol,
		&dnsQuery, &dnsType, &dnsResult,
		&targetFilename,
		&registryOp, &registryTarget, &registryDetails,
		&imageLoaded, &imageSigned, &imageSignature,
		&remoteSrcPID, &remoteDstPID, &remoteStartAddr,
		&pipeName,
		&wmiOp, &wmiName, &wmiQuery,
		&clipboardOp, &clipboardContents,
	)
	if err != nil {
		return event.Event{}, fmt.Errorf("scan event: %w", err)
	}

	ev := event.Event{
		Header: event.Header{
			SessionID:   sessionID,
			Kind:        event.Kind(kind),
			Host:        host,
			RecordID:    recordID,
			SequenceNum: seq,
		},
	}
	if rawJSON.Valid {
		ev.RawJSON = rawJSON.String
	}
	if sensorTime.Valid {
		if t, err := time.Parse(time.RFC3339Nano, sensorTime.String); err == nil {
			ev.SensorTime = t
		}
	}
	if captureTime.Valid {
		if t, err := time.Parse(time.RFC3339Nano, captureTime.String); err == nil {
			ev.CaptureTime = t
		}
	}

	switch event.Kind(kind) {
	case event.KindProcessCreate, event.KindProcessTerminate, event.KindProcessAccess, event.KindProcessTampering:
		ev.Payload = event.ProcessPayload{
			PID: int(pid.Int64), PPID: int(ppid.Int64),
			GUID: guid.String, ParentGUID: parentGUID.String,
			Image: image.String, CommandLine: commandLine.String,
			ParentImage: parentImage.String, ParentCommandLine: parentCommandLine.String,
			WorkingDirectory: workingDir.String, User: user.String,
			IntegrityLevel: integrityLevel.String, Hashes: hashes.String,
		}
	case event.KindNetworkConnect:
		ev.Payload = event.NetworkPayload{
			PID: int(pid.Int64), SrcIP: srcIP.String, SrcPort: uint16(srcPort.Int64),
			DstIP: dstIP.String, DstPort: uint16(dstPort.Int64), Protocol: protocol.String,
		}
	case event.KindDNSQuery:
		ev.Payload = event.DNSPayload{PID: int(pid.Int64), Query: dnsQuery.String, Type: dnsType.String, Result: dnsResult.String}
	case event.KindFileCreate, event.KindFileCreateStreamHash, event.KindFileDelete, event.KindFileDeleteDetected, event.KindFileCreateTimeChanged:
		ev.Payload = event.FilePayload{PID: int(pid.Int64), TargetFilename: targetFilename.String}
	case event.KindRegistryObjectChange, event.KindRegistryValueSet, event.KindRegistryRename:
		ev.Payload = event.RegistryPayload{PID: int(pid.Int64), Operation: registryOp.String, TargetObj: registryTarget.String, Details: registryDetails.String}
	case event.KindImageLoad:
		ev.Payload = event.ImageLoadPayload{PID: int(pid.Int64), ImageLoaded: imageLoaded.String, Signed: imageSigned.Bool, Signature: imageSignature.String, Hashes: hashes.String}
	case event.KindCreateRemoteThread:
		ev.Payload = event.RemoteThreadPayload{SourcePID: int(remoteSrcPID.Int64), TargetPID: int(remoteDstPID.Int64), StartAddr: remoteStartAddr.String}
	case event.KindPipeCreated, event.KindPipeConnected:
		ev.Payload = event.PipePayload{PID: int(pid.Int64), PipeName: pipeName.String}
	case event.KindWMIEventFilter, event.KindWMIEventConsumer, event.KindWMIEventConsumerToFilter:
		ev.Payload = event.WMIPayload{Operation: wmiOp.String, Name: wmiName.String, Query: wmiQuery.String}
	case event.KindClipboardChange:
		ev.Payload = event.ClipboardPayload{PID: int(pid.Int64), Operation: clipboardOp.String, Contents: clipboardContents.String}
	default:
		ev.Payload = event.GenericPayload{PID: int(pid.Int64)}
	}

	return ev, nil
}
