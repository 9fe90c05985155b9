package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/navshield/tracer/internal/event"
	"github.com/navshield/tracer/internal/tracererr"
)

// InsertEvent normalizes ev's variant fields into the flat events row and
// writes it. Duplicate (host, sensor_record_id) pairs succeed as a no-op
// (ON CONFLICT DO NOTHING), tolerating the sensor's at-least-once delivery.
// On write contention the insert is retried once after a short backoff; a
// second contention failure surfaces as tracererr.CodeStorageBusy.
func (s *Store) InsertEvent(ctx context.Context, sessionID int64, ev event.Event) error {
	row := flattenEvent(sessionID, s.nextSequenceNumber(), ev)

	err := s.execInsertEvent(ctx, row)
	if err == nil {
		return nil
	}
	if !isBusyError(err) {
		return classifyWriteError(err, sessionID)
	}

	time.Sleep(25 * time.Millisecond)
	if err := s.execInsertEvent(ctx, row); err != nil {
		if isBusyError(err) {
			return tracererr.New(tracererr.CodeStorageBusy, "event insert contended after one retry").WithSession(sessionID)
		}
		return classifyWriteError(err, sessionID)
	}
	return nil
}

type eventRow struct {
	sessionID   int64
	kind        int
	host        string
	recordID    int64
	sensorTime  sql.NullString
	captureTime string
	seq         int64
	rawJSON     sql.NullString

	pid, ppid         sql.NullInt64
	guid, parentGUID  sql.NullString
	image             sql.NullString
	commandLine       sql.NullString
	parentImage       sql.NullString
	parentCommandLine sql.NullString
	workingDir        sql.NullString
	user              sql.NullString
	integrityLevel    sql.NullString
	hashes            sql.NullString

	srcIP, dstIP     sql.NullString
	srcPort, dstPort sql.NullInt64
	protocol         sql.NullString

	dnsQuery, dnsType, dnsResult sql.NullString

	targetFilename sql.NullString

	registryOp, registryTarget, registryDetails sql.NullString

	imageLoaded    sql.NullString
	imageSigned    sql.NullBool
	imageSignature sql.NullString

	remoteThreadSourcePID, remoteThreadTargetPID sql.NullInt64
	remoteThreadStartAddr                        sql.NullString

	pipeName sql.NullString

	wmiOperation, wmiName, wmiQuery sql.NullString

	clipboardOperation, clipboardContents sql.NullString
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

func flattenEvent(sessionID, seq int64, ev event.Event) eventRow {
	row := eventRow{
		sessionID:   sessionID,
		kind:        int(ev.Kind),
		host:        ev.Host,
		recordID:    ev.RecordID,
		captureTime: time.Now().UTC().Format(time.RFC3339Nano),
		seq:         seq,
		rawJSON:     nullStr(ev.RawJSON),
	}
	if !ev.SensorTime.IsZero() {
		row.sensorTime = sql.NullString{String: ev.SensorTime.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	if !ev.CaptureTime.IsZero() {
		row.captureTime = ev.CaptureTime.UTC().Format(time.RFC3339Nano)
	}

	switch p := ev.Payload.(type) {
	case event.ProcessPayload:
		row.pid = nullInt(p.PID)
		row.ppid = nullInt(p.PPID)
		row.guid = nullStr(p.GUID)
		row.parentGUID = nullStr(p.ParentGUID)
		row.image = nullStr(p.Image)
		row.commandLine = nullStr(p.CommandLine)
		row.parentImage = nullStr(p.ParentImage)
		row.parentCommandLine = nullStr(p.ParentCommandLine)
		row.workingDir = nullStr(p.WorkingDirectory)
		row.user = nullStr(p.User)
		row.integrityLevel = nullStr(p.IntegrityLevel)
		row.hashes = nullStr(p.Hashes)

	case event.NetworkPayload:
		row.pid = nullInt(p.PID)
		row.srcIP = nullStr(p.SrcIP)
		row.srcPort = nullInt(int(p.SrcPort))
		row.dstIP = nullStr(p.DstIP)
		row.dstPort = nullInt(int(p.DstPort))
		row.protocol = nullStr(p.Protocol)

	case event.DNSPayload:
		row.pid = nullInt(p.PID)
		row.dnsQuery = nullStr(p.Query)
		row.dnsType = nullStr(p.Type)
		row.dnsResult = nullStr(p.Result)

	case event.FilePayload:
		row.pid = nullInt(p.PID)
		row.targetFilename = nullStr(p.TargetFilename)

	case event.RegistryPayload:
		row.pid = nullInt(p.PID)
		row.registryOp = nullStr(p.Operation)
		row.registryTarget = nullStr(p.TargetObj)
		row.registryDetails = nullStr(p.Details)

	case event.ImageLoadPayload:
		row.pid = nullInt(p.PID)
		row.imageLoaded = nullStr(p.ImageLoaded)
		row.imageSigned = sql.NullBool{Bool: p.Signed, Valid: true}
		row.imageSignature = nullStr(p.Signature)
		row.hashes = nullStr(p.Hashes)

	case event.RemoteThreadPayload:
		row.remoteThreadSourcePID = nullInt(p.SourcePID)
		row.remoteThreadTargetPID = nullInt(p.TargetPID)
		row.remoteThreadStartAddr = nullStr(p.StartAddr)

	case event.PipePayload:
		row.pid = nullInt(p.PID)
		row.pipeName = nullStr(p.PipeName)

	case event.WMIPayload:
		row.wmiOperation = nullStr(p.Operation)
		row.wmiName = nullStr(p.Name)
		row.wmiQuery = nullStr(p.Query)

	case event.ClipboardPayload:
		row.pid = nullInt(p.PID)
		row.clipboardOperation = nullStr(p.Operation)
		row.clipboardContents = nullStr(p.Contents)

	case event.GenericPayload:
		row.pid = nullInt(p.PID)
	}

	return row
}

func (s *Store) execInsertEvent(ctx context.Context, r eventRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			session_id, event_kind, host, sensor_record_id, sensor_time, capture_time,
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
		) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?,
			?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?,
			?,
			?, ?, ?,
			?, ?, ?,
			?, ?, ?,
			?,
			?, ?, ?,
			?, ?
		)
		ON CONFLICT(host, sensor_record_id) DO NOTHING
	`,
		r.sessionID, r.kind, r.host, r.recordID, r.sensorTime, r.captureTime,
		r.seq, r.rawJSON,
		r.pid, r.ppid, r.guid, r.parentGUID, r.image, r.commandLine, r.parentImage,
		r.parentCommandLine, r.workingDir, r.user, r.integrityLevel, r.hashes,
		r.srcIP, r.srcPort, r.dstIP, r.dstPort, r.protocol,
		r.dnsQuery, r.dnsType, r.dnsResult,
		r.targetFilename,
		r.registryOp, r.registryTarget, r.registryDetails,
		r.imageLoaded, r.imageSigned, r.imageSignature,
		r.remoteThreadSourcePID, r.remoteThreadTargetPID, r.remoteThreadStartAddr,
		r.pipeName,
		r.wmiOperation, r.wmiName, r.wmiQuery,
		r.clipboardOperation, r.clipboardContents,
	)
	return err
}

// isBusyError reports whether err is a SQLite busy/locked condition.
func isBusyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return strings.Contains(err.Error(), "database is locked")
}

// classifyWriteError distinguishes a foreign-key violation (fatal,
// propagated) from any other write failure.
func classifyWriteError(err error, sessionID int64) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return tracererr.Wrap(tracererr.CodeForeignKeyViolation, "event references unknown session", err).WithSession(sessionID)
		}
	}
	return fmt.Errorf("insert event: %w", err)
}
