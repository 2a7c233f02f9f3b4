// Package warehouse defines the Warehouse Loader (spec §4.F): submit a load
// job from an object-store URI into a typed table, wait for terminal state,
// report rows/bytes. The structural binding to a real warehouse SDK is out
// of scope for the core (spec §1); only the Loader interface matters.
package warehouse

import (
	"context"

	"github.com/luis4nge1/geo-ingest/pkg/record"
)

// State is a load job's lifecycle state.
type State string

const (
	StatePending State = "PENDING"
	StateRunning State = "RUNNING"
	StateDone    State = "DONE"
	StateError   State = "ERROR"
)

// LoadResult is the outcome of submitting (and waiting out) a load job.
type LoadResult struct {
	OK          bool
	JobID       string
	RowsWritten int64
	BytesRead   int64
	Error       error
}

// JobStatus is a load job's current terminal-or-not state.
type JobStatus struct {
	State  State
	Errors []string
}

// Field describes one warehouse table column.
type Field struct {
	Name string
	Type string
	Mode string // REQUIRED | NULLABLE
}

// Schema is the fixed column list for one kind's table (spec §6).
type Schema []Field

// GPSSchema is the fixed gps_records table schema.
func GPSSchema() Schema {
	return Schema{
		{Name: "deviceId", Type: "STRING", Mode: "REQUIRED"},
		{Name: "lat", Type: "FLOAT", Mode: "REQUIRED"},
		{Name: "lng", Type: "FLOAT", Mode: "REQUIRED"},
		{Name: "timestamp", Type: "TIMESTAMP", Mode: "REQUIRED"},
		{Name: "processed_at", Type: "TIMESTAMP", Mode: "NULLABLE"},
		{Name: "processing_id", Type: "STRING", Mode: "NULLABLE"},
	}
}

// MobileSchema is the fixed mobile_records table schema.
func MobileSchema() Schema {
	return Schema{
		{Name: "userId", Type: "STRING", Mode: "REQUIRED"},
		{Name: "name", Type: "STRING", Mode: "REQUIRED"},
		{Name: "email", Type: "STRING", Mode: "REQUIRED"},
		{Name: "lat", Type: "FLOAT", Mode: "REQUIRED"},
		{Name: "lng", Type: "FLOAT", Mode: "REQUIRED"},
		{Name: "timestamp", Type: "TIMESTAMP", Mode: "REQUIRED"},
		{Name: "processed_at", Type: "TIMESTAMP", Mode: "NULLABLE"},
		{Name: "processing_id", Type: "STRING", Mode: "NULLABLE"},
	}
}

// SchemaFor returns the fixed schema for a record kind.
func SchemaFor(kind record.Kind) Schema {
	if kind == record.KindGPS {
		return GPSSchema()
	}
	return MobileSchema()
}

// JobOptions are the fixed load-job options spec §6 mandates. autodetect
// and ignoreUnknownValues are always false; skipLeadingRows is never set
// (spec §9 Open Question) because NDJSON has no header row to skip.
type JobOptions struct {
	WriteDisposition   string // WRITE_APPEND
	CreateDisposition   string // CREATE_IF_NEEDED
	SourceFormat        string // NEWLINE_DELIMITED_JSON
	Autodetect          bool
	IgnoreUnknownValues bool
	MaxBadRecords       int
	Priority            string // BATCH
}

// DefaultJobOptions returns the fixed options spec §6 mandates.
func DefaultJobOptions() JobOptions {
	return JobOptions{
		WriteDisposition:    "WRITE_APPEND",
		CreateDisposition:   "CREATE_IF_NEEDED",
		SourceFormat:        "NEWLINE_DELIMITED_JSON",
		Autodetect:          false,
		IgnoreUnknownValues: false,
		MaxBadRecords:       0,
		Priority:            "BATCH",
	}
}

// Loader is the operation set the core invokes (spec §4.F).
type Loader interface {
	LoadFromURI(ctx context.Context, uri string, kind record.Kind, metadata map[string]string) (LoadResult, error)
	JobStatus(ctx context.Context, jobID string) (JobStatus, error)
}
