// Package record defines the two ingested record families (GPS and Mobile),
// the in-memory Batch produced by an atomic drain, and the staged-object
// projection each validated record is reduced to before upload.
package record

import (
	"fmt"
	"time"
)

// Kind tags which queue/table a batch or staged object belongs to.
type Kind string

const (
	KindGPS    Kind = "gps"
	KindMobile Kind = "mobile"
)

// Raw is the pre-validation shape a queue entry is decoded into: permissive
// field types so the validator can coerce strings to numbers and substitute
// timestamps before rejecting anything.
type Raw struct {
	DeviceID  string `json:"deviceId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Lat       any    `json:"lat,omitempty"`
	Lng       any    `json:"lng,omitempty"`
	Timestamp any    `json:"timestamp,omitempty"`
}

// GPS is the validated, projected canonical shape for a vehicle GPS record.
// It carries the four REQUIRED columns of the gps_records warehouse schema
// (spec §6); the NULLABLE processed_at and processing_id columns are not
// part of it.
type GPS struct {
	DeviceID  string    `json:"deviceId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// Mobile is the validated, projected canonical shape for a mobile-user
// location record. It carries the REQUIRED columns of the mobile_records
// warehouse schema; the NULLABLE processed_at and processing_id columns are
// not part of it.
type Mobile struct {
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// Batch is the in-memory unit produced by one atomic drain of one queue key.
type Batch struct {
	Kind         Kind
	GPSRecords   []GPS
	MobileRecord []Mobile
	ProcessingID string
	ExtractedAt  time.Time
}

// Len returns the record count regardless of kind.
func (b Batch) Len() int {
	if b.Kind == KindGPS {
		return len(b.GPSRecords)
	}
	return len(b.MobileRecord)
}

// NewProcessingID builds the immutable identifier stamped on a batch, its
// staged object and its warehouse job id derivation (spec §3 Batch,
// invariant 4): "<kind>_<utcCompactTs>_<rand3>".
func NewProcessingID(kind Kind, now time.Time, rand3 string) string {
	return fmt.Sprintf("%s_%s_%s", kind, now.UTC().Format("20060102T150405"), rand3)
}
