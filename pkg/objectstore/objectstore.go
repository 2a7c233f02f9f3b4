// Package objectstore defines the Object Store Adapter (spec §4.E): upload
// of a staged NDJSON blob with attached metadata, prefix listing, and
// delete. The core only ever talks to the Adapter interface; which backend
// is wired in (a real cloud object store vs. the local-disk simulation) is
// explicitly out of scope for the core (spec §1) and never branched on.
package objectstore

import (
	"context"
	"errors"
	"time"
)

// Code is the failure taxonomy an Adapter must distinguish (spec §4.E).
type Code string

const (
	CodeUnavailable Code = "UNAVAILABLE" // retry-worthy
	CodePermission  Code = "PERMISSION"
	CodeNotFound    Code = "NOT_FOUND" // listing/delete target absent
	CodeMalformed   Code = "MALFORMED" // metadata/name rejected
)

// Error is a classified Adapter failure.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the Code from err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// UploadResult is returned by a successful Upload.
type UploadResult struct {
	OK   bool
	URI  string
	Size int64
}

// ObjectInfo describes one object returned by ListByPrefix.
type ObjectInfo struct {
	Name     string
	URI      string
	Size     int64
	Created  time.Time
	Metadata map[string]string
}

// Adapter is the operation set the core invokes (spec §4.E). An `ok`
// response implies the object is durably stored with all metadata attached
// and retrievable by ListByPrefix(objectName).
type Adapter interface {
	UploadNDJSON(ctx context.Context, payload string, objectName string, metadata map[string]string) (UploadResult, error)
	ListByPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, objectName string) error
	Status(ctx context.Context) error
}
