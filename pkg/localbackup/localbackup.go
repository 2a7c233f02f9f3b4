// Package localbackup implements the Local Backup Store (spec §4.G): a
// durable on-disk queue of batches whose object-store upload failed, with
// bounded-retry processing ordered by age so stale batches get ahead of
// fresh ones (spec §4.I step 1).
package localbackup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/luis4nge1/geo-ingest/pkg/fsutil"
	"github.com/luis4nge1/geo-ingest/pkg/idutil"
	"github.com/luis4nge1/geo-ingest/pkg/log"
	"github.com/luis4nge1/geo-ingest/pkg/record"
)

// Status is an entry's position in the backup lifecycle (spec §4.G).
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Entry is one on-disk Local Backup record (spec §3 "Local Backup entry").
type Entry struct {
	ID             string            `json:"id"`
	Kind           record.Kind       `json:"kind"`
	CreatedAt      time.Time         `json:"createdAt"`
	RetryCount     int               `json:"retryCount"`
	MaxRetries     int               `json:"maxRetries"`
	Records        []string          `json:"records"` // NDJSON lines, one per validated record
	SourceMetadata map[string]string `json:"sourceMetadata"`
	LastError      string            `json:"lastError,omitempty"`
	Status         Status            `json:"status"`
}

// UploadFunc is the upload callback Process delegates to: it must behave
// like objectstore.Adapter.UploadNDJSON (spec §4.I: "uploadFn delegates to
// E.uploadNDJSON"). Decoupled from the objectstore package to avoid a
// direct import cycle between retry orchestration and the adapter.
type UploadFunc func(payload string, objectName string, metadata map[string]string) (ok bool, uri string, err error)

// Store is the on-disk Local Backup queue rooted at dir.
type Store struct {
	dir string
}

// New roots the backup store at dir (default "tmp/atomic-backups"),
// creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// SaveBatch persists a new pending entry for a batch whose upload failed.
func (s *Store) SaveBatch(kind record.Kind, records []string, metadata map[string]string, maxRetries int) (Entry, error) {
	entry := Entry{
		ID:             idutil.NewEntryID(),
		Kind:           kind,
		CreatedAt:      time.Now().UTC(),
		MaxRetries:     maxRetries,
		Records:        records,
		SourceMetadata: metadata,
		Status:         StatusPending,
	}
	if err := fsutil.AtomicWriteJSON(s.path(entry.ID), entry); err != nil {
		return Entry{}, fmt.Errorf("save backup %s: %w", entry.ID, err)
	}
	return entry, nil
}

// ListPending returns pending, retryable entries ordered oldest-first.
func (s *Store) ListPending() ([]Entry, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var entries []Entry
	for _, f := range files {
		var e Entry
		if err := fsutil.ReadJSON(f, &e); err != nil {
			log.WithComponent("localbackup").Warn().Err(err).Str("file", f).Msg("skipping unreadable backup entry")
			continue
		}
		if e.Status == StatusPending && e.RetryCount <= e.MaxRetries {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

// ProcessResult is the outcome of one retry attempt against an entry.
type ProcessResult struct {
	OK                bool
	WillRetry         bool
	RecordsProcessed  int
	RetryCount        int
	MaxRetries        int
	Error             string
}

// Process marks entry "processing", invokes uploadFn, then transitions it
// to completed, pending (for another retry), or terminal failed. An entry
// reaches failed only after exactly maxRetries+1 unsuccessful attempts
// (the initial attempt plus maxRetries retries), never earlier or later.
func (s *Store) Process(entry Entry, objectName string, uploadFn UploadFunc) (ProcessResult, error) {
	entry.Status = StatusProcessing
	if err := fsutil.AtomicWriteJSON(s.path(entry.ID), entry); err != nil {
		return ProcessResult{}, fmt.Errorf("mark processing %s: %w", entry.ID, err)
	}

	payload := strings.Join(entry.Records, "\n")
	ok, _, err := uploadFn(payload, objectName, entry.SourceMetadata)
	if ok && err == nil {
		entry.Status = StatusCompleted
		if werr := fsutil.AtomicWriteJSON(s.path(entry.ID), entry); werr != nil {
			return ProcessResult{}, fmt.Errorf("mark completed %s: %w", entry.ID, werr)
		}
		return ProcessResult{OK: true, RecordsProcessed: len(entry.Records), RetryCount: entry.RetryCount, MaxRetries: entry.MaxRetries}, nil
	}

	entry.RetryCount++
	if err != nil {
		entry.LastError = err.Error()
	}
	willRetry := entry.RetryCount <= entry.MaxRetries
	if willRetry {
		entry.Status = StatusPending
	} else {
		entry.Status = StatusFailed
	}
	if werr := fsutil.AtomicWriteJSON(s.path(entry.ID), entry); werr != nil {
		return ProcessResult{}, fmt.Errorf("mark retry result %s: %w", entry.ID, werr)
	}

	return ProcessResult{
		OK:               false,
		WillRetry:        willRetry,
		RecordsProcessed: 0,
		RetryCount:       entry.RetryCount,
		MaxRetries:       entry.MaxRetries,
		Error:            entry.LastError,
	}, nil
}

// Delete removes a backup entry, called only after a successful
// stage+load for that entry (spec §4.G).
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete backup %s: %w", id, err)
	}
	return nil
}

// CleanupCompleted purges completed and terminally failed entries older
// than olderThan.
func (s *Store) CleanupCompleted(olderThan time.Duration) (int, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("list backups: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, f := range files {
		var e Entry
		if err := fsutil.ReadJSON(f, &e); err != nil {
			continue
		}
		if (e.Status == StatusCompleted || e.Status == StatusFailed) && e.CreatedAt.Before(cutoff) {
			if err := os.Remove(f); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// OldestPending returns the createdAt of the oldest pending entry, used by
// the health check's retention-based warning (spec §7).
func (s *Store) OldestPending() (time.Time, bool, error) {
	pending, err := s.ListPending()
	if err != nil {
		return time.Time{}, false, err
	}
	if len(pending) == 0 {
		return time.Time{}, false, nil
	}
	return pending[0].CreatedAt, true, nil
}
