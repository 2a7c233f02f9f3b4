// Package recovery implements the Recovery Registry (spec §4.H): a durable
// registry of object-store files whose warehouse load failed, plus
// discovery of orphan files left behind by a prior crashed tick.
package recovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/luis4nge1/geo-ingest/pkg/alerts"
	"github.com/luis4nge1/geo-ingest/pkg/fsutil"
	"github.com/luis4nge1/geo-ingest/pkg/idutil"
	"github.com/luis4nge1/geo-ingest/pkg/log"
	"github.com/luis4nge1/geo-ingest/pkg/metrics"
	"github.com/luis4nge1/geo-ingest/pkg/objectstore"
	"github.com/luis4nge1/geo-ingest/pkg/record"
	"github.com/luis4nge1/geo-ingest/pkg/warehouse"
)

// Status mirrors the Local Backup lifecycle (spec §3/§4.H).
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Result summarizes a completed load, kept on the entry once terminal.
type Result struct {
	JobID       string `json:"jobId"`
	RowsWritten int64  `json:"rowsWritten"`
	BytesRead   int64  `json:"bytesRead"`
}

// Entry is one on-disk Recovery Registry record (spec §3).
type Entry struct {
	ID              string            `json:"id"`
	Kind            record.Kind       `json:"kind"`
	CreatedAt       time.Time         `json:"createdAt"`
	Status          Status            `json:"status"`
	RetryCount      int               `json:"retryCount"`
	MaxRetries      int               `json:"maxRetries"`
	ObjectName      string            `json:"objectName"`
	ObjectURI       string            `json:"objectUri"`
	Metadata        map[string]string `json:"metadata"`
	OriginalRecords []string          `json:"originalRecords,omitempty"`
	LastError       string            `json:"lastError,omitempty"`
	ProcessedAt     *time.Time        `json:"processedAt,omitempty"`
	Result          *Result           `json:"result,omitempty"`
}

var gpsPrefix = "gps-data/"
var mobilePrefix = "mobile-data/"

// Prefixes names the object-store prefixes scanned for orphans (spec §6).
type Prefixes struct {
	GPS    string
	Mobile string
}

// DefaultPrefixes returns the documented default prefixes.
func DefaultPrefixes() Prefixes {
	return Prefixes{GPS: gpsPrefix, Mobile: mobilePrefix}
}

// UploadFunc re-stages a registry entry's originalRecords when the staged
// object has disappeared from the object store.
type UploadFunc func(payload string, objectName string, metadata map[string]string) (ok bool, uri string, err error)

// Registry is the on-disk Recovery Registry, backed by one JSON file per
// entry plus a small bbolt index of every objectName ever registered
// (across any status), so findOrphans is an O(objects-in-store) membership
// check instead of re-reading every entry file on every tick.
type Registry struct {
	dir string
	db  *bolt.DB
}

var knownObjectsBucket = []byte("known_objects")

// New roots the registry at dir (default
// "tmp/atomic-backups/gcs-recovery") and opens its bbolt index.
func New(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, "index.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open registry index: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(knownObjectsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init registry index: %w", err)
	}
	return &Registry{dir: dir, db: db}, nil
}

// Close releases the bbolt index handle.
func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) path(id string) string {
	return filepath.Join(r.dir, fmt.Sprintf("gcs_recovery_%s.json", id))
}

func (r *Registry) markKnown(objectName string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(knownObjectsBucket).Put([]byte(objectName), []byte("1"))
	})
}

func (r *Registry) isKnown(objectName string) bool {
	var known bool
	_ = r.db.View(func(tx *bolt.Tx) error {
		known = tx.Bucket(knownObjectsBucket).Get([]byte(objectName)) != nil
		return nil
	})
	return known
}

func (r *Registry) forgetKnown(objectName string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(knownObjectsBucket).Delete([]byte(objectName))
	})
}

// Register creates a new pending entry for an object whose load failed (or
// an orphan being brought under management after its own failed attempt).
func (r *Registry) Register(kind record.Kind, objectName, objectURI string, metadata map[string]string, originalRecords []string, maxRetries int) (Entry, error) {
	entry := Entry{
		ID:              idutil.NewEntryID(),
		Kind:            kind,
		CreatedAt:       time.Now().UTC(),
		Status:          StatusPending,
		MaxRetries:      maxRetries,
		ObjectName:      objectName,
		ObjectURI:       objectURI,
		Metadata:        metadata,
		OriginalRecords: originalRecords,
	}
	if err := fsutil.AtomicWriteJSON(r.path(entry.ID), entry); err != nil {
		return Entry{}, fmt.Errorf("register entry %s: %w", entry.ID, err)
	}
	if err := r.markKnown(objectName); err != nil {
		return Entry{}, fmt.Errorf("index entry %s: %w", entry.ID, err)
	}
	return entry, nil
}

// ListPending returns retryable pending entries.
func (r *Registry) ListPending() ([]Entry, error) {
	files, err := filepath.Glob(filepath.Join(r.dir, "gcs_recovery_*.json"))
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}

	var entries []Entry
	for _, f := range files {
		var e Entry
		if err := fsutil.ReadJSON(f, &e); err != nil {
			log.WithComponent("recovery").Warn().Err(err).Str("file", f).Msg("skipping unreadable registry entry")
			continue
		}
		if e.Status == StatusPending && e.RetryCount <= e.MaxRetries {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

// Orphan is an object-store file with no registry entry.
type Orphan struct {
	Kind record.Kind
	Info objectstore.ObjectInfo
}

// FindOrphans lists both kind prefixes in the object store and returns
// every object not present in the known-objects index (spec §4.H).
func (r *Registry) FindOrphans(ctx context.Context, store objectstore.Adapter, prefixes Prefixes) ([]Orphan, error) {
	var orphans []Orphan

	for kind, prefix := range map[record.Kind]string{record.KindGPS: prefixes.GPS, record.KindMobile: prefixes.Mobile} {
		objs, err := store.ListByPrefix(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, o := range objs {
			if !r.isKnown(o.Name) {
				orphans = append(orphans, Orphan{Kind: kind, Info: o})
			}
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].Info.Name < orphans[j].Info.Name })
	if len(orphans) > 0 {
		metrics.OrphansDiscoveredTotal.Add(float64(len(orphans)))
	}
	return orphans, nil
}

func kindFromPrefix(name string) record.Kind {
	if strings.HasPrefix(name, mobilePrefix) {
		return record.KindMobile
	}
	return record.KindGPS
}

// ProcessOptions bundles the collaborators ProcessAll needs.
type ProcessOptions struct {
	Store            objectstore.Adapter
	Loader           warehouse.Loader
	Upload           UploadFunc
	Prefixes         Prefixes
	CleanupOnSuccess bool
	MaxRetries       int
	// Pause is the 1-2s gap inserted between processed entries (spec §4.H)
	// to avoid bursting the warehouse. Tests set this to 0.
	Pause time.Duration
	// Broker receives EventOrphanDiscovered for each orphan found this run.
	// Nil is safe; publishing is then a no-op.
	Broker *alerts.Broker
}

// ProcessSummary is the outcome of one ProcessAll run.
type ProcessSummary struct {
	Processed int
	Failed    int
	Results   []EntryResult
}

// EntryResult reports the outcome for one registry entry or orphan.
type EntryResult struct {
	ID         string
	ObjectName string
	OK         bool
	Terminal   bool
	Error      string
}

// ProcessAll runs registered entries first, then orphan discovery (spec
// §4.H), pausing briefly between entries.
func (r *Registry) ProcessAll(ctx context.Context, opts ProcessOptions) (ProcessSummary, error) {
	logger := log.WithComponent("recovery")
	var summary ProcessSummary

	pending, err := r.ListPending()
	if err != nil {
		return summary, err
	}
	for i, entry := range pending {
		res := r.processEntry(ctx, entry, opts)
		summary.Results = append(summary.Results, res)
		if res.OK {
			summary.Processed++
		} else {
			summary.Failed++
		}
		if i < len(pending)-1 && opts.Pause > 0 {
			time.Sleep(opts.Pause)
		}
	}

	orphans, err := r.FindOrphans(ctx, opts.Store, opts.Prefixes)
	if err != nil {
		logger.Warn().Err(err).Msg("orphan discovery failed")
		return summary, nil
	}
	for i, orphan := range orphans {
		if opts.Broker != nil {
			opts.Broker.Publish(&alerts.Event{
				Type:    alerts.EventOrphanDiscovered,
				Message: fmt.Sprintf("orphan object %s discovered with no registry entry", orphan.Info.Name),
			})
		}
		res := r.processOrphan(ctx, orphan, opts)
		summary.Results = append(summary.Results, res)
		if res.OK {
			summary.Processed++
		} else {
			summary.Failed++
		}
		if i < len(orphans)-1 && opts.Pause > 0 {
			time.Sleep(opts.Pause)
		}
	}

	return summary, nil
}

func (r *Registry) processEntry(ctx context.Context, entry Entry, opts ProcessOptions) EntryResult {
	logger := log.WithComponent("recovery")

	entry.Status = StatusProcessing
	if err := fsutil.AtomicWriteJSON(r.path(entry.ID), entry); err != nil {
		logger.Error().Err(err).Str("id", entry.ID).Msg("failed to mark entry processing")
	}

	objects, err := opts.Store.ListByPrefix(ctx, entry.ObjectName)
	objectExists := err == nil
	if objectExists {
		found := false
		for _, o := range objects {
			if o.Name == entry.ObjectName {
				found = true
				break
			}
		}
		objectExists = found
	}

	var loadErr error
	var result Result

	switch {
	case objectExists:
		loadErr, result = r.load(ctx, entry.ObjectURI, entry.Kind, entry.Metadata, opts.Loader)
	case len(entry.OriginalRecords) > 0:
		payload := strings.Join(entry.OriginalRecords, "\n")
		ok, uri, uerr := opts.Upload(payload, entry.ObjectName, entry.Metadata)
		if uerr != nil || !ok {
			loadErr = fmt.Errorf("re-upload failed: %w", uerr)
		} else {
			entry.ObjectURI = uri
			loadErr, result = r.load(ctx, uri, entry.Kind, entry.Metadata, opts.Loader)
		}
	default:
		loadErr = fmt.Errorf("object %s missing and no originalRecords to fall back to", entry.ObjectName)
	}

	if loadErr == nil {
		now := time.Now().UTC()
		entry.Status = StatusCompleted
		entry.ProcessedAt = &now
		entry.Result = &result
		if werr := fsutil.AtomicWriteJSON(r.path(entry.ID), entry); werr != nil {
			logger.Error().Err(werr).Str("id", entry.ID).Msg("failed to mark entry completed")
		}
		if opts.CleanupOnSuccess {
			if err := opts.Store.Delete(ctx, entry.ObjectName); err != nil {
				logger.Warn().Err(err).Str("object", entry.ObjectName).Msg("cleanup delete failed")
			} else {
				_ = r.forgetKnown(entry.ObjectName)
			}
		}
		return EntryResult{ID: entry.ID, ObjectName: entry.ObjectName, OK: true}
	}

	entry.RetryCount++
	entry.LastError = loadErr.Error()
	if entry.RetryCount > entry.MaxRetries {
		entry.Status = StatusFailed
	} else {
		entry.Status = StatusPending
	}
	if werr := fsutil.AtomicWriteJSON(r.path(entry.ID), entry); werr != nil {
		logger.Error().Err(werr).Str("id", entry.ID).Msg("failed to mark entry retry result")
	}
	return EntryResult{ID: entry.ID, ObjectName: entry.ObjectName, OK: false, Terminal: entry.Status == StatusFailed, Error: entry.LastError}
}

func (r *Registry) processOrphan(ctx context.Context, orphan Orphan, opts ProcessOptions) EntryResult {
	logger := log.WithComponent("recovery")
	name := orphan.Info.Name

	loadErr, result := r.load(ctx, orphan.Info.URI, orphan.Kind, orphan.Info.Metadata, opts.Loader)
	if loadErr == nil {
		if opts.CleanupOnSuccess {
			if err := opts.Store.Delete(ctx, name); err != nil {
				logger.Warn().Err(err).Str("object", name).Msg("orphan cleanup delete failed")
			}
		}
		_ = result
		return EntryResult{ObjectName: name, OK: true}
	}

	// Bring the orphan under the registry's bounded-retry discipline rather
	// than rediscovering and retrying it unboundedly every tick.
	if _, err := r.Register(orphan.Kind, name, orphan.Info.URI, orphan.Info.Metadata, nil, opts.MaxRetries); err != nil {
		logger.Error().Err(err).Str("object", name).Msg("failed to register orphan after failed load")
	}
	return EntryResult{ObjectName: name, OK: false, Error: loadErr.Error()}
}

func (r *Registry) load(ctx context.Context, uri string, kind record.Kind, metadata map[string]string, loader warehouse.Loader) (error, Result) {
	md := map[string]string{}
	for k, v := range metadata {
		md[k] = v
	}
	if md["jobId"] == "" {
		md["jobId"] = idutil.JobID(string(kind), md["processingId"])
	}

	res, err := loader.LoadFromURI(ctx, uri, kind, md)
	if err != nil {
		return err, Result{}
	}
	if !res.OK {
		if res.Error != nil {
			return res.Error, Result{}
		}
		return fmt.Errorf("load %s reported not-ok with no error detail", uri), Result{}
	}
	return nil, Result{JobID: res.JobID, RowsWritten: res.RowsWritten, BytesRead: res.BytesRead}
}

// Delete removes a registry entry's JSON file. It intentionally does not
// forget the object from the known-objects index: a terminally failed
// entry whose retention has expired must not resurface as an "orphan" and
// be retried forever (see DESIGN.md).
func (r *Registry) Delete(id string) error {
	if err := os.Remove(r.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete registry entry %s: %w", id, err)
	}
	return nil
}

// CleanupTerminal purges completed entries older than retention and failed
// (terminal) entries older than retention*7 (spec §9 Open Question,
// resolved).
func (r *Registry) CleanupTerminal(completedRetention, failedRetention time.Duration) (int, error) {
	files, err := filepath.Glob(filepath.Join(r.dir, "gcs_recovery_*.json"))
	if err != nil {
		return 0, fmt.Errorf("list registry: %w", err)
	}

	now := time.Now()
	removed := 0
	for _, f := range files {
		var e Entry
		if err := fsutil.ReadJSON(f, &e); err != nil {
			continue
		}
		var cutoff time.Time
		switch e.Status {
		case StatusCompleted:
			cutoff = now.Add(-completedRetention)
		case StatusFailed:
			cutoff = now.Add(-failedRetention)
		default:
			continue
		}
		if e.CreatedAt.Before(cutoff) {
			if err := os.Remove(f); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
