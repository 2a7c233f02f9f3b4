// Package orchestrator implements the Pipeline Orchestrator (spec §4.I):
// the fixed per-tick sequence of local-backup retries, recovery-registry
// retries, one atomic drain, and parallel GPS/Mobile dispatch. Grounded on
// the reconciler's single-pass, metrics-timed cycle structure.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/luis4nge1/geo-ingest/pkg/alerts"
	"github.com/luis4nge1/geo-ingest/pkg/drainer"
	"github.com/luis4nge1/geo-ingest/pkg/idutil"
	"github.com/luis4nge1/geo-ingest/pkg/localbackup"
	"github.com/luis4nge1/geo-ingest/pkg/log"
	"github.com/luis4nge1/geo-ingest/pkg/metrics"
	"github.com/luis4nge1/geo-ingest/pkg/objectstore"
	"github.com/luis4nge1/geo-ingest/pkg/record"
	"github.com/luis4nge1/geo-ingest/pkg/recovery"
	"github.com/luis4nge1/geo-ingest/pkg/validator"
	"github.com/luis4nge1/geo-ingest/pkg/warehouse"
)

// Options configures one Orchestrator.
type Options struct {
	MaxRetries       int
	CleanupOnSuccess bool
	RecoveryPause    time.Duration
	Prefixes         recovery.Prefixes
}

// DefaultOptions mirrors the documented defaults (spec §6).
func DefaultOptions() Options {
	return Options{
		MaxRetries:       5,
		CleanupOnSuccess: true,
		RecoveryPause:    1500 * time.Millisecond,
		Prefixes:         recovery.DefaultPrefixes(),
	}
}

// Orchestrator wires every collaborator one tick touches.
type Orchestrator struct {
	drainer     *drainer.Drainer
	objectStore objectstore.Adapter
	warehouse   warehouse.Loader
	backups     *localbackup.Store
	registry    *recovery.Registry
	broker      *alerts.Broker
	opts        Options
}

// New returns an Orchestrator ready to run ticks.
func New(d *drainer.Drainer, store objectstore.Adapter, loader warehouse.Loader, backups *localbackup.Store, registry *recovery.Registry, broker *alerts.Broker, opts Options) *Orchestrator {
	return &Orchestrator{
		drainer:     d,
		objectStore: store,
		warehouse:   loader,
		backups:     backups,
		registry:    registry,
		broker:      broker,
		opts:        opts,
	}
}

// TickSummary reports what one Tick accomplished.
type TickSummary struct {
	BackupsRetried    int
	BackupsFailed     int
	RegistryProcessed int
	RegistryFailed    int
	GPSExtracted      int
	GPSLoaded         int
	GPSFailed         int
	MobileExtracted   int
	MobileLoaded      int
	MobileFailed      int
	MobileSkipped     bool
	Duration          time.Duration
}

// Tick runs one full pipeline cycle in the order spec §4.I mandates:
// local backups, then the recovery registry, then one atomic drain, then
// parallel dispatch of whatever the drain produced.
func (o *Orchestrator) Tick(ctx context.Context) (TickSummary, error) {
	logger := log.WithComponent("orchestrator")
	timer := metrics.NewTimer()
	var summary TickSummary
	defer func() {
		summary.Duration = timer.Duration()
		metrics.TickDuration.Observe(summary.Duration.Seconds())
	}()

	o.retryBackups(ctx, &summary)
	o.retryRegistry(ctx, &summary)

	drainTimer := metrics.NewTimer()
	drained, err := o.drainer.ExtractAll(ctx)
	drainTimer.ObserveDuration(metrics.ExtractionDuration)
	if err != nil {
		return summary, fmt.Errorf("extract: %w", err)
	}
	summary.MobileSkipped = drained.MobileSkipped

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.dispatch(ctx, record.KindGPS, drained.GPS.Records, &summary.GPSExtracted, &summary.GPSLoaded, &summary.GPSFailed)
	}()
	if !drained.MobileSkipped {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.dispatch(ctx, record.KindMobile, drained.Mobile.Records, &summary.MobileExtracted, &summary.MobileLoaded, &summary.MobileFailed)
		}()
	}
	wg.Wait()

	logger.Info().
		Int("gps_loaded", summary.GPSLoaded).Int("gps_failed", summary.GPSFailed).
		Int("mobile_loaded", summary.MobileLoaded).Int("mobile_failed", summary.MobileFailed).
		Int("backups_retried", summary.BackupsRetried).Int("registry_processed", summary.RegistryProcessed).
		Msg("tick complete")

	return summary, nil
}

func (o *Orchestrator) retryBackups(ctx context.Context, summary *TickSummary) {
	logger := log.WithComponent("orchestrator")
	pending, err := o.backups.ListPending()
	if err != nil {
		logger.Error().Err(err).Msg("list pending backups failed")
		return
	}
	metrics.BackupPendingGauge.Set(float64(len(pending)))

	for _, entry := range pending {
		objectName := objectNameFor(o.opts.Prefixes, entry.Kind, entry.SourceMetadata["processingId"])
		res, err := o.backups.Process(entry, objectName, o.uploadFunc())
		if err != nil {
			logger.Error().Err(err).Str("id", entry.ID).Msg("process backup entry failed")
			continue
		}
		metrics.BackupRetriesTotal.Inc()
		if !res.OK {
			summary.BackupsFailed++
			if !res.WillRetry && o.broker != nil {
				o.broker.Publish(&alerts.Event{Type: alerts.EventBackupRetriesExhausted, Message: fmt.Sprintf("backup entry %s exhausted retries: %s", entry.ID, res.Error)})
			}
			continue
		}
		summary.BackupsRetried++

		objs, lerr := o.objectStore.ListByPrefix(ctx, objectName)
		if lerr != nil || len(objs) == 0 {
			logger.Error().Str("object", objectName).Msg("uploaded backup object not found for immediate load")
			continue
		}
		o.loadAfterUpload(ctx, entry.Kind, objs[0].URI, objectName, entry.SourceMetadata, entry.Records)
		_ = o.backups.Delete(entry.ID)
	}
}

func (o *Orchestrator) retryRegistry(ctx context.Context, summary *TickSummary) {
	logger := log.WithComponent("orchestrator")
	result, err := o.registry.ProcessAll(ctx, recovery.ProcessOptions{
		Store:            o.objectStore,
		Loader:           o.warehouse,
		Upload:           o.uploadFunc(),
		Prefixes:         o.opts.Prefixes,
		CleanupOnSuccess: o.opts.CleanupOnSuccess,
		MaxRetries:       o.opts.MaxRetries,
		Pause:            o.opts.RecoveryPause,
		Broker:           o.broker,
	})
	if err != nil {
		logger.Error().Err(err).Msg("recovery registry processing failed")
		return
	}
	summary.RegistryProcessed = result.Processed
	summary.RegistryFailed = result.Failed
	metrics.RegistryRetriesTotal.Add(float64(len(result.Results)))
	for _, r := range result.Results {
		if !r.OK && r.Terminal && o.broker != nil {
			o.broker.Publish(&alerts.Event{Type: alerts.EventRegistryRetriesExhausted, Message: fmt.Sprintf("registry entry for %s exhausted retries: %s", r.ObjectName, r.Error)})
		}
	}

	pending, err := o.registry.ListPending()
	if err == nil {
		metrics.RegistryPendingGauge.Set(float64(len(pending)))
	}
}

// dispatch validates, projects, uploads and loads one kind's raw batch,
// routing any failure to the Local Backup Store or Recovery Registry.
func (o *Orchestrator) dispatch(ctx context.Context, kind record.Kind, raw []string, extracted, loaded, failed *int) {
	*extracted = len(raw)
	if len(raw) == 0 {
		return
	}

	logger := log.WithComponent("orchestrator")
	metrics.RecordsExtractedTotal.WithLabelValues(string(kind)).Add(float64(len(raw)))

	var lines []string
	switch kind {
	case record.KindGPS:
		res := validator.ValidateGPS(raw)
		metrics.RecordsValidTotal.WithLabelValues(string(kind)).Add(float64(res.ValidCount))
		metrics.RecordsInvalidTotal.WithLabelValues(string(kind)).Add(float64(res.InvalidCount))
		lines = projectGPS(res.GPSValid)
	case record.KindMobile:
		res := validator.ValidateMobile(raw)
		metrics.RecordsValidTotal.WithLabelValues(string(kind)).Add(float64(res.ValidCount))
		metrics.RecordsInvalidTotal.WithLabelValues(string(kind)).Add(float64(res.InvalidCount))
		lines = projectMobile(res.MobileValid)
	}
	if len(lines) == 0 {
		return
	}

	processingID := record.NewProcessingID(kind, time.Now(), idutil.RandSuffix(3))
	objectName := objectNameFor(o.opts.Prefixes, kind, processingID)
	metadata := map[string]string{"processingId": processingID, "kind": string(kind)}
	payload := strings.Join(lines, "\n")

	res, err := o.objectStore.UploadNDJSON(ctx, payload, objectName, metadata)
	if err != nil || !res.OK {
		metrics.UploadsTotal.WithLabelValues(string(kind), "failed").Inc()
		logger.Warn().Err(err).Str("processing_id", processingID).Msg("upload failed, saving to local backup store")
		if _, serr := o.backups.SaveBatch(kind, lines, metadata, o.opts.MaxRetries); serr != nil {
			logger.Error().Err(serr).Str("processing_id", processingID).Msg("failed to persist local backup entry")
		}
		*failed = len(lines)
		return
	}
	metrics.UploadsTotal.WithLabelValues(string(kind), "ok").Inc()

	ok := o.loadAfterUpload(ctx, kind, res.URI, objectName, metadata, lines)
	if ok {
		*loaded = len(lines)
	} else {
		*failed = len(lines)
	}
}

// loadAfterUpload submits the warehouse load job for a freshly staged
// object. On failure it registers a Recovery Registry entry with
// originalRecords always populated (spec §9 Open Question, resolved), so a
// disappeared or corrupted staged object can still be replayed.
func (o *Orchestrator) loadAfterUpload(ctx context.Context, kind record.Kind, uri, objectName string, metadata map[string]string, originalRecords []string) bool {
	logger := log.WithComponent("orchestrator")
	jobID := idutil.JobID(string(kind), metadata["processingId"])
	md := map[string]string{"jobId": jobID}
	for k, v := range metadata {
		md[k] = v
	}

	loadTimer := metrics.NewTimer()
	res, err := o.warehouse.LoadFromURI(ctx, uri, kind, md)
	loadTimer.ObserveDurationVec(metrics.LoadDuration, string(kind))

	if err == nil && res.OK {
		metrics.LoadsTotal.WithLabelValues(string(kind), "ok").Inc()
		if o.opts.CleanupOnSuccess {
			if derr := o.objectStore.Delete(ctx, objectName); derr != nil {
				logger.Warn().Err(derr).Str("object", objectName).Msg("post-load cleanup delete failed")
			}
		}
		return true
	}

	metrics.LoadsTotal.WithLabelValues(string(kind), "failed").Inc()
	logger.Warn().Err(err).Str("object", objectName).Msg("warehouse load failed, registering for recovery")
	if _, rerr := o.registry.Register(kind, objectName, uri, metadata, originalRecords, o.opts.MaxRetries); rerr != nil {
		logger.Error().Err(rerr).Str("object", objectName).Msg("failed to register recovery entry")
	}
	return false
}

func (o *Orchestrator) uploadFunc() localbackup.UploadFunc {
	return func(payload string, objectName string, metadata map[string]string) (bool, string, error) {
		res, err := o.objectStore.UploadNDJSON(context.Background(), payload, objectName, metadata)
		if err != nil {
			return false, "", err
		}
		return res.OK, res.URI, nil
	}
}

func objectNameFor(prefixes recovery.Prefixes, kind record.Kind, processingID string) string {
	prefix := prefixes.GPS
	if kind == record.KindMobile {
		prefix = prefixes.Mobile
	}
	return fmt.Sprintf("%s%s.json", prefix, processingID)
}

func projectGPS(rows []record.GPS) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		b, err := json.Marshal(r)
		if err != nil {
			continue
		}
		out = append(out, string(b))
	}
	return out
}

func projectMobile(rows []record.Mobile) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		b, err := json.Marshal(r)
		if err != nil {
			continue
		}
		out = append(out, string(b))
	}
	return out
}
