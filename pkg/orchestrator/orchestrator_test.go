package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luis4nge1/geo-ingest/pkg/alerts"
	"github.com/luis4nge1/geo-ingest/pkg/drainer"
	"github.com/luis4nge1/geo-ingest/pkg/localbackup"
	"github.com/luis4nge1/geo-ingest/pkg/objectstore"
	"github.com/luis4nge1/geo-ingest/pkg/queuestore"
	"github.com/luis4nge1/geo-ingest/pkg/recovery"
	"github.com/luis4nge1/geo-ingest/pkg/warehouse"
)

type harness struct {
	queue    queuestore.Store
	orch     *Orchestrator
	objStore *objectstore.SimBackend
	loader   *warehouse.SimLoader
	backups  *localbackup.Store
	registry *recovery.Registry
	dir      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	queue := queuestore.NewFromAddr(mr.Addr(), "", 0)
	dir := t.TempDir()

	objStore, err := objectstore.NewSimBackend(filepath.Join(dir, "objects"))
	require.NoError(t, err)
	loader, err := warehouse.NewSimLoader(filepath.Join(dir, "warehouse"))
	require.NoError(t, err)
	backups, err := localbackup.New(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	registry, err := recovery.New(filepath.Join(dir, "registry"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })

	broker := alerts.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	d := drainer.New(queue, drainer.DefaultKeys())
	opts := DefaultOptions()
	opts.RecoveryPause = 0
	orch := New(d, objStore, loader, backups, registry, broker, opts)

	return &harness{queue: queue, orch: orch, objStore: objStore, loader: loader, backups: backups, registry: registry, dir: dir}
}

// Happy GPS tick, two records: both land in the warehouse, queue
// cleared, no backup or registry entries created.
func TestTickHappyPathGPS(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	keys := drainer.DefaultKeys()

	require.NoError(t, h.queue.RPushMany(ctx, keys.GPS, []string{
		`{"deviceId":"dev-1","lat":1,"lng":1,"timestamp":"2026-07-30T12:00:00Z"}`,
		`{"deviceId":"dev-2","lat":2,"lng":2,"timestamp":"2026-07-30T12:01:00Z"}`,
	}))

	summary, err := h.orch.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.GPSExtracted)
	assert.Equal(t, 2, summary.GPSLoaded)
	assert.Equal(t, 0, summary.GPSFailed)

	n, err := h.queue.Len(ctx, keys.GPS)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	data, err := os.ReadFile(filepath.Join(h.dir, "warehouse", "gps_records.ndjson"))
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(string(data)))

	pending, err := h.backups.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// Object-store outage: upload fails for every record, so the batch is
// persisted to the Local Backup Store instead of being lost, and no
// warehouse load is attempted.
func TestTickFallsBackToLocalBackupOnUploadFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	keys := drainer.DefaultKeys()

	require.NoError(t, h.queue.RPushMany(ctx, keys.GPS, []string{
		`{"deviceId":"dev-1","lat":1,"lng":1,"timestamp":"2026-07-30T12:00:00Z"}`,
	}))

	failing := &failingAdapter{Adapter: h.objStore}
	h.orch.objectStore = failing

	summary, err := h.orch.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.GPSExtracted)
	assert.Equal(t, 0, summary.GPSLoaded)
	assert.Equal(t, 1, summary.GPSFailed)

	pending, err := h.backups.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].RetryCount)
	assert.Len(t, pending[0].Records, 1)
}

func TestTickEmptyQueuesNoOp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	summary, err := h.orch.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.GPSExtracted)
	assert.Equal(t, 0, summary.MobileExtracted)
}

// failingAdapter wraps a working Adapter and forces every upload to fail,
// simulating an object-store outage.
type failingAdapter struct {
	objectstore.Adapter
}

func (f *failingAdapter) UploadNDJSON(ctx context.Context, payload, objectName string, metadata map[string]string) (objectstore.UploadResult, error) {
	return objectstore.UploadResult{}, errors.New("simulated object store outage")
}

func countLines(s string) int {
	n := 0
	for _, c := range s {
		if c == '\n' {
			n++
		}
	}
	return n
}
