package recovery

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luis4nge1/geo-ingest/pkg/objectstore"
	"github.com/luis4nge1/geo-ingest/pkg/record"
	"github.com/luis4nge1/geo-ingest/pkg/warehouse"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string]objectstore.ObjectInfo
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string]objectstore.ObjectInfo)}
}

func (f *fakeStore) put(name string, metadata map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[name] = objectstore.ObjectInfo{Name: name, URI: "file:///tmp/" + name, Metadata: metadata}
}

func (f *fakeStore) UploadNDJSON(ctx context.Context, payload string, objectName string, metadata map[string]string) (objectstore.UploadResult, error) {
	f.put(objectName, metadata)
	return objectstore.UploadResult{OK: true, URI: "file:///tmp/" + objectName}, nil
}

func (f *fakeStore) ListByPrefix(ctx context.Context, prefix string) ([]objectstore.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []objectstore.ObjectInfo
	for name, info := range f.objects {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			out = append(out, info)
		}
	}
	return out, nil
}

func (f *fakeStore) Delete(ctx context.Context, objectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectName)
	f.deleted = append(f.deleted, objectName)
	return nil
}

func (f *fakeStore) Status(ctx context.Context) error { return nil }

type fakeLoader struct {
	mu        sync.Mutex
	failURIs  map[string]bool
	loadCalls int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{failURIs: make(map[string]bool)}
}

func (f *fakeLoader) LoadFromURI(ctx context.Context, uri string, kind record.Kind, metadata map[string]string) (warehouse.LoadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadCalls++
	if f.failURIs[uri] {
		return warehouse.LoadResult{OK: false, JobID: metadata["jobId"]}, assertErr("load failed")
	}
	return warehouse.LoadResult{OK: true, JobID: metadata["jobId"], RowsWritten: 1}, nil
}

func (f *fakeLoader) JobStatus(ctx context.Context, jobID string) (warehouse.JobStatus, error) {
	return warehouse.JobStatus{State: warehouse.StateDone}, nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegisterAndListPending(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Register(record.KindGPS, "gps-data/a.json", "file:///tmp/a.json", map[string]string{"processingId": "p1"}, []string{"r1"}, 5)
	require.NoError(t, err)

	pending, err := r.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "gps-data/a.json", pending[0].ObjectName)
	assert.Equal(t, []string{"r1"}, pending[0].OriginalRecords)
}

// Warehouse outage then recovery: registry entry created with
// originalRecords populated; object remains; next tick it completes and
// cleanup-on-success deletes the object.
func TestProcessAllRetriesThenSucceeds(t *testing.T) {
	r := newTestRegistry(t)
	store := newFakeStore()
	loader := newFakeLoader()

	store.put("gps-data/a.json", map[string]string{"processingId": "p1"})
	_, err := r.Register(record.KindGPS, "gps-data/a.json", "file:///tmp/gps-data/a.json", map[string]string{"processingId": "p1"}, []string{"r1"}, 5)
	require.NoError(t, err)

	summary, err := r.ProcessAll(context.Background(), ProcessOptions{
		Store: store, Loader: loader, Upload: fakeUpload(store),
		Prefixes: DefaultPrefixes(), CleanupOnSuccess: true, MaxRetries: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	pending, err := r.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Contains(t, store.deleted, "gps-data/a.json")
}

func TestProcessAllFallsBackToOriginalRecordsWhenObjectMissing(t *testing.T) {
	r := newTestRegistry(t)
	store := newFakeStore()
	loader := newFakeLoader()

	_, err := r.Register(record.KindGPS, "gps-data/missing.json", "file:///tmp/gps-data/missing.json", map[string]string{"processingId": "p1"}, []string{"r1"}, 5)
	require.NoError(t, err)

	summary, err := r.ProcessAll(context.Background(), ProcessOptions{
		Store: store, Loader: loader, Upload: fakeUpload(store),
		Prefixes: DefaultPrefixes(), CleanupOnSuccess: true, MaxRetries: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed, "should re-upload originalRecords and succeed")
}

// Orphan pickup: a file with no registry entry is discovered, loaded,
// and deleted on success.
func TestFindOrphansDiscoversUnregisteredFile(t *testing.T) {
	r := newTestRegistry(t)
	store := newFakeStore()
	store.put("gps-data/gps_manual_abc.json", map[string]string{})

	orphans, err := r.FindOrphans(context.Background(), store, DefaultPrefixes())
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "gps-data/gps_manual_abc.json", orphans[0].Info.Name)
}

func TestProcessAllLoadsOrphanAndCleansUp(t *testing.T) {
	r := newTestRegistry(t)
	store := newFakeStore()
	loader := newFakeLoader()
	store.put("mobile-data/orphan.json", map[string]string{})

	summary, err := r.ProcessAll(context.Background(), ProcessOptions{
		Store: store, Loader: loader, Upload: fakeUpload(store),
		Prefixes: DefaultPrefixes(), CleanupOnSuccess: true, MaxRetries: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Contains(t, store.deleted, "mobile-data/orphan.json")
}

func TestProcessAllRegistersOrphanAfterFailedLoad(t *testing.T) {
	r := newTestRegistry(t)
	store := newFakeStore()
	loader := newFakeLoader()
	store.put("gps-data/bad.json", map[string]string{})
	loader.failURIs["file:///tmp/gps-data/bad.json"] = true

	_, err := r.ProcessAll(context.Background(), ProcessOptions{
		Store: store, Loader: loader, Upload: fakeUpload(store),
		Prefixes: DefaultPrefixes(), CleanupOnSuccess: true, MaxRetries: 5,
	})
	require.NoError(t, err)

	pending, err := r.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1, "failed orphan load should be registered for bounded retry")
	assert.Equal(t, "gps-data/bad.json", pending[0].ObjectName)
}

func fakeUpload(store *fakeStore) UploadFunc {
	return func(payload string, objectName string, metadata map[string]string) (bool, string, error) {
		res, err := store.UploadNDJSON(context.Background(), payload, objectName, metadata)
		return res.OK, res.URI, err
	}
}
