package localbackup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luis4nge1/geo-ingest/pkg/record"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func alwaysFail(payload, objectName string, metadata map[string]string) (bool, string, error) {
	return false, "", assertErr
}

var assertErr = assertError("upload failed")

type assertError string

func (e assertError) Error() string { return string(e) }

func alwaysSucceed(payload, objectName string, metadata map[string]string) (bool, string, error) {
	return true, "file:///tmp/" + objectName, nil
}

// Object-store outage: one Local Backup file created, pending,
// retryCount=0, records.length=3.
func TestSaveBatchCreatesPendingEntry(t *testing.T) {
	s := newTestStore(t)
	entry, err := s.SaveBatch(record.KindGPS, []string{"a", "b", "c"}, map[string]string{"processingId": "p1"}, 5)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, entry.Status)
	assert.Equal(t, 0, entry.RetryCount)
	assert.Len(t, entry.Records, 3)

	pending, err := s.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestProcessSuccessMarksCompleted(t *testing.T) {
	s := newTestStore(t)
	entry, err := s.SaveBatch(record.KindGPS, []string{"a"}, nil, 5)
	require.NoError(t, err)

	res, err := s.Process(entry, "gps-data/x.json", alwaysSucceed)
	require.NoError(t, err)
	assert.True(t, res.OK)

	pending, err := s.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// Backup retry bound: entry transitions to failed after exactly
// maxRetries+1 unsuccessful attempts, never earlier, never later.
func TestProcessFailsAfterExactlyMaxRetriesPlusOne(t *testing.T) {
	s := newTestStore(t)
	const maxRetries = 3
	entry, err := s.SaveBatch(record.KindGPS, []string{"a"}, nil, maxRetries)
	require.NoError(t, err)

	for attempt := 1; attempt <= maxRetries; attempt++ {
		res, err := s.Process(entry, "gps-data/x.json", alwaysFail)
		require.NoError(t, err)
		assert.False(t, res.OK)
		assert.True(t, res.WillRetry, "attempt %d should still be retryable", attempt)

		pending, err := s.ListPending()
		require.NoError(t, err)
		require.Len(t, pending, 1, "attempt %d should remain pending", attempt)
		entry = pending[0]
	}

	res, err := s.Process(entry, "gps-data/x.json", alwaysFail)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.False(t, res.WillRetry, "final attempt (maxRetries+1) must be terminal")

	pending, err := s.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending, "entry must leave the pending set once failed")
}

func TestCleanupCompletedPurgesOldEntries(t *testing.T) {
	s := newTestStore(t)
	entry, err := s.SaveBatch(record.KindGPS, []string{"a"}, nil, 1)
	require.NoError(t, err)
	_, err = s.Process(entry, "x", alwaysSucceed)
	require.NoError(t, err)

	n, err := s.CleanupCompleted(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOldestPendingReflectsEarliestEntry(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.OldestPending()
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.SaveBatch(record.KindGPS, []string{"a"}, nil, 5)
	require.NoError(t, err)

	_, ok, err = s.OldestPending()
	require.NoError(t, err)
	assert.True(t, ok)
}
