package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *SimBackend {
	t.Helper()
	b, err := NewSimBackend(t.TempDir())
	require.NoError(t, err)
	return b
}

func TestUploadAndListByPrefix(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	res, err := b.UploadNDJSON(ctx, `{"a":1}`, "gps-data/batch1.ndjson", map[string]string{"processingId": "p1"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.NotEmpty(t, res.URI)

	objs, err := b.ListByPrefix(ctx, "gps-data/")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "gps-data/batch1.ndjson", objs[0].Name)
	assert.Equal(t, "p1", objs[0].Metadata["processingId"])
}

func TestListByPrefixExcludesNonMatching(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	_, err := b.UploadNDJSON(ctx, "{}", "gps-data/a.ndjson", nil)
	require.NoError(t, err)
	_, err = b.UploadNDJSON(ctx, "{}", "mobile-data/b.ndjson", nil)
	require.NoError(t, err)

	objs, err := b.ListByPrefix(ctx, "gps-data/")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "gps-data/a.ndjson", objs[0].Name)
}

func TestDeleteRemovesObjectAndSidecar(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	_, err := b.UploadNDJSON(ctx, "{}", "gps-data/a.ndjson", nil)
	require.NoError(t, err)

	require.NoError(t, b.Delete(ctx, "gps-data/a.ndjson"))

	objs, err := b.ListByPrefix(ctx, "gps-data/")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestDeleteMissingObjectReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	err := b.Delete(ctx, "gps-data/missing.ndjson")
	require.Error(t, err)
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestUploadRejectsPathTraversal(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	_, err := b.UploadNDJSON(ctx, "{}", "../escape.ndjson", nil)
	require.Error(t, err)
	assert.Equal(t, CodeMalformed, CodeOf(err))
}

func TestStatusReportsUnavailableWhenRootMissing(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "exists")
	b, err := NewSimBackend(dir)
	require.NoError(t, err)
	require.NoError(t, b.Status(ctx))

	require.NoError(t, os.RemoveAll(dir))
	err = b.Status(ctx)
	require.Error(t, err)
	assert.Equal(t, CodeUnavailable, CodeOf(err))
}
