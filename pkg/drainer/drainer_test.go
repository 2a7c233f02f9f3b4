package drainer

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/luis4nge1/geo-ingest/pkg/queuestore"
)

func newTestDrainer(t *testing.T) (*Drainer, queuestore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := queuestore.NewFromAddr(mr.Addr(), "", 0)
	return New(store, DefaultKeys()), store
}

func TestExtractAllBothQueuesPopulated(t *testing.T) {
	ctx := context.Background()
	d, store := newTestDrainer(t)
	keys := DefaultKeys()

	require.NoError(t, store.RPushMany(ctx, keys.GPS, []string{"g1", "g2"}))
	require.NoError(t, store.RPushMany(ctx, keys.Mobile, []string{"m1"}))

	res, err := d.ExtractAll(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"g1", "g2"}, res.GPS.Records)
	require.Equal(t, []string{"m1"}, res.Mobile.Records)
	require.False(t, res.MobileSkipped)

	n, err := store.Len(ctx, keys.GPS)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestExtractAllEmptyQueuesReturnsNoRecords(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDrainer(t)

	res, err := d.ExtractAll(ctx)
	require.NoError(t, err)
	require.Empty(t, res.GPS.Records)
	require.Empty(t, res.Mobile.Records)
	require.False(t, res.MobileSkipped)
}

func TestExtractAllMobileOnlyQueue(t *testing.T) {
	ctx := context.Background()
	d, store := newTestDrainer(t)
	keys := DefaultKeys()

	require.NoError(t, store.RPushMany(ctx, keys.Mobile, []string{"m1", "m2"}))

	res, err := d.ExtractAll(ctx)
	require.NoError(t, err)
	require.Empty(t, res.GPS.Records)
	require.Equal(t, []string{"m1", "m2"}, res.Mobile.Records)
}
