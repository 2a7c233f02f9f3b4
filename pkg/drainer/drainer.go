// Package drainer implements the atomic drain-and-clear of the two queue
// store keys (spec §4.C): the only component permitted to remove records
// from the queue store.
package drainer

import (
	"context"
	"fmt"
	"time"

	"github.com/luis4nge1/geo-ingest/pkg/log"
	"github.com/luis4nge1/geo-ingest/pkg/queuestore"
)

// Keys names the two well-known queue store keys (spec §6).
type Keys struct {
	GPS    string
	Mobile string
}

// DefaultKeys returns the documented default key names.
func DefaultKeys() Keys {
	return Keys{GPS: "gps:history:global", Mobile: "mobile:history:global"}
}

// RawBatch is the pre-validation result of draining one queue key: the raw
// JSON strings as they were stored, not yet parsed or validated.
type RawBatch struct {
	Kind    string
	Records []string
}

// Result is the joint outcome of draining both queues in one tick.
type Result struct {
	GPS          RawBatch
	Mobile       RawBatch
	MobileSkipped bool
	ExtractedAt  time.Time
	Duration     time.Duration
}

// Drainer coordinates the sequential, all-or-nothing drain of both queues.
type Drainer struct {
	store queuestore.Store
	keys  Keys
}

// New returns a Drainer bound to a queue store and key set.
func New(store queuestore.Store, keys Keys) *Drainer {
	return &Drainer{store: store, keys: keys}
}

// ExtractAll drains GPS then Mobile. If the GPS drain fails, Mobile is
// skipped entirely to avoid leaving the tick in a half-drained state
// (spec §4.C "Coordination").
func (d *Drainer) ExtractAll(ctx context.Context) (Result, error) {
	logger := log.WithComponent("drainer")
	start := time.Now()

	gps, err := d.drainOne(ctx, "gps", d.keys.GPS)
	if err != nil {
		return Result{ExtractedAt: start, Duration: time.Since(start)}, fmt.Errorf("drain gps: %w", err)
	}

	res := Result{GPS: gps, ExtractedAt: start}

	mobile, err := d.drainOne(ctx, "mobile", d.keys.Mobile)
	if err != nil {
		logger.Warn().Err(err).Msg("mobile drain failed after successful gps drain; skipping mobile this tick")
		res.MobileSkipped = true
		res.Duration = time.Since(start)
		return res, nil
	}
	res.Mobile = mobile
	res.Duration = time.Since(start)
	return res, nil
}

// drainOne drains a single key: skip entirely if empty, otherwise perform
// the atomic read-and-clear.
func (d *Drainer) drainOne(ctx context.Context, kind, key string) (RawBatch, error) {
	logger := log.WithComponent("drainer")

	n, err := d.store.Len(ctx, key)
	if err != nil {
		return RawBatch{Kind: kind}, fmt.Errorf("len %s: %w", key, err)
	}
	if n == 0 {
		return RawBatch{Kind: kind}, nil
	}

	records, err := d.store.DrainAtomic(ctx, key)
	if err != nil {
		return RawBatch{Kind: kind}, fmt.Errorf("drain atomic %s: %w", key, err)
	}

	// Informational only: the atomic read+delete closes the race the
	// non-atomic two-step version would have, so any records present here
	// were pushed strictly after this drain and belong to the next tick.
	if after, err := d.store.Len(ctx, key); err == nil && after > 0 {
		logger.Debug().Str("key", key).Int64("post_drain_len", after).
			Msg("producer pushed new records during drain; deferred to next tick")
	}

	return RawBatch{Kind: kind, Records: records}, nil
}
