// Package health implements the aggregate health function (spec §7): a
// single pass over the pipeline's required collaborators and durable-store
// backlog age, reduced to one Healthy/unhealthy verdict plus reasons.
package health

import (
	"context"
	"time"

	"github.com/luis4nge1/geo-ingest/pkg/drainer"
	"github.com/luis4nge1/geo-ingest/pkg/queuestore"
	"github.com/luis4nge1/geo-ingest/pkg/warehouse"
)

// Result is the outcome of one Check call.
type Result struct {
	Healthy   bool
	Reasons   []string
	CheckedAt time.Time
}

// Dependencies are the collaborators Check inspects. A nil Queue,
// ObjectStore, Warehouse, or Drainer is itself an unhealthy condition: the
// spec treats an uninitialized client the same as a failed ping (spec §7).
type Dependencies struct {
	Queue        queuestore.Store
	ObjectStore  statusChecker
	Warehouse    warehouse.Loader
	Drainer      *drainer.Drainer
	OldestBackup func() (time.Time, bool, error)
	Retention    time.Duration
}

type statusChecker interface {
	Status(ctx context.Context) error
}

// Check runs every condition spec §7 names and returns the first-class
// verdict: healthy only if every condition passes.
func Check(ctx context.Context, deps Dependencies) Result {
	res := Result{Healthy: true, CheckedAt: time.Now()}

	if deps.Queue == nil {
		res.unhealthy("queue store not initialized")
	} else if err := deps.Queue.Ping(ctx); err != nil {
		res.unhealthy("queue store ping failed: " + err.Error())
	}

	if deps.ObjectStore == nil {
		res.unhealthy("object store adapter not initialized")
	} else if err := deps.ObjectStore.Status(ctx); err != nil {
		res.unhealthy("object store status check failed: " + err.Error())
	}

	if deps.Warehouse == nil {
		res.unhealthy("warehouse loader not initialized")
	}

	if deps.Drainer == nil {
		res.unhealthy("atomic processor not initialized")
	}

	if deps.OldestBackup != nil && deps.Retention > 0 {
		oldest, ok, err := deps.OldestBackup()
		if err != nil {
			res.unhealthy("local backup store unreadable: " + err.Error())
		} else if ok {
			age := time.Since(oldest)
			if age > time.Duration(float64(deps.Retention)*0.8) {
				res.unhealthy("oldest pending local backup entry exceeds 80% of retention window")
			}
		}
	}

	return res
}

func (r *Result) unhealthy(reason string) {
	r.Healthy = false
	r.Reasons = append(r.Reasons, reason)
}
