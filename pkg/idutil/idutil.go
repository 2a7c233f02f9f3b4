// Package idutil generates the short random suffixes and derived ids used
// throughout the pipeline: processingId, warehouse jobId, backup/registry
// entry ids, and lock tokens.
package idutil

import (
	"crypto/rand"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandSuffix returns an n-character lowercase alphanumeric string, used for
// the "<rand3>" suffix on processingId, object names and job ids. It is not
// cryptographically meaningful, only collision-avoidant.
func RandSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is effectively unrecoverable on any real
		// platform; fall back to a fixed low-entropy suffix rather than
		// panicking the tick.
		for i := range buf {
			buf[i] = alphabet[0]
		}
		return string(buf)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out)
}

// NewEntryID returns a new durable-store entry id (Local Backup / Recovery
// Registry), grounded on the teacher's uuid.New().String() id pattern.
func NewEntryID() string {
	return uuid.New().String()
}

// JobID derives the warehouse load job id from a batch's kind and
// processingId, per spec §3 invariant 4: "load_<kind>_<processingId>_<rand3>".
//
// The "<rand3>" suffix is a hash of (kind, processingId) rather than a
// fresh random draw: processingId is immutable for the life of a batch
// (spec §3), so every retry of the same batch's load must derive the exact
// same jobId for the warehouse's dedup-by-job-id behavior (spec §9 Open
// Question / Non-goals) to actually suppress duplicate submissions.
func JobID(kind string, processingID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(kind + ":" + processingID))
	sum := h.Sum32()
	suffix := make([]byte, 3)
	for i := range suffix {
		suffix[i] = alphabet[int(sum>>(uint(i)*5))%len(alphabet)]
	}
	return fmt.Sprintf("load_%s_%s_%s", kind, processingID, string(suffix))
}
