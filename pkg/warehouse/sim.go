package warehouse

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/luis4nge1/geo-ingest/pkg/record"
)

// SimLoader is the local-disk simulation of the warehouse: it appends rows
// to one NDJSON file per kind under tableDir, mirroring WRITE_APPEND /
// CREATE_IF_NEEDED semantics. It is idempotent by jobId (spec Non-goals:
// "the warehouse loader is idempotent by job-id"): resubmitting a jobId
// that already completed returns the cached result without re-appending.
type SimLoader struct {
	tableDir string

	mu   sync.Mutex
	jobs map[string]jobRecord
}

type jobRecord struct {
	status JobStatus
	result LoadResult
}

// NewSimLoader roots per-kind table files under tableDir.
func NewSimLoader(tableDir string) (*SimLoader, error) {
	if err := os.MkdirAll(tableDir, 0o755); err != nil {
		return nil, fmt.Errorf("create warehouse table dir: %w", err)
	}
	return &SimLoader{tableDir: tableDir, jobs: make(map[string]jobRecord)}, nil
}

func (l *SimLoader) tablePath(kind record.Kind) string {
	name := "gps_records.ndjson"
	if kind == record.KindMobile {
		name = "mobile_records.ndjson"
	}
	return filepath.Join(l.tableDir, name)
}

// LoadFromURI reads the NDJSON object at uri (a file:// URI produced by
// objectstore.SimBackend) and appends each row to the kind's table file.
func (l *SimLoader) LoadFromURI(ctx context.Context, uri string, kind record.Kind, metadata map[string]string) (LoadResult, error) {
	jobID := metadata["jobId"]
	if jobID == "" {
		return LoadResult{}, fmt.Errorf("load %s: metadata missing jobId", uri)
	}

	l.mu.Lock()
	if existing, ok := l.jobs[jobID]; ok && existing.status.State == StateDone {
		l.mu.Unlock()
		return existing.result, nil
	}
	l.mu.Unlock()

	path := strings.TrimPrefix(uri, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		res := LoadResult{OK: false, JobID: jobID, Error: fmt.Errorf("read staged object: %w", err)}
		l.recordJob(jobID, JobStatus{State: StateError, Errors: []string{err.Error()}}, res)
		return res, err
	}

	rows, bytesRead, err := l.appendRows(kind, data)
	if err != nil {
		res := LoadResult{OK: false, JobID: jobID, Error: err}
		l.recordJob(jobID, JobStatus{State: StateError, Errors: []string{err.Error()}}, res)
		return res, err
	}

	res := LoadResult{OK: true, JobID: jobID, RowsWritten: rows, BytesRead: bytesRead}
	l.recordJob(jobID, JobStatus{State: StateDone}, res)
	return res, nil
}

func (l *SimLoader) appendRows(kind record.Kind, data []byte) (rows int64, bytesRead int64, err error) {
	f, err := os.OpenFile(l.tablePath(kind), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, 0, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var v map[string]any
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			return rows, bytesRead, fmt.Errorf("malformed ndjson row: %w", err)
		}
		if _, err := w.WriteString(line + "\n"); err != nil {
			return rows, bytesRead, fmt.Errorf("write table row: %w", err)
		}
		rows++
		bytesRead += int64(len(line))
	}
	if err := scanner.Err(); err != nil {
		return rows, bytesRead, fmt.Errorf("scan ndjson: %w", err)
	}
	return rows, bytesRead, w.Flush()
}

func (l *SimLoader) recordJob(jobID string, status JobStatus, result LoadResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs[jobID] = jobRecord{status: status, result: result}
}

// JobStatus reports the cached terminal state of a previously submitted job.
func (l *SimLoader) JobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	j, ok := l.jobs[jobID]
	if !ok {
		return JobStatus{}, fmt.Errorf("unknown job %q", jobID)
	}
	return j.status, nil
}
