package objectstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/luis4nge1/geo-ingest/pkg/fsutil"
)

// sidecar is the on-disk companion file holding the custom metadata a real
// object store would attach to the blob itself; local files have no such
// facility, so it is stored next to the payload.
type sidecar struct {
	Metadata map[string]string `json:"metadata"`
	Created  time.Time         `json:"created"`
}

// SimBackend is the local-disk simulation backend for environments without
// cloud credentials (spec §4.E): "behavior is otherwise identical" to a real
// object store, and the core never branches on which is in effect.
type SimBackend struct {
	baseDir string
}

// NewSimBackend roots the simulated bucket at baseDir, creating it if
// necessary.
func NewSimBackend(baseDir string) (*SimBackend, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create object store dir: %w", err)
	}
	return &SimBackend{baseDir: baseDir}, nil
}

func (b *SimBackend) objectPath(name string) string {
	return filepath.Join(b.baseDir, filepath.FromSlash(name))
}

func (b *SimBackend) sidecarPath(name string) string {
	return b.objectPath(name) + ".meta.json"
}

func (b *SimBackend) uri(name string) string {
	return "file://" + filepath.ToSlash(b.objectPath(name))
}

// UploadNDJSON writes the payload and its metadata sidecar using a
// write-temp-then-rename sequence, so a crash mid-write never leaves a
// torn object visible to ListByPrefix.
func (b *SimBackend) UploadNDJSON(ctx context.Context, payload string, objectName string, metadata map[string]string) (UploadResult, error) {
	if objectName == "" || strings.Contains(objectName, "..") {
		return UploadResult{}, &Error{Code: CodeMalformed, Err: fmt.Errorf("invalid object name %q", objectName)}
	}

	dest := b.objectPath(objectName)
	if err := fsutil.AtomicWrite(dest, []byte(payload)); err != nil {
		return UploadResult{}, &Error{Code: CodeUnavailable, Err: err}
	}

	meta := sidecar{Metadata: metadata, Created: time.Now().UTC()}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return UploadResult{}, &Error{Code: CodeMalformed, Err: err}
	}
	if err := fsutil.AtomicWrite(b.sidecarPath(objectName), metaBytes); err != nil {
		return UploadResult{}, &Error{Code: CodeUnavailable, Err: err}
	}

	return UploadResult{OK: true, URI: b.uri(objectName), Size: int64(len(payload))}, nil
}

// ListByPrefix walks baseDir for objects (identified by their sidecar)
// whose relative, slash-normalized name has the given prefix.
func (b *SimBackend) ListByPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := filepath.Walk(b.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".meta.json") {
			return nil
		}
		objPath := strings.TrimSuffix(path, ".meta.json")
		rel, err := filepath.Rel(b.baseDir, objPath)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil // sidecar disappeared mid-walk; skip rather than fail the whole listing
		}
		var sc sidecar
		if err := json.Unmarshal(data, &sc); err != nil {
			return nil
		}
		fi, err := os.Stat(objPath)
		if err != nil {
			return nil // object deleted between sidecar read and stat
		}
		out = append(out, ObjectInfo{
			Name:     name,
			URI:      b.uri(name),
			Size:     fi.Size(),
			Created:  sc.Created,
			Metadata: sc.Metadata,
		})
		return nil
	})
	if err != nil {
		return nil, &Error{Code: CodeUnavailable, Err: err}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes an object and its metadata sidecar.
func (b *SimBackend) Delete(ctx context.Context, objectName string) error {
	path := b.objectPath(objectName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Error{Code: CodeNotFound, Err: fmt.Errorf("object %q not found", objectName)}
	}
	if err := os.Remove(path); err != nil {
		return &Error{Code: CodeUnavailable, Err: err}
	}
	_ = os.Remove(b.sidecarPath(objectName))
	return nil
}

// Status reports whether the backend's root directory is reachable.
func (b *SimBackend) Status(ctx context.Context) error {
	if _, err := os.Stat(b.baseDir); err != nil {
		return &Error{Code: CodeUnavailable, Err: err}
	}
	return nil
}

