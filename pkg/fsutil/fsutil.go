// Package fsutil holds the small on-disk helpers shared by the durable
// stores (Local Backup, Recovery Registry, the object store simulation
// backend): atomic write-then-rename so a crash mid-write never leaves a
// reader staring at a torn file.
package fsutil

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// AtomicWrite writes data to a temp file beside dest and renames it into
// place.
func AtomicWrite(dest string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// AtomicWriteJSON marshals v and writes it atomically to dest.
func AtomicWriteJSON(dest string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return AtomicWrite(dest, data)
}

// ReadJSON reads and unmarshals dest into v.
func ReadJSON(dest string, v any) error {
	data, err := os.ReadFile(dest)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
