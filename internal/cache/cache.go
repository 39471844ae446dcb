// Package cache persists discovered branch sites keyed by image fingerprint.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	filePrefix = "branches_cache_"
	fileSuffix = ".json"
)

// Load reads a cached site list. ok is false when no artifact exists.
func Load(path string) (sites []uint64, ok bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache: %w", err)
	}
	if err := json.Unmarshal(data, &sites); err != nil {
		return nil, false, fmt.Errorf("decode cache %s: %w", path, err)
	}
	if sites == nil {
		sites = []uint64{}
	}
	return sites, true, nil
}

// Store writes sites as a flat JSON array of integers. The artifact is
// renamed into place so a reader never sees a partial file.
func Store(path string, sites []uint64) error {
	if sites == nil {
		sites = []uint64{}
	}
	data, err := json.Marshal(sites)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to a sibling temp file and renames it to path.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// Entry describes one cache artifact on disk.
type Entry struct {
	Path        string
	Fingerprint string
	Sites       int
	Size        int64
}

// List returns the cache artifacts in dir sorted by path.
func List(dir string) ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	entries := make([]Entry, 0, len(matches))
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		e := Entry{
			Path:        m,
			Fingerprint: strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), filePrefix), fileSuffix),
			Size:        fi.Size(),
			Sites:       -1,
		}
		if sites, ok, err := Load(m); err == nil && ok {
			e.Sites = len(sites)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Clear deletes every cache artifact in dir and returns how many were removed.
func Clear(dir string) (int, error) {
	entries, err := List(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if err := os.Remove(e.Path); err != nil {
			return n, fmt.Errorf("remove %s: %w", e.Path, err)
		}
		n++
	}
	return n, nil
}
