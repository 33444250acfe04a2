// Package tracker persists per-file fingerprints between sync cycles so that
// only new or modified corpus files are re-ingested.
package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/starford/ragsync/internal/apperr"
	"github.com/starford/ragsync/internal/models"
	"github.com/starford/ragsync/internal/storage"
)

// Tracker is the durable fingerprint map. Keys are paths relative to the
// corpus root. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	file    string
	root    string
	records map[string]models.FileRecord
	logger  *slog.Logger
}

// Open loads the fingerprint file at metaPath. A missing file starts an empty
// map. An unreadable or malformed file is logged and also starts empty, which
// makes the next cycle re-ingest everything.
func Open(metaPath, corpusRoot string, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		file:    metaPath,
		root:    corpusRoot,
		records: make(map[string]models.FileRecord),
		logger:  logger,
	}

	data, err := os.ReadFile(metaPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return t, nil
	case err != nil:
		logger.Warn("tracker: metadata unreadable, starting empty",
			slog.String("path", metaPath),
			slog.String("error", fmt.Errorf("%w: %w", apperr.ErrMetadataCorrupt, err).Error()))
		return t, nil
	}

	var raw map[string]models.FileRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Warn("tracker: metadata corrupt, starting empty",
			slog.String("path", metaPath),
			slog.String("error", fmt.Errorf("%w: %w", apperr.ErrMetadataCorrupt, err).Error()))
		return t, nil
	}
	for p, rec := range raw {
		rec.Path = p
		t.records[p] = rec
	}
	return t, nil
}

// HasChanged reports whether path is new or differs from its last recorded
// fingerprint. A file that does not exist on disk is never changed.
func (t *Tracker) HasChanged(path string) bool {
	live, err := t.fingerprint(path)
	if err != nil {
		return false
	}
	t.mu.Lock()
	rec, ok := t.records[path]
	t.mu.Unlock()
	return !ok || !rec.SameFingerprint(live)
}

// MarkProcessed records the live fingerprint of path and persists the map.
func (t *Tracker) MarkProcessed(path string) error {
	live, err := t.Fingerprint(path)
	if err != nil {
		return err
	}
	return t.Record(live)
}

// Fingerprint returns the current on-disk fingerprint of path.
func (t *Tracker) Fingerprint(path string) (models.FileRecord, error) {
	live, err := t.fingerprint(path)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("tracker: stat %s: %w", path, err)
	}
	return live, nil
}

// Record stores rec as the processed fingerprint of rec.Path and persists
// the map. Callers pass the fingerprint taken before the content was read,
// so an edit made while loading still shows up as a change.
func (t *Tracker) Record(rec models.FileRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[rec.Path] = rec
	return t.persistLocked()
}

// PruneMissing drops records whose file no longer exists and returns the
// removed paths in sorted order. The map is persisted only when something
// was removed.
func (t *Tracker) PruneMissing() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	for p := range t.records {
		if _, err := os.Stat(t.abs(p)); errors.Is(err, fs.ErrNotExist) {
			removed = append(removed, p)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	for _, p := range removed {
		delete(t.records, p)
	}
	sort.Strings(removed)
	if err := t.persistLocked(); err != nil {
		return removed, err
	}
	return removed, nil
}

// Records returns a snapshot of every record, sorted by path.
func (t *Tracker) Records() []models.FileRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.FileRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (t *Tracker) fingerprint(path string) (models.FileRecord, error) {
	info, err := os.Stat(t.abs(path))
	if err != nil {
		return models.FileRecord{}, err
	}
	return models.FileRecord{
		Path:         path,
		LastModified: float64(info.ModTime().UnixNano()) / 1e9,
		SizeBytes:    info.Size(),
	}, nil
}

func (t *Tracker) abs(path string) string {
	if filepath.IsAbs(path) || t.root == "" {
		return path
	}
	return filepath.Join(t.root, filepath.FromSlash(path))
}

func (t *Tracker) persistLocked() error {
	data, err := json.MarshalIndent(t.records, "", "  ")
	if err != nil {
		return fmt.Errorf("tracker: encode: %w", err)
	}
	if err := storage.WriteFileAtomic(t.file, data); err != nil {
		return fmt.Errorf("tracker: persist: %w", err)
	}
	return nil
}
