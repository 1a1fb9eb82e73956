// Package buffer is the capture client's durable local queue. Artifacts that
// could not be uploaded are kept on disk with their metadata until the
// server acknowledges them, surviving process restarts.
//
// Each item is two files in the buffer directory: <id>.artifact and
// <id>.json. The metadata file is written last, through a temp file and an
// atomic rename, so an item is visible only once both exist. IDs sort in
// enqueue order.
package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	artifactExt = ".artifact"
	metaExt     = ".json"
	tempPrefix  = ".tmp-"
	rejectedDir = "rejected"

	// orphanGrace protects artifacts of an Enqueue still in progress in
	// another process from the startup sweep.
	orphanGrace = time.Minute
)

// Item is one buffered capture.
type Item struct {
	ID           string
	ArtifactPath string
	// Filename is the artifact's original base name.
	Filename string
	Metadata map[string]any
	Enqueued time.Time
}

// record is the on-disk metadata document.
type record struct {
	ID       string         `json:"id"`
	Filename string         `json:"filename"`
	Enqueued time.Time      `json:"enqueued_at"`
	Metadata map[string]any `json:"metadata"`
}

// Store is a directory-backed FIFO. It is safe for concurrent use within a
// process.
type Store struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	lastNano int64
}

// Open prepares dir for use and sweeps leftovers of interrupted writes.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("buffer directory cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create buffer directory: %w", err)
	}
	s := &Store{
		dir:    dir,
		logger: logger.With("component", "buffer"),
		now:    time.Now,
	}
	s.sweep()
	return s, nil
}

// Dir returns the buffer directory.
func (s *Store) Dir() string { return s.dir }

// Enqueue stores the artifact read from src together with its metadata and
// returns the item ID. Metadata values that are not JSON primitives are
// stored as strings. The item is durable once Enqueue returns.
func (s *Store) Enqueue(ctx context.Context, src io.Reader, filename string, metadata map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := s.nextID()
	artifactPath := s.path(id, artifactExt)

	if err := writeAtomic(s.dir, artifactPath, func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	}); err != nil {
		return "", fmt.Errorf("failed to buffer artifact: %w", err)
	}

	rec := record{
		ID:       id,
		Filename: filepath.Base(filename),
		Enqueued: s.now().UTC(),
		Metadata: Normalize(metadata),
	}
	if err := writeAtomic(s.dir, s.path(id, metaExt), func(w io.Writer) error {
		return json.NewEncoder(w).Encode(rec)
	}); err != nil {
		_ = os.Remove(artifactPath)
		return "", fmt.Errorf("failed to buffer metadata: %w", err)
	}
	syncDir(s.dir)

	s.logger.Debug("capture buffered", "id", id, "filename", rec.Filename)
	return id, nil
}

// EnqueueFile buffers a copy of the file at path.
func (s *Store) EnqueueFile(ctx context.Context, path string, metadata map[string]any) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()
	return s.Enqueue(ctx, f, filepath.Base(path), metadata)
}

// DequeueBatch returns up to limit complete items (all when limit <= 0),
// oldest first, without removing them. Metadata whose artifact is gone is purged, as is metadata
// that cannot be parsed; neither fails the batch.
func (s *Store) DequeueBatch(ctx context.Context, limit int) ([]Item, error) {
	ids, err := s.metadataIDs()
	if err != nil {
		return nil, err
	}

	capacity := len(ids)
	if limit > 0 && limit < capacity {
		capacity = limit
	}
	items := make([]Item, 0, capacity)
	for _, id := range ids {
		if limit > 0 && len(items) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return items, err
		}
		item, ok := s.load(id)
		if ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// Commit deletes acknowledged items. Every ID is attempted; failures are
// logged and returned joined.
func (s *Store) Commit(ctx context.Context, ids ...string) error {
	var errs []error
	for _, id := range ids {
		if err := s.remove(id); err != nil {
			s.logger.Error("failed to remove committed item", "id", id, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reject moves an item the server refused permanently out of the queue into
// the rejected/ subdirectory, where it is kept for inspection.
func (s *Store) Reject(ctx context.Context, id, reason string) error {
	dst := filepath.Join(s.dir, rejectedDir)
	if err := os.MkdirAll(dst, 0o750); err != nil {
		return fmt.Errorf("failed to create rejected directory: %w", err)
	}
	// metadata first so a crash in between leaves no half-visible item
	for _, ext := range []string{metaExt, artifactExt} {
		from := s.path(id, ext)
		if err := os.Rename(from, filepath.Join(dst, id+ext)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to move rejected item %s: %w", id, err)
		}
	}
	s.logger.Warn("capture rejected by server, moved aside", "id", id, "reason", reason)
	return nil
}

// Count returns the number of complete items.
func (s *Store) Count(ctx context.Context) (int, error) {
	ids, err := s.metadataIDs()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if _, err := os.Stat(s.path(id, artifactExt)); err == nil {
			n++
		}
	}
	return n, nil
}

// load reads one item, purging it when it is orphaned or corrupt.
func (s *Store) load(id string) (Item, bool) {
	artifactPath := s.path(id, artifactExt)
	if _, err := os.Stat(artifactPath); err != nil {
		s.logger.Warn("purging orphaned metadata", "id", id, "error", err)
		_ = os.Remove(s.path(id, metaExt))
		return Item{}, false
	}

	b, err := os.ReadFile(s.path(id, metaExt))
	if err != nil {
		s.logger.Warn("skipping unreadable metadata", "id", id, "error", err)
		return Item{}, false
	}
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil || rec.ID != id {
		s.logger.Error("purging corrupt buffer item", "id", id, "error", err)
		_ = s.remove(id)
		return Item{}, false
	}

	return Item{
		ID:           id,
		ArtifactPath: artifactPath,
		Filename:     rec.Filename,
		Metadata:     rec.Metadata,
		Enqueued:     rec.Enqueued,
	}, true
}

func (s *Store) remove(id string) error {
	var errs []error
	for _, ext := range []string{metaExt, artifactExt} {
		if err := os.Remove(s.path(id, ext)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// metadataIDs lists committed item IDs in ascending order.
func (s *Store) metadataIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read buffer directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, metaExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, metaExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// sweep removes temp files and artifacts whose metadata never landed.
func (s *Store) sweep() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	cutoff := s.now().Add(-orphanGrace)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		switch {
		case strings.HasPrefix(name, tempPrefix):
		case strings.HasSuffix(name, artifactExt):
			id := strings.TrimSuffix(name, artifactExt)
			if _, err := os.Stat(s.path(id, metaExt)); err == nil {
				continue
			}
		default:
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err == nil {
			s.logger.Info("removed incomplete buffer file", "file", name)
		}
	}
}

// nextID returns a zero-padded, strictly increasing timestamp plus a random
// suffix, so lexical order is enqueue order.
func (s *Store) nextID() string {
	s.mu.Lock()
	n := s.now().UnixNano()
	if n <= s.lastNano {
		n = s.lastNano + 1
	}
	s.lastNano = n
	s.mu.Unlock()
	return fmt.Sprintf("%020d-%s", n, uuid.NewString()[:8])
}

func (s *Store) path(id, ext string) string {
	return filepath.Join(s.dir, id+ext)
}

// writeAtomic writes through a temp file in dir, fsyncs and renames to path.
func writeAtomic(dir, path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	ok = true
	return nil
}

// syncDir makes the renames durable where the platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
