package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/phrazzld/recall/internal/domain"
)

// maxExtLen bounds the file extension accepted from client filenames.
const maxExtLen = 8

// ArtifactStore keeps ingested artifacts on the local filesystem under
// <root>/<kind>/<yyyy>/<mm>/<dd>/<identity>.<ext>.
type ArtifactStore struct {
	root string
}

// NewArtifactStore creates the root directory if needed.
func NewArtifactStore(root string) (*ArtifactStore, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &ArtifactStore{root: abs}, nil
}

// Root returns the absolute artifact root.
func (s *ArtifactStore) Root() string { return s.root }

// Path returns the canonical location for a capture. The same identity
// always maps to the same path.
func (s *ArtifactStore) Path(kind domain.ArtifactKind, meta domain.CaptureMetadata, ext string) string {
	at := meta.CapturedAt.UTC()
	name := sanitizeName(meta.IdentityKey(kind)) + "." + ext
	return filepath.Join(s.root, string(kind),
		fmt.Sprintf("%04d", at.Year()),
		fmt.Sprintf("%02d", int(at.Month())),
		fmt.Sprintf("%02d", at.Day()),
		name)
}

// Staged is an artifact written and synced to a temp file next to its
// canonical path. Exactly one of Commit or Discard should follow.
type Staged struct {
	Path string
	Size int64
	tmp  string
}

// Stage streams r to a temp file in the canonical directory and fsyncs it.
// The canonical path is not touched until Commit. An empty body is rejected
// and leaves nothing behind.
func (s *ArtifactStore) Stage(kind domain.ArtifactKind, meta domain.CaptureMetadata, ext string, r io.Reader) (*Staged, error) {
	path := s.Path(kind, meta, ext)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ingest-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}
	if n == 0 {
		return nil, domain.ErrEmptyArtifact
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close artifact: %w", err)
	}
	ok = true
	return &Staged{Path: path, Size: n, tmp: tmpName}, nil
}

// Commit renames the staged file into its canonical path.
func (st *Staged) Commit() error {
	if err := os.Rename(st.tmp, st.Path); err != nil {
		_ = os.Remove(st.tmp)
		return fmt.Errorf("failed to commit artifact: %w", err)
	}
	return nil
}

// Discard removes the staged file. Safe to call after a failed Commit.
func (st *Staged) Discard() {
	_ = os.Remove(st.tmp)
}

// Save stages r and commits it in one step, replacing any existing file at
// the canonical path.
func (s *ArtifactStore) Save(kind domain.ArtifactKind, meta domain.CaptureMetadata, ext string, r io.Reader) (string, int64, error) {
	st, err := s.Stage(kind, meta, ext, r)
	if err != nil {
		return "", 0, err
	}
	if err := st.Commit(); err != nil {
		return "", 0, err
	}
	return st.Path, st.Size, nil
}

// Extension picks the stored extension from the client filename, falling
// back to a per-kind default when it is missing or unusable.
func Extension(kind domain.ArtifactKind, filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext != "" && len(ext) <= maxExtLen && isAlnum(ext) {
		return ext
	}
	switch kind {
	case domain.KindVideo:
		return "mp4"
	case domain.KindAudio:
		return "wav"
	default:
		return "png"
	}
}

func isAlnum(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// sanitizeName keeps identity keys safe as file names; device ids are
// client supplied.
func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
