package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/phrazzld/recall/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind     domain.ArtifactKind
		filename string
		want     string
	}{
		{domain.KindScreenshot, "a.JPG", "jpg"},
		{domain.KindScreenshot, "", "png"},
		{domain.KindVideo, "clip", "mp4"},
		{domain.KindAudio, "voice.m4a", "m4a"},
		{domain.KindAudio, "bad.w/v", "wav"},
		{domain.KindAudio, "long.extensionname", "wav"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Extension(tt.kind, tt.filename), tt.filename)
	}
}

func TestArtifactStore_PathIsCanonical(t *testing.T) {
	t.Parallel()

	s, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)

	meta := domain.CaptureMetadata{
		CapturedAt: time.Date(2025, 3, 9, 23, 30, 0, 0, time.FixedZone("PST", -8*3600)),
		DeviceID:   "mac/../book",
	}
	got := s.Path(domain.KindAudio, meta, "wav")

	// stored by UTC day; device ids cannot escape the directory
	rel, err := filepath.Rel(s.Root(), got)
	require.NoError(t, err)
	dir, name := filepath.Split(rel)
	assert.Equal(t, filepath.Join("audio", "2025", "03", "10")+string(filepath.Separator), dir)
	assert.True(t, strings.HasPrefix(name, "mac____book_"), name)
	assert.True(t, strings.HasSuffix(name, ".wav"))
	assert.Equal(t, got, s.Path(domain.KindAudio, meta, "wav"))
}

func TestArtifactStore_SaveReplacesAtomically(t *testing.T) {
	t.Parallel()

	s, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)
	meta := domain.CaptureMetadata{CapturedAt: time.UnixMilli(5000)}

	path, n, err := s.Save(domain.KindScreenshot, meta, "png", strings.NewReader("first"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	again, _, err := s.Save(domain.KindScreenshot, meta, "png", strings.NewReader("first"))
	require.NoError(t, err)
	assert.Equal(t, path, again)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")

	_, _, err = s.Save(domain.KindScreenshot, meta, "png", strings.NewReader(""))
	assert.ErrorIs(t, err, domain.ErrEmptyArtifact)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(b), "rejected save leaves the existing artifact")
}

func TestArtifactStore_StageDiscard(t *testing.T) {
	t.Parallel()

	s, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)
	meta := domain.CaptureMetadata{CapturedAt: time.UnixMilli(7000)}

	st, err := s.Stage(domain.KindAudio, meta, "wav", strings.NewReader("pcm"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Size)
	assert.NoFileExists(t, st.Path, "nothing is visible before commit")

	st.Discard()
	entries, err := os.ReadDir(filepath.Dir(st.Path))
	require.NoError(t, err)
	assert.Empty(t, entries)

	st, err = s.Stage(domain.KindAudio, meta, "wav", strings.NewReader("pcm"))
	require.NoError(t, err)
	require.NoError(t, st.Commit())
	b, err := os.ReadFile(st.Path)
	require.NoError(t, err)
	assert.Equal(t, "pcm", string(b))
}
