// Package enrich defines the content-extraction collaborators the background
// worker drives: text extraction (OCR or transcription), vision description
// and embedding. Each is a single-method interface; concrete implementations
// live here (HTTP, deterministic stubs) and in internal/platform/gemini.
//
// Collaborators own their timeouts. The worker checks for cancellation only
// between calls and cannot preempt a blocked stage.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/phrazzld/recall/internal/domain"
)

// ErrEmptyInput is returned when a collaborator is given nothing to work on.
var ErrEmptyInput = errors.New("enrichment input is empty")

// Artifact is a stored capture handed to the collaborators.
type Artifact struct {
	TaskID  int64
	Kind    domain.ArtifactKind
	Path    string
	Capture domain.CaptureMetadata
}

// MIMEType guesses the media type from the file extension.
func (a Artifact) MIMEType() string {
	if t := mime.TypeByExtension(filepath.Ext(a.Path)); t != "" {
		return t
	}
	switch a.Kind {
	case domain.KindScreenshot:
		return "image/png"
	case domain.KindVideo:
		return "video/mp4"
	case domain.KindAudio:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// Open opens the artifact bytes for streaming.
func (a Artifact) Open() (io.ReadCloser, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact %s: %w", filepath.Base(a.Path), err)
	}
	return f, nil
}

// ReadAll loads the artifact into memory.
func (a Artifact) ReadAll() ([]byte, error) {
	b, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", filepath.Base(a.Path), err)
	}
	return b, nil
}

// TextExtractor turns an artifact into plain text (OCR for images, speech
// transcription for audio).
type TextExtractor interface {
	Extract(ctx context.Context, artifact Artifact) (string, error)
}

// VisionDescriber produces a natural-language description of an artifact.
type VisionDescriber interface {
	Describe(ctx context.Context, artifact Artifact) (string, error)
}

// Embedder maps text to a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ExtractorFunc adapts a function to TextExtractor.
type ExtractorFunc func(ctx context.Context, artifact Artifact) (string, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, artifact Artifact) (string, error) {
	return f(ctx, artifact)
}

// DescriberFunc adapts a function to VisionDescriber.
type DescriberFunc func(ctx context.Context, artifact Artifact) (string, error)

// Describe calls f.
func (f DescriberFunc) Describe(ctx context.Context, artifact Artifact) (string, error) {
	return f(ctx, artifact)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed calls f.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}
