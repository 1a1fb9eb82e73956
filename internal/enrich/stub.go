package enrich

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"strings"
)

// StubDimensions is the vector size produced by StubEmbedder.
const StubDimensions = 16

// StubExtractor derives text from capture metadata without reading pixels.
// It lets the pipeline run end to end on machines without an OCR service.
type StubExtractor struct{}

// Extract implements TextExtractor.
func (StubExtractor) Extract(ctx context.Context, a Artifact) (string, error) {
	info, err := os.Stat(a.Path)
	if err != nil {
		return "", fmt.Errorf("failed to stat artifact: %w", err)
	}
	parts := []string{string(a.Kind)}
	if a.Capture.AppName != "" {
		parts = append(parts, a.Capture.AppName)
	}
	if a.Capture.WindowTitle != "" {
		parts = append(parts, a.Capture.WindowTitle)
	}
	return fmt.Sprintf("%s (%d bytes)", strings.Join(parts, " | "), info.Size()), nil
}

// StubDescriber returns a fixed-form description built from metadata.
type StubDescriber struct{}

// Describe implements VisionDescriber.
func (StubDescriber) Describe(ctx context.Context, a Artifact) (string, error) {
	app := a.Capture.AppName
	if app == "" {
		app = "an unknown application"
	}
	return fmt.Sprintf("A %s of %s captured at %s.",
		a.Kind, app, a.Capture.CapturedAt.UTC().Format("2006-01-02 15:04:05")), nil
}

// StubEmbedder hashes text into a deterministic unit vector.
type StubEmbedder struct{}

// Embed implements Embedder.
func (StubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	v := make([]float32, StubDimensions)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		idx := int(sum % StubDimensions)
		if sum&(1<<31) != 0 {
			v[idx]--
		} else {
			v[idx]++
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v, nil
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v, nil
}
