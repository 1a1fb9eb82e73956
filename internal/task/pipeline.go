package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/phrazzld/recall/internal/domain"
	"github.com/phrazzld/recall/internal/enrich"
)

// Stage names, used in logs and metrics.
const (
	StageExtractText = "extract_text"
	StageTranscribe  = "transcribe"
	StageDescribe    = "describe"
	StageEmbed       = "embed"
)

// Job carries one task through a pipeline. Stages read what earlier stages
// produced from Results and add their own output.
type Job struct {
	Task     *domain.Task
	Artifact enrich.Artifact
	Results  domain.Results
}

// Stage is one enrichment step. A returned error fails the task.
type Stage struct {
	Name string
	Run  func(ctx context.Context, job *Job) error
}

// Pipeline is the ordered list of stages for one artifact kind.
type Pipeline struct {
	Stages []Stage
}

// Names lists the stage names in order.
func (p Pipeline) Names() []string {
	names := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		names[i] = s.Name
	}
	return names
}

// Collaborators are the enrichment services pipelines are built from.
type Collaborators struct {
	OCR         enrich.TextExtractor
	Transcriber enrich.TextExtractor
	Describer   enrich.VisionDescriber
	Embedder    enrich.Embedder
}

// Pipelines builds the per-kind pipelines:
//
//	screenshot, video: extract_text -> describe -> embed
//	audio:             transcribe -> embed
//
// The embedding is computed over the fusion of text and description.
func Pipelines(c Collaborators) map[domain.ArtifactKind]Pipeline {
	visual := Pipeline{Stages: []Stage{
		ExtractTextStage(c.OCR),
		DescribeStage(c.Describer),
		EmbedStage(c.Embedder),
	}}
	return map[domain.ArtifactKind]Pipeline{
		domain.KindScreenshot: visual,
		domain.KindVideo:      visual,
		domain.KindAudio: {Stages: []Stage{
			TranscribeStage(c.Transcriber),
			EmbedStage(c.Embedder),
		}},
	}
}

// ExtractTextStage runs OCR and stores the text.
func ExtractTextStage(ex enrich.TextExtractor) Stage {
	return textStage(StageExtractText, ex)
}

// TranscribeStage runs speech transcription and stores the transcript as the
// extracted text.
func TranscribeStage(ex enrich.TextExtractor) Stage {
	return textStage(StageTranscribe, ex)
}

func textStage(name string, ex enrich.TextExtractor) Stage {
	return Stage{
		Name: name,
		Run: func(ctx context.Context, job *Job) error {
			text, err := ex.Extract(ctx, job.Artifact)
			if err != nil {
				return err
			}
			job.Results.ExtractedText = &text
			return nil
		},
	}
}

// DescribeStage asks the vision model for a description.
func DescribeStage(d enrich.VisionDescriber) Stage {
	return Stage{
		Name: StageDescribe,
		Run: func(ctx context.Context, job *Job) error {
			desc, err := d.Describe(ctx, job.Artifact)
			if err != nil {
				return err
			}
			job.Results.Description = &desc
			return nil
		},
	}
}

// EmbedStage embeds the fused text and description. It is skipped when both
// are empty (silent audio, blank screens).
func EmbedStage(e enrich.Embedder) Stage {
	return Stage{
		Name: StageEmbed,
		Run: func(ctx context.Context, job *Job) error {
			text := FuseText(job.Results)
			if text == "" {
				return nil
			}
			v, err := e.Embed(ctx, text)
			if err != nil {
				return err
			}
			job.Results.Embedding = v
			return nil
		},
	}
}

// FuseText joins the non-empty textual results into the embedding input.
func FuseText(r domain.Results) string {
	var parts []string
	if r.ExtractedText != nil && strings.TrimSpace(*r.ExtractedText) != "" {
		parts = append(parts, strings.TrimSpace(*r.ExtractedText))
	}
	if r.Description != nil && strings.TrimSpace(*r.Description) != "" {
		parts = append(parts, strings.TrimSpace(*r.Description))
	}
	return strings.Join(parts, "\n\n")
}

// validate rejects pipelines with no stages or a stage without a Run func.
func (p Pipeline) validate(kind domain.ArtifactKind) error {
	if len(p.Stages) == 0 {
		return fmt.Errorf("no pipeline stages configured for %s", kind)
	}
	for _, s := range p.Stages {
		if s.Run == nil {
			return fmt.Errorf("stage %s for %s has no implementation", s.Name, kind)
		}
	}
	return nil
}
