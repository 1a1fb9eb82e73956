package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/recall/internal/enrich"
	"github.com/phrazzld/recall/internal/retry"
	"google.golang.org/genai"
)

// DefaultDescribePrompt asks the vision model for a retrieval-oriented summary.
const DefaultDescribePrompt = "Describe what the user is doing in this capture in two or three " +
	"sentences. Mention the application, any visible document or page titles, and " +
	"key on-screen text. Do not speculate beyond what is visible or audible."

// modelsAPI is the subset of *genai.Models used here.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content,
		config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content,
		config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Config holds what the adapter needs to reach Gemini.
type Config struct {
	APIKey         string
	VisionModel    string
	EmbeddingModel string
	Prompt         string

	// Retry governs backoff on transient API errors. The zero value means
	// DefaultRetryPolicy.
	Retry retry.Policy
}

// DefaultRetryPolicy is 3 attempts waiting 2s then 4s.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// Client implements enrich.VisionDescriber and enrich.Embedder.
type Client struct {
	models         modelsAPI
	logger         *slog.Logger
	visionModel    string
	embeddingModel string
	prompt         string
	retry          retry.Policy
}

var (
	_ enrich.VisionDescriber = (*Client)(nil)
	_ enrich.Embedder        = (*Client)(nil)
)

// NewClient creates a Gemini-backed client.
func NewClient(ctx context.Context, logger *slog.Logger, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return newClient(client.Models, logger, cfg)
}

func newClient(models modelsAPI, logger *slog.Logger, cfg Config) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.VisionModel == "" || cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("%w: vision and embedding model names are required", ErrInvalidConfig)
	}
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = DefaultDescribePrompt
	}
	policy := cfg.Retry
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy()
	}
	policy.Retryable = isTransient

	c := &Client{
		models:         models,
		logger:         logger.With("component", "gemini"),
		visionModel:    cfg.VisionModel,
		embeddingModel: cfg.EmbeddingModel,
		prompt:         prompt,
	}
	policy.OnRetry = func(attempt int, err error) {
		c.logger.Warn("transient Gemini API error, retrying",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"error", err)
	}
	c.retry = policy
	return c, nil
}

// isTransient reports whether a failed call is worth repeating: rate limits,
// server errors and transport failures are; other API errors and
// cancellation are not.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusRequestTimeout, http.StatusTooManyRequests,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return true
}

// Describe sends the artifact bytes inline with the describe prompt.
func (c *Client) Describe(ctx context.Context, a enrich.Artifact) (string, error) {
	data, err := a.ReadAll()
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", enrich.ErrEmptyInput
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: c.prompt},
			{InlineData: &genai.Blob{Data: data, MIMEType: a.MIMEType()}},
		},
	}}

	c.logger.DebugContext(ctx, "requesting description",
		"task_id", a.TaskID,
		"model", c.visionModel,
		"bytes", len(data))

	resp, err := retry.Do(ctx, c.retry, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return c.models.GenerateContent(ctx, c.visionModel, contents, nil)
	})
	if err != nil {
		return "", fmt.Errorf("gemini describe failed: %w", err)
	}
	return responseText(resp)
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, enrich.ErrEmptyInput
	}

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: text}},
	}}

	resp, err := retry.Do(ctx, c.retry, func(ctx context.Context) (*genai.EmbedContentResponse, error) {
		return c.models.EmbedContent(ctx, c.embeddingModel, contents, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed failed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil ||
		len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", ErrInvalidResponse)
	}
	return resp.Embeddings[0].Values, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", ErrContentBlocked
	}
	if cand.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", ErrInvalidResponse)
	}

	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty text in response", ErrInvalidResponse)
	}
	return text, nil
}
