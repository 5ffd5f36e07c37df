// Package ai wraps the Gemini client for the single call the enrichment
// worker needs: generate three-section analytical commentary for an
// article.
package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/errs"
)

const (
	temperature     = 0.5
	maxOutputTokens = 600
)

// Client generates commentary against one API key. A fresh Client is
// constructed per-dispatch by the credential pool so that each
// credential's secret is used in isolation (see credential.Pool.Dispatch).
type Client struct {
	modelName string
	gClient   *genai.Client
}

// NewClient constructs a Client bound to apiKey.
func NewClient(ctx context.Context, apiKey, modelName string) (*Client, error) {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("construct genai client: %w", err)
	}
	return &Client{modelName: modelName, gClient: gc}, nil
}

// GenerateCommentary builds the three-section prompt and returns the
// trimmed completion along with an estimate of tokens used for quota
// accounting (genai reports usage metadata; this falls back to
// maxOutputTokens if usage metadata is absent).
func (c *Client) GenerateCommentary(ctx context.Context, title, section string) (string, int64, error) {
	prompt := buildPrompt(title, section)

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature)),
		MaxOutputTokens: maxOutputTokens,
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelName, contents, config)
	if err != nil {
		return "", 0, classifyError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", 0, fmt.Errorf("%w: empty completion", errs.ErrUpstreamTransient)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", 0, fmt.Errorf("%w: empty completion text", errs.ErrUpstreamTransient)
	}

	tokens := int64(maxOutputTokens)
	if resp.UsageMetadata != nil && resp.UsageMetadata.TotalTokenCount > 0 {
		tokens = int64(resp.UsageMetadata.TotalTokenCount)
	}
	return text, tokens, nil
}

func buildPrompt(title, section string) string {
	return fmt.Sprintf(`You are writing analytical commentary for a news article.

Title: %s
Section: %s

Write exactly three labeled sections, each 2-3 complete sentences:

Key Points: <summary of the core facts>
Impact Analysis: <who or what this affects and how>
Future Outlook: <what is likely to happen next>

Do not add any other sections or preamble.`, title, section)
}

// classifyError maps a genai/transport error onto the pipeline's error
// taxonomy so the credential pool and worker can branch on it via
// errors.Is.
func classifyError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "resource_exhausted"):
		return fmt.Errorf("%w: %v", errs.ErrRateLimit, err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "unauthenticated") || strings.Contains(msg, "permission_denied"):
		return fmt.Errorf("%w: %v", errs.ErrAuthError, err)
	default:
		return fmt.Errorf("%w: %v", errs.ErrUpstreamTransient, err)
	}
}
