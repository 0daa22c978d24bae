// Package llm adapts the Gemini API to the pipeline's completion and
// approval-classification interfaces.
package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"codeforge/internal/logging"
)

// Config selects the model backing completions.
type Config struct {
	APIKey string
	Model  string
}

// Client wraps a genai client behind generator.CompletionClient.
type Client struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// New creates a Gemini-backed completion client.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{
		client: client,
		model:  cfg.Model,
		logger: logging.OrNop(logger).Named("llm"),
	}, nil
}

// Complete sends one system+user exchange and returns the raw completion
// text. Transport failures are returned unwrapped for the controller to
// classify.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.2),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(user), cfg)
	if err != nil {
		return "", err
	}

	text := resp.Text()
	c.logger.Debug("completion", zap.Int("bytes", len(text)))
	return text, nil
}

// ClassifyApproval asks the model whether free-form reviewer text is an
// approval. It satisfies approval.Classifier so deployments can swap it for
// the deterministic parser without touching the state machine.
func (c *Client) ClassifyApproval(ctx context.Context, text string) (bool, error) {
	prompt := fmt.Sprintf(`A human reviewer replied to a code approval request with:

%q

Answer with exactly one word: APPROVE if the reviewer is approving, REJECT otherwise.`, text)

	resp, err := c.Complete(ctx, "", prompt)
	if err != nil {
		return false, err
	}
	verdict := strings.ToUpper(strings.TrimSpace(resp))
	return strings.HasPrefix(verdict, "APPROVE"), nil
}
