// Package generator turns an execution request plus prior-failure feedback
// into candidate Go source via the completion service.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"codeforge/internal/analyzer"
	"codeforge/internal/logging"
	"codeforge/internal/schema"
	"codeforge/internal/types"
)

// ErrEmptyCompletion means the completion service answered with no usable
// source. Classified as code-related by the controller: regenerating is the
// right recovery.
var ErrEmptyCompletion = errors.New("completion service returned empty source")

// CompletionClient is the narrow view of the completion service the
// generator needs. Transport failures pass through unwrapped; classification
// is the controller's job.
type CompletionClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// GeneratedCode is one candidate source. Superseded, never mutated, on
// regeneration.
type GeneratedCode struct {
	Source  string
	Attempt int
}

// Generator builds prompts and extracts source from completions.
type Generator struct {
	client CompletionClient
	logger *zap.Logger
}

// New creates a Generator backed by client.
func New(client CompletionClient, logger *zap.Logger) *Generator {
	return &Generator{
		client: client,
		logger: logging.OrNop(logger).Named("generator"),
	}
}

// Generate produces candidate source for the request. priorErrors holds the
// most recent failure messages of this session, newest last; they are folded
// into the prompt so the same mistake is not repeated.
func (g *Generator) Generate(ctx context.Context, req *types.ExecutionRequest, attempt int, priorErrors []string) (*GeneratedCode, error) {
	system := systemPrompt()
	user := g.userPrompt(req, priorErrors)

	g.logger.Debug("requesting completion",
		zap.Int("attempt", attempt),
		zap.Int("prior_errors", len(priorErrors)))

	completion, err := g.client.Complete(ctx, system, user)
	if err != nil {
		return nil, err
	}

	source := extractCodeBlock(completion, "go")
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptyCompletion
	}

	g.logger.Debug("completion received", zap.Int("bytes", len(source)))
	return &GeneratedCode{Source: source, Attempt: attempt}, nil
}

func systemPrompt() string {
	return `You are a Go code generator for an automated execution pipeline.
Generate clean, idiomatic Go code that follows these conventions:
- package main
- exactly one entry point: func ` + analyzer.EntryFunction + `(input map[string]interface{}) (map[string]interface{}, error)
- use only the standard library
- return errors, never call panic() or os.Exit()
- do not import os/exec, syscall, unsafe, plugin, or runtime/cgo
- do not start goroutines

The returned map must match the result contract exactly.`
}

func (g *Generator) userPrompt(req *types.ExecutionRequest, priorErrors []string) string {
	var b strings.Builder

	for _, fragment := range req.PromptFragments {
		b.WriteString(fragment)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nTask: %s\n", req.TaskObjective)

	if len(req.ExpectedResultSchema) > 0 {
		fmt.Fprintf(&b, "\nResult contract: %s returns a map shaped like %s\n",
			analyzer.EntryFunction, schema.Describe(req.ExpectedResultSchema))
	}

	if len(req.ContextData) > 0 {
		b.WriteString("\nAvailable input keys:\n")
		for key := range req.ContextData {
			fmt.Fprintf(&b, "- input[%q]\n", key)
		}
	}

	if len(priorErrors) > 0 {
		b.WriteString("\n--- PREVIOUS ATTEMPTS FAILED (DO NOT REPEAT THESE MISTAKES) ---\n")
		for i, msg := range priorErrors {
			fmt.Fprintf(&b, "%d. %s\n", i+1, msg)
		}
	}

	b.WriteString("\nGenerate complete, compilable Go code:")
	return b.String()
}

// extractCodeBlock strips incidental markdown fencing the completion service
// may add. Without a fence the whole text is treated as raw code.
func extractCodeBlock(text, lang string) string {
	patterns := []string{
		"```" + lang + "\n",
		"```" + lang + "\r\n",
		"```\n",
	}
	for _, pattern := range patterns {
		if idx := strings.Index(text, pattern); idx != -1 {
			start := idx + len(pattern)
			if end := strings.Index(text[start:], "```"); end != -1 {
				return strings.TrimSpace(text[start : start+end])
			}
		}
	}
	return strings.TrimSpace(text)
}
