package pipeline

import (
	"context"
	"errors"

	"codeforge/internal/analyzer"
	"codeforge/internal/generator"
	"codeforge/internal/sandbox"
	"codeforge/internal/store"
)

// Category drives recovery: infrastructure failures retry the same code,
// code-related failures regenerate with feedback, workflow failures are
// terminal for the session, fatal failures abort immediately.
type Category int

const (
	CategoryInfrastructure Category = iota
	CategoryCodeRelated
	CategoryWorkflow
	CategoryFatal
	CategoryConfiguration
)

func (c Category) String() string {
	switch c {
	case CategoryInfrastructure:
		return "infrastructure"
	case CategoryCodeRelated:
		return "code"
	case CategoryWorkflow:
		return "workflow"
	case CategoryFatal:
		return "fatal"
	case CategoryConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Budget exhaustion sentinels. Both are workflow-terminal: the budgets exist
// to bound unattended loops, so exhausting one ends the session.
var (
	ErrGenerationBudget = errors.New("generation retry budget exhausted")
	ErrExecutionBudget  = errors.New("execution retry budget exhausted")
	ErrSessionBusy      = errors.New("session already has a live execution")
)

// Classify maps an error to its recovery category.
//
// Unrecognized errors classify as infrastructure rather than fatal: most of
// them are transport faults from the completion service, and the bounded
// retry budget caps the cost of a wrong guess while a fatal default would
// abort sessions on every transient network blip.
func Classify(err error) Category {
	var execErr *sandbox.ExecError
	if errors.As(err, &execErr) {
		if execErr.Kind == sandbox.ErrKindInfra {
			return CategoryInfrastructure
		}
		return CategoryCodeRelated
	}

	var synErr *analyzer.SyntaxError
	if errors.As(err, &synErr) {
		return CategoryCodeRelated
	}

	switch {
	case errors.Is(err, generator.ErrEmptyCompletion):
		return CategoryCodeRelated
	case errors.Is(err, ErrGenerationBudget), errors.Is(err, ErrExecutionBudget),
		errors.Is(err, ErrSessionBusy), errors.Is(err, store.ErrNotFound):
		return CategoryWorkflow
	case errors.Is(err, context.Canceled):
		return CategoryFatal
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryInfrastructure
	}
	return CategoryInfrastructure
}

// feedback extracts the regeneration feedback a code-related error carries.
func feedback(err error) []string {
	var synErr *analyzer.SyntaxError
	if errors.As(err, &synErr) {
		return synErr.Messages()
	}
	var execErr *sandbox.ExecError
	if errors.As(err, &execErr) {
		return []string{execErr.Error()}
	}
	return []string{err.Error()}
}
