// Package types holds the data model shared across the execution pipeline.
package types

import (
	"fmt"
	"strings"
	"time"
)

// DefaultCapability is used when a request does not name one.
const DefaultCapability = "code_execution"

// ExecutionRequest describes one generated-code execution task. It is
// immutable once submitted; the pipeline never writes to it.
type ExecutionRequest struct {
	// TaskObjective is the natural-language description of what the
	// generated code must accomplish.
	TaskObjective string `json:"task_objective" yaml:"task_objective"`

	// PromptFragments are ordered instruction fragments folded into the
	// generation prompt ahead of the objective.
	PromptFragments []string `json:"prompt_fragments,omitempty" yaml:"prompt_fragments"`

	// ExpectedResultSchema is a nested template whose leaves are
	// type-placeholder tags such as "<float>" or "<string>".
	ExpectedResultSchema map[string]any `json:"expected_result_schema,omitempty" yaml:"expected_result_schema"`

	// ContextData is opaque data passed as the Run input of the
	// generated code.
	ContextData map[string]any `json:"context_data,omitempty" yaml:"context_data"`

	// IsolationFolderName names the per-request folder under the sandbox
	// workspace where the execution may write artifacts.
	IsolationFolderName string `json:"isolation_folder_name,omitempty" yaml:"isolation_folder_name"`

	// Retries is the generation-retry budget: the number of regeneration
	// attempts allowed after the first generation.
	Retries int `json:"retries" yaml:"retries"`

	// Capability selects the per-capability approval policy.
	Capability string `json:"capability,omitempty" yaml:"capability,omitempty"`

	// SessionKey identifies the owning session. Assigned on submit when
	// empty; carried through suspension so a resume locks the same session.
	SessionKey string `json:"session_key,omitempty" yaml:"session_key,omitempty"`
}

// CapabilityOrDefault returns the request capability, falling back to
// DefaultCapability.
func (r *ExecutionRequest) CapabilityOrDefault() string {
	if r.Capability == "" {
		return DefaultCapability
	}
	return r.Capability
}

// Validate rejects requests the pipeline cannot act on.
func (r *ExecutionRequest) Validate() error {
	if strings.TrimSpace(r.TaskObjective) == "" {
		return fmt.Errorf("task_objective is required")
	}
	if r.Retries < 0 {
		return fmt.Errorf("retries must be >= 0, got %d", r.Retries)
	}
	if strings.ContainsAny(r.IsolationFolderName, `/\`) {
		return fmt.Errorf("isolation_folder_name must be a bare folder name, got %q", r.IsolationFolderName)
	}
	return nil
}

// ExecutionOutcome is the structured result of one sandbox execution.
type ExecutionOutcome struct {
	Success   bool           `json:"success"`
	Result    map[string]any `json:"result,omitempty"`
	Artifacts []string       `json:"artifacts,omitempty"`
	Elapsed   time.Duration  `json:"elapsed"`
	Error     string         `json:"error,omitempty"`
}
