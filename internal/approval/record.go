// Package approval implements the human sign-off gate: suspension of a
// session into a durable record and its later resumption.
package approval

import (
	"encoding/json"
	"fmt"
	"time"

	"codeforge/internal/analyzer"
	"codeforge/internal/sandbox"
	"codeforge/internal/types"
)

// SuspensionRecord carries everything needed to resume a suspended session
// without in-process memory. It must survive serialization: resumption may
// happen days later in a different process instance.
type SuspensionRecord struct {
	Handle               string                  `json:"handle"`
	Code                 string                  `json:"code"`
	Analysis             *analyzer.Result        `json:"analysis"`
	IsolationLevel       sandbox.IsolationLevel  `json:"isolation_level"`
	SafetyConcerns       []string                `json:"safety_concerns,omitempty"`
	Request              *types.ExecutionRequest `json:"original_request"`
	ExpectedResultSchema map[string]any          `json:"expected_result_schema,omitempty"`
	IsolationFolderPath  string                  `json:"isolation_folder_path,omitempty"`
	TaskObjective        string                  `json:"task_objective"`
	Attempt              int                     `json:"attempt"`
	CreatedAt            time.Time               `json:"created_at"`
}

// Encode serializes the record for the durable store.
func (r *SuspensionRecord) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode suspension record: %w", err)
	}
	return data, nil
}

// DecodeRecord restores a record from its serialized form.
func DecodeRecord(data []byte) (*SuspensionRecord, error) {
	var r SuspensionRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode suspension record: %w", err)
	}
	if r.Handle == "" {
		return nil, fmt.Errorf("decode suspension record: missing handle")
	}
	return &r, nil
}

// ResumeDecision is the reviewer's answer for one suspension. Consumed
// exactly once; the store deletes the record when it is claimed, so a replay
// cannot find it.
type ResumeDecision struct {
	Approved bool `json:"approved"`
	// Payload optionally overrides record fields: "code" replaces the
	// suspended source, "expected_result_schema" the schema. Nil means run
	// the suspended code unchanged.
	Payload map[string]any `json:"payload,omitempty"`
}

// Continuation is what the controller resumes with after an approved
// decision: the record's code and schema merged with any edited payload.
type Continuation struct {
	Approved bool
	Code     string
	Schema   map[string]any
	Record   *SuspensionRecord
}
