package approval

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeforge/internal/analyzer"
	"codeforge/internal/generator"
	"codeforge/internal/policy"
	"codeforge/internal/sandbox"
	"codeforge/internal/types"
)

// memStore is an in-memory RecordStore with claim-once semantics.
type memStore struct {
	mu      sync.Mutex
	records map[string]*SuspensionRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*SuspensionRecord)}
}

func (m *memStore) Put(_ context.Context, r *SuspensionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.Handle] = r
	return nil
}

func (m *memStore) Claim(_ context.Context, handle string) (*SuspensionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[handle]
	if !ok {
		return nil, fmt.Errorf("claim %s: record not found", handle)
	}
	delete(m.records, handle)
	return r, nil
}

func (m *memStore) List(_ context.Context) ([]*SuspensionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*SuspensionRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for handle, r := range m.records {
		if r.CreatedAt.Before(cutoff) {
			delete(m.records, handle)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Close() error { return nil }

func newGate(t *testing.T, mode policy.GlobalMode, caps map[string]policy.CapabilityPolicy) (*Gate, *memStore) {
	t.Helper()
	store, err := policy.NewStore(&policy.ApprovalConfig{GlobalMode: mode, Capabilities: caps}, nil)
	require.NoError(t, err)
	records := newMemStore()
	return NewGate(store, records, nil), records
}

func TestRequiresApprovalResolution(t *testing.T) {
	caps := map[string]policy.CapabilityPolicy{
		"enabled_cap":  {Enabled: true, Mode: policy.CapabilityModeAuto},
		"disabled_cap": {Enabled: false, Mode: policy.CapabilityModeAuto},
	}
	needs := &policy.Decision{NeedsApproval: true}
	clean := &policy.Decision{NeedsApproval: false}

	tests := []struct {
		name       string
		mode       policy.GlobalMode
		capability string
		decision   *policy.Decision
		want       bool
	}{
		{"disabled overrides risky decision", policy.GlobalDisabled, "enabled_cap", needs, false},
		{"disabled overrides always-on capability", policy.GlobalDisabled, "enabled_cap", needs, false},
		{"all overrides clean decision", policy.GlobalAll, "disabled_cap", clean, true},
		{"selective honors risky decision on enabled capability", policy.GlobalSelective, "enabled_cap", needs, true},
		{"selective skips clean decision", policy.GlobalSelective, "enabled_cap", clean, false},
		{"selective skips disabled capability", policy.GlobalSelective, "disabled_cap", needs, false},
		{"selective skips unknown capability", policy.GlobalSelective, "mystery", needs, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, _ := newGate(t, tt.mode, caps)
			assert.Equal(t, tt.want, gate.RequiresApproval(tt.capability, tt.decision))
		})
	}
}

func testRecordInputs() (*types.ExecutionRequest, *generator.GeneratedCode, *analyzer.Result, *policy.Decision) {
	req := &types.ExecutionRequest{
		TaskObjective:        "write sensor calibration to flash",
		ExpectedResultSchema: map[string]any{"written": "<bool>"},
		SessionKey:           "sess-1",
	}
	code := &generator.GeneratedCode{Source: "package main\n\nfunc Run(input map[string]interface{}) (map[string]interface{}, error) { return nil, nil }", Attempt: 2}
	analysis := &analyzer.Result{Passed: true, Risk: analyzer.RiskMedium}
	decision := &policy.Decision{
		IsolationLevel:    sandbox.IsolationLocked,
		NeedsApproval:     true,
		ApprovalReasoning: "domain risk categories: hardware",
		Passed:            true,
	}
	return req, code, analysis, decision
}

func TestSuspendResumeRoundTrip(t *testing.T) {
	gate, _ := newGate(t, policy.GlobalSelective, nil)
	ctx := context.Background()

	req, code, analysis, decision := testRecordInputs()
	record, err := gate.Suspend(ctx, req, code, analysis, decision, "calib")
	require.NoError(t, err)
	require.NotEmpty(t, record.Handle)
	assert.Equal(t, 2, record.Attempt)
	assert.Equal(t, sandbox.IsolationLocked, record.IsolationLevel)
	assert.NotEmpty(t, record.SafetyConcerns)

	// Durable round trip: the record survives serialization intact.
	data, err := record.Encode()
	require.NoError(t, err)
	decoded, err := DecodeRecord(data)
	require.NoError(t, err)
	if diff := cmp.Diff(record, decoded); diff != "" {
		t.Fatalf("record changed across serialization (-want +got):\n%s", diff)
	}

	cont, err := gate.Resume(ctx, record.Handle, ResumeDecision{Approved: true})
	require.NoError(t, err)
	assert.True(t, cont.Approved)
	assert.Equal(t, code.Source, cont.Code)
	assert.Equal(t, req.ExpectedResultSchema, cont.Schema)

	// Second resume must fail: the decision is consumed exactly once.
	_, err = gate.Resume(ctx, record.Handle, ResumeDecision{Approved: true})
	assert.Error(t, err)
}

func TestSuspendCopiesSchema(t *testing.T) {
	gate, _ := newGate(t, policy.GlobalSelective, nil)
	ctx := context.Background()

	req, code, analysis, decision := testRecordInputs()
	record, err := gate.Suspend(ctx, req, code, analysis, decision, "")
	require.NoError(t, err)

	// Mutating the live request after suspension must not reach the
	// durable record.
	req.ExpectedResultSchema["written"] = "<string>"
	assert.Equal(t, "<bool>", record.ExpectedResultSchema["written"])
}

func TestRequeueRestoresClaimedRecord(t *testing.T) {
	gate, _ := newGate(t, policy.GlobalSelective, nil)
	ctx := context.Background()

	req, code, analysis, decision := testRecordInputs()
	record, err := gate.Suspend(ctx, req, code, analysis, decision, "")
	require.NoError(t, err)

	cont, err := gate.Resume(ctx, record.Handle, ResumeDecision{Approved: true})
	require.NoError(t, err)

	require.NoError(t, gate.Requeue(ctx, cont.Record))

	again, err := gate.Resume(ctx, record.Handle, ResumeDecision{Approved: true})
	require.NoError(t, err)
	assert.Equal(t, cont.Code, again.Code)
}

func TestResumeRejection(t *testing.T) {
	gate, _ := newGate(t, policy.GlobalSelective, nil)
	ctx := context.Background()

	req, code, analysis, decision := testRecordInputs()
	record, err := gate.Suspend(ctx, req, code, analysis, decision, "")
	require.NoError(t, err)

	cont, err := gate.Resume(ctx, record.Handle, ResumeDecision{Approved: false})
	require.NoError(t, err)
	assert.False(t, cont.Approved)
}

func TestResumePayloadOverrides(t *testing.T) {
	gate, _ := newGate(t, policy.GlobalSelective, nil)
	ctx := context.Background()

	req, code, analysis, decision := testRecordInputs()
	record, err := gate.Suspend(ctx, req, code, analysis, decision, "")
	require.NoError(t, err)

	edited := "package main\n\nfunc Run(input map[string]interface{}) (map[string]interface{}, error) { return map[string]interface{}{\"written\": false}, nil }"
	cont, err := gate.Resume(ctx, record.Handle, ResumeDecision{
		Approved: true,
		Payload: map[string]any{
			"code":                   edited,
			"expected_result_schema": map[string]any{"written": "<bool>", "note": "<string>"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, edited, cont.Code)
	assert.Contains(t, cont.Schema, "note")
}

func TestReap(t *testing.T) {
	gate, records := newGate(t, policy.GlobalSelective, nil)
	ctx := context.Background()

	req, code, analysis, decision := testRecordInputs()
	old, err := gate.Suspend(ctx, req, code, analysis, decision, "")
	require.NoError(t, err)
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, records.Put(ctx, old))

	fresh, err := gate.Suspend(ctx, req, code, analysis, decision, "")
	require.NoError(t, err)

	n, err := gate.Reap(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = gate.Resume(ctx, old.Handle, ResumeDecision{Approved: true})
	assert.Error(t, err, "expired suspension must not be resumable")

	pending, err := gate.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.Handle, pending[0].Handle)
}
