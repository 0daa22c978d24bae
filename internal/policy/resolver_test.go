package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeforge/internal/analyzer"
	"codeforge/internal/sandbox"
)

func TestDefaultResolverDecide(t *testing.T) {
	auto := CapabilityPolicy{Enabled: true, Mode: CapabilityModeAuto}

	tests := []struct {
		name         string
		basic        *analyzer.Result
		domain       *DomainResult
		capability   CapabilityPolicy
		wantLevel    sandbox.IsolationLevel
		wantApproval bool
	}{
		{
			name:       "clean code runs in workspace unattended",
			basic:      &analyzer.Result{Passed: true, Risk: analyzer.RiskLow},
			domain:     &DomainResult{},
			capability: auto,
			wantLevel:  sandbox.IsolationWorkspace,
		},
		{
			name:       "medium risk moves to read-only",
			basic:      &analyzer.Result{Passed: true, Risk: analyzer.RiskMedium},
			domain:     &DomainResult{},
			capability: auto,
			wantLevel:  sandbox.IsolationReadOnly,
		},
		{
			name:       "high risk locks down",
			basic:      &analyzer.Result{Passed: true, Risk: analyzer.RiskHigh},
			domain:     &DomainResult{},
			capability: auto,
			wantLevel:  sandbox.IsolationLocked,
		},
		{
			name: "blocking finding forces approval",
			basic: &analyzer.Result{
				Passed: false,
				Issues: []analyzer.Issue{{Kind: analyzer.KindSecurity, Severity: analyzer.SeverityBlocking, Message: "x"}},
			},
			domain:       &DomainResult{},
			capability:   auto,
			wantLevel:    sandbox.IsolationWorkspace,
			wantApproval: true,
		},
		{
			name:  "domain risk category locks and requires approval",
			basic: &analyzer.Result{Passed: true, Risk: analyzer.RiskLow},
			domain: &DomainResult{
				DetectedOperations: []string{"hardware_write"},
				RiskCategories:     []string{"hardware"},
			},
			capability:   auto,
			wantLevel:    sandbox.IsolationLocked,
			wantApproval: true,
		},
		{
			name:         "always-mode capability requires approval on clean code",
			basic:        &analyzer.Result{Passed: true, Risk: analyzer.RiskLow},
			domain:       &DomainResult{},
			capability:   CapabilityPolicy{Enabled: true, Mode: CapabilityModeAlways},
			wantLevel:    sandbox.IsolationWorkspace,
			wantApproval: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DefaultResolver{}.Decide(tt.basic, tt.domain, tt.capability)
			assert.Equal(t, tt.wantLevel, d.IsolationLevel)
			assert.Equal(t, tt.wantApproval, d.NeedsApproval)
			if tt.wantApproval {
				assert.NotEmpty(t, d.ApprovalReasoning)
				assert.NotEmpty(t, d.SafetyConcerns())
			}
		})
	}
}

func TestDefaultResolverDomainOperationsBecomeIssues(t *testing.T) {
	d := DefaultResolver{}.Decide(
		&analyzer.Result{Passed: true},
		&DomainResult{DetectedOperations: []string{"filesystem_mutation"}},
		CapabilityPolicy{Enabled: true, Mode: CapabilityModeAuto},
	)
	require.Len(t, d.Issues, 1)
	assert.Equal(t, analyzer.KindDomain, d.Issues[0].Kind)
	assert.Contains(t, d.Issues[0].Message, "filesystem_mutation")
	// An operation tag alone is informational; only a risk category gates.
	assert.False(t, d.NeedsApproval)
}

func TestResolverRegistry(t *testing.T) {
	r := NewResolverRegistry()

	res, err := r.Lookup("default")
	require.NoError(t, err)
	assert.Equal(t, "default", res.Name())

	_, err = r.Lookup("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default")

	err = r.Register(DefaultResolver{})
	assert.Error(t, err)
}
