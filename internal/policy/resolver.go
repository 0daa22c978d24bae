package policy

import (
	"fmt"
	"sort"
	"strings"

	"codeforge/internal/analyzer"
	"codeforge/internal/sandbox"
)

// Decision is the Policy Resolver's admission verdict for one analysis pass.
type Decision struct {
	IsolationLevel    sandbox.IsolationLevel `json:"isolation_level"`
	NeedsApproval     bool                   `json:"needs_approval"`
	ApprovalReasoning string                 `json:"approval_reasoning,omitempty"`
	Issues            []analyzer.Issue       `json:"issues,omitempty"`
	Recommendations   []string               `json:"recommendations,omitempty"`
	Passed            bool                   `json:"passed"`
}

// SafetyConcerns summarizes why a human is being asked, for the suspension
// record shown to the approver.
func (d *Decision) SafetyConcerns() []string {
	var concerns []string
	if d.ApprovalReasoning != "" {
		concerns = append(concerns, d.ApprovalReasoning)
	}
	for _, issue := range d.Issues {
		if issue.Severity >= analyzer.SeverityWarning {
			concerns = append(concerns, issue.String())
		}
	}
	return concerns
}

// Resolver combines mechanical analysis with deployment policy. Strategies
// are selected once at startup; what counts as dangerous and what needs a
// human vary independently per deployment.
type Resolver interface {
	Name() string
	Decide(basic *analyzer.Result, domain *DomainResult, capability CapabilityPolicy) *Decision
}

// ResolverRegistry maps configured strategy names to implementations.
type ResolverRegistry struct {
	resolvers map[string]Resolver
}

// NewResolverRegistry returns a registry preloaded with the default
// strategy.
func NewResolverRegistry() *ResolverRegistry {
	r := &ResolverRegistry{resolvers: make(map[string]Resolver)}
	r.MustRegister(DefaultResolver{})
	return r
}

// Register adds a resolver strategy under its Name.
func (r *ResolverRegistry) Register(res Resolver) error {
	name := res.Name()
	if name == "" {
		return fmt.Errorf("resolver has empty name")
	}
	if _, exists := r.resolvers[name]; exists {
		return fmt.Errorf("resolver %q already registered", name)
	}
	r.resolvers[name] = res
	return nil
}

// MustRegister panics on registration failure; for static init wiring.
func (r *ResolverRegistry) MustRegister(res Resolver) {
	if err := r.Register(res); err != nil {
		panic(err)
	}
}

// Lookup resolves a configured strategy name.
func (r *ResolverRegistry) Lookup(name string) (Resolver, error) {
	if res, ok := r.resolvers[name]; ok {
		return res, nil
	}
	known := make([]string, 0, len(r.resolvers))
	for k := range r.resolvers {
		known = append(known, k)
	}
	sort.Strings(known)
	return nil, fmt.Errorf("unknown resolver %q (registered: %v)", name, known)
}

// DefaultResolver implements the standard admission rule:
//
//	needsApproval = hard security finding
//	             OR any domain risk category
//	             OR the capability is configured to always require approval
//
// The isolation level escalates monotonically with detected risk.
type DefaultResolver struct{}

func (DefaultResolver) Name() string { return "default" }

func (DefaultResolver) Decide(basic *analyzer.Result, domain *DomainResult, capability CapabilityPolicy) *Decision {
	d := &Decision{
		IsolationLevel:  sandbox.IsolationWorkspace,
		Passed:          basic.Passed,
		Recommendations: basic.Warnings(),
	}

	switch basic.Risk {
	case analyzer.RiskMedium:
		d.IsolationLevel = d.IsolationLevel.Escalate(sandbox.IsolationReadOnly)
	case analyzer.RiskHigh:
		d.IsolationLevel = d.IsolationLevel.Escalate(sandbox.IsolationLocked)
	}

	var reasons []string
	if basic.HasBlocking() {
		reasons = append(reasons, "hard security finding in static analysis")
	}
	if len(domain.RiskCategories) > 0 {
		reasons = append(reasons, fmt.Sprintf("domain risk categories: %s", strings.Join(domain.RiskCategories, ", ")))
		d.IsolationLevel = d.IsolationLevel.Escalate(sandbox.IsolationLocked)
	}
	if capability.Mode == CapabilityModeAlways {
		reasons = append(reasons, "capability policy requires approval for every run")
	}

	if len(reasons) > 0 {
		d.NeedsApproval = true
		d.ApprovalReasoning = strings.Join(reasons, "; ")
	}

	for _, op := range domain.DetectedOperations {
		d.Issues = append(d.Issues, analyzer.Issue{
			Kind:     analyzer.KindDomain,
			Severity: analyzer.SeverityWarning,
			Message:  fmt.Sprintf("domain operation detected: %s", op),
		})
	}
	return d
}
