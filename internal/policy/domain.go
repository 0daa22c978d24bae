// Package policy turns analysis findings into admission decisions. It hosts
// the pluggable domain analyzer, the resolver strategies, and the approval
// policy store.
package policy

import (
	"context"
	"fmt"
	"sort"

	"codeforge/internal/analyzer"
)

// DomainResult carries deployment-specific findings layered on top of the
// basic analysis.
type DomainResult struct {
	// DetectedOperations are domain operation tags found in the code,
	// e.g. "hardware_write".
	DetectedOperations []string `json:"detected_operations,omitempty"`
	// RiskCategories are the risk buckets those operations fall into. Any
	// non-empty set forces an approval requirement under the default rule.
	RiskCategories []string `json:"risk_categories,omitempty"`
	// Data is an open map for detector-specific detail.
	Data map[string]any `json:"data,omitempty"`
}

// DomainAnalyzer is the deployment extension point. Implementations inspect
// generated code for domain-specific risk; the shipped default detects
// nothing.
type DomainAnalyzer interface {
	Name() string
	AnalyzeDomain(ctx context.Context, code string, basic *analyzer.Result) (*DomainResult, error)
}

// NopDomainAnalyzer is the default: no operations, no risk categories.
type NopDomainAnalyzer struct{}

func (NopDomainAnalyzer) Name() string { return "none" }

func (NopDomainAnalyzer) AnalyzeDomain(context.Context, string, *analyzer.Result) (*DomainResult, error) {
	return &DomainResult{}, nil
}

// DomainRegistry maps configured names to analyzer implementations. Lookup
// happens once at startup; there is no runtime reflection.
type DomainRegistry struct {
	analyzers map[string]DomainAnalyzer
}

// NewDomainRegistry returns a registry preloaded with the "none" analyzer.
func NewDomainRegistry() *DomainRegistry {
	r := &DomainRegistry{analyzers: make(map[string]DomainAnalyzer)}
	r.MustRegister(NopDomainAnalyzer{})
	return r
}

// Register adds an analyzer under its Name.
func (r *DomainRegistry) Register(a DomainAnalyzer) error {
	name := a.Name()
	if name == "" {
		return fmt.Errorf("domain analyzer has empty name")
	}
	if _, exists := r.analyzers[name]; exists {
		return fmt.Errorf("domain analyzer %q already registered", name)
	}
	r.analyzers[name] = a
	return nil
}

// MustRegister panics on registration failure; for static init wiring.
func (r *DomainRegistry) MustRegister(a DomainAnalyzer) {
	if err := r.Register(a); err != nil {
		panic(err)
	}
}

// Lookup resolves a configured analyzer name, listing the known names on
// failure so a config typo fails startup with a usable message.
func (r *DomainRegistry) Lookup(name string) (DomainAnalyzer, error) {
	if a, ok := r.analyzers[name]; ok {
		return a, nil
	}
	known := make([]string, 0, len(r.analyzers))
	for k := range r.analyzers {
		known = append(known, k)
	}
	sort.Strings(known)
	return nil, fmt.Errorf("unknown domain analyzer %q (registered: %v)", name, known)
}
