package policy

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"sort"
	"strings"

	"github.com/google/mangle/analysis"
	mast "github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"

	"codeforge/internal/analyzer"
	"codeforge/internal/logging"
)

//go:embed domain_policy.mg
var domainPolicy string

// MangleAnalyzer evaluates a Datalog policy over AST facts extracted from
// generated code. Deployments override the policy text to describe their own
// dangerous packages and calls; the rules stay declarative.
type MangleAnalyzer struct {
	program *analysis.ProgramInfo
	preds   map[string]mast.PredicateSym
	logger  *zap.Logger
}

// NewMangleAnalyzer compiles the embedded default policy.
func NewMangleAnalyzer(logger *zap.Logger) (*MangleAnalyzer, error) {
	return NewMangleAnalyzerFromPolicy(domainPolicy, logger)
}

// NewMangleAnalyzerFromPolicy compiles a caller-supplied policy source.
func NewMangleAnalyzerFromPolicy(policy string, logger *zap.Logger) (*MangleAnalyzer, error) {
	unit, err := parse.Unit(bytes.NewReader([]byte(policy)))
	if err != nil {
		return nil, fmt.Errorf("parse domain policy: %w", err)
	}
	program, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze domain policy: %w", err)
	}

	preds := make(map[string]mast.PredicateSym, len(program.Decls))
	for sym := range program.Decls {
		preds[sym.Symbol] = sym
	}
	for _, required := range []string{"code_import", "code_call", "detected_operation", "risk_category"} {
		if _, ok := preds[required]; !ok {
			return nil, fmt.Errorf("domain policy does not declare %s", required)
		}
	}

	return &MangleAnalyzer{
		program: program,
		preds:   preds,
		logger:  logging.OrNop(logger).Named("domainpolicy"),
	}, nil
}

func (m *MangleAnalyzer) Name() string { return "mangle" }

// AnalyzeDomain extracts facts from the code, evaluates the policy in a
// fresh fact store, and reads back the derived operations and categories.
// Unparsable code yields an empty result; the static analyzer already owns
// syntax reporting.
func (m *MangleAnalyzer) AnalyzeDomain(ctx context.Context, code string, basic *analyzer.Result) (*DomainResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	facts, err := extractCodeFacts(code)
	if err != nil {
		return &DomainResult{}, nil
	}

	store := factstore.NewSimpleInMemoryStore()
	for _, fact := range facts {
		atom, err := m.factAtom(fact)
		if err != nil {
			return nil, err
		}
		store.Add(atom)
	}

	if _, err := mengine.EvalProgramWithStats(m.program, store); err != nil {
		return nil, fmt.Errorf("evaluate domain policy: %w", err)
	}

	result := &DomainResult{
		DetectedOperations: m.readTags(store, "detected_operation"),
		RiskCategories:     m.readTags(store, "risk_category"),
		Data:               map[string]any{"facts": len(facts)},
	}
	if len(result.RiskCategories) > 0 {
		m.logger.Info("domain risk detected",
			zap.Strings("operations", result.DetectedOperations),
			zap.Strings("categories", result.RiskCategories))
	}
	return result, nil
}

// codeFact is one extracted ground fact.
type codeFact struct {
	predicate string
	args      []string
}

func (m *MangleAnalyzer) factAtom(fact codeFact) (mast.Atom, error) {
	sym, ok := m.preds[fact.predicate]
	if !ok {
		return mast.Atom{}, fmt.Errorf("predicate %s not declared in policy", fact.predicate)
	}
	if sym.Arity != len(fact.args) {
		return mast.Atom{}, fmt.Errorf("predicate %s expects %d args, got %d", fact.predicate, sym.Arity, len(fact.args))
	}
	args := make([]mast.BaseTerm, len(fact.args))
	for i, arg := range fact.args {
		args[i] = mast.String(arg)
	}
	return mast.Atom{Predicate: sym, Args: args}, nil
}

// readTags collects the single-argument facts of a derived predicate as
// sorted strings, stripping the name-constant slash prefix.
func (m *MangleAnalyzer) readTags(store factstore.FactStore, predicate string) []string {
	sym := m.preds[predicate]
	seen := make(map[string]struct{})
	_ = store.GetFacts(mast.NewQuery(sym), func(atom mast.Atom) error {
		if len(atom.Args) != 1 {
			return nil
		}
		if c, ok := atom.Args[0].(mast.Constant); ok {
			seen[strings.TrimPrefix(c.Symbol, "/")] = struct{}{}
		}
		return nil
	})
	if len(seen) == 0 {
		return nil
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// extractCodeFacts walks the source AST emitting code_import and code_call
// facts.
func extractCodeFacts(code string) ([]codeFact, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "generated.go", code, 0)
	if err != nil {
		return nil, err
	}

	var facts []codeFact
	for _, imp := range file.Imports {
		facts = append(facts, codeFact{
			predicate: "code_import",
			args:      []string{strings.Trim(imp.Path.Value, `"`)},
		})
	}

	currentFn := "init"
	ast.Inspect(file, func(n ast.Node) bool {
		switch node := n.(type) {
		case *ast.FuncDecl:
			currentFn = node.Name.Name
		case *ast.CallExpr:
			facts = append(facts, codeFact{
				predicate: "code_call",
				args:      []string{currentFn, exprString(fset, node.Fun)},
			})
		}
		return true
	})
	return facts, nil
}

func exprString(fset *token.FileSet, expr ast.Expr) string {
	var buf bytes.Buffer
	_ = printer.Fprint(&buf, fset, expr)
	return buf.String()
}
