// Package analyzer performs static analysis of generated Go source before it
// is admitted for execution. Analysis never fails for quality problems; those
// become ordered issues on the result. The single abort case is unparsable
// code, reported as a typed *SyntaxError.
package analyzer

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"strings"

	"go.uber.org/zap"

	"codeforge/internal/logging"
)

// EntryFunction is the agreed output contract: generated code must declare
// func Run(input map[string]any) (map[string]any, error) in package main.
const EntryFunction = "Run"

// Analyzer runs the staged static checks.
type Analyzer struct {
	logger *zap.Logger

	// deniedImports are hard-block import prefixes.
	deniedImports []string
	// riskyImports escalate the risk level but only warn.
	riskyImports map[string]RiskLevel
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithDeniedImports replaces the default hard-block import list.
func WithDeniedImports(paths ...string) Option {
	return func(a *Analyzer) { a.deniedImports = paths }
}

// New creates an Analyzer with the default deny list.
func New(logger *zap.Logger, opts ...Option) *Analyzer {
	a := &Analyzer{
		logger: logging.OrNop(logger).Named("analyzer"),
		deniedImports: []string{
			"os/exec",
			"syscall",
			"unsafe",
			"plugin",
			"runtime/cgo",
			"runtime/debug",
		},
		riskyImports: map[string]RiskLevel{
			"os":       RiskMedium,
			"io/fs":    RiskMedium,
			"reflect":  RiskMedium,
			"net":      RiskHigh,
			"net/http": RiskHigh,
			"net/rpc":  RiskHigh,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs all stages against code. The returned error is non-nil only
// for unparsable code, and is always a *SyntaxError in that case.
func (a *Analyzer) Analyze(code string) (*Result, error) {
	result := &Result{Passed: true, Risk: RiskLow}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "generated.go", code, parser.ParseComments)
	if err != nil {
		issues := syntaxIssues(err)
		a.logger.Debug("parse failed", zap.Int("issues", len(issues)))
		return nil, &SyntaxError{Err: err, Issues: issues}
	}

	a.scanImports(fset, file, result)
	a.scanSecurity(fset, file, result)
	a.scanResultShape(file, result)

	for _, issue := range result.Issues {
		if issue.Severity == SeverityBlocking {
			result.Passed = false
			break
		}
	}

	a.logger.Debug("analysis complete",
		zap.Bool("passed", result.Passed),
		zap.Stringer("risk", result.Risk),
		zap.Int("issues", len(result.Issues)))
	return result, nil
}

// scanImports flags deny-listed imports as blocking and risky imports as
// warnings, escalating the risk level.
func (a *Analyzer) scanImports(fset *token.FileSet, file *ast.File, result *Result) {
	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		result.Imports = append(result.Imports, path)
		line := fset.Position(imp.Pos()).Line

		if a.isDenied(path) {
			result.Issues = append(result.Issues, Issue{
				Kind:     KindImport,
				Severity: SeverityBlocking,
				Line:     line,
				Message:  fmt.Sprintf("import %q is prohibited", path),
			})
			result.escalate(RiskHigh)
			continue
		}
		if risk, ok := a.riskyImports[path]; ok {
			result.Issues = append(result.Issues, Issue{
				Kind:     KindSecurity,
				Severity: SeverityWarning,
				Line:     line,
				Message:  fmt.Sprintf("import %q grants access beyond pure computation", path),
			})
			result.escalate(risk)
		}
	}
}

// scanSecurity walks the AST for dangerous call patterns.
func (a *Analyzer) scanSecurity(fset *token.FileSet, file *ast.File, result *Result) {
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		line := fset.Position(call.Pos()).Line

		if ident, ok := call.Fun.(*ast.Ident); ok && ident.Name == "panic" {
			result.Issues = append(result.Issues, Issue{
				Kind:     KindSecurity,
				Severity: SeverityWarning,
				Line:     line,
				Message:  "panic() in generated code; errors should be returned from Run",
			})
			return true
		}

		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		pkg, ok := sel.X.(*ast.Ident)
		if !ok {
			return true
		}

		switch {
		case pkg.Name == "exec" || (pkg.Name == "syscall" && sel.Sel.Name == "Exec"):
			result.Issues = append(result.Issues, Issue{
				Kind:     KindSecurity,
				Severity: SeverityBlocking,
				Line:     line,
				Message:  fmt.Sprintf("raw process invocation %s.%s is prohibited", pkg.Name, sel.Sel.Name),
			})
			result.escalate(RiskHigh)
		case pkg.Name == "os" && (sel.Sel.Name == "Exit" || sel.Sel.Name == "StartProcess"):
			result.Issues = append(result.Issues, Issue{
				Kind:     KindSecurity,
				Severity: SeverityBlocking,
				Line:     line,
				Message:  fmt.Sprintf("os.%s terminates or forks the host process", sel.Sel.Name),
			})
			result.escalate(RiskHigh)
		case pkg.Name == "os" && strings.HasPrefix(sel.Sel.Name, "Remove"):
			result.Issues = append(result.Issues, Issue{
				Kind:     KindSecurity,
				Severity: SeverityWarning,
				Line:     line,
				Message:  fmt.Sprintf("os.%s deletes files; confine writes to the isolation folder", sel.Sel.Name),
			})
			result.escalate(RiskMedium)
		case pkg.Name == "reflect" && (sel.Sel.Name == "ValueOf" || sel.Sel.Name == "New"):
			result.Issues = append(result.Issues, Issue{
				Kind:     KindSecurity,
				Severity: SeverityWarning,
				Line:     line,
				Message:  "dynamic evaluation via reflect",
			})
			result.escalate(RiskMedium)
		}
		return true
	})
}

// scanResultShape verifies the agreed Run entry point is declared with the
// expected shape. Its absence is a hard block: without it no result can be
// captured, so execution is pointless.
func (a *Analyzer) scanResultShape(file *ast.File, result *Result) {
	if file.Name == nil || file.Name.Name != "main" {
		result.Issues = append(result.Issues, Issue{
			Kind:     KindResult,
			Severity: SeverityWarning,
			Message:  "generated code should be package main; the executor wraps other packages",
		})
	}

	var run *ast.FuncDecl
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok && fn.Name.Name == EntryFunction && fn.Recv == nil {
			run = fn
			break
		}
	}
	if run == nil {
		result.Issues = append(result.Issues, Issue{
			Kind:     KindResult,
			Severity: SeverityBlocking,
			Message:  fmt.Sprintf("entry function %s(input map[string]interface{}) (map[string]interface{}, error) is not declared", EntryFunction),
		})
		return
	}

	params := 0
	if run.Type.Params != nil {
		for _, f := range run.Type.Params.List {
			params += max(1, len(f.Names))
		}
	}
	results := 0
	if run.Type.Results != nil {
		results = len(run.Type.Results.List)
	}
	if params != 1 || results != 2 {
		result.Issues = append(result.Issues, Issue{
			Kind:     KindResult,
			Severity: SeverityBlocking,
			Message: fmt.Sprintf("%s must take one input map and return (result map, error); found %d param(s), %d result(s)",
				EntryFunction, params, results),
		})
	}
}

func (a *Analyzer) isDenied(path string) bool {
	for _, denied := range a.deniedImports {
		if path == denied || strings.HasPrefix(path, denied+"/") {
			return true
		}
	}
	return false
}

// syntaxIssues converts parser errors into ordered issues.
func syntaxIssues(err error) []Issue {
	var issues []Issue
	var list scanner.ErrorList
	if errors.As(err, &list) {
		for _, e := range list {
			issues = append(issues, Issue{
				Kind:     KindSyntax,
				Severity: SeverityBlocking,
				Line:     e.Pos.Line,
				Message:  e.Msg,
			})
		}
	}
	if len(issues) == 0 {
		issues = append(issues, Issue{
			Kind:     KindSyntax,
			Severity: SeverityBlocking,
			Message:  err.Error(),
		})
	}
	return issues
}
