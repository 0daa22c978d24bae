// Package sandbox executes admitted code in an isolated yaegi interpreter.
// One interpreter per invocation; nothing is shared across runs.
package sandbox

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"codeforge/internal/analyzer"
	"codeforge/internal/logging"
	"codeforge/internal/schema"
	"codeforge/internal/types"
)

// ErrKind distinguishes failures of the isolation environment from failures
// raised by the code itself. The controller retries the former on the same
// code and regenerates on the latter.
type ErrKind int

const (
	ErrKindInfra ErrKind = iota
	ErrKindRuntime
)

func (k ErrKind) String() string {
	if k == ErrKindInfra {
		return "infrastructure"
	}
	return "runtime"
}

// ExecError is a typed execution failure.
type ExecError struct {
	Kind ErrKind
	Msg  string
	Err  error
}

func (e *ExecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sandbox %s failure: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("sandbox %s failure: %s", e.Kind, e.Msg)
}

func (e *ExecError) Unwrap() error { return e.Err }

func infraErr(msg string, err error) *ExecError {
	return &ExecError{Kind: ErrKindInfra, Msg: msg, Err: err}
}

func runtimeErr(msg string, err error) *ExecError {
	return &ExecError{Kind: ErrKindRuntime, Msg: msg, Err: err}
}

// Executor runs admitted code and reports a structured outcome. FolderPath
// resolves an isolation folder name to the absolute path executions for it
// will use, so suspension records can carry the real location.
type Executor interface {
	Execute(ctx context.Context, code string, level IsolationLevel, req *types.ExecutionRequest) (*types.ExecutionOutcome, error)
	FolderPath(name string) string
}

// runFunc is the contract the generated code must satisfy.
type runFunc = func(map[string]interface{}) (map[string]interface{}, error)

// YaegiExecutor interprets generated Go in-process. Interpreting instead of
// compiling avoids toolchain hangs and dependency resolution entirely: only
// the stdlib symbols for the isolation level are loaded.
type YaegiExecutor struct {
	workspace string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewYaegiExecutor creates an executor rooted at workspace. Isolation
// folders are created beneath it per request.
func NewYaegiExecutor(workspace string, timeout time.Duration, logger *zap.Logger) *YaegiExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YaegiExecutor{
		workspace: workspace,
		timeout:   timeout,
		logger:    logging.OrNop(logger).Named("sandbox"),
	}
}

// Execute runs code at the given isolation level. The generated source must
// declare func Run(input map[string]interface{}) (map[string]interface{}, error);
// its return value is validated against the request's expected schema.
func (e *YaegiExecutor) Execute(ctx context.Context, code string, level IsolationLevel, req *types.ExecutionRequest) (*types.ExecutionOutcome, error) {
	start := time.Now()

	folder, err := e.prepareFolder(req)
	if err != nil {
		return nil, infraErr("isolation folder unpreparable", err)
	}

	if err := checkImports(code, level); err != nil {
		return nil, runtimeErr("import not permitted at isolation level "+level.String(), err)
	}

	i := interp.New(interp.Options{GoPath: folder})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, infraErr("stdlib symbols unavailable", err)
	}

	if _, err := i.Eval(wrapCode(code)); err != nil {
		return nil, runtimeErr("code evaluation failed", err)
	}

	v, err := i.Eval("main." + analyzer.EntryFunction)
	if err != nil {
		return nil, runtimeErr(analyzer.EntryFunction+" entry point not found", err)
	}
	run, ok := v.Interface().(runFunc)
	if !ok {
		return nil, runtimeErr(analyzer.EntryFunction+" has the wrong signature", nil)
	}

	input := buildInput(req, folder)

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type runResult struct {
		value map[string]interface{}
		err   error
	}
	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		value, runErr := run(input)
		done <- runResult{value: value, err: runErr}
	}()

	var value map[string]interface{}
	select {
	case res := <-done:
		if res.err != nil {
			return nil, runtimeErr("code raised at run time", res.err)
		}
		value = res.value
	case <-execCtx.Done():
		// A hung Run is the code's fault; regeneration is the right
		// recovery, not an environment retry.
		return nil, runtimeErr("execution exceeded timeout", execCtx.Err())
	}

	if err := schema.Validate(req.ExpectedResultSchema, value); err != nil {
		return nil, runtimeErr("result does not match expected schema", err)
	}

	outcome := &types.ExecutionOutcome{
		Success:   true,
		Result:    value,
		Artifacts: collectArtifacts(folder),
		Elapsed:   time.Since(start),
	}
	e.logger.Info("execution succeeded",
		zap.Duration("elapsed", outcome.Elapsed),
		zap.Int("artifacts", len(outcome.Artifacts)),
		zap.Stringer("isolation", level))
	return outcome, nil
}

// FolderPath resolves an isolation folder name under the workspace. Empty
// when the name is empty or no workspace is configured.
func (e *YaegiExecutor) FolderPath(name string) string {
	if name == "" || e.workspace == "" {
		return ""
	}
	return filepath.Join(e.workspace, name)
}

// prepareFolder creates the per-request isolation folder. An empty folder
// name keeps execution folderless (no artifact surface).
func (e *YaegiExecutor) prepareFolder(req *types.ExecutionRequest) (string, error) {
	if req.IsolationFolderName == "" {
		return "", nil
	}
	if e.workspace == "" {
		return "", fmt.Errorf("sandbox workspace not configured")
	}
	folder := e.FolderPath(req.IsolationFolderName)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", err
	}
	return folder, nil
}

// buildInput assembles the Run input map from bound context data.
func buildInput(req *types.ExecutionRequest, folder string) map[string]interface{} {
	input := make(map[string]interface{}, len(req.ContextData)+1)
	for k, v := range req.ContextData {
		input[k] = v
	}
	if folder != "" {
		input["__workdir"] = folder
	}
	return input
}

// checkImports enforces the isolation level's allowlist. The static analyzer
// already screened imports, but admission and execution can be separated by
// days of suspension; the sandbox re-checks at the moment it matters.
func checkImports(code string, level IsolationLevel) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "generated.go", code, parser.ImportsOnly)
	if err != nil {
		return err
	}
	allowed := allowedPackages(level)
	var denied []string
	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		if !allowed[path] {
			denied = append(denied, path)
		}
	}
	if len(denied) > 0 {
		return fmt.Errorf("imports %v not allowed at level %s", denied, level)
	}
	return nil
}

// wrapCode ensures the source carries a package clause yaegi will accept.
func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}

// collectArtifacts lists files present in the isolation folder after a run.
func collectArtifacts(folder string) []string {
	if folder == "" {
		return nil
	}
	var artifacts []string
	_ = filepath.WalkDir(folder, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			artifacts = append(artifacts, path)
		}
		return nil
	})
	return artifacts
}
