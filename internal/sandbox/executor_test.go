package sandbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeforge/internal/types"
)

const meanCode = `package main

func Run(input map[string]interface{}) (map[string]interface{}, error) {
	values, ok := input["values"].([]interface{})
	if !ok {
		return nil, errValuesMissing
	}
	sum := 0.0
	for _, v := range values {
		f, _ := v.(float64)
		sum += f
	}
	return map[string]interface{}{"mean": sum / float64(len(values))}, nil
}

var errValuesMissing = errString("values input missing")

type errString string

func (e errString) Error() string { return string(e) }
`

func newTestExecutor(t *testing.T) *YaegiExecutor {
	t.Helper()
	return NewYaegiExecutor(t.TempDir(), 5*time.Second, nil)
}

func TestExecuteSuccess(t *testing.T) {
	e := newTestExecutor(t)
	req := &types.ExecutionRequest{
		TaskObjective:        "compute the mean",
		ExpectedResultSchema: map[string]any{"mean": "<float>"},
		ContextData:          map[string]any{"values": []any{1.0, 2.0, 3.0}},
	}

	outcome, err := e.Execute(context.Background(), meanCode, IsolationWorkspace, req)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.InDelta(t, 2.0, outcome.Result["mean"], 1e-9)
	assert.Positive(t, outcome.Elapsed)
}

func TestExecuteSchemaMismatchIsRuntime(t *testing.T) {
	e := newTestExecutor(t)
	req := &types.ExecutionRequest{
		TaskObjective:        "compute the mean",
		ExpectedResultSchema: map[string]any{"median": "<float>"},
		ContextData:          map[string]any{"values": []any{1.0}},
	}

	_, err := e.Execute(context.Background(), meanCode, IsolationWorkspace, req)
	require.Error(t, err)
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, ErrKindRuntime, execErr.Kind)
}

func TestExecuteImportViolation(t *testing.T) {
	code := `package main

import "os"

func Run(input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"dir": os.TempDir()}, nil
}
`
	e := newTestExecutor(t)
	req := &types.ExecutionRequest{TaskObjective: "read tmp"}

	// os is fine at the workspace tier but denied once locked.
	_, err := e.Execute(context.Background(), code, IsolationLocked, req)
	require.Error(t, err)
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, ErrKindRuntime, execErr.Kind)
	assert.Contains(t, err.Error(), "os")
}

func TestExecuteRuntimeError(t *testing.T) {
	code := `package main

import "errors"

func Run(input map[string]interface{}) (map[string]interface{}, error) {
	return nil, errors.New("deliberate failure")
}
`
	e := newTestExecutor(t)
	_, err := e.Execute(context.Background(), code, IsolationWorkspace, &types.ExecutionRequest{TaskObjective: "fail"})
	require.Error(t, err)
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, ErrKindRuntime, execErr.Kind)
	assert.Contains(t, err.Error(), "deliberate failure")
}

func TestExecutePanicIsRuntime(t *testing.T) {
	code := `package main

func Run(input map[string]interface{}) (map[string]interface{}, error) {
	var m map[string]int
	m["boom"] = 1
	return nil, nil
}
`
	e := newTestExecutor(t)
	_, err := e.Execute(context.Background(), code, IsolationWorkspace, &types.ExecutionRequest{TaskObjective: "panic"})
	require.Error(t, err)
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, ErrKindRuntime, execErr.Kind)
}

func TestExecuteTimeoutIsRuntime(t *testing.T) {
	code := `package main

func Run(input map[string]interface{}) (map[string]interface{}, error) {
	for {
	}
}
`
	e := NewYaegiExecutor(t.TempDir(), 100*time.Millisecond, nil)
	_, err := e.Execute(context.Background(), code, IsolationLocked, &types.ExecutionRequest{TaskObjective: "hang"})
	require.Error(t, err)
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, ErrKindRuntime, execErr.Kind)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestExecuteArtifactCollection(t *testing.T) {
	code := `package main

import (
	"os"
	"path/filepath"
)

func Run(input map[string]interface{}) (map[string]interface{}, error) {
	dir, _ := input["__workdir"].(string)
	path := filepath.Join(dir, "report.txt")
	if err := os.WriteFile(path, []byte("done"), 0o644); err != nil {
		return nil, err
	}
	return map[string]interface{}{"path": path}, nil
}
`
	e := newTestExecutor(t)
	req := &types.ExecutionRequest{
		TaskObjective:        "write a report",
		IsolationFolderName:  "report-job",
		ExpectedResultSchema: map[string]any{"path": "<string>"},
	}

	outcome, err := e.Execute(context.Background(), code, IsolationWorkspace, req)
	require.NoError(t, err)
	require.Len(t, outcome.Artifacts, 1)
	assert.Contains(t, outcome.Artifacts[0], "report.txt")
}

func TestFolderPath(t *testing.T) {
	e := NewYaegiExecutor("/work", time.Second, nil)
	assert.Equal(t, filepath.Join("/work", "job-7"), e.FolderPath("job-7"))
	assert.Empty(t, e.FolderPath(""))
	assert.Empty(t, NewYaegiExecutor("", time.Second, nil).FolderPath("job-7"))
}

func TestIsolationEscalate(t *testing.T) {
	assert.Equal(t, IsolationLocked, IsolationWorkspace.Escalate(IsolationLocked))
	assert.Equal(t, IsolationLocked, IsolationLocked.Escalate(IsolationWorkspace))
	assert.Equal(t, IsolationReadOnly, IsolationReadOnly.Escalate(IsolationReadOnly))
}
