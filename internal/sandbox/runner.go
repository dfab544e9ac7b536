// Package sandbox executes model-authored python in an isolated working
// directory and classifies failures for user-facing reporting.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/flitsinc/datalab/internal/idgen"
)

// DefaultTimeout bounds one ExecutePython call.
const DefaultTimeout = 60 * time.Second

type Result struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Runner owns one isolated working directory. Runners are scoped to a
// single invocation; different sessions/turns never share directories.
type Runner struct {
	Root      string
	PythonBin string
	Timeout   time.Duration
	Logger    *zap.Logger

	dir string
}

// Setup acquires the working directory. Calling it again after a
// successful setup is a no-op.
func (r *Runner) Setup() error {
	if r.dir != "" {
		return nil
	}
	root := r.Root
	if root == "" {
		root = filepath.Join(os.TempDir(), "datalab-sandbox")
	}
	dir := filepath.Join(root, idgen.New())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sandbox dir: %w", err)
	}
	r.dir = dir
	return nil
}

// Dir reports the working directory acquired by Setup.
func (r *Runner) Dir() string {
	return r.dir
}

// ExecutePython writes the code into the sandbox and runs it with stdout
// and stderr captured. The run is bounded by Timeout; the returned Result
// carries whatever output was produced even when err is non-nil.
func (r *Runner) ExecutePython(ctx context.Context, code string) (Result, error) {
	if r.dir == "" {
		if err := r.Setup(); err != nil {
			return Result{}, err
		}
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scriptPath := filepath.Join(r.dir, "script.py")
	if err := os.WriteFile(scriptPath, []byte(code), 0o600); err != nil {
		return Result{}, fmt.Errorf("write script: %w", err)
	}

	pythonBin := r.PythonBin
	if pythonBin == "" {
		pythonBin = "python3"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, pythonBin, scriptPath)
	cmd.Dir = r.dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if r.Logger != nil {
		r.Logger.Debug("sandbox run finished",
			zap.Duration("elapsed", time.Since(start)),
			zap.Bool("failed", err != nil),
		)
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return result, fmt.Errorf("execution timed out after %s", timeout)
	}
	if err != nil {
		return result, fmt.Errorf("run python: %w", err)
	}
	return result, nil
}

// Cleanup releases the working directory. Safe to call more than once and
// on a runner that never completed setup.
func (r *Runner) Cleanup() error {
	if r.dir == "" {
		return nil
	}
	dir := r.dir
	r.dir = ""
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove sandbox dir: %w", err)
	}
	return nil
}
