// Package scripts runs row and periodic scripts and records their results.
package scripts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ErrOutsideDir is returned for a script path that escapes the scripts
// directory.
var ErrOutsideDir = errors.New("script path outside scripts directory")

// maxOutput caps the captured output kept in results and logs.
const maxOutput = 4096

// Result is the outcome of one script run. A script passes when it exits 0.
type Result struct {
	Passed   bool          `json:"passed"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

// Runner executes a script command line.
type Runner interface {
	Run(ctx context.Context, command string) (Result, error)
}

// ExecRunner runs scripts from Dir through Shell, killing them after
// Timeout.
type ExecRunner struct {
	Dir     string
	Shell   string
	Timeout time.Duration
}

// Resolve splits command into a script path confined to Dir and its
// arguments.
func (r *ExecRunner) Resolve(command string) (string, []string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("scripts: empty command")
	}
	rel := filepath.Clean(fields[0])
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", nil, fmt.Errorf("scripts: %q: %w", fields[0], ErrOutsideDir)
	}
	return filepath.Join(r.Dir, rel), fields[1:], nil
}

// Run executes the command. A non-zero exit or a timeout is a failed
// Result, not an error; errors mean the script could not be started.
func (r *ExecRunner) Run(ctx context.Context, command string) (Result, error) {
	path, args, err := r.Resolve(command)
	if err != nil {
		return Result{}, err
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, append([]string{path}, args...)...)
	cmd.Dir = r.Dir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 2 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err = cmd.Run()
	res := Result{Duration: time.Since(start), Output: truncate(out.String())}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.Passed = true
	case ctx.Err() != nil:
		res.ExitCode = -1
		res.Output = truncate(res.Output + "\nscript timed out")
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("scripts: run %s: %w", path, err)
	}
	return res, nil
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutput {
		return s[len(s)-maxOutput:]
	}
	return s
}
