// Package tasks provides example leaf and consumer task functions that
// plug into the engine as ordinary taskFn closures: they read their
// arguments from a RunContext-visible RawRef, do real work, and return a
// RawRef the engine memoizes like any other task output.
package tasks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/google/shlex"

	turbotask "github.com/turbopack-go/turbotask"
)

// ExecResult is the RawRef payload an ExecTask produces.
type ExecResult struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
}

// NewExecTask returns a task function that splits command with shell-style
// quoting rules and runs it as a subprocess, the way a build step invokes
// an external tool. The identity key is the command text plus the exit code
// and captured stdout, so two runs of the same command line short-circuit
// dirtying unless the exit code or stdout differs.
func NewExecTask(command string) func(ctx context.Context, rc *turbotask.RunContext) (turbotask.RawRef, error) {
	return func(ctx context.Context, rc *turbotask.RunContext) (turbotask.RawRef, error) {
		args, err := shlex.Split(command)
		if err != nil {
			return turbotask.RawRef{}, fmt.Errorf("exec task: split command %q: %w", command, err)
		}
		if len(args) == 0 {
			return turbotask.RawRef{}, fmt.Errorf("exec task: empty command")
		}

		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		exitCode := 0
		if err := cmd.Run(); err != nil {
			var exitErr *exec.ExitError
			if ok := asExitError(err, &exitErr); ok {
				exitCode = exitErr.ExitCode()
			} else {
				return turbotask.RawRef{}, fmt.Errorf("exec task: run %q: %w", command, err)
			}
		}

		result := ExecResult{
			Command:  command,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: exitCode,
		}
		key := fmt.Sprintf("%s\x00%d\x00%s", command, exitCode, result.Stdout)
		return turbotask.NewRawRef(key, result), nil
	}
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}
