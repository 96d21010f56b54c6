package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
)

// Result captures one command execution on a host.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands on a deployment target. Run escapes every
// argument; RunShell passes the script to the target's shell unmodified.
type Runner interface {
	Run(ctx context.Context, cmd string, args ...string) (Result, error)
	RunShell(ctx context.Context, script string) (Result, error)
	RunStreaming(ctx context.Context, script string, stdout, stderr io.Writer) error
}

// LocalRunner executes commands on the local host, for local deploy
// targets and tests.
type LocalRunner struct{}

func (LocalRunner) Run(ctx context.Context, cmd string, args ...string) (Result, error) {
	return runLocal(exec.CommandContext(ctx, cmd, args...))
}

func (LocalRunner) RunShell(ctx context.Context, script string) (Result, error) {
	return runLocal(exec.CommandContext(ctx, "sh", "-c", script))
}

func (LocalRunner) RunStreaming(ctx context.Context, script string, stdout, stderr io.Writer) error {
	command := exec.CommandContext(ctx, "sh", "-c", script)
	if stdout != nil {
		command.Stdout = stdout
	}
	if stderr != nil {
		command.Stderr = stderr
	}
	return command.Run()
}

func runLocal(cmd *exec.Cmd) (Result, error) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}

	result.ExitCode = 1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, err
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) {
		result.ExitCode = 127
	}
	return result, err
}
