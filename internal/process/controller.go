package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/botctl/internal/remote"
)

var (
	ErrInvalidSpec   = errors.New("process: invalid spec")
	ErrCommandFailed = errors.New("process: command failed")
)

// Controller drives the deployed process on one target through shell
// commands over a Runner. Matching is by command-line signature, the
// only state the target exposes.
type Controller struct {
	Runner    remote.Runner
	Dir       string
	Command   string
	Signature string
	LogFile   string
}

// Stop terminates every process matching the signature. A target with
// nothing running is already in the desired state, not an error.
func (c Controller) Stop(ctx context.Context) (remote.Result, error) {
	if err := c.requireSignature(); err != nil {
		return remote.Result{}, err
	}

	script := "pkill -f " + remote.ShellEscape(c.Signature)
	log.Debug().Str("script", script).Msg("process.stop")
	result, err := c.Runner.RunShell(ctx, script)
	if err != nil && result.ExitCode != 1 {
		return result, fmt.Errorf("%w: pkill: %v", ErrCommandFailed, err)
	}
	return result, nil
}

// Launch starts a detached instance in the remote dir with stdout and
// stderr redirected into the log file. The log is truncated on every
// launch. The instance must survive the SSH session ending.
func (c Controller) Launch(ctx context.Context) (remote.Result, error) {
	if strings.TrimSpace(c.Dir) == "" {
		return remote.Result{}, fmt.Errorf("%w: missing remote dir", ErrInvalidSpec)
	}
	if strings.TrimSpace(c.Command) == "" {
		return remote.Result{}, fmt.Errorf("%w: missing launch command", ErrInvalidSpec)
	}
	if strings.TrimSpace(c.LogFile) == "" {
		return remote.Result{}, fmt.Errorf("%w: missing log file", ErrInvalidSpec)
	}

	script := fmt.Sprintf("cd %s && nohup %s > %s 2>&1 < /dev/null &",
		remote.ShellEscape(c.Dir), c.Command, remote.ShellEscape(c.LogFile))
	log.Debug().Str("script", script).Msg("process.launch")
	result, err := c.Runner.RunShell(ctx, script)
	if err != nil {
		return result, fmt.Errorf("%w: launch: %v", ErrCommandFailed, err)
	}
	return result, nil
}

// Check returns the PIDs currently matching the signature. No matches
// is a nil slice, not an error.
func (c Controller) Check(ctx context.Context) ([]int, error) {
	if err := c.requireSignature(); err != nil {
		return nil, err
	}

	script := "pgrep -f " + remote.ShellEscape(c.Signature)
	result, err := c.Runner.RunShell(ctx, script)
	if err != nil {
		if result.ExitCode == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: pgrep: %v", ErrCommandFailed, err)
	}
	return parsePids(result.Stdout)
}

// TailLog returns the last n lines of the remote log file.
func (c Controller) TailLog(ctx context.Context, lines int) (string, error) {
	if lines < 1 {
		lines = 1
	}
	script := fmt.Sprintf("tail -n %d %s", lines, remote.ShellEscape(c.logPath()))
	result, err := c.Runner.RunShell(ctx, script)
	if err != nil {
		return result.Stdout, fmt.Errorf("%w: tail: %v", ErrCommandFailed, err)
	}
	return result.Stdout, nil
}

// FollowLog streams the remote log file until ctx is cancelled.
func (c Controller) FollowLog(ctx context.Context, lines int, stdout, stderr io.Writer) error {
	if lines < 1 {
		lines = 1
	}
	script := fmt.Sprintf("tail -n %d -f %s", lines, remote.ShellEscape(c.logPath()))
	log.Debug().Str("script", script).Msg("process.follow")
	return c.Runner.RunStreaming(ctx, script, stdout, stderr)
}

func (c Controller) requireSignature() error {
	if strings.TrimSpace(c.Signature) == "" {
		return fmt.Errorf("%w: missing process signature", ErrInvalidSpec)
	}
	return nil
}

func (c Controller) logPath() string {
	if path.IsAbs(c.LogFile) {
		return c.LogFile
	}
	return path.Join(c.Dir, c.LogFile)
}

func parsePids(stdout string) ([]int, error) {
	fields := strings.Fields(stdout)
	pids := make([]int, 0, len(fields))
	for _, field := range fields {
		pid, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("process: parse pgrep output %q: %w", field, err)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
