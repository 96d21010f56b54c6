package process

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/botctl/internal/remote"
)

// Installer provisions the interpreter dependency list on the target.
// Packages are unpinned: every run resolves whatever the index serves.
type Installer struct {
	Runner   remote.Runner
	Command  []string
	Packages []string
}

// Install runs the installer once with every package on one command
// line.
func (i Installer) Install(ctx context.Context) (remote.Result, error) {
	if len(i.Command) == 0 || strings.TrimSpace(i.Command[0]) == "" {
		return remote.Result{}, fmt.Errorf("%w: missing installer command", ErrInvalidSpec)
	}
	if len(i.Packages) == 0 {
		log.Debug().Msg("process.install no packages configured")
		return remote.Result{}, nil
	}

	args := append(append([]string{}, i.Command[1:]...), i.Packages...)
	script := remote.JoinCommand(i.Command[0], args)
	log.Debug().Str("script", script).Msg("process.install")

	result, err := i.Runner.RunShell(ctx, script)
	if err != nil {
		return result, fmt.Errorf("%w: install: %v", ErrCommandFailed, err)
	}
	return result, nil
}
