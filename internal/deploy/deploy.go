package deploy

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/botctl/internal/process"
	"github.com/danmuck/botctl/internal/remote"
	"github.com/danmuck/botctl/internal/syncer"
)

var (
	ErrInvalidConfig = errors.New("deploy: invalid config")
	ErrStageFailed   = errors.New("deploy: stage failed")
	ErrVerification  = errors.New("deploy: process verification failed")
)

// Stage names in pipeline order.
const (
	StageEnsureDir = "ensure-dir"
	StageSync      = "sync"
	StageSecret    = "secret"
	StageInstall   = "install"
	StageStop      = "stop"
	StageLaunch    = "launch"
	StageVerify    = "verify"
)

// Config carries everything one deployment run needs. Zero values fall
// back to DefaultConfig choices through Validate.
type Config struct {
	Target    string
	LocalRoot string
	RemoteDir string
	Exclude   []string
	Parallel  int

	Command    string
	Signature  string
	Packages   []string
	Installer  []string
	SecretFile string
	LogFile    string

	StopDelay    time.Duration
	StartDelay   time.Duration
	LogTailLines int

	Strict      bool
	SkipInstall bool
}

// Deploy pipeline defaults matching the bot project this tool grew
// around.
func DefaultConfig() Config {
	return Config{
		Target:       "",
		LocalRoot:    ".",
		RemoteDir:    "/opt/eventbot",
		Exclude:      []string{".env", "*.log", "*.db", "__pycache__", ".git", ".venv", "venv", "*.pyc", ".DS_Store"},
		Parallel:     1,
		Command:      "python3 main.py",
		Signature:    "main.py",
		Packages:     []string{"aiogram", "aiosqlite", "python-dotenv", "apscheduler", "pytz"},
		Installer:    []string{"pip3", "install"},
		SecretFile:   ".env",
		LogFile:      "bot.log",
		StopDelay:    2 * time.Second,
		StartDelay:   3 * time.Second,
		LogTailLines: 40,
		Strict:       true,
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Target) == "" {
		c.Target = "remote"
	}
	if strings.TrimSpace(c.LocalRoot) == "" {
		return fmt.Errorf("%w: local root is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.RemoteDir) == "" {
		return fmt.Errorf("%w: remote dir is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("%w: launch command is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Signature) == "" {
		return fmt.Errorf("%w: process signature is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.LogFile) == "" {
		return fmt.Errorf("%w: log file is required", ErrInvalidConfig)
	}
	if c.LogTailLines < 1 {
		c.LogTailLines = 40
	}
	if c.Parallel < 1 {
		c.Parallel = 1
	}
	return nil
}

// Deployer executes the staged pipeline against one target: ensure the
// remote directory, sync the tree, copy the secret, install
// dependencies, stop the old instance, launch a new one, verify it is
// alive. No rollback, no retries.
type Deployer struct {
	cfg        Config
	runner     remote.Runner
	transfer   syncer.Transfer
	controller process.Controller
	installer  process.Installer
	rules      syncer.Rules
}

func New(cfg Config, runner remote.Runner, transfer syncer.Transfer) (*Deployer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, fmt.Errorf("%w: runner is required", ErrInvalidConfig)
	}
	if transfer == nil {
		return nil, fmt.Errorf("%w: transfer is required", ErrInvalidConfig)
	}

	rules, err := syncer.NewRules(cfg.Exclude)
	if err != nil {
		return nil, err
	}

	return &Deployer{
		cfg:      cfg,
		runner:   runner,
		transfer: transfer,
		controller: process.Controller{
			Runner:    runner,
			Dir:       cfg.RemoteDir,
			Command:   cfg.Command,
			Signature: cfg.Signature,
			LogFile:   cfg.LogFile,
		},
		installer: process.Installer{
			Runner:   runner,
			Command:  cfg.Installer,
			Packages: cfg.Packages,
		},
		rules: rules,
	}, nil
}

// Plan walks the local tree without touching the target, for dry runs.
func (d *Deployer) Plan() (syncer.Plan, error) {
	return syncer.BuildPlan(d.cfg.LocalRoot, d.rules)
}

type stage struct {
	name string
	skip string
	fn   func(context.Context, *Report) (string, error)
}

// Run executes every stage in order and always returns the report,
// persisted or not. Under strict config the first failure skips the
// remaining stages; otherwise every stage runs and the final
// verification decides the outcome.
func (d *Deployer) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		Target:    d.cfg.Target,
		RemoteDir: d.cfg.RemoteDir,
		StartedAt: time.Now().UTC(),
	}

	stages := []stage{
		{StageEnsureDir, "", d.ensureDir},
		{StageSync, "", d.sync},
		{StageSecret, d.skipSecretReason(), d.secret},
		{StageInstall, d.skipInstallReason(), d.install},
		{StageStop, "", d.stop},
		{StageLaunch, "", d.launch},
		{StageVerify, "", d.verify},
	}

	start := time.Now()
	failed := ""
	for _, st := range stages {
		if st.skip != "" {
			report.Stages = append(report.Stages, StageRecord{Name: st.name, Status: StatusSkipped, Detail: st.skip})
			continue
		}
		if failed != "" && (d.cfg.Strict || ctx.Err() != nil) {
			report.Stages = append(report.Stages, StageRecord{Name: st.name, Status: StatusSkipped, Detail: "after failed " + failed})
			continue
		}

		log.Info().Str("stage", st.name).Str("target", d.cfg.Target).Msg("deploy.stage start")
		stageStart := time.Now()
		detail, err := st.fn(ctx, report)
		record := StageRecord{
			Name:       st.name,
			Status:     StatusOK,
			DurationMS: time.Since(stageStart).Milliseconds(),
			Detail:     detail,
		}
		if err != nil {
			record.Status = StatusFailed
			record.Error = err.Error()
			if failed == "" {
				failed = st.name
			}
			log.Error().Str("stage", st.name).Dur("duration", time.Since(stageStart)).Err(err).Msg("deploy.stage failed")
		} else {
			log.Info().Str("stage", st.name).Dur("duration", time.Since(stageStart)).Str("detail", detail).Msg("deploy.stage done")
		}
		report.Stages = append(report.Stages, record)
	}
	report.DurationMS = time.Since(start).Milliseconds()

	verifyRecord, _ := report.Stage(StageVerify)
	report.Success = verifyRecord.Status == StatusOK

	if !report.Success {
		if failed == "" {
			failed = StageVerify
		}
		if failed == StageVerify {
			return report, fmt.Errorf("%w on %s", ErrVerification, d.cfg.Target)
		}
		return report, fmt.Errorf("%w: %s", ErrStageFailed, failed)
	}
	return report, nil
}

func (d *Deployer) skipSecretReason() string {
	if strings.TrimSpace(d.cfg.SecretFile) == "" {
		return "no secret file configured"
	}
	return ""
}

func (d *Deployer) skipInstallReason() string {
	if d.cfg.SkipInstall {
		return "install skipped by request"
	}
	if len(d.cfg.Packages) == 0 {
		return "no packages configured"
	}
	return ""
}

func (d *Deployer) ensureDir(ctx context.Context, _ *Report) (string, error) {
	result, err := d.runner.Run(ctx, "mkdir", "-p", d.cfg.RemoteDir)
	if err != nil {
		return "", fmt.Errorf("mkdir -p %s: %v: %s", d.cfg.RemoteDir, err, lastLine(result.Stderr))
	}
	return d.cfg.RemoteDir, nil
}

func (d *Deployer) sync(ctx context.Context, _ *Report) (string, error) {
	plan, err := syncer.BuildPlan(d.cfg.LocalRoot, d.rules)
	if err != nil {
		return "", err
	}
	stats, err := syncer.Syncer{Transfer: d.transfer, Parallel: d.cfg.Parallel}.Apply(ctx, plan, d.cfg.RemoteDir)
	detail := fmt.Sprintf("%d files, %d dirs, %d bytes", stats.Files, stats.Dirs, stats.Bytes)
	if err != nil {
		return detail, err
	}
	return detail, nil
}

func (d *Deployer) secret(_ context.Context, _ *Report) (string, error) {
	local := filepath.Join(d.cfg.LocalRoot, d.cfg.SecretFile)
	target := path.Join(d.cfg.RemoteDir, d.cfg.SecretFile)
	if err := syncer.UploadFile(d.transfer, local, target); err != nil {
		return "", fmt.Errorf("secret %s: %w", d.cfg.SecretFile, err)
	}
	return d.cfg.SecretFile, nil
}

func (d *Deployer) install(ctx context.Context, _ *Report) (string, error) {
	result, err := d.installer.Install(ctx)
	if err != nil {
		return "", fmt.Errorf("%v: %s", err, lastLine(result.Stderr))
	}
	return fmt.Sprintf("%d packages", len(d.cfg.Packages)), nil
}

func (d *Deployer) stop(ctx context.Context, _ *Report) (string, error) {
	result, err := d.controller.Stop(ctx)
	if err != nil {
		return "", err
	}
	if err := sleepCtx(ctx, d.cfg.StopDelay); err != nil {
		return "", err
	}
	if result.ExitCode == 1 {
		return "no matching process", nil
	}
	return "stopped", nil
}

func (d *Deployer) launch(ctx context.Context, _ *Report) (string, error) {
	if _, err := d.controller.Launch(ctx); err != nil {
		return "", err
	}
	return d.cfg.Command, nil
}

func (d *Deployer) verify(ctx context.Context, report *Report) (string, error) {
	if err := sleepCtx(ctx, d.cfg.StartDelay); err != nil {
		return "", err
	}

	pids, err := d.controller.Check(ctx)
	if err != nil {
		return "", err
	}
	if len(pids) == 0 {
		tail, tailErr := d.controller.TailLog(ctx, d.cfg.LogTailLines)
		if tailErr != nil {
			log.Warn().Err(tailErr).Msg("deploy.verify log tail unavailable")
		}
		report.LogTail = tail
		return "", fmt.Errorf("no process matches %q after launch", d.cfg.Signature)
	}
	if len(pids) > 1 {
		log.Warn().Ints("pids", pids).Str("signature", d.cfg.Signature).Msg("deploy.verify multiple matches")
	}

	report.PIDs = pids
	return fmt.Sprintf("pids %v", pids), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
