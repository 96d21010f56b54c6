package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/botctl/internal/remote"
	"github.com/danmuck/botctl/internal/syncer"
	"github.com/danmuck/botctl/internal/testutil/testlog"
)

type scriptResponse struct {
	contains string
	result   remote.Result
	err      error
}

type fakeRunner struct {
	scripts   []string
	responses []scriptResponse
}

func (f *fakeRunner) RunShell(_ context.Context, script string) (remote.Result, error) {
	f.scripts = append(f.scripts, script)
	for _, resp := range f.responses {
		if strings.Contains(script, resp.contains) {
			return resp.result, resp.err
		}
	}
	return remote.Result{}, nil
}

func (f *fakeRunner) Run(ctx context.Context, cmd string, args ...string) (remote.Result, error) {
	return f.RunShell(ctx, remote.JoinCommand(cmd, args))
}

func (f *fakeRunner) RunStreaming(ctx context.Context, script string, stdout, stderr io.Writer) error {
	_, err := f.RunShell(ctx, script)
	return err
}

func (f *fakeRunner) scriptIndex(t *testing.T, substr string) int {
	t.Helper()
	for i, script := range f.scripts {
		if strings.Contains(script, substr) {
			return i
		}
	}
	t.Fatalf("no script containing %q, got %+v", substr, f.scripts)
	return -1
}

func testTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"main.py":           "print('bot')",
		".env":              "BOT_TOKEN=secret",
		"bot.log":           "stale local log",
		"data.db":           "stale local db",
		"handlers/start.py": "# handler",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return root
}

func testConfig(t *testing.T, localRoot string) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Target = "testhost"
	cfg.LocalRoot = localRoot
	cfg.RemoteDir = filepath.Join(t.TempDir(), "opt", "eventbot")
	cfg.StopDelay = 0
	cfg.StartDelay = 0
	return cfg
}

func TestRunHappyPath(t *testing.T) {
	testlog.Start(t)
	root := testTree(t)
	runner := &fakeRunner{responses: []scriptResponse{
		{contains: "pkill", result: remote.Result{ExitCode: 1}, err: fmt.Errorf("exit status 1")},
		{contains: "pgrep", result: remote.Result{Stdout: "4242\n"}},
	}}

	cfg := testConfig(t, root)
	deployer, err := New(cfg, runner, syncer.LocalTransfer{})
	if err != nil {
		t.Fatalf("new deployer: %v", err)
	}

	report, err := deployer.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.Success {
		t.Fatalf("expected success, report: %+v", report)
	}
	if len(report.PIDs) != 1 || report.PIDs[0] != 4242 {
		t.Fatalf("unexpected pids: %+v", report.PIDs)
	}

	for _, name := range []string{StageEnsureDir, StageSync, StageSecret, StageInstall, StageStop, StageLaunch, StageVerify} {
		record, ok := report.Stage(name)
		if !ok {
			t.Fatalf("missing stage record %s", name)
		}
		if record.Status != StatusOK {
			t.Fatalf("stage %s not ok: %+v", name, record)
		}
	}

	stopRecord, _ := report.Stage(StageStop)
	if stopRecord.Detail != "no matching process" {
		t.Fatalf("unexpected stop detail: %q", stopRecord.Detail)
	}

	// the old instance is always terminated before the new launch
	if runner.scriptIndex(t, "pkill") > runner.scriptIndex(t, "nohup") {
		t.Fatalf("stop must precede launch: %+v", runner.scripts)
	}
	if runner.scriptIndex(t, "mkdir") > runner.scriptIndex(t, "pip3") {
		t.Fatalf("ensure-dir must precede install: %+v", runner.scripts)
	}
	if runner.scriptIndex(t, "nohup") > runner.scriptIndex(t, "pgrep") {
		t.Fatalf("launch must precede verification: %+v", runner.scripts)
	}

	if _, err := os.Stat(filepath.Join(cfg.RemoteDir, "main.py")); err != nil {
		t.Fatalf("synced file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.RemoteDir, ".env")); err != nil {
		t.Fatalf("secret missing on target: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.RemoteDir, "data.db")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("excluded data.db must not be synced")
	}
}

func TestRunStrictStopsAfterFailure(t *testing.T) {
	testlog.Start(t)
	root := testTree(t)
	runner := &fakeRunner{responses: []scriptResponse{
		{contains: "pip3", result: remote.Result{ExitCode: 1, Stderr: "no matching distribution"}, err: fmt.Errorf("exit status 1")},
		{contains: "pgrep", result: remote.Result{Stdout: "4242\n"}},
	}}

	deployer, err := New(testConfig(t, root), runner, syncer.LocalTransfer{})
	if err != nil {
		t.Fatalf("new deployer: %v", err)
	}

	report, err := deployer.Run(context.Background())
	if !errors.Is(err, ErrStageFailed) {
		t.Fatalf("expected stage failure, got %v", err)
	}
	if report.Success {
		t.Fatalf("expected failed report")
	}

	installRecord, _ := report.Stage(StageInstall)
	if installRecord.Status != StatusFailed {
		t.Fatalf("unexpected install record: %+v", installRecord)
	}
	for _, name := range []string{StageStop, StageLaunch, StageVerify} {
		record, _ := report.Stage(name)
		if record.Status != StatusSkipped {
			t.Fatalf("stage %s must be skipped after install failure: %+v", name, record)
		}
	}

	for _, script := range runner.scripts {
		if strings.Contains(script, "pkill") || strings.Contains(script, "nohup") {
			t.Fatalf("stale code must not be relaunched after a failed stage: %s", script)
		}
	}
}

func TestRunBestEffortContinues(t *testing.T) {
	testlog.Start(t)
	root := testTree(t)
	runner := &fakeRunner{responses: []scriptResponse{
		{contains: "pip3", result: remote.Result{ExitCode: 1, Stderr: "index unreachable"}, err: fmt.Errorf("exit status 1")},
		{contains: "pgrep", result: remote.Result{Stdout: "4242\n"}},
	}}

	cfg := testConfig(t, root)
	cfg.Strict = false
	deployer, err := New(cfg, runner, syncer.LocalTransfer{})
	if err != nil {
		t.Fatalf("new deployer: %v", err)
	}

	report, err := deployer.Run(context.Background())
	if err != nil {
		t.Fatalf("best-effort run must follow verification, got %v", err)
	}
	if !report.Success {
		t.Fatalf("expected success when verification passes")
	}

	installRecord, _ := report.Stage(StageInstall)
	if installRecord.Status != StatusFailed {
		t.Fatalf("install failure must stay visible: %+v", installRecord)
	}
	if runner.scriptIndex(t, "pkill") > runner.scriptIndex(t, "nohup") {
		t.Fatalf("stop must precede launch: %+v", runner.scripts)
	}
}

func TestRunVerificationFailureDumpsLog(t *testing.T) {
	testlog.Start(t)
	root := testTree(t)
	runner := &fakeRunner{responses: []scriptResponse{
		{contains: "pkill", result: remote.Result{ExitCode: 1}, err: fmt.Errorf("exit status 1")},
		{contains: "pgrep", result: remote.Result{ExitCode: 1}, err: fmt.Errorf("exit status 1")},
		{contains: "tail", result: remote.Result{Stdout: "Traceback (most recent call last):\nValueError: BOT_TOKEN is not set\n"}},
	}}

	deployer, err := New(testConfig(t, root), runner, syncer.LocalTransfer{})
	if err != nil {
		t.Fatalf("new deployer: %v", err)
	}

	report, err := deployer.Run(context.Background())
	if !errors.Is(err, ErrVerification) {
		t.Fatalf("expected verification error, got %v", err)
	}
	if report.Success {
		t.Fatalf("expected failed report")
	}
	if !strings.Contains(report.LogTail, "ValueError") {
		t.Fatalf("expected log tail in report, got %q", report.LogTail)
	}
}

func TestRunSkipsSecretWhenUnconfigured(t *testing.T) {
	root := testTree(t)
	runner := &fakeRunner{responses: []scriptResponse{
		{contains: "pgrep", result: remote.Result{Stdout: "4242\n"}},
	}}

	cfg := testConfig(t, root)
	cfg.SecretFile = ""
	deployer, err := New(cfg, runner, syncer.LocalTransfer{})
	if err != nil {
		t.Fatalf("new deployer: %v", err)
	}

	report, err := deployer.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	record, _ := report.Stage(StageSecret)
	if record.Status != StatusSkipped {
		t.Fatalf("expected secret stage skipped: %+v", record)
	}
}

func TestRunMissingSecretFails(t *testing.T) {
	root := testTree(t)
	if err := os.Remove(filepath.Join(root, ".env")); err != nil {
		t.Fatalf("remove secret: %v", err)
	}
	runner := &fakeRunner{responses: []scriptResponse{
		{contains: "pgrep", result: remote.Result{Stdout: "4242\n"}},
	}}

	deployer, err := New(testConfig(t, root), runner, syncer.LocalTransfer{})
	if err != nil {
		t.Fatalf("new deployer: %v", err)
	}

	report, err := deployer.Run(context.Background())
	if !errors.Is(err, ErrStageFailed) {
		t.Fatalf("expected stage failure, got %v", err)
	}
	record, _ := report.Stage(StageSecret)
	if record.Status != StatusFailed {
		t.Fatalf("expected secret stage failed: %+v", record)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Signature = ""
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config error, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.RemoteDir = ""
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config error, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.LogTailLines = 0
	cfg.Parallel = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	if cfg.LogTailLines != 40 || cfg.Parallel != 1 {
		t.Fatalf("expected defaults applied, got %+v", cfg)
	}
}

func TestDeployerPlanDryRun(t *testing.T) {
	root := testTree(t)
	deployer, err := New(testConfig(t, root), &fakeRunner{}, syncer.LocalTransfer{})
	if err != nil {
		t.Fatalf("new deployer: %v", err)
	}

	plan, err := deployer.Plan()
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	for _, entry := range plan.Files {
		if entry.Rel == ".env" || entry.Rel == "bot.log" || entry.Rel == "data.db" {
			t.Fatalf("excluded file in plan: %s", entry.Rel)
		}
	}
}
