package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/danmuck/botctl/internal/config"
	"github.com/danmuck/botctl/internal/deploy"
	"github.com/danmuck/botctl/internal/logging"
	"github.com/danmuck/botctl/internal/process"
	"github.com/danmuck/botctl/internal/remote"
	"github.com/danmuck/botctl/internal/syncer"
	"github.com/danmuck/botctl/internal/watch"
)

// Overridable at build time: -ldflags "-X main.version=..."
var version = "0.3.0"

var (
	configPath string
	askPass    bool

	inventoryPath string
	flagWatch     bool
	bestEffort    bool
	dryRun        bool
	skipInstall   bool

	statusLines int
	logsLines   int
	logsFollow  bool
	initForce   bool
)

var rootCmd = &cobra.Command{
	Use:   "botctl",
	Short: "Push a bot project to its host and restart the process",
	Long: `botctl deploys a local project tree to a remote host over SSH,
installs its dependencies, restarts the bot process and verifies the
new instance is alive. Connection and app settings live in botctl.toml;
run "botctl init" to generate a starter file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		logging.ConfigureRuntime()
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Run the full deployment pipeline",
	Long: `Runs the staged pipeline against the configured target: ensure the
remote directory, sync the tree, copy the secret file, install
dependencies, stop the old process, launch the new one and verify it
is running. The first failing stage aborts the run unless
--best-effort is set.`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the deployed process is running",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print or follow the remote log file",
	Args:  cobra.NoArgs,
	RunE:  runLogs,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the deployed process",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter botctl.toml",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build identity",
	Run: func(*cobra.Command, []string) {
		fmt.Printf("botctl %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "botctl.toml", "path to the config file")
	rootCmd.PersistentFlags().BoolVar(&askPass, "ask-pass", false, "prompt for the SSH password")

	deployCmd.Flags().BoolVar(&flagWatch, "watch", false, "redeploy whenever the local tree changes")
	deployCmd.Flags().StringVar(&inventoryPath, "inventory", "", "deploy to every host in this inventory file")
	deployCmd.Flags().BoolVar(&bestEffort, "best-effort", false, "keep running stages after a failure")
	deployCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the sync plan without touching the target")
	deployCmd.Flags().BoolVar(&skipInstall, "skip-install", false, "skip the dependency install stage")

	statusCmd.Flags().IntVar(&statusLines, "lines", 10, "log lines to include")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 40, "log lines to print")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep streaming new log lines")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "botctl: %v\n", err)
		os.Exit(1)
	}
}

// runContext is cancelled on SIGINT or SIGTERM so a run aborts between
// stages instead of half-finishing a restart.
func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	if flagWatch && inventoryPath != "" {
		return errors.New("--watch cannot be combined with --inventory")
	}

	ctx, stop := runContext()
	defer stop()

	s, err := loadSettings(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	if bestEffort {
		s.Deploy.Strict = false
	}
	if skipInstall {
		s.Deploy.SkipInstall = true
	}

	if dryRun {
		return printPlan(s)
	}
	if err := promptPassword(&s); err != nil {
		return err
	}

	switch {
	case inventoryPath != "":
		return deployInventory(ctx, s)
	case flagWatch:
		return deployWatch(ctx, s)
	default:
		_, err := deployOnce(ctx, s)
		return err
	}
}

// deployOnce connects, runs the pipeline, persists the report and
// prints its summary. The report is appended even when the run failed.
func deployOnce(ctx context.Context, s settings) (*deploy.Report, error) {
	s.Deploy.Target = s.target()

	runner, transfer, cleanup, err := connectTransfer(s)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	d, err := deploy.New(s.Deploy, runner, transfer)
	if err != nil {
		return nil, err
	}

	report, runErr := d.Run(ctx)
	if err := report.Append(reportDir(s.Deploy.LocalRoot)); err != nil {
		log.Warn().Err(err).Msg("botctl.report append failed")
	}
	fmt.Println(report.Summary())
	if report.LogTail != "" {
		fmt.Fprintf(os.Stderr, "--- %s (last %d lines) ---\n%s", s.Deploy.LogFile, s.Deploy.LogTailLines, report.LogTail)
		if !strings.HasSuffix(report.LogTail, "\n") {
			fmt.Fprintln(os.Stderr)
		}
	}
	return report, runErr
}

func deployInventory(ctx context.Context, base settings) error {
	inv, err := config.LoadInventory(inventoryPath)
	if err != nil {
		return err
	}

	var failed []string
	for _, host := range inv.Hosts {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		hs := base
		hs.Client = host.ClientConfig(base.Client)
		hs.Deploy.Target = host.Name
		if host.RemoteDir != "" {
			hs.Deploy.RemoteDir = host.RemoteDir
		}

		log.Info().Str("target", host.Name).Str("host", hs.Client.Host).Msg("deploy.host start")
		if _, err := deployOnce(ctx, hs); err != nil {
			if base.Deploy.Strict {
				return fmt.Errorf("host %s: %w", host.Name, err)
			}
			log.Error().Err(err).Str("target", host.Name).Msg("deploy.host failed")
			failed = append(failed, host.Name)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d hosts failed: %s", len(failed), len(inv.Hosts), strings.Join(failed, ", "))
	}
	return nil
}

// deployWatch runs one deploy up front, then re-runs per change burst
// until interrupted. A failing deploy keeps the watch alive so the next
// save can fix it.
func deployWatch(ctx context.Context, s settings) error {
	if _, err := deployOnce(ctx, s); err != nil {
		log.Error().Err(err).Msg("deploy.initial failed")
	}
	if ctx.Err() != nil {
		return nil
	}

	rules, err := syncer.NewRules(s.Deploy.Exclude)
	if err != nil {
		return err
	}
	w := watch.Watcher{
		Root:  s.Deploy.LocalRoot,
		Rules: rules,
		Deploy: func(ctx context.Context) error {
			_, err := deployOnce(ctx, s)
			return err
		},
	}
	return w.Run(ctx)
}

func printPlan(s settings) error {
	rules, err := syncer.NewRules(s.Deploy.Exclude)
	if err != nil {
		return err
	}
	plan, err := syncer.BuildPlan(s.Deploy.LocalRoot, rules)
	if err != nil {
		return err
	}
	for _, file := range plan.Files {
		fmt.Println(file.Rel)
	}
	fmt.Printf("%d files in %d dirs, %d bytes -> %s:%s\n",
		len(plan.Files), len(plan.Dirs), plan.TotalBytes(), s.target(), s.Deploy.RemoteDir)
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx, stop := runContext()
	defer stop()

	s, runner, cleanup, err := commandTarget(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctl := controllerFor(s, runner)
	pids, err := ctl.Check(ctx)
	if err != nil {
		return err
	}

	if len(pids) == 0 {
		fmt.Printf("%s: not running (nothing matches %q)\n", s.target(), s.Deploy.Signature)
	} else {
		fmt.Printf("%s: running, pids %v\n", s.target(), pids)
	}

	tail, err := ctl.TailLog(ctx, statusLines)
	if err != nil {
		log.Debug().Err(err).Msg("botctl.status tail failed")
		return nil
	}
	if strings.TrimSpace(tail) != "" {
		fmt.Print(tail)
	}
	return nil
}

func runLogs(cmd *cobra.Command, _ []string) error {
	ctx, stop := runContext()
	defer stop()

	s, runner, cleanup, err := commandTarget(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctl := controllerFor(s, runner)
	if logsFollow {
		err := ctl.FollowLog(ctx, logsLines, os.Stdout, os.Stderr)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	tail, err := ctl.TailLog(ctx, logsLines)
	if err != nil {
		return err
	}
	fmt.Print(tail)
	return nil
}

func runStop(cmd *cobra.Command, _ []string) error {
	ctx, stop := runContext()
	defer stop()

	s, runner, cleanup, err := commandTarget(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := controllerFor(s, runner).Stop(ctx)
	if err != nil {
		return err
	}
	if result.ExitCode == 1 {
		fmt.Printf("%s: nothing matches %q\n", s.target(), s.Deploy.Signature)
		return nil
	}
	fmt.Printf("%s: stopped %q\n", s.target(), s.Deploy.Signature)
	return nil
}

func runInit(*cobra.Command, []string) error {
	if err := config.WriteTemplate(configPath, "config", initForce); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", configPath)
	return nil
}

// commandTarget loads settings and opens the execution path for the
// single-shot commands that never transfer files.
func commandTarget(cmd *cobra.Command) (settings, remote.Runner, func(), error) {
	s, err := loadSettings(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return settings{}, nil, nil, err
	}
	if err := promptPassword(&s); err != nil {
		return settings{}, nil, nil, err
	}
	runner, cleanup, err := connectRunner(s)
	if err != nil {
		return settings{}, nil, nil, err
	}
	return s, runner, cleanup, nil
}

func controllerFor(s settings, runner remote.Runner) process.Controller {
	return process.Controller{
		Runner:    runner,
		Dir:       s.Deploy.RemoteDir,
		Command:   s.Deploy.Command,
		Signature: s.Deploy.Signature,
		LogFile:   s.Deploy.LogFile,
	}
}

// connectRunner opens the execution path only: SSH for remote targets,
// the local shell when host = "local".
func connectRunner(s settings) (remote.Runner, func(), error) {
	if s.isLocal() {
		return remote.LocalRunner{}, func() {}, nil
	}
	if err := requireHost(s); err != nil {
		return nil, nil, err
	}

	client, err := remote.Dial(s.Client)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Debug().Err(err).Msg("botctl.ssh close")
		}
	}
	return client, cleanup, nil
}

// connectTransfer opens both the execution and file-transfer paths off
// one connection.
func connectTransfer(s settings) (remote.Runner, syncer.Transfer, func(), error) {
	if s.isLocal() {
		return remote.LocalRunner{}, syncer.LocalTransfer{}, func() {}, nil
	}
	if err := requireHost(s); err != nil {
		return nil, nil, nil, err
	}

	client, err := remote.Dial(s.Client)
	if err != nil {
		return nil, nil, nil, err
	}
	sftpClient, err := client.SFTP()
	if err != nil {
		client.Close()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := sftpClient.Close(); err != nil {
			log.Debug().Err(err).Msg("botctl.sftp close")
		}
		if err := client.Close(); err != nil {
			log.Debug().Err(err).Msg("botctl.ssh close")
		}
	}
	return client, syncer.SFTPTransfer{Client: sftpClient}, cleanup, nil
}

func requireHost(s settings) error {
	if strings.TrimSpace(s.Client.Host) != "" {
		return nil
	}
	return fmt.Errorf("no host configured: set connection.host in %s, %s, or host = %q for local runs",
		configPath, envHost, localTarget)
}

// promptPassword reads the SSH password from the terminal when
// --ask-pass is set. Never echoed, never read for local targets.
func promptPassword(s *settings) error {
	if !askPass || s.isLocal() {
		return nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("--ask-pass needs an interactive terminal")
	}

	fmt.Fprintf(os.Stderr, "%s@%s password: ", s.Client.User, s.Client.Host)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	s.Client.Password = password
	return nil
}

func reportDir(localRoot string) string {
	return filepath.Join(localRoot, "local", "reports")
}
