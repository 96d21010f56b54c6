package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/botctl/internal/config"
	"github.com/danmuck/botctl/internal/deploy"
	"github.com/danmuck/botctl/internal/remote"
)

// Environment overrides applied after the file, so secrets and CI
// target switches never have to live in botctl.toml.
const (
	envHost      = "BOTCTL_HOST"
	envPort      = "BOTCTL_PORT"
	envUser      = "BOTCTL_USER"
	envPassword  = "BOTCTL_SSH_PASSWORD"
	envRemoteDir = "BOTCTL_REMOTE_DIR"
)

// localTarget is the magic host that routes the pipeline through the
// local shell and filesystem instead of SSH.
const localTarget = "local"

// settings is the resolved pair every subcommand works from: the
// pipeline config plus the connection it runs against.
type settings struct {
	Deploy deploy.Config
	Client remote.ClientConfig
}

// loadSettings resolves defaults, then the TOML file, then environment
// overrides. Only keys present in the file replace defaults; a missing
// file with required=false is not an error so `botctl deploy` works
// from a bare directory plus BOTCTL_* variables.
func loadSettings(path string, required bool) (settings, error) {
	s := settings{Deploy: deploy.DefaultConfig()}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !required {
			applyEnvOverrides(&s)
			return s, nil
		}
		return settings{}, fmt.Errorf("load botctl config: %w", err)
	}

	var raw config.File
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return settings{}, fmt.Errorf("load botctl config: %w", err)
	}

	if meta.IsDefined("strict") {
		s.Deploy.Strict = raw.Strict
	}

	if err := overlayConnection(&s, meta, raw.Connection); err != nil {
		return settings{}, err
	}
	overlaySync(&s, meta, raw.Sync)
	overlayApp(&s, meta, raw.App)
	if err := overlayVerify(&s, meta, raw.Verify); err != nil {
		return settings{}, err
	}

	applyEnvOverrides(&s)
	return s, nil
}

func overlayConnection(s *settings, meta toml.MetaData, raw config.ConnectionFile) error {
	if meta.IsDefined("connection", "host") {
		s.Client.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("connection", "port") {
		s.Client.Port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("connection", "user") {
		s.Client.User = strings.TrimSpace(raw.User)
	}
	if meta.IsDefined("connection", "key_path") {
		s.Client.KeyPath = config.ExpandHome(strings.TrimSpace(raw.KeyPath))
	}
	if meta.IsDefined("connection", "password_env") {
		s.Client.PasswordEnv = strings.TrimSpace(raw.PasswordEnv)
	}
	if meta.IsDefined("connection", "password_file") {
		s.Client.PasswordFile = config.ExpandHome(strings.TrimSpace(raw.PasswordFile))
	}
	if meta.IsDefined("connection", "known_hosts") {
		s.Client.KnownHostsPath = config.ExpandHome(strings.TrimSpace(raw.KnownHosts))
	}
	if meta.IsDefined("connection", "insecure_host_key") {
		s.Client.InsecureSkipHostKeyChecking = raw.Insecure
	}
	if meta.IsDefined("connection", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return fmt.Errorf("parse connection.timeout: %w", err)
		}
		s.Client.Timeout = d
	}
	return nil
}

func overlaySync(s *settings, meta toml.MetaData, raw config.SyncFile) {
	if meta.IsDefined("sync", "local_root") {
		s.Deploy.LocalRoot = strings.TrimSpace(raw.LocalRoot)
	}
	if meta.IsDefined("sync", "remote_dir") {
		s.Deploy.RemoteDir = strings.TrimSpace(raw.RemoteDir)
	}
	if meta.IsDefined("sync", "exclude") {
		s.Deploy.Exclude = raw.Exclude
	}
	if meta.IsDefined("sync", "parallel") {
		s.Deploy.Parallel = raw.Parallel
	}
}

func overlayApp(s *settings, meta toml.MetaData, raw config.AppFile) {
	if meta.IsDefined("app", "command") {
		s.Deploy.Command = strings.TrimSpace(raw.Command)
	}
	if meta.IsDefined("app", "signature") {
		s.Deploy.Signature = strings.TrimSpace(raw.Signature)
	}
	if meta.IsDefined("app", "packages") {
		s.Deploy.Packages = raw.Packages
	}
	if meta.IsDefined("app", "installer") {
		s.Deploy.Installer = raw.Installer
	}
	if meta.IsDefined("app", "secret_file") {
		s.Deploy.SecretFile = strings.TrimSpace(raw.SecretFile)
	}
	if meta.IsDefined("app", "log_file") {
		s.Deploy.LogFile = strings.TrimSpace(raw.LogFile)
	}
}

func overlayVerify(s *settings, meta toml.MetaData, raw config.VerifyFile) error {
	if meta.IsDefined("verify", "stop_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.StopDelay))
		if err != nil {
			return fmt.Errorf("parse verify.stop_delay: %w", err)
		}
		s.Deploy.StopDelay = d
	}
	if meta.IsDefined("verify", "start_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.StartDelay))
		if err != nil {
			return fmt.Errorf("parse verify.start_delay: %w", err)
		}
		s.Deploy.StartDelay = d
	}
	if meta.IsDefined("verify", "log_tail_lines") {
		s.Deploy.LogTailLines = raw.LogTailLines
	}
	return nil
}

func applyEnvOverrides(s *settings) {
	if v := strings.TrimSpace(os.Getenv(envHost)); v != "" {
		s.Client.Host = v
	}
	if v := strings.TrimSpace(os.Getenv(envPort)); v != "" {
		s.Client.Port = v
	}
	if v := strings.TrimSpace(os.Getenv(envUser)); v != "" {
		s.Client.User = v
	}
	if v, ok := os.LookupEnv(envPassword); ok && v != "" {
		s.Client.Password = []byte(v)
	}
	if v := strings.TrimSpace(os.Getenv(envRemoteDir)); v != "" {
		s.Deploy.RemoteDir = v
	}
}

// target names the run in logs and reports: the inventory entry name
// when one is set, otherwise the connection host.
func (s settings) target() string {
	if s.Deploy.Target != "" && s.Deploy.Target != "remote" {
		return s.Deploy.Target
	}
	return s.Client.Host
}

func (s settings) isLocal() bool {
	return strings.EqualFold(s.Client.Host, localTarget)
}
