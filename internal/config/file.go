package config

import (
	"fmt"
	"strings"
	"time"
)

// File mirrors botctl.toml section by section. The CLI overlays defined
// keys onto runtime defaults; ValidateFile strict-decodes the same
// shape so typoed keys and malformed durations surface before a deploy
// ever dials out.
type File struct {
	Strict     bool           `toml:"strict"`
	Connection ConnectionFile `toml:"connection"`
	Sync       SyncFile       `toml:"sync"`
	App        AppFile        `toml:"app"`
	Verify     VerifyFile     `toml:"verify"`
}

type ConnectionFile struct {
	Host         string `toml:"host"`
	Port         string `toml:"port"`
	User         string `toml:"user"`
	KeyPath      string `toml:"key_path"`
	PasswordEnv  string `toml:"password_env"`
	PasswordFile string `toml:"password_file"`
	KnownHosts   string `toml:"known_hosts"`
	Insecure     bool   `toml:"insecure_host_key"`
	Timeout      string `toml:"timeout"`
}

type SyncFile struct {
	LocalRoot string   `toml:"local_root"`
	RemoteDir string   `toml:"remote_dir"`
	Exclude   []string `toml:"exclude"`
	Parallel  int      `toml:"parallel"`
}

type AppFile struct {
	Command    string   `toml:"command"`
	Signature  string   `toml:"signature"`
	Packages   []string `toml:"packages"`
	Installer  []string `toml:"installer"`
	SecretFile string   `toml:"secret_file"`
	LogFile    string   `toml:"log_file"`
}

type VerifyFile struct {
	StopDelay    string `toml:"stop_delay"`
	StartDelay   string `toml:"start_delay"`
	LogTailLines int    `toml:"log_tail_lines"`
}

// ValidateFile rejects unknown keys, exclusive password sources set
// together, and durations that would fail at deploy time.
func ValidateFile(path string) (File, error) {
	var raw File
	if err := loadToml(path, &raw); err != nil {
		return File{}, err
	}
	if raw.Connection.PasswordEnv != "" && raw.Connection.PasswordFile != "" {
		return File{}, fmt.Errorf("password_env and password_file are mutually exclusive")
	}

	durations := []struct {
		key   string
		value string
	}{
		{"connection.timeout", raw.Connection.Timeout},
		{"verify.stop_delay", raw.Verify.StopDelay},
		{"verify.start_delay", raw.Verify.StartDelay},
	}
	for _, d := range durations {
		v := strings.TrimSpace(d.value)
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return File{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
	}

	if raw.Sync.Parallel < 0 {
		return File{}, fmt.Errorf("sync.parallel must not be negative")
	}
	if raw.Verify.LogTailLines < 0 {
		return File{}, fmt.Errorf("verify.log_tail_lines must not be negative")
	}
	return raw, nil
}
