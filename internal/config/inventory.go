package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Inventory lists deployment targets for fleet deploys. Hosts are
// deployed in file order.
type Inventory struct {
	Hosts []HostConfig `toml:"hosts"`
}

// HostConfig is one inventory entry. Empty fields fall back to the
// base connection config at deploy time.
type HostConfig struct {
	Name         string `toml:"name"`
	Host         string `toml:"host"`
	Port         string `toml:"port"`
	User         string `toml:"user"`
	KeyPath      string `toml:"key_path"`
	PasswordEnv  string `toml:"password_env"`
	PasswordFile string `toml:"password_file"`
	KnownHosts   string `toml:"known_hosts"`
	Insecure     bool   `toml:"insecure_host_key"`
	RemoteDir    string `toml:"remote_dir"`
}

// LoadInventory reads and validates an inventory file. Unknown keys
// are rejected so a typoed field cannot silently fall back.
func LoadInventory(path string) (Inventory, error) {
	var inv Inventory
	if err := loadToml(path, &inv); err != nil {
		return Inventory{}, err
	}
	for i := range inv.Hosts {
		if inv.Hosts[i].Name == "" {
			inv.Hosts[i].Name = inv.Hosts[i].Host
		}
	}
	if err := ValidateInventory(inv); err != nil {
		return Inventory{}, err
	}
	return inv, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateInventory(inv Inventory) error {
	if len(inv.Hosts) == 0 {
		return fmt.Errorf("inventory has no hosts")
	}
	for i, host := range inv.Hosts {
		if err := ValidateHostEntry(host); err != nil {
			return fmt.Errorf("host[%d] invalid: %w", i, err)
		}
	}
	return nil
}

func ValidateHostEntry(cfg HostConfig) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return fmt.Errorf("host is required")
	}
	if cfg.PasswordEnv != "" && cfg.PasswordFile != "" {
		return fmt.Errorf("password_env and password_file are mutually exclusive")
	}
	return nil
}

// ExpandHome resolves a leading ~/ against the user's home directory.
// Paths it cannot resolve are returned unchanged.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
