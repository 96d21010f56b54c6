package config

import (
	"strings"

	"github.com/danmuck/botctl/internal/remote"
)

// ClientConfig merges the inventory entry over a base connection
// config. Only fields the entry sets are overridden.
func (h HostConfig) ClientConfig(base remote.ClientConfig) remote.ClientConfig {
	out := base
	if strings.TrimSpace(h.Host) != "" {
		out.Host = strings.TrimSpace(h.Host)
	}
	if h.Port != "" {
		out.Port = h.Port
	}
	if h.User != "" {
		out.User = h.User
	}
	if h.KeyPath != "" {
		out.KeyPath = ExpandHome(h.KeyPath)
	}
	if h.PasswordEnv != "" {
		out.PasswordEnv = h.PasswordEnv
		out.PasswordFile = ""
	}
	if h.PasswordFile != "" {
		out.PasswordFile = ExpandHome(h.PasswordFile)
		out.PasswordEnv = ""
	}
	if h.KnownHosts != "" {
		out.KnownHostsPath = ExpandHome(h.KnownHosts)
	}
	if h.Insecure {
		out.InsecureSkipHostKeyChecking = true
	}
	return out
}
