package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "config":
		return configTemplate, nil
	case "inventory":
		return inventoryTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const configTemplate = `strict = true

[connection]
host = "203.0.113.10"
port = "22"
user = "deploy"
key_path = "~/.ssh/id_ed25519"
# password_env = "BOTCTL_SSH_PASSWORD"
# password_file = "/etc/botctl/password"
# known_hosts = "~/.ssh/known_hosts"
# insecure_host_key = false
timeout = "10s"

[sync]
local_root = "."
remote_dir = "/opt/eventbot"
exclude = [".env", "*.log", "*.db", "__pycache__", ".git", ".venv", "venv", "*.pyc", ".DS_Store"]
parallel = 1

[app]
command = "python3 main.py"
signature = "main.py"
packages = ["aiogram", "aiosqlite", "python-dotenv", "apscheduler", "pytz"]
installer = ["pip3", "install"]
secret_file = ".env"
log_file = "bot.log"

[verify]
stop_delay = "2s"
start_delay = "3s"
log_tail_lines = 40
`

const inventoryTemplate = `[[hosts]]
name = "eventbot-prod"
host = "203.0.113.10"
user = "deploy"
remote_dir = "/opt/eventbot"

[[hosts]]
name = "eventbot-staging"
host = "203.0.113.11"
port = "22"
user = "deploy"
key_path = "~/.ssh/id_ed25519"
remote_dir = "/opt/eventbot"
`
