package remote

import (
	"os"
	"path/filepath"
	"testing"
)

func TestClientConfigAddressValidation(t *testing.T) {
	cfg := ClientConfig{}
	if _, err := cfg.address(); err == nil {
		t.Fatalf("expected host validation error")
	}

	cfg.Host = "node-a"
	addr, err := cfg.address()
	if err != nil {
		t.Fatalf("unexpected address error: %v", err)
	}
	if addr != "node-a:22" {
		t.Fatalf("expected default ssh port, got %q", addr)
	}

	cfg.Port = "2222"
	addr, err = cfg.address()
	if err != nil {
		t.Fatalf("unexpected address error: %v", err)
	}
	if addr != "node-a:2222" {
		t.Fatalf("expected explicit port, got %q", addr)
	}
}

func TestClientConfigAddressKeepsEmbeddedPort(t *testing.T) {
	cfg := ClientConfig{Host: "node-a:2200"}
	addr, err := cfg.address()
	if err != nil {
		t.Fatalf("unexpected address error: %v", err)
	}
	if addr != "node-a:2200" {
		t.Fatalf("expected embedded port kept, got %q", addr)
	}
}

func TestClientConfigMissingUser(t *testing.T) {
	cfg := ClientConfig{Host: "node-a"}
	if _, err := cfg.clientConfig(); err == nil {
		t.Fatalf("expected missing user validation error")
	}
}

func TestClientConfigNoAuthConfigured(t *testing.T) {
	cfg := ClientConfig{Host: "node-a", User: "deploy"}
	if _, err := cfg.authMethods(); err == nil {
		t.Fatalf("expected missing auth validation error")
	}
}

func TestClientConfigPasswordEnv(t *testing.T) {
	t.Setenv("BOTCTL_TEST_PASSWORD", "hunter2")
	cfg := ClientConfig{PasswordEnv: "BOTCTL_TEST_PASSWORD"}

	password, ok, err := cfg.password()
	if err != nil {
		t.Fatalf("unexpected password error: %v", err)
	}
	if !ok {
		t.Fatalf("expected password source configured")
	}
	if string(password) != "hunter2" {
		t.Fatalf("unexpected password: %q", password)
	}
}

func TestClientConfigPasswordEnvUnset(t *testing.T) {
	cfg := ClientConfig{PasswordEnv: "BOTCTL_TEST_PASSWORD_UNSET"}
	if _, _, err := cfg.password(); err == nil {
		t.Fatalf("expected unset env error")
	}
}

func TestClientConfigPasswordFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret")
	if err := os.WriteFile(path, []byte("hunter2\n"), 0o600); err != nil {
		t.Fatalf("write password file: %v", err)
	}

	cfg := ClientConfig{PasswordFile: path}
	password, ok, err := cfg.password()
	if err != nil {
		t.Fatalf("unexpected password error: %v", err)
	}
	if !ok {
		t.Fatalf("expected password source configured")
	}
	if string(password) != "hunter2" {
		t.Fatalf("expected trailing newline trimmed, got %q", password)
	}
}

func TestClientConfigPasswordAuthMethods(t *testing.T) {
	cfg := ClientConfig{
		Host:                        "node-a",
		User:                        "deploy",
		Password:                    []byte("hunter2"),
		InsecureSkipHostKeyChecking: true,
	}

	methods, err := cfg.authMethods()
	if err != nil {
		t.Fatalf("unexpected auth error: %v", err)
	}
	if len(methods) != 2 {
		t.Fatalf("expected password and keyboard-interactive methods, got %d", len(methods))
	}

	if _, err := cfg.clientConfig(); err != nil {
		t.Fatalf("unexpected client config error: %v", err)
	}
}
