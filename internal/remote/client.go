package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ClientConfig carries everything needed to reach one deployment target.
// At least one of KeyPath, Password, PasswordEnv or PasswordFile must be
// set; key auth is tried before password auth when both are present.
type ClientConfig struct {
	Host string
	Port string
	User string

	KeyPath    string
	Passphrase []byte

	Password     []byte
	PasswordEnv  string
	PasswordFile string

	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
}

// Client is an established SSH connection. One client serves every exec
// and SFTP session of a deployment run.
type Client struct {
	conn *ssh.Client
}

// Dial connects and authenticates against the configured target.
func Dial(cfg ClientConfig) (*Client, error) {
	address, err := cfg.address()
	if err != nil {
		return nil, err
	}

	config, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}

	log.Debug().Str("address", address).Str("user", cfg.User).Msg("remote.dial")

	if cfg.Timeout <= 0 {
		conn, err := ssh.Dial("tcp", address, config)
		if err != nil {
			return nil, err
		}
		return &Client{conn: conn}, nil
	}

	conn, err := net.DialTimeout("tcp", address, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Client{conn: ssh.NewClient(clientConn, chans, reqs)}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Run(ctx context.Context, cmd string, args ...string) (Result, error) {
	return c.RunShell(ctx, JoinCommand(cmd, args))
}

func (c *Client) RunShell(ctx context.Context, script string) (Result, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return Result{}, err
	}
	defer session.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(script) }()

	select {
	case <-ctx.Done():
		session.Close()
		<-done
		return Result{Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
	case err = <-done:
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}

	result.ExitCode = 1
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
	}
	return result, err
}

func (c *Client) RunStreaming(ctx context.Context, script string, stdout, stderr io.Writer) error {
	session, err := c.conn.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	if stdout != nil {
		session.Stdout = stdout
	}
	if stderr != nil {
		session.Stderr = stderr
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(script) }()

	select {
	case <-ctx.Done():
		session.Close()
		<-done
		return ctx.Err()
	case err = <-done:
		return err
	}
}

// SFTP opens a file-transfer session over the established connection.
// The caller owns the returned session.
func (c *Client) SFTP() (*sftp.Client, error) {
	return sftp.NewClient(c.conn)
}

func (cfg ClientConfig) address() (string, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return "", fmt.Errorf("ssh host is required")
	}

	if cfg.Port != "" {
		return net.JoinHostPort(host, cfg.Port), nil
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}

	return net.JoinHostPort(host, "22"), nil
}

func (cfg ClientConfig) clientConfig() (*ssh.ClientConfig, error) {
	if cfg.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}

	auth, err := cfg.authMethods()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if cfg.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := cfg.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.Timeout,
	}, nil
}

func (cfg ClientConfig) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.KeyPath != "" {
		signer, err := cfg.signer()
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	password, ok, err := cfg.password()
	if err != nil {
		return nil, err
	}
	if ok {
		pw := string(password)
		methods = append(methods, ssh.Password(pw))
		methods = append(methods, ssh.KeyboardInteractive(
			func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = pw
				}
				return answers, nil
			}))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no ssh auth configured: set a key path or a password source")
	}
	return methods, nil
}

func (cfg ClientConfig) signer() (ssh.Signer, error) {
	privateKey, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, err
	}

	if len(cfg.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, cfg.Passphrase)
	}

	return ssh.ParsePrivateKey(privateKey)
}

// password resolves the configured password source. The boolean reports
// whether any source was configured.
func (cfg ClientConfig) password() ([]byte, bool, error) {
	if len(cfg.Password) > 0 {
		return cfg.Password, true, nil
	}

	if cfg.PasswordEnv != "" {
		value, set := os.LookupEnv(cfg.PasswordEnv)
		if !set || value == "" {
			return nil, false, fmt.Errorf("password env %s is not set", cfg.PasswordEnv)
		}
		return []byte(value), true, nil
	}

	if cfg.PasswordFile != "" {
		raw, err := os.ReadFile(cfg.PasswordFile)
		if err != nil {
			return nil, false, err
		}
		value := strings.TrimRight(string(raw), "\r\n")
		if value == "" {
			return nil, false, fmt.Errorf("password file %s is empty", cfg.PasswordFile)
		}
		return []byte(value), true, nil
	}

	return nil, false, nil
}

func (cfg ClientConfig) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(cfg.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	return knownhosts.New(path)
}
