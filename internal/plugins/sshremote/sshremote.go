/*
Copyright 2025 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sshremote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/deckhouse/kops-agent/internal/config"
	"github.com/deckhouse/kops-agent/internal/logging"
	"github.com/deckhouse/kops-agent/internal/plugin"
	"github.com/deckhouse/kops-agent/pkg/retry"
)

const Name = "ssh_remote"

const ActionExec plugin.Action = "exec"

var defaultKeys = []string{"~/.ssh/id_rsa", "~/.ssh/id_ed25519", "~/.ssh/id_ecdsa"}

// Result of a remote command.
type Result struct {
	Host     string `json:"host" yaml:"host"`
	Command  string `json:"command" yaml:"command"`
	ExitCode int    `json:"exit_code" yaml:"exit_code"`
	Stdout   string `json:"stdout" yaml:"stdout"`
	Stderr   string `json:"stderr" yaml:"stderr"`
	Success  bool   `json:"success" yaml:"success"`
}

// HostConfig resolves per host settings, as ~/.ssh/config does.
type HostConfig interface {
	Get(alias, key string) (string, error)
}

// Plugin runs commands on remote hosts over SSH.
type Plugin struct {
	plugin.Base

	timeout     time.Duration
	retries     uint
	retryWait   time.Duration
	defaultUser string
	hosts       HostConfig
	logger      *logging.Logger
}

type Option func(*Plugin)

// WithHostConfig replaces the ~/.ssh/config lookups.
func WithHostConfig(h HostConfig) Option {
	return func(p *Plugin) {
		p.hosts = h
	}
}

func WithRetryWait(d time.Duration) Option {
	return func(p *Plugin) {
		p.retryWait = d
	}
}

func New(cfg config.Accessor, logger *logging.Logger, opts ...Option) *Plugin {
	p := &Plugin{
		Base:      plugin.NewBase(Name, "Execute commands on remote servers via SSH", "1.0.0", ActionExec),
		timeout:   30 * time.Second,
		retries:   3,
		retryWait: time.Second,
		hosts:     userSettings{settings: ssh_config.DefaultUserSettings},
		logger:    logger,
	}
	if cfg != nil {
		if d := config.Duration(cfg, config.KeySSHTimeout); d > 0 {
			p.timeout = d
		}
		if n := cfg.GetInt(config.KeySSHRetries); n > 0 {
			p.retries = uint(n)
		}
		p.defaultUser = cfg.GetString(config.KeySSHUsername)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Info(ctx context.Context) plugin.Info {
	return plugin.Describe(ctx, p)
}

func (p *Plugin) Execute(ctx context.Context, action plugin.Action, opts plugin.Options) (any, error) {
	switch action {
	case ActionExec:
		return p.Exec(ctx, opts)
	default:
		return nil, p.UnknownAction(action)
	}
}

// Exec runs opts["command"] on opts["host"].
// Recognised options: username, password, key_path, port, timeout, known_hosts.
func (p *Plugin) Exec(ctx context.Context, opts plugin.Options) (*Result, error) {
	host, err := opts.RequireString("host")
	if err != nil {
		return nil, err
	}
	command, err := opts.RequireString("command")
	if err != nil {
		return nil, err
	}

	target, clientCfg, err := p.clientConfig(host, opts)
	if err != nil {
		return nil, fmt.Errorf("SSH execution failed for %s: %w", host, err)
	}

	p.logger.Info(ctx, "Executing SSH command",
		slog.String("host", host),
		slog.String("command", command),
		slog.String("username", clientCfg.User),
	)

	var client *ssh.Client
	task := retry.WithConstantRetries(p.retries, p.retryWait, func(ctx context.Context) error {
		c, err := dial(ctx, target, clientCfg)
		if err != nil {
			if isAuthError(err) {
				return retry.Permanent(err)
			}
			return err
		}
		client = c
		return nil
	})
	if err := retry.RunTask(ctx, p.logger, "SSH connect to "+target, task); err != nil {
		if isAuthError(err) {
			p.logger.Error(ctx, "SSH authentication failed", slog.String("host", host), logging.Err(err))
			return nil, fmt.Errorf("SSH authentication failed for %s: %w", host, err)
		}
		p.logger.Error(ctx, "SSH connection failed", slog.String("host", host), logging.Err(err))
		return nil, fmt.Errorf("SSH connection failed for %s: %w", host, err)
	}
	defer client.Close()

	res, err := run(ctx, client, command)
	if err != nil {
		p.logger.Error(ctx, "SSH execution failed", slog.String("host", host), logging.Err(err))
		return nil, fmt.Errorf("SSH execution failed for %s: %w", host, err)
	}
	res.Host = host
	return res, nil
}

func (p *Plugin) clientConfig(host string, opts plugin.Options) (string, *ssh.ClientConfig, error) {
	hostname := p.lookup(host, "HostName")
	if hostname == "" {
		hostname = host
	}

	port := opts.GetString("port", p.lookup(host, "Port"))
	if port == "" {
		port = "22"
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", nil, fmt.Errorf("invalid port %q", port)
	}

	username := opts.GetString("username", p.lookup(host, "User"))
	if username == "" {
		username = p.defaultUser
	}
	if username == "" {
		username = currentUser()
	}

	auth, err := p.authMethods(host, opts)
	if err != nil {
		return "", nil, err
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if path := opts.GetString("known_hosts", ""); path != "" {
		hostKeyCallback, err = knownhosts.New(expandHome(path))
		if err != nil {
			return "", nil, fmt.Errorf("load known_hosts: %w", err)
		}
	}

	return net.JoinHostPort(hostname, port), &ssh.ClientConfig{
		User:            username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.GetDuration("timeout", p.timeout),
	}, nil
}

// authMethods prefers an explicit password, then an explicit key, then the
// identity configured for the host, then the default key locations.
func (p *Plugin) authMethods(host string, opts plugin.Options) ([]ssh.AuthMethod, error) {
	if password := opts.GetString("password", ""); password != "" {
		return []ssh.AuthMethod{ssh.Password(password)}, nil
	}

	var keys []string
	switch {
	case opts.GetString("key_path", "") != "":
		keys = []string{opts.GetString("key_path", "")}
	case p.lookup(host, "IdentityFile") != "" && p.lookup(host, "IdentityFile") != "~/.ssh/identity":
		keys = []string{p.lookup(host, "IdentityFile")}
	default:
		for _, k := range defaultKeys {
			if _, err := os.Stat(expandHome(k)); err == nil {
				keys = append(keys, k)
			}
		}
	}

	signers := make([]ssh.Signer, 0, len(keys))
	for _, k := range keys {
		data, err := os.ReadFile(expandHome(k))
		if err != nil {
			return nil, fmt.Errorf("read key %s: %w", k, err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse key %s: %w", k, err)
		}
		signers = append(signers, signer)
	}
	if len(signers) == 0 {
		return nil, errors.New("no password or private key available")
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, nil
}

// userSettings reads ~/.ssh/config and /etc/ssh/ssh_config.
type userSettings struct {
	settings *ssh_config.UserSettings
}

func (u userSettings) Get(alias, key string) (string, error) {
	return u.settings.GetStrict(alias, key)
}

func (p *Plugin) lookup(host, key string) string {
	if p.hosts == nil {
		return ""
	}
	v, err := p.hosts.Get(host, key)
	if err != nil {
		return ""
	}
	return v
}

func dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func run(ctx context.Context, client *ssh.Client, command string) (*Result, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		client.Close()
		return nil, ctx.Err()
	}

	res := &Result{Command: command, Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *ssh.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
	case errors.Is(runErr, io.EOF):
		res.ExitCode = -1
	default:
		var missing *ssh.ExitMissingError
		if !errors.As(runErr, &missing) {
			return nil, runErr
		}
		res.ExitCode = -1
	}
	res.Success = res.ExitCode == 0
	return res, nil
}

func isAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
