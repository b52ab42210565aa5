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
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kevinburke/ssh_config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/deckhouse/kops-agent/internal/config"
	"github.com/deckhouse/kops-agent/internal/plugin"
)

type testServer struct {
	host        string
	port        string
	connections atomic.Int32
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "ops" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv := &testServer{}
	srv.host, srv.port, err = net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			srv.connections.Add(1)
			go serve(conn, cfg)
		}
	}()
	return srv
}

func serve(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, creqs, err := nc.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range creqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = ssh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)

				status := uint32(0)
				if payload.Command == "false" {
					status = 1
					_, _ = io.WriteString(ch.Stderr(), "command failed\n")
				} else {
					_, _ = io.WriteString(ch, "ran: "+payload.Command+"\n")
				}
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				ch.Close()
			}
		}()
	}
}

func newTestPlugin(t *testing.T, hosts HostConfig) *Plugin {
	t.Helper()
	cfg := config.New()
	cfg.Set(config.KeySSHRetries, 3)
	cfg.Set(config.KeySSHTimeout, "5s")
	if hosts == nil {
		hosts, _ = ssh_config.Decode(strings.NewReader(""))
	}
	return New(cfg, nil, WithHostConfig(hosts), WithRetryWait(10*time.Millisecond))
}

func TestExecSuccess(t *testing.T) {
	srv := startServer(t)
	p := newTestPlugin(t, nil)

	got, err := p.Execute(context.Background(), ActionExec, plugin.Options{
		"host":     srv.host,
		"port":     srv.port,
		"command":  "uptime",
		"username": "ops",
		"password": "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, &Result{
		Host:     srv.host,
		Command:  "uptime",
		ExitCode: 0,
		Stdout:   "ran: uptime\n",
		Success:  true,
	}, got)
}

func TestExecNonZeroExit(t *testing.T) {
	srv := startServer(t)
	p := newTestPlugin(t, nil)

	res, err := p.Exec(context.Background(), plugin.Options{
		"host": srv.host, "port": srv.port, "command": "false", "username": "ops", "password": "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.False(t, res.Success)
	assert.Equal(t, "command failed\n", res.Stderr)
}

func TestExecResolvesHostAlias(t *testing.T) {
	srv := startServer(t)
	hosts, err := ssh_config.Decode(strings.NewReader("Host bastion\n  HostName " + srv.host + "\n  Port " + srv.port + "\n  User ops\n"))
	require.NoError(t, err)
	p := newTestPlugin(t, hosts)

	res, err := p.Exec(context.Background(), plugin.Options{"host": "bastion", "command": "hostname", "password": "secret"})
	require.NoError(t, err)
	assert.Equal(t, "bastion", res.Host)
	assert.Equal(t, "ran: hostname\n", res.Stdout)
}

func TestAuthFailureIsNotRetried(t *testing.T) {
	srv := startServer(t)
	p := newTestPlugin(t, nil)

	_, err := p.Exec(context.Background(), plugin.Options{
		"host": srv.host, "port": srv.port, "command": "id", "username": "ops", "password": "wrong",
	})
	require.ErrorContains(t, err, "SSH authentication failed")
	assert.EqualValues(t, 1, srv.connections.Load())
}

func TestConnectionFailureIsRetried(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	p := newTestPlugin(t, nil)
	_, err = p.Exec(context.Background(), plugin.Options{
		"host": "127.0.0.1", "port": addr.Port, "command": "id", "username": "ops", "password": "secret",
	})
	require.ErrorContains(t, err, "SSH connection failed")
	assert.ErrorContains(t, err, "after 3 attempts")
}

func TestExecValidation(t *testing.T) {
	p := newTestPlugin(t, nil)

	_, err := p.Execute(context.Background(), ActionExec, plugin.Options{"command": "id"})
	assert.ErrorContains(t, err, `"host"`)
	_, err = p.Execute(context.Background(), ActionExec, plugin.Options{"host": "a"})
	assert.ErrorContains(t, err, `"command"`)
	_, err = p.Execute(context.Background(), ActionExec, plugin.Options{"host": "a", "command": "id", "password": "x", "port": "ssh"})
	assert.ErrorContains(t, err, "invalid port")
	_, err = p.Execute(context.Background(), "copy", nil)
	assert.ErrorIs(t, err, plugin.ErrUnknownAction)
}
