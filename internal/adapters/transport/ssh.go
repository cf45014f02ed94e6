// Copyright 2025.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/fleetprobe/fleetprobe/internal/core/domain"
	"github.com/fleetprobe/fleetprobe/internal/core/ports"
)

// sshSession is the real-transport implementation of ports.Session,
// backed by golang.org/x/crypto/ssh.
type sshSession struct {
	cfg    domain.SessionConfig
	logger *zap.SugaredLogger

	mu           sync.Mutex
	client       *ssh.Client
	state        domain.SessionState
	connectedAt  time.Time
	lastActivity time.Time
}

// NewSSHSession returns an unconnected real-transport session.
func NewSSHSession(logger *zap.SugaredLogger, cfg domain.SessionConfig) ports.Session {
	return &sshSession{
		cfg:    cfg,
		logger: logger,
		state:  domain.StateDisconnected,
	}
}

// NewSSHFactory returns a SessionFactory producing real SSH sessions.
func NewSSHFactory(logger *zap.SugaredLogger) ports.SessionFactory {
	return func(cfg domain.SessionConfig) ports.Session {
		return NewSSHSession(logger, cfg)
	}
}

func (s *sshSession) Config() domain.SessionConfig { return s.cfg }

func (s *sshSession) Status() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *sshSession) Connect() error {
	if err := s.cfg.Validate(); err != nil {
		return domain.NewConnectionError(domain.ConnTransport, s.cfg.Host, err)
	}

	s.mu.Lock()
	if s.state == domain.StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.state = domain.StateConnecting
	s.mu.Unlock()

	auth, err := s.authMethods()
	if err != nil {
		s.setState(domain.StateError)
		return domain.NewConnectionError(domain.ConnAuthFailed, s.cfg.Host, err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            auth,
		Timeout:         s.cfg.Timeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // host key policy is the caller's concern
	}

	client, err := ssh.Dial("tcp", s.cfg.Addr(), clientConfig)
	if err != nil {
		s.setState(domain.StateError)
		return classifyDialError(s.cfg.Host, err)
	}

	s.mu.Lock()
	s.client = client
	s.state = domain.StateConnected
	s.connectedAt = time.Now()
	s.lastActivity = s.connectedAt
	s.mu.Unlock()

	s.logger.Infow("connected", "host", s.cfg.Host, "port", s.cfg.Port, "user", s.cfg.User)
	return nil
}

func (s *sshSession) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if s.cfg.Password != "" {
		methods = append(methods, ssh.Password(s.cfg.Password))
	}
	if s.cfg.KeyFile != "" {
		keyData, err := os.ReadFile(s.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file %s: %w", s.cfg.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", s.cfg.KeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no usable authentication method")
	}
	return methods, nil
}

func classifyDialError(host string, err error) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return domain.NewConnectionError(domain.ConnTimeout, host, err)
	case strings.Contains(err.Error(), "unable to authenticate"),
		strings.Contains(err.Error(), "permission denied"):
		return domain.NewConnectionError(domain.ConnAuthFailed, host, err)
	default:
		return domain.NewConnectionError(domain.ConnTransport, host, err)
	}
}

func (s *sshSession) Execute(command string, timeout time.Duration) (string, string, int, error) {
	s.mu.Lock()
	if s.state != domain.StateConnected || s.client == nil {
		s.mu.Unlock()
		return "", "", -1, domain.NewConnectionError(domain.ConnNotConnected, s.cfg.Host,
			fmt.Errorf("execute on disconnected session"))
	}
	client := s.client
	s.lastActivity = time.Now()
	s.mu.Unlock()

	sess, err := client.NewSession()
	if err != nil {
		return "", "", -1, domain.NewConnectionError(domain.ConnTransport, s.cfg.Host, err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-time.After(timeout):
		// Closing the client is the only way to interrupt a running
		// remote command; the session is unusable afterwards.
		_ = client.Close()
		s.setState(domain.StateError)
		return stdout.String(), stderr.String(), -1,
			domain.NewConnectionError(domain.ConnTimeout, s.cfg.Host,
				fmt.Errorf("command timed out after %s: %s", timeout, command))
	case err = <-done:
	}

	exitCode := 0
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitStatus()
		} else {
			return stdout.String(), stderr.String(), -1,
				domain.NewConnectionError(domain.ConnTransport, s.cfg.Host, err)
		}
	}
	return stdout.String(), stderr.String(), exitCode, nil
}

// Put copies a local file to the remote path by streaming it through a
// remote shell.
func (s *sshSession) Put(localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read local file: %w", err)
	}

	s.mu.Lock()
	if s.state != domain.StateConnected || s.client == nil {
		s.mu.Unlock()
		return domain.NewConnectionError(domain.ConnNotConnected, s.cfg.Host,
			fmt.Errorf("put on disconnected session"))
	}
	client := s.client
	s.lastActivity = time.Now()
	s.mu.Unlock()

	sess, err := client.NewSession()
	if err != nil {
		return domain.NewConnectionError(domain.ConnTransport, s.cfg.Host, err)
	}
	defer sess.Close()

	sess.Stdin = bytes.NewReader(data)
	if err := sess.Run(fmt.Sprintf("cat > %s", shellQuote(remotePath))); err != nil {
		return domain.NewConnectionError(domain.ConnTransport, s.cfg.Host,
			fmt.Errorf("upload to %s: %w", remotePath, err))
	}
	return nil
}

// Get copies a remote file to the local path.
func (s *sshSession) Get(remotePath, localPath string) error {
	stdout, stderr, exitCode, err := s.Execute(fmt.Sprintf("cat %s", shellQuote(remotePath)), 0)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return domain.NewConnectionError(domain.ConnTransport, s.cfg.Host,
			fmt.Errorf("download %s: %s", remotePath, strings.TrimSpace(stderr)))
	}
	if err := os.WriteFile(localPath, []byte(stdout), 0o600); err != nil {
		return fmt.Errorf("write local file: %w", err)
	}
	return nil
}

func shellQuote(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

func (s *sshSession) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateConnected && s.state != domain.StateError {
		return nil
	}
	s.state = domain.StateDisconnecting

	var err error
	if s.client != nil {
		err = s.client.Close()
		s.client = nil
	}
	s.state = domain.StateDisconnected
	s.connectedAt = time.Time{}
	s.lastActivity = time.Time{}

	s.logger.Infow("disconnected", "host", s.cfg.Host)
	return err
}

func (s *sshSession) Info() domain.ConnectionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := domain.ConnectionInfo{
		Host:  s.cfg.Host,
		Port:  s.cfg.Port,
		User:  s.cfg.User,
		State: s.state,
	}
	if !s.connectedAt.IsZero() {
		info.ConnectedAt = s.connectedAt
		info.Uptime = time.Since(s.connectedAt)
	}
	if !s.lastActivity.IsZero() {
		info.IdleTime = time.Since(s.lastActivity)
	}
	return info
}

func (s *sshSession) setState(state domain.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
