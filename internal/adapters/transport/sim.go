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
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetprobe/fleetprobe/internal/core/domain"
	"github.com/fleetprobe/fleetprobe/internal/core/ports"
)

// SimResult is a scripted response for one command on a SimSession.
type SimResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
	Delay    time.Duration
}

// SimSession is the simulated implementation of ports.Session. It
// answers deterministically without any network, which keeps the pool,
// manager, tool, and agent layers testable and lets the whole stack
// run in environments with no reachable fleet.
//
// Responses can be scripted per command with Script; unscripted
// commands fall back to canned answers for common diagnostics and an
// echo of everything else.
type SimSession struct {
	cfg    domain.SessionConfig
	logger *zap.SugaredLogger

	mu           sync.Mutex
	state        domain.SessionState
	connectedAt  time.Time
	lastActivity time.Time
	scripts      map[string]SimResult

	connectCalls    int
	execCalls       int
	disconnectCalls int
	failConnects    int
	connectErr      error
}

// NewSimSession returns an unconnected simulated session.
func NewSimSession(logger *zap.SugaredLogger, cfg domain.SessionConfig) *SimSession {
	return &SimSession{
		cfg:     cfg,
		logger:  logger,
		state:   domain.StateDisconnected,
		scripts: make(map[string]SimResult),
	}
}

// NewSimFactory returns a SessionFactory producing simulated sessions.
func NewSimFactory(logger *zap.SugaredLogger) ports.SessionFactory {
	return func(cfg domain.SessionConfig) ports.Session {
		return NewSimSession(logger, cfg)
	}
}

// Script registers a canned response for a command.
func (s *SimSession) Script(command string, res SimResult) {
	s.mu.Lock()
	s.scripts[command] = res
	s.mu.Unlock()
}

// FailConnects makes the next n Connect calls fail with err.
func (s *SimSession) FailConnects(n int, err error) {
	s.mu.Lock()
	s.failConnects = n
	s.connectErr = err
	s.mu.Unlock()
}

// ConnectCalls returns how many times Connect was invoked.
func (s *SimSession) ConnectCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectCalls
}

// ExecCalls returns how many commands reached the transport.
func (s *SimSession) ExecCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execCalls
}

// DisconnectCalls returns how many Disconnect calls had any effect.
func (s *SimSession) DisconnectCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnectCalls
}

func (s *SimSession) Config() domain.SessionConfig { return s.cfg }

func (s *SimSession) Status() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SimSession) Connect() error {
	if err := s.cfg.Validate(); err != nil {
		return domain.NewConnectionError(domain.ConnTransport, s.cfg.Host, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.connectCalls++
	if s.failConnects > 0 {
		s.failConnects--
		s.state = domain.StateError
		err := s.connectErr
		if err == nil {
			err = domain.NewConnectionError(domain.ConnTransport, s.cfg.Host,
				fmt.Errorf("simulated connect failure"))
		}
		return err
	}

	s.state = domain.StateConnected
	s.connectedAt = time.Now()
	s.lastActivity = s.connectedAt
	return nil
}

func (s *SimSession) Execute(command string, timeout time.Duration) (string, string, int, error) {
	s.mu.Lock()
	if s.state != domain.StateConnected {
		s.mu.Unlock()
		return "", "", -1, domain.NewConnectionError(domain.ConnNotConnected, s.cfg.Host,
			fmt.Errorf("execute on disconnected session"))
	}
	s.execCalls++
	s.lastActivity = time.Now()
	res, scripted := s.scripts[command]
	s.mu.Unlock()

	if scripted {
		if res.Delay > 0 {
			if timeout > 0 && res.Delay > timeout {
				return "", "", -1, domain.NewConnectionError(domain.ConnTimeout, s.cfg.Host,
					fmt.Errorf("command timed out after %s: %s", timeout, command))
			}
			time.Sleep(res.Delay)
		}
		return res.Stdout, res.Stderr, res.ExitCode, res.Err
	}

	return s.cannedResponse(command)
}

func (s *SimSession) cannedResponse(command string) (string, string, int, error) {
	trimmed := strings.TrimSpace(command)
	switch {
	case trimmed == "echo 'health_check'":
		return "health_check", "", 0, nil
	case strings.HasPrefix(trimmed, "echo "):
		content := strings.Trim(strings.TrimPrefix(trimmed, "echo "), `'"`)
		return content, "", 0, nil
	case trimmed == "whoami":
		return s.cfg.User, "", 0, nil
	case trimmed == "hostname":
		return s.cfg.Host, "", 0, nil
	case trimmed == "pwd":
		return "/home/" + s.cfg.User, "", 0, nil
	case trimmed == "uname -r":
		return "6.1.0-sim", "", 0, nil
	case trimmed == "nproc":
		return "8", "", 0, nil
	case trimmed == "uptime":
		return " 10:00:00 up 42 days,  3:17,  1 user,  load average: 0.10, 0.08, 0.05", "", 0, nil
	case trimmed == "df -h":
		return "Filesystem      Size  Used Avail Use% Mounted on\n" +
			"/dev/sda1        50G   20G   28G  42% /\n" +
			"tmpfs           7.8G     0  7.8G   0% /dev/shm", "", 0, nil
	case trimmed == "free -h":
		return "              total        used        free      shared  buff/cache   available\n" +
			"Mem:           15Gi       4.2Gi       8.1Gi       240Mi       3.2Gi        10Gi\n" +
			"Swap:         2.0Gi          0B       2.0Gi", "", 0, nil
	default:
		return fmt.Sprintf("simulated output for: %s", command), "", 0, nil
	}
}

func (s *SimSession) Put(localPath, remotePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateConnected {
		return domain.NewConnectionError(domain.ConnNotConnected, s.cfg.Host,
			fmt.Errorf("put on disconnected session"))
	}
	s.lastActivity = time.Now()
	s.logger.Debugw("simulated upload", "local", localPath, "remote", remotePath)
	return nil
}

func (s *SimSession) Get(remotePath, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateConnected {
		return domain.NewConnectionError(domain.ConnNotConnected, s.cfg.Host,
			fmt.Errorf("get on disconnected session"))
	}
	s.lastActivity = time.Now()
	s.logger.Debugw("simulated download", "remote", remotePath, "local", localPath)
	return nil
}

func (s *SimSession) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateConnected && s.state != domain.StateError {
		return nil
	}
	s.disconnectCalls++
	s.state = domain.StateDisconnected
	s.connectedAt = time.Time{}
	s.lastActivity = time.Time{}
	return nil
}

func (s *SimSession) Info() domain.ConnectionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := domain.ConnectionInfo{
		Host:      s.cfg.Host,
		Port:      s.cfg.Port,
		User:      s.cfg.User,
		State:     s.state,
		Simulated: true,
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
