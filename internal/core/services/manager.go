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

package services

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetprobe/fleetprobe/internal/core/domain"
	"github.com/fleetprobe/fleetprobe/internal/core/ports"
)

const healthCheckCommand = "echo 'health_check'"

// ConnectionManager owns session lifecycle: it creates sessions through
// the pool with timeout-bounded, retried connection attempts, reuses
// live sessions keyed by endpoint, and runs a background reaper that
// evicts sessions idle past the configured threshold.
type ConnectionManager struct {
	logger  *zap.SugaredLogger
	cfg     domain.Config
	pool    *ConnectionPool
	factory ports.SessionFactory

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConnectionManager builds a manager and starts its reaper.
func NewConnectionManager(logger *zap.SugaredLogger, cfg domain.Config, factory ports.SessionFactory) *ConnectionManager {
	m := &ConnectionManager{
		logger:  logger,
		cfg:     cfg,
		pool:    NewConnectionPool(cfg.MaxConnections),
		factory: factory,
		stop:    make(chan struct{}),
	}
	m.wg.Add(1)
	go m.reaperLoop()
	return m
}

// Pool exposes the underlying pool for stats queries.
func (m *ConnectionManager) Pool() *ConnectionPool { return m.pool }

// SessionKey derives the stable pool key for an endpoint, so repeat
// requests to the same (host, port, user) reuse one session.
func SessionKey(cfg domain.SessionConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d:%s", cfg.Host, port, cfg.User)
}

// Connect returns a connected session for cfg, reusing a pooled one
// when it is still live. New connections are attempted under the
// configured wall-clock timeout and retried with linearly increasing
// delay; the last attempt's error is surfaced when all fail.
func (m *ConnectionManager) Connect(cfg domain.SessionConfig) (ports.Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, domain.NewConnectionError(domain.ConnTransport, cfg.Host, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = m.cfg.ConnectionTimeout
	}

	key := SessionKey(cfg)

	if existing := m.pool.Get(key); existing != nil {
		if existing.Status() == domain.StateConnected {
			m.logger.Debugw("reusing pooled session", "key", key)
			return existing, nil
		}
		// Stale entry: the session died since it was pooled.
		m.pool.Remove(key)
		_ = existing.Disconnect()
	}

	if m.pool.IsFull() {
		return nil, domain.NewConnectionError(domain.ConnPoolFull, cfg.Host,
			fmt.Errorf("connection pool is full (%d active)", m.pool.ActiveCount()))
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.RetryAttempts; attempt++ {
		session, err := m.dialWithTimeout(cfg)
		if err == nil {
			if m.pool.Add(key, session) {
				m.logger.Infow("session established", "key", key, "attempt", attempt)
				return session, nil
			}
			// Lost the capacity race; never leave an orphaned
			// connection behind.
			_ = session.Disconnect()
			return nil, domain.NewConnectionError(domain.ConnPoolFull, cfg.Host,
				fmt.Errorf("pool filled while connecting"))
		}

		lastErr = err
		m.logger.Warnw("connection attempt failed", "key", key, "attempt", attempt, "error", err)

		if attempt < m.cfg.RetryAttempts {
			select {
			case <-time.After(m.cfg.RetryDelay * time.Duration(attempt)):
			case <-m.stop:
				return nil, domain.NewConnectionError(domain.ConnTransport, cfg.Host,
					fmt.Errorf("manager shut down during connect"))
			}
		}
	}

	return nil, lastErr
}

// dialWithTimeout runs one connection attempt bounded by cfg.Timeout.
// An attempt that overruns is abandoned: whenever it eventually
// finishes, its session is disconnected so no transport leaks.
func (m *ConnectionManager) dialWithTimeout(cfg domain.SessionConfig) (ports.Session, error) {
	session := m.factory(cfg)

	done := make(chan error, 1)
	go func() { done <- session.Connect() }()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return session, nil
	case <-time.After(cfg.Timeout):
		go func() {
			if <-done == nil {
				_ = session.Disconnect()
			}
		}()
		return nil, domain.NewConnectionError(domain.ConnTimeout, cfg.Host,
			fmt.Errorf("connect timed out after %s", cfg.Timeout))
	}
}

// Disconnect removes the session from the pool and closes it.
func (m *ConnectionManager) Disconnect(session ports.Session) {
	if session == nil {
		return
	}
	key := SessionKey(session.Config())
	m.pool.Remove(key)
	if err := session.Disconnect(); err != nil {
		m.logger.Warnw("disconnect failed", "key", key, "error", err)
	}
}

// ExecuteCommand runs a command on an already connected session. It
// never reconnects: a disconnected session is the caller's problem.
func (m *ConnectionManager) ExecuteCommand(session ports.Session, command string, timeout time.Duration) (string, string, int, error) {
	if session == nil || session.Status() != domain.StateConnected {
		host := ""
		if session != nil {
			host = session.Config().Host
		}
		return "", "", -1, domain.NewConnectionError(domain.ConnNotConnected, host,
			fmt.Errorf("session not connected"))
	}
	return session.Execute(command, timeout)
}

// HealthCheck runs the canary command and compares its output
// verbatim. Used opportunistically, not on every call.
func (m *ConnectionManager) HealthCheck(session ports.Session) bool {
	stdout, _, exitCode, err := m.ExecuteCommand(session, healthCheckCommand, 5*time.Second)
	if err != nil {
		m.logger.Warnw("health check failed", "error", err)
		return false
	}
	return exitCode == 0 && strings.TrimSpace(stdout) == "health_check"
}

// reaperLoop wakes on a fixed interval and evicts idle sessions. It
// snapshots candidates under the pool lock, disconnects outside it,
// and re-acquires only to remove, so a slow disconnect never blocks
// concurrent connects.
func (m *ConnectionManager) reaperLoop() {
	defer m.wg.Done()

	interval := m.cfg.ReapInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reapIdle()
		case <-m.stop:
			return
		}
	}
}

func (m *ConnectionManager) reapIdle() {
	for _, candidate := range m.pool.idleCandidates(m.cfg.IdleTimeout) {
		m.logger.Infow("reaping idle session", "key", candidate.key)
		if err := candidate.session.Disconnect(); err != nil {
			m.logger.Warnw("reaper disconnect failed", "key", candidate.key, "error", err)
		}
		m.pool.Remove(candidate.key)
	}
}

// Shutdown stops the reaper and disconnects every pooled session.
// Calling it more than once is safe.
func (m *ConnectionManager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.wg.Wait()

		for _, session := range m.pool.drain() {
			if err := session.Disconnect(); err != nil {
				m.logger.Warnw("disconnect during shutdown failed",
					"host", session.Config().Host, "error", err)
			}
		}
		m.logger.Infow("connection manager shut down")
	})
}
