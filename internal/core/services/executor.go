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
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetprobe/fleetprobe/internal/core/domain"
)

// ExecutionTool runs commands against remote servers through the
// ConnectionManager. It applies the safety filter before dispatch,
// retries execution-level failures independently of connection-level
// retries, and records every execution in a bounded history ring.
type ExecutionTool struct {
	logger  *zap.SugaredLogger
	cfg     domain.Config
	manager *ConnectionManager
	filter  *commandFilter

	historyMu sync.Mutex
	history   []domain.ExecutionRecord
}

// NewExecutionTool builds the tool on top of an existing manager.
func NewExecutionTool(logger *zap.SugaredLogger, cfg domain.Config, manager *ConnectionManager) *ExecutionTool {
	return &ExecutionTool{
		logger:  logger,
		cfg:     cfg,
		manager: manager,
		filter:  newCommandFilter(cfg.SafeMode),
	}
}

// Execute runs one command on one server. The returned result is
// always populated; the error mirrors any non-success status so
// single-shot callers get an explicit error value while batch callers
// can keep just the result.
func (t *ExecutionTool) Execute(server domain.Server, command string, timeout time.Duration) (domain.CommandResult, error) {
	start := time.Now()
	if timeout <= 0 {
		timeout = t.cfg.ToolTimeout
	}

	if reason := t.filter.Check(command); reason != "" {
		result := domain.CommandResult{
			Status:    domain.StatusPermissionDenied,
			Error:     reason,
			ExitCode:  -1,
			Duration:  time.Since(start),
			Server:    server.Hostname,
			Command:   command,
			Timestamp: time.Now(),
			Metadata:  map[string]any{"security_violation": true},
		}
		t.record(result)
		return result, fmt.Errorf("%w: %s", domain.ErrCommandBlocked, reason)
	}

	sessCfg := server.SessionConfig(t.cfg.ConnectionTimeout)

	var lastErr error
	for attempt := 1; attempt <= t.cfg.MaxRetries; attempt++ {
		session, err := t.manager.Connect(sessCfg)
		if err != nil {
			lastErr = err
			t.logger.Warnw("execution attempt failed to connect",
				"server", server.Hostname, "attempt", attempt, "error", err)
			t.backoff(attempt)
			continue
		}

		stdout, stderr, exitCode, err := t.manager.ExecuteCommand(session, command, timeout)
		if err != nil {
			lastErr = err
			t.logger.Warnw("execution attempt failed",
				"server", server.Hostname, "attempt", attempt, "error", err)
			if domain.IsConnectionKind(err, domain.ConnTimeout) {
				// The transport is gone after a timeout; drop the
				// pooled session so the next attempt redials.
				t.manager.Disconnect(session)
				result := t.finishResult(start, server.Hostname, command, domain.CommandResult{
					Status:   domain.StatusTimeout,
					Output:   stdout,
					Error:    err.Error(),
					ExitCode: -1,
					Metadata: map[string]any{"attempt": attempt},
				})
				t.record(result)
				return result, err
			}
			t.backoff(attempt)
			continue
		}

		result := t.finishResult(start, server.Hostname, command, domain.CommandResult{
			Output:   stdout,
			ExitCode: exitCode,
			Metadata: map[string]any{"attempt": attempt},
		})
		if exitCode == 0 {
			result.Status = domain.StatusSuccess
			result.Error = stderr
			t.record(result)
			return result, nil
		}

		result.Status = domain.StatusFailed
		if stderr != "" {
			result.Error = stderr
		} else {
			result.Error = fmt.Sprintf("command failed with exit code %d", exitCode)
		}
		t.record(result)
		return result, fmt.Errorf("%w: exit code %d", domain.ErrRemoteNonZeroExit, exitCode)
	}

	result := t.finishResult(start, server.Hostname, command, domain.CommandResult{
		Status:   domain.StatusFailed,
		Error:    fmt.Sprintf("all execution attempts failed: %v", lastErr),
		ExitCode: -1,
		Metadata: map[string]any{"max_retries_exceeded": true, "total_attempts": t.cfg.MaxRetries},
	})
	t.record(result)
	return result, fmt.Errorf("%w: %v", domain.ErrRetriesExhausted, lastErr)
}

func (t *ExecutionTool) backoff(attempt int) {
	if attempt < t.cfg.MaxRetries {
		time.Sleep(t.cfg.RetryDelay * time.Duration(attempt))
	}
}

func (t *ExecutionTool) finishResult(start time.Time, server, command string, r domain.CommandResult) domain.CommandResult {
	r.Duration = time.Since(start)
	r.Server = server
	r.Command = command
	r.Timestamp = time.Now()
	return r
}

// ExecuteOnMultiple runs the command sequentially against each server,
// continuing past individual failures.
func (t *ExecutionTool) ExecuteOnMultiple(servers []domain.Server, command string, timeout time.Duration) []domain.CommandResult {
	results := make([]domain.CommandResult, 0, len(servers))
	for _, server := range servers {
		result, _ := t.Execute(server, command, timeout)
		results = append(results, result)
	}
	return results
}

// ExecuteParallel fans the command out over a bounded worker pool.
// Results come back in input order, one per server regardless of
// individual failures: a panicking or failing unit becomes a Failed
// result, never an aborted batch.
func (t *ExecutionTool) ExecuteParallel(servers []domain.Server, command string, maxWorkers int, timeout time.Duration) []domain.CommandResult {
	if maxWorkers <= 0 {
		maxWorkers = t.cfg.MaxConcurrentServers
	}

	results := make([]domain.CommandResult, len(servers))
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for i, server := range servers {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int, srv domain.Server) {
			defer func() {
				if r := recover(); r != nil {
					results[idx] = domain.CommandResult{
						Status:    domain.StatusFailed,
						Error:     fmt.Sprintf("parallel execution error: %v", r),
						ExitCode:  -1,
						Server:    srv.Hostname,
						Command:   command,
						Timestamp: time.Now(),
						Metadata:  map[string]any{"parallel_execution_error": true},
					}
				}
				<-sem
				wg.Done()
			}()
			results[idx], _ = t.Execute(srv, command, timeout)
		}(i, server)
	}

	wg.Wait()
	return results
}

// Upload copies a local file to the server. Transfers go through the
// same connection path as commands and share its retry behavior.
func (t *ExecutionTool) Upload(server domain.Server, localPath, remotePath string) (domain.CommandResult, error) {
	return t.transfer(server, fmt.Sprintf("upload %s %s", localPath, remotePath), "file_upload",
		func(s sessionTransfer) error { return s.Put(localPath, remotePath) })
}

// Download copies a remote file from the server.
func (t *ExecutionTool) Download(server domain.Server, remotePath, localPath string) (domain.CommandResult, error) {
	return t.transfer(server, fmt.Sprintf("download %s %s", remotePath, localPath), "file_download",
		func(s sessionTransfer) error { return s.Get(remotePath, localPath) })
}

type sessionTransfer interface {
	Put(localPath, remotePath string) error
	Get(remotePath, localPath string) error
}

func (t *ExecutionTool) transfer(server domain.Server, pseudoCommand, operation string, op func(sessionTransfer) error) (domain.CommandResult, error) {
	start := time.Now()
	sessCfg := server.SessionConfig(t.cfg.ConnectionTimeout)

	var lastErr error
	for attempt := 1; attempt <= t.cfg.MaxRetries; attempt++ {
		session, err := t.manager.Connect(sessCfg)
		if err != nil {
			lastErr = err
			t.backoff(attempt)
			continue
		}
		if err := op(session); err != nil {
			lastErr = err
			t.logger.Warnw("transfer attempt failed",
				"server", server.Hostname, "operation", operation, "attempt", attempt, "error", err)
			t.backoff(attempt)
			continue
		}

		result := t.finishResult(start, server.Hostname, pseudoCommand, domain.CommandResult{
			Status:   domain.StatusSuccess,
			Output:   fmt.Sprintf("%s completed", operation),
			Metadata: map[string]any{"operation": operation},
		})
		t.record(result)
		return result, nil
	}

	result := t.finishResult(start, server.Hostname, pseudoCommand, domain.CommandResult{
		Status:   domain.StatusFailed,
		Error:    fmt.Sprintf("%s failed: %v", operation, lastErr),
		ExitCode: -1,
		Metadata: map[string]any{"operation": operation},
	})
	t.record(result)
	return result, fmt.Errorf("%w: %v", domain.ErrRetriesExhausted, lastErr)
}

// systemInfoCommands is the fixed read-only battery behind
// GatherSystemInfo, keyed by the name each output is stored under.
var systemInfoCommands = map[string]string{
	"hostname":     "hostname",
	"kernel":       "uname -r",
	"memory":       "free -h",
	"disk_usage":   "df -h",
	"load_average": "uptime",
	"uptime":       "uptime",
	"processes":    "ps aux | head -10",
}

// GatherSystemInfo runs the diagnostic battery and assembles the
// outputs into a named map under the result metadata.
func (t *ExecutionTool) GatherSystemInfo(server domain.Server) (domain.CommandResult, map[string]string) {
	start := time.Now()
	info := make(map[string]string, len(systemInfoCommands))

	for key, command := range systemInfoCommands {
		result, err := t.Execute(server, command, 0)
		if err != nil {
			info[key] = fmt.Sprintf("failed to retrieve: %s", result.Error)
			continue
		}
		info[key] = result.Output
	}

	result := t.finishResult(start, server.Hostname, "gather_system_info", domain.CommandResult{
		Status:   domain.StatusSuccess,
		Output:   fmt.Sprintf("system information collected from %s", server.Hostname),
		Metadata: map[string]any{"system_info": info},
	})
	t.record(result)
	return result, info
}

// record appends to the bounded history ring, evicting the oldest
// entries past the cap.
func (t *ExecutionTool) record(result domain.CommandResult) {
	t.historyMu.Lock()
	defer t.historyMu.Unlock()

	t.history = append(t.history, domain.ExecutionRecord{
		Timestamp:    result.Timestamp,
		Server:       result.Server,
		Command:      result.Command,
		Status:       result.Status,
		Duration:     result.Duration,
		OutputLength: len(result.Output),
		HasError:     result.Error != "",
	})
	if len(t.history) > t.cfg.HistorySize {
		t.history = t.history[len(t.history)-t.cfg.HistorySize:]
	}
}

// ExecutionHistory returns a snapshot of up to limit most recent
// records, newest last.
func (t *ExecutionTool) ExecutionHistory(limit int) []domain.ExecutionRecord {
	t.historyMu.Lock()
	defer t.historyMu.Unlock()

	if limit <= 0 || limit > len(t.history) {
		limit = len(t.history)
	}
	out := make([]domain.ExecutionRecord, limit)
	copy(out, t.history[len(t.history)-limit:])
	return out
}

// ServerStatistics aggregates the history for one server.
func (t *ExecutionTool) ServerStatistics(server string) domain.ServerStatistics {
	t.historyMu.Lock()
	defer t.historyMu.Unlock()

	stats := domain.ServerStatistics{Server: server}
	var successes int
	var totalDuration time.Duration
	for _, rec := range t.history {
		if rec.Server != server {
			continue
		}
		stats.TotalExecutions++
		totalDuration += rec.Duration
		if rec.Status == domain.StatusSuccess {
			successes++
		}
		stats.LastExecution = rec.Timestamp
	}
	if stats.TotalExecutions > 0 {
		stats.SuccessRate = float64(successes) / float64(stats.TotalExecutions)
		stats.AverageDuration = totalDuration / time.Duration(stats.TotalExecutions)
	}
	return stats
}

// PoolStats reports the state of the underlying connection pool.
func (t *ExecutionTool) PoolStats() PoolStats {
	return t.manager.Pool().Stats()
}

// Shutdown releases the underlying connection manager.
func (t *ExecutionTool) Shutdown() {
	t.manager.Shutdown()
}
