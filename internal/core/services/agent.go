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

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetprobe/fleetprobe/internal/core/domain"
)

// InvestigationAgent turns raw command batteries into severity-ranked
// diagnoses. It owns the server group registry and a bounded history
// of past investigations. Investigations never raise past this
// boundary: any failure becomes a failed result with a synthetic
// finding.
type InvestigationAgent struct {
	logger *zap.SugaredLogger
	cfg    domain.Config
	tool   *ExecutionTool

	groupsMu sync.Mutex
	groups   map[string]domain.ServerGroup

	historyMu sync.Mutex
	history   []domain.InvestigationResult
}

// NewInvestigationAgent builds an agent on top of an execution tool.
func NewInvestigationAgent(logger *zap.SugaredLogger, cfg domain.Config, tool *ExecutionTool) *InvestigationAgent {
	return &InvestigationAgent{
		logger: logger,
		cfg:    cfg,
		tool:   tool,
		groups: make(map[string]domain.ServerGroup),
	}
}

// AddServerGroup registers (or replaces) a named group.
func (a *InvestigationAgent) AddServerGroup(group domain.ServerGroup) {
	a.groupsMu.Lock()
	a.groups[group.Name] = group
	a.groupsMu.Unlock()
	a.logger.Infow("server group registered", "group", group.Name, "servers", len(group.Servers))
}

// ServerGroup returns the named group and whether it exists.
func (a *InvestigationAgent) ServerGroup(name string) (domain.ServerGroup, bool) {
	a.groupsMu.Lock()
	defer a.groupsMu.Unlock()
	group, ok := a.groups[name]
	return group, ok
}

// Groups returns a snapshot of every registered group.
func (a *InvestigationAgent) Groups() []domain.ServerGroup {
	a.groupsMu.Lock()
	defer a.groupsMu.Unlock()
	out := make([]domain.ServerGroup, 0, len(a.groups))
	for _, g := range a.groups {
		out = append(out, g)
	}
	return out
}

// GroupsByTag returns the groups carrying the given tag.
func (a *InvestigationAgent) GroupsByTag(tag string) []domain.ServerGroup {
	a.groupsMu.Lock()
	defer a.groupsMu.Unlock()
	var out []domain.ServerGroup
	for _, g := range a.groups {
		if g.HasTag(tag) {
			out = append(out, g)
		}
	}
	return out
}

// GroupsContaining returns the groups that include a server with the
// given hostname. Membership in multiple groups is allowed.
func (a *InvestigationAgent) GroupsContaining(hostname string) []domain.ServerGroup {
	a.groupsMu.Lock()
	defer a.groupsMu.Unlock()
	var out []domain.ServerGroup
	for _, g := range a.groups {
		if g.Contains(hostname) {
			out = append(out, g)
		}
	}
	return out
}

// ExecuteOnGroup runs a command against every server in the named
// group, sequentially.
func (a *InvestigationAgent) ExecuteOnGroup(groupName, command string, timeout time.Duration) ([]domain.CommandResult, error) {
	group, ok := a.ServerGroup(groupName)
	if !ok {
		return nil, fmt.Errorf("server group %q not found", groupName)
	}
	return a.tool.ExecuteOnMultiple(group.Servers, command, timeout), nil
}

// batteries per profile: name -> command, run in no particular order.
var (
	basicLogCommands = map[string]string{
		"syslog_tail":  "tail -n 50 /var/log/syslog",
		"journal_tail": "journalctl -n 50 --no-pager",
	}
	performanceCommands = map[string]string{
		"cpu_usage":     "top -bn1 | head -20",
		"cpu_count":     "nproc",
		"memory_usage":  "free -h",
		"disk_io":       "iostat -x 1 3",
		"network_stats": "netstat -i",
		"process_list":  "ps aux --sort=-%cpu | head -10",
		"load_average":  "uptime",
		"uptime":        "uptime",
		"disk_usage":    "df -h",
	}
	securityCommands = map[string]string{
		"recent_logins":        "last -n 20",
		"open_ports":           "netstat -tuln",
		"running_services":     "ps aux | grep -E '(ssh|httpd|nginx|apache)'",
		"world_readable_files": "find /etc -name '*.conf' -perm -004 2>/dev/null | head -10",
		"firewall_status":      "iptables -L 2>/dev/null || ufw status 2>/dev/null || echo 'No firewall info'",
	}
)

// InvestigateServer runs the profile's command battery against one
// server, stores the raw output, and derives findings via the
// threshold rules. A failure anywhere marks the investigation failed
// with a synthetic high-severity finding; it never propagates.
func (a *InvestigationAgent) InvestigateServer(server domain.Server, profile domain.InvestigationProfile) domain.InvestigationResult {
	investigation := domain.InvestigationResult{
		ID:            uuid.NewString(),
		Server:        server.Hostname,
		Profile:       profile,
		Status:        domain.InvestigationRunning,
		StartTime:     time.Now(),
		CollectedData: make(map[string]map[string]string),
	}

	err := a.runProfile(server, profile, &investigation)

	investigation.EndTime = time.Now()
	investigation.Duration = investigation.EndTime.Sub(investigation.StartTime)

	if err != nil {
		investigation.Status = domain.InvestigationFailed
		investigation.Findings = append(investigation.Findings, domain.Finding{
			IssueType:   "investigation_error",
			Severity:    domain.SeverityHigh,
			Description: fmt.Sprintf("Investigation failed: %v", err),
		})
		a.logger.Errorw("investigation failed", "server", server.Hostname, "profile", profile, "error", err)
	} else {
		investigation.Status = domain.InvestigationCompleted
	}

	a.recordInvestigation(investigation)
	return investigation
}

func (a *InvestigationAgent) runProfile(server domain.Server, profile domain.InvestigationProfile, inv *domain.InvestigationResult) error {
	var (
		data    map[string]string
		err     error
		analyze func(map[string]string) []domain.Finding
	)
	switch profile {
	case domain.ProfileBasic:
		commands := make(map[string]string, len(systemInfoCommands)+len(basicLogCommands))
		for k, v := range systemInfoCommands {
			commands[k] = v
		}
		for k, v := range basicLogCommands {
			commands[k] = v
		}
		data, err = a.runBattery(server, commands)
		analyze = analyzeBasic
	case domain.ProfilePerformance:
		data, err = a.runBattery(server, performanceCommands)
		analyze = analyzePerformance
	case domain.ProfileSecurity:
		data, err = a.runBattery(server, securityCommands)
		analyze = analyzeSecurity
	default:
		return fmt.Errorf("unknown investigation profile %q", profile)
	}

	inv.CollectedData[string(profile)] = data
	if err != nil {
		return err
	}

	inv.Findings = append(inv.Findings, analyze(data)...)
	if len(inv.Findings) > 0 {
		inv.Recommendations = append(inv.Recommendations, recommendationsFor(profile)...)
	}
	return nil
}

// runBattery executes each command and keeps whatever came back.
// Individual failures are recorded inline; only a battery where every
// command failed (typically an unreachable host) is an error.
func (a *InvestigationAgent) runBattery(server domain.Server, commands map[string]string) (map[string]string, error) {
	data := make(map[string]string, len(commands))
	succeeded := 0
	var lastErr error
	for key, command := range commands {
		result, err := a.tool.Execute(server, command, 0)
		if err != nil {
			lastErr = err
			data[key] = fmt.Sprintf("failed to execute: %s", result.Error)
			continue
		}
		succeeded++
		data[key] = result.Output
	}
	if succeeded == 0 && len(commands) > 0 {
		return data, fmt.Errorf("every battery command failed against %s: %w", server.Hostname, lastErr)
	}
	return data, nil
}

func recommendationsFor(profile domain.InvestigationProfile) []string {
	switch profile {
	case domain.ProfileBasic:
		return []string{
			"Monitor disk usage regularly",
			"Check system logs for errors",
			"Verify all services are running correctly",
		}
	case domain.ProfilePerformance:
		return []string{
			"Identify high resource consuming processes",
			"Consider upgrading hardware resources",
			"Optimize application performance",
		}
	case domain.ProfileSecurity:
		return []string{
			"Review and secure open ports",
			"Enable and configure firewall",
			"Schedule regular security audits",
		}
	default:
		return nil
	}
}

// InvestigateGroup fans an investigation out over the named group.
func (a *InvestigationAgent) InvestigateGroup(groupName string, profile domain.InvestigationProfile, maxWorkers int) ([]domain.InvestigationResult, error) {
	group, ok := a.ServerGroup(groupName)
	if !ok {
		return nil, fmt.Errorf("server group %q not found", groupName)
	}
	return a.InvestigateMultiple(group.Servers, profile, maxWorkers), nil
}

// InvestigateMultiple investigates servers concurrently over a bounded
// worker pool. Results are keyed to input order, one per server; a
// panicking unit becomes a failed result for that server only.
func (a *InvestigationAgent) InvestigateMultiple(servers []domain.Server, profile domain.InvestigationProfile, maxWorkers int) []domain.InvestigationResult {
	if maxWorkers <= 0 {
		maxWorkers = a.cfg.MaxConcurrentServers
	}
	if maxWorkers > len(servers) && len(servers) > 0 {
		maxWorkers = len(servers)
	}

	results := make([]domain.InvestigationResult, len(servers))
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for i, server := range servers {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int, srv domain.Server) {
			defer func() {
				if r := recover(); r != nil {
					now := time.Now()
					results[idx] = domain.InvestigationResult{
						ID:        uuid.NewString(),
						Server:    srv.Hostname,
						Profile:   profile,
						Status:    domain.InvestigationFailed,
						StartTime: now,
						EndTime:   now,
						Findings: []domain.Finding{{
							IssueType:   "investigation_error",
							Severity:    domain.SeverityHigh,
							Description: fmt.Sprintf("Investigation failed: %v", r),
						}},
					}
					a.logger.Errorw("investigation panicked", "server", srv.Hostname, "panic", r)
				}
				<-sem
				wg.Done()
			}()
			results[idx] = a.InvestigateServer(srv, profile)
		}(i, server)
	}

	wg.Wait()
	return results
}

// AutoRemediate applies an issue's fix commands through the execution
// tool, inheriting its safety filtering. It only acts on issues
// explicitly marked fixable.
func (a *InvestigationAgent) AutoRemediate(server domain.Server, issue domain.Issue) domain.RemediationResult {
	result := domain.RemediationResult{
		IssueType: issue.Type,
		Timestamp: time.Now(),
	}

	if !issue.AutoFixable {
		result.Status = "skipped"
		result.Reason = "issue is not auto-fixable"
		return result
	}
	if len(issue.FixCommands) == 0 {
		result.Status = "skipped"
		result.Reason = "no fix commands available"
		return result
	}

	allSucceeded := true
	for _, command := range issue.FixCommands {
		cmdResult, err := a.tool.Execute(server, command, 0)
		fix := domain.FixResult{
			Command: command,
			Output:  cmdResult.Output,
			Error:   cmdResult.Error,
		}
		if err == nil {
			fix.Status = "success"
		} else {
			fix.Status = "failed"
			allSucceeded = false
		}
		result.AppliedFixes = append(result.AppliedFixes, fix)
	}

	if allSucceeded {
		result.Status = "success"
	} else {
		result.Status = "partial"
	}
	return result
}

// recordInvestigation appends to the bounded history, evicting the
// oldest past the cap.
func (a *InvestigationAgent) recordInvestigation(inv domain.InvestigationResult) {
	a.historyMu.Lock()
	defer a.historyMu.Unlock()

	a.history = append(a.history, inv)
	if len(a.history) > a.cfg.HistorySize {
		a.history = a.history[len(a.history)-a.cfg.HistorySize:]
	}
}

// InvestigationHistory returns up to limit most recent investigations,
// newest last.
func (a *InvestigationAgent) InvestigationHistory(limit int) []domain.InvestigationResult {
	a.historyMu.Lock()
	defer a.historyMu.Unlock()

	if limit <= 0 || limit > len(a.history) {
		limit = len(a.history)
	}
	out := make([]domain.InvestigationResult, limit)
	copy(out, a.history[len(a.history)-limit:])
	return out
}
