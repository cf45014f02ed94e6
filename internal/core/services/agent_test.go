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
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/fleetprobe/fleetprobe/internal/adapters/transport"
	"github.com/fleetprobe/fleetprobe/internal/core/domain"
)

func newTestAgent(t *testing.T, cfg domain.Config) (*InvestigationAgent, *simFleet) {
	t.Helper()
	tool, fleet := newTestTool(t, cfg)
	agent := NewInvestigationAgent(zaptest.NewLogger(t).Sugar(), cfg, tool)
	return agent, fleet
}

func hasFinding(findings []domain.Finding, issueType string) bool {
	for _, f := range findings {
		if f.IssueType == issueType {
			return true
		}
	}
	return false
}

func TestInvestigateServerBasicCriticalDisk(t *testing.T) {
	cfg := testConfig()
	agent, fleet := newTestAgent(t, cfg)

	server := testServer("web-01")
	sim := fleet.session(server.SessionConfig(cfg.ConnectionTimeout))
	sim.Script("df -h", transport.SimResult{Stdout: dfCritical})

	inv := agent.InvestigateServer(server, domain.ProfileBasic)
	if inv.Status != domain.InvestigationCompleted {
		t.Fatalf("status = %s, want completed", inv.Status)
	}
	if inv.ID == "" || inv.Server != "web-01" {
		t.Fatalf("identity wrong: %+v", inv)
	}
	if !hasFinding(inv.Findings, "disk_space_critical") {
		t.Fatalf("findings = %+v, want disk_space_critical", inv.Findings)
	}
	if len(inv.Recommendations) == 0 {
		t.Fatal("findings must bring recommendations")
	}

	data, ok := inv.CollectedData["basic"]
	if !ok {
		t.Fatalf("collected data missing basic section: %v", inv.CollectedData)
	}
	for _, key := range []string{"hostname", "disk_usage", "uptime", "syslog_tail", "journal_tail"} {
		if _, ok := data[key]; !ok {
			t.Fatalf("basic battery missing %q: %v", key, data)
		}
	}
}

func TestInvestigateServerHealthyHasNoFindings(t *testing.T) {
	agent, _ := newTestAgent(t, testConfig())

	inv := agent.InvestigateServer(testServer("web-01"), domain.ProfilePerformance)
	if inv.Status != domain.InvestigationCompleted {
		t.Fatalf("status = %s, want completed", inv.Status)
	}
	if len(inv.Findings) != 0 {
		t.Fatalf("healthy server produced findings: %+v", inv.Findings)
	}
	if len(inv.Recommendations) != 0 {
		t.Fatal("no findings means no recommendations")
	}
}

func TestInvestigateServerSecurityProfile(t *testing.T) {
	cfg := testConfig()
	agent, fleet := newTestAgent(t, cfg)

	server := testServer("edge-01")
	sim := fleet.session(server.SessionConfig(cfg.ConnectionTimeout))
	sim.Script("netstat -tuln", transport.SimResult{Stdout: netstatExposed})
	sim.Script("iptables -L 2>/dev/null || ufw status 2>/dev/null || echo 'No firewall info'",
		transport.SimResult{Stdout: "Status: inactive"})

	inv := agent.InvestigateServer(server, domain.ProfileSecurity)
	if inv.Status != domain.InvestigationCompleted {
		t.Fatalf("status = %s, want completed", inv.Status)
	}
	if !hasFinding(inv.Findings, "unsafe_port_open") {
		t.Fatalf("findings = %+v, want unsafe_port_open", inv.Findings)
	}
	if !hasFinding(inv.Findings, "firewall_disabled") {
		t.Fatalf("findings = %+v, want firewall_disabled", inv.Findings)
	}
	if len(inv.FindingsWithSeverity(domain.SeverityHigh)) == 0 {
		t.Fatal("firewall_disabled should rank high")
	}
}

func TestInvestigateServerUnreachableFails(t *testing.T) {
	cfg := testConfig()
	agent, fleet := newTestAgent(t, cfg)

	server := testServer("down-01")
	fleet.session(server.SessionConfig(cfg.ConnectionTimeout)).
		FailConnects(1000, domain.NewConnectionError(domain.ConnTransport, "down-01", nil))

	inv := agent.InvestigateServer(server, domain.ProfileBasic)
	if inv.Status != domain.InvestigationFailed {
		t.Fatalf("status = %s, want failed", inv.Status)
	}
	if !hasFinding(inv.Findings, "investigation_error") {
		t.Fatalf("findings = %+v, want investigation_error", inv.Findings)
	}

	history := agent.InvestigationHistory(0)
	if len(history) != 1 || history[0].Status != domain.InvestigationFailed {
		t.Fatalf("history = %+v, want the failed investigation", history)
	}
}

func TestInvestigateServerUnknownProfile(t *testing.T) {
	agent, _ := newTestAgent(t, testConfig())

	inv := agent.InvestigateServer(testServer("web-01"), domain.InvestigationProfile("forensics"))
	if inv.Status != domain.InvestigationFailed {
		t.Fatalf("status = %s, want failed", inv.Status)
	}
	if !hasFinding(inv.Findings, "investigation_error") {
		t.Fatalf("findings = %+v", inv.Findings)
	}
}

func TestInvestigateMultipleIsolatesFailures(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentServers = 2
	agent, fleet := newTestAgent(t, cfg)

	servers := []domain.Server{testServer("web-01"), testServer("down-01"), testServer("web-02")}
	fleet.session(servers[1].SessionConfig(cfg.ConnectionTimeout)).
		FailConnects(1000, domain.NewConnectionError(domain.ConnTransport, "down-01", nil))

	results := agent.InvestigateMultiple(servers, domain.ProfileBasic, 0)
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for i, inv := range results {
		if inv.Server != servers[i].Hostname {
			t.Fatalf("result %d attributed to %s, want %s", i, inv.Server, servers[i].Hostname)
		}
	}
	if results[0].Status != domain.InvestigationCompleted || results[2].Status != domain.InvestigationCompleted {
		t.Fatalf("healthy servers should complete: %v %v", results[0].Status, results[2].Status)
	}
	if results[1].Status != domain.InvestigationFailed {
		t.Fatalf("unreachable server should fail: %v", results[1].Status)
	}
}

func TestAutoRemediate(t *testing.T) {
	agent, _ := newTestAgent(t, testConfig())
	server := testServer("web-01")

	res := agent.AutoRemediate(server, domain.Issue{Type: "disk_space_critical", AutoFixable: false})
	if res.Status != "skipped" || res.Reason == "" {
		t.Fatalf("non-fixable issue: %+v", res)
	}

	res = agent.AutoRemediate(server, domain.Issue{Type: "high_memory", AutoFixable: true})
	if res.Status != "skipped" {
		t.Fatalf("issue without fix commands: %+v", res)
	}

	res = agent.AutoRemediate(server, domain.Issue{
		Type:        "stale_service",
		AutoFixable: true,
		FixCommands: []string{"systemctl restart nginx", "systemctl status nginx"},
	})
	if res.Status != "success" {
		t.Fatalf("remediation = %+v, want success", res)
	}
	if len(res.AppliedFixes) != 2 {
		t.Fatalf("applied fixes = %d, want 2", len(res.AppliedFixes))
	}
	for _, fix := range res.AppliedFixes {
		if fix.Status != "success" {
			t.Fatalf("fix %+v should succeed", fix)
		}
	}

	// A fix that trips the safety filter fails that step only.
	res = agent.AutoRemediate(server, domain.Issue{
		Type:        "disk_space_critical",
		AutoFixable: true,
		FixCommands: []string{"journalctl --vacuum-size=100M", "rm -rf /var/cache/*"},
	})
	if res.Status != "partial" {
		t.Fatalf("remediation = %+v, want partial", res)
	}
	if res.AppliedFixes[0].Status != "success" || res.AppliedFixes[1].Status != "failed" {
		t.Fatalf("fix statuses wrong: %+v", res.AppliedFixes)
	}
}

func TestServerGroupRegistry(t *testing.T) {
	agent, _ := newTestAgent(t, testConfig())

	web := domain.ServerGroup{
		Name:    "web",
		Servers: []domain.Server{testServer("web-01"), testServer("web-02")},
		Tags:    []string{"frontend", "production"},
	}
	db := domain.ServerGroup{
		Name:    "db",
		Servers: []domain.Server{testServer("db-01"), testServer("web-02")},
		Tags:    []string{"production"},
	}
	agent.AddServerGroup(web)
	agent.AddServerGroup(db)

	if got, ok := agent.ServerGroup("web"); !ok || len(got.Servers) != 2 {
		t.Fatalf("lookup failed: %+v %v", got, ok)
	}
	if _, ok := agent.ServerGroup("cache"); ok {
		t.Fatal("unknown group must not resolve")
	}
	if len(agent.Groups()) != 2 {
		t.Fatalf("groups = %d, want 2", len(agent.Groups()))
	}
	if got := agent.GroupsByTag("frontend"); len(got) != 1 || got[0].Name != "web" {
		t.Fatalf("by tag frontend: %+v", got)
	}
	if got := agent.GroupsByTag("production"); len(got) != 2 {
		t.Fatalf("by tag production: %+v", got)
	}
	// web-02 belongs to both groups.
	if got := agent.GroupsContaining("web-02"); len(got) != 2 {
		t.Fatalf("containing web-02: %+v", got)
	}

	results, err := agent.ExecuteOnGroup("web", "uptime", 0)
	if err != nil {
		t.Fatalf("execute on group: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if _, err := agent.ExecuteOnGroup("cache", "uptime", 0); err == nil {
		t.Fatal("unknown group must error")
	}
	if _, err := agent.InvestigateGroup("cache", domain.ProfileBasic, 0); err == nil {
		t.Fatal("unknown group must error")
	}
}

func TestInvestigationHistoryLimit(t *testing.T) {
	cfg := testConfig()
	cfg.HistorySize = 2
	agent, _ := newTestAgent(t, cfg)

	for i := 0; i < 3; i++ {
		agent.InvestigateServer(testServer(fmt.Sprintf("web-%02d", i)), domain.ProfileBasic)
	}

	history := agent.InvestigationHistory(0)
	if len(history) != 2 {
		t.Fatalf("history = %d, want the cap of 2", len(history))
	}
	if history[0].Server != "web-01" || history[1].Server != "web-02" {
		t.Fatalf("ring kept wrong window: %s %s", history[0].Server, history[1].Server)
	}
	if got := agent.InvestigationHistory(1); len(got) != 1 || got[0].Server != "web-02" {
		t.Fatalf("limited history wrong: %+v", got)
	}
}

func TestGenerateInvestigationReport(t *testing.T) {
	cfg := testConfig()
	agent, fleet := newTestAgent(t, cfg)

	server := testServer("web-01")
	sim := fleet.session(server.SessionConfig(cfg.ConnectionTimeout))
	sim.Script("df -h", transport.SimResult{Stdout: dfCritical})

	inv := agent.InvestigateServer(server, domain.ProfileBasic)
	report := agent.GenerateInvestigationReport(inv)

	meta, ok := report["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("metadata missing: %v", report)
	}
	if meta["server"] != "web-01" || meta["profile"] != "basic" || meta["status"] != "completed" {
		t.Fatalf("metadata = %v", meta)
	}
	if meta["id"] != inv.ID {
		t.Fatalf("id = %v, want %s", meta["id"], inv.ID)
	}

	summary, _ := report["executive_summary"].(string)
	if !strings.Contains(summary, "Investigation completed for web-01.") {
		t.Fatalf("summary = %q", summary)
	}
	if !strings.Contains(summary, "Critical issues found: 1") {
		t.Fatalf("summary = %q, want one critical issue", summary)
	}
	if !strings.Contains(summary, "Recommendations provided:") {
		t.Fatalf("summary = %q, want recommendation count", summary)
	}

	overview, ok := report["system_overview"].(map[string]string)
	if !ok || overview["hostname"] == "" {
		t.Fatalf("system overview = %v", report["system_overview"])
	}

	findings, ok := report["findings_and_issues"].([]map[string]any)
	if !ok || len(findings) != 1 {
		t.Fatalf("findings = %v", report["findings_and_issues"])
	}
	if findings[0]["issue_type"] != "disk_space_critical" || findings[0]["severity"] != "high" {
		t.Fatalf("finding = %v", findings[0])
	}
	if recs, ok := report["recommendations"].([]string); !ok || len(recs) == 0 {
		t.Fatalf("recommendations = %v", report["recommendations"])
	}
	if _, ok := report["technical_details"].(map[string]map[string]string); !ok {
		t.Fatalf("technical details = %v", report["technical_details"])
	}
}
