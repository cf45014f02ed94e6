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
	"testing"

	"github.com/fleetprobe/fleetprobe/internal/core/domain"
)

const dfCritical = `Filesystem      Size  Used Avail Use% Mounted on
/dev/sda1        50G   46G  1.9G  92% /
tmpfs           7.8G     0  7.8G   0% /dev/shm
/dev/sdb1       200G   90G  100G  45% /data`

const dfHealthy = `Filesystem      Size  Used Avail Use% Mounted on
/dev/sda1        50G   30G   18G  64% /
/dev/sdb1       200G  130G   60G  70% /data`

const freeHigh = `              total        used        free      shared  buff/cache   available
Mem:           15Gi        14Gi       256Mi       100Mi       1.0Gi       512Mi
Swap:         2.0Gi       1.5Gi       512Mi`

const freeHealthy = `              total        used        free      shared  buff/cache   available
Mem:           15Gi       4.0Gi        8.0Gi      100Mi       3.0Gi        10Gi
Swap:         2.0Gi          0B       2.0Gi`

const topSaturated = `top - 10:32:01 up 12 days,  3:44,  2 users,  load average: 5.12, 4.80, 4.01
Tasks: 213 total,   4 running, 209 sleeping,   0 stopped,   0 zombie
%Cpu(s): 92.1 us,  4.2 sy,  0.0 ni,  2.5 id,  0.8 wa,  0.0 hi,  0.4 si,  0.0 st`

const netstatExposed = `Active Internet connections (only servers)
Proto Recv-Q Send-Q Local Address           Foreign Address         State
tcp        0      0 0.0.0.0:22              0.0.0.0:*               LISTEN
tcp        0      0 0.0.0.0:23              0.0.0.0:*               LISTEN
tcp        0      0 127.0.0.1:5432          0.0.0.0:*               LISTEN
udp        0      0 0.0.0.0:123             0.0.0.0:* `

func TestParseDiskUsage(t *testing.T) {
	pct, mount := parseDiskUsage(dfCritical)
	if pct != 92 || mount != "/" {
		t.Fatalf("got %d%% on %q, want 92%% on /", pct, mount)
	}

	pct, _ = parseDiskUsage(dfHealthy)
	if pct != 70 {
		t.Fatalf("got %d%%, want 70%%", pct)
	}

	if pct, _ := parseDiskUsage("garbage output"); pct != 0 {
		t.Fatalf("garbage parsed to %d%%", pct)
	}
}

func TestParseMemoryUsage(t *testing.T) {
	if pct := parseMemoryUsage(freeHigh); pct < 90 {
		t.Fatalf("got %d%%, want >= 90%%", pct)
	}
	if pct := parseMemoryUsage(freeHealthy); pct < 20 || pct > 35 {
		t.Fatalf("got %d%%, want roughly 26%%", pct)
	}
	if pct := parseMemoryUsage("no mem line here"); pct != -1 {
		t.Fatalf("got %d, want -1", pct)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"512M", 512 * 1024},
		{"4.0Gi", 4 * 1024 * 1024},
		{"1024", 1024},
		{"0B", 0},
		{"bogus", 0},
	}
	for _, tc := range tests {
		if got := parseSize(tc.in); got != tc.want {
			t.Fatalf("parseSize(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseLoadAverage(t *testing.T) {
	out := " 10:32:01 up 12 days,  3:44,  2 users,  load average: 5.12, 4.80, 4.01"
	if load := parseLoadAverage(out); load != 5.12 {
		t.Fatalf("load = %v, want 5.12", load)
	}
	if load := parseLoadAverage("load averages: 0.52 0.41 0.30"); load != 0.52 {
		t.Fatalf("load = %v, want 0.52", load)
	}
	if load := parseLoadAverage("nothing useful"); load != -1 {
		t.Fatalf("load = %v, want -1", load)
	}
}

func TestRecentlyRebooted(t *testing.T) {
	if !recentlyRebooted(" 10:32:01 up 23 min,  1 user,  load average: 0.10, 0.08, 0.05") {
		t.Fatal("23 minutes of uptime should count as recently rebooted")
	}
	if recentlyRebooted(" 10:32:01 up 12 days,  3:44,  2 users,  load average: 0.10, 0.08, 0.05") {
		t.Fatal("12 days of uptime is not a recent reboot")
	}
	if recentlyRebooted("") {
		t.Fatal("empty output must not report a reboot")
	}
}

func TestParseCPUCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"16", 16},
		{"8\n", 8},
		{"failed to execute: no such command", 0},
		{"", 0},
		{"-2", 0},
	}
	for _, tc := range tests {
		if got := parseCPUCount(tc.in); got != tc.want {
			t.Fatalf("parseCPUCount(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseCPUUsage(t *testing.T) {
	if cpu := parseCPUUsage(topSaturated); cpu < 97.4 || cpu > 97.6 {
		t.Fatalf("cpu = %v, want 97.5", cpu)
	}
	if cpu := parseCPUUsage("no cpu line"); cpu != -1 {
		t.Fatalf("cpu = %v, want -1", cpu)
	}
}

func TestParseListeningPorts(t *testing.T) {
	ports := parseListeningPorts(netstatExposed)
	want := map[string]bool{"22": true, "23": true, "5432": true, "123": true}
	for _, p := range ports {
		if !want[p] {
			t.Fatalf("unexpected port %s in %v", p, ports)
		}
		delete(want, p)
	}
	if len(want) != 0 {
		t.Fatalf("missing ports %v, got %v", want, ports)
	}
}

func findingTypes(findings []domain.Finding) map[string]domain.Severity {
	out := make(map[string]domain.Severity, len(findings))
	for _, f := range findings {
		out[f.IssueType] = f.Severity
	}
	return out
}

func TestAnalyzeBasic(t *testing.T) {
	findings := findingTypes(analyzeBasic(map[string]string{
		"disk_usage": dfCritical,
		"uptime":     " 10:32:01 up 14 min,  1 user,  load average: 0.10, 0.08, 0.05",
	}))
	if findings["disk_space_critical"] != domain.SeverityHigh {
		t.Fatalf("findings = %v, want disk_space_critical high", findings)
	}
	if findings["recent_reboot"] != domain.SeverityLow {
		t.Fatalf("findings = %v, want recent_reboot low", findings)
	}

	// 85% sits between the warning and critical thresholds.
	warning := `Filesystem Size Used Avail Use% Mounted on
/dev/sda1 50G 42G 7.0G 85% /`
	findings = findingTypes(analyzeBasic(map[string]string{"disk_usage": warning}))
	if findings["disk_space_warning"] != domain.SeverityMedium {
		t.Fatalf("findings = %v, want disk_space_warning medium", findings)
	}
	if _, ok := findings["disk_space_critical"]; ok {
		t.Fatal("85% must not be critical")
	}

	findings = findingTypes(analyzeBasic(map[string]string{
		"disk_usage": dfHealthy,
		"uptime":     " 10:32:01 up 12 days,  3:44,  2 users,  load average: 0.10, 0.08, 0.05",
	}))
	if len(findings) != 0 {
		t.Fatalf("healthy data produced findings: %v", findings)
	}
}

func TestAnalyzePerformance(t *testing.T) {
	findings := findingTypes(analyzePerformance(map[string]string{
		"disk_usage":   dfHealthy,
		"uptime":       " 10:32:01 up 12 days,  3:44,  2 users,  load average: 5.12, 4.80, 4.01",
		"cpu_usage":    topSaturated,
		"memory_usage": freeHigh,
		"load_average": " 10:32:01 up 12 days,  3:44,  2 users,  load average: 5.12, 4.80, 4.01",
	}))
	for _, issue := range []string{"high_cpu", "high_memory", "high_load"} {
		if findings[issue] != domain.SeverityHigh {
			t.Fatalf("findings = %v, want %s high", findings, issue)
		}
	}

	findings = findingTypes(analyzePerformance(map[string]string{
		"disk_usage":   dfHealthy,
		"memory_usage": freeHealthy,
		"load_average": "load average: 0.52, 0.41, 0.30",
	}))
	if len(findings) != 0 {
		t.Fatalf("healthy data produced findings: %v", findings)
	}
}

func TestAnalyzePerformanceLoadPerCPU(t *testing.T) {
	// Load 3.5 is healthy on 16 CPUs.
	findings := findingTypes(analyzePerformance(map[string]string{
		"load_average": "load average: 3.50, 3.20, 3.00",
		"cpu_count":    "16\n",
	}))
	if _, ok := findings["high_load"]; ok {
		t.Fatalf("load 3.5 on 16 CPUs flagged: %v", findings)
	}

	// The same load saturates a 1-CPU host.
	findings = findingTypes(analyzePerformance(map[string]string{
		"load_average": "load average: 3.50, 3.20, 3.00",
		"cpu_count":    "1",
	}))
	if findings["high_load"] != domain.SeverityHigh {
		t.Fatalf("load 3.5 on 1 CPU not flagged: %v", findings)
	}

	// Unknown CPU count falls back to judging the raw average.
	findings = findingTypes(analyzePerformance(map[string]string{
		"load_average": "load average: 3.50, 3.20, 3.00",
		"cpu_count":    "failed to execute: nope",
	}))
	if findings["high_load"] != domain.SeverityHigh {
		t.Fatalf("raw fallback not applied: %v", findings)
	}
	findings = findingTypes(analyzePerformance(map[string]string{
		"load_average": "load average: 1.20, 1.10, 1.00",
	}))
	if _, ok := findings["high_load"]; ok {
		t.Fatalf("load 1.2 with no CPU count flagged: %v", findings)
	}
}

func TestAnalyzeSecurity(t *testing.T) {
	findings := findingTypes(analyzeSecurity(map[string]string{
		"open_ports":      netstatExposed,
		"firewall_status": "Status: inactive",
	}))
	if findings["unsafe_port_open"] != domain.SeverityMedium {
		t.Fatalf("findings = %v, want unsafe_port_open medium", findings)
	}
	if findings["firewall_disabled"] != domain.SeverityHigh {
		t.Fatalf("findings = %v, want firewall_disabled high", findings)
	}

	findings = findingTypes(analyzeSecurity(map[string]string{
		"open_ports":      "tcp 0 0 0.0.0.0:22 0.0.0.0:* LISTEN",
		"firewall_status": "Status: active",
	}))
	if len(findings) != 0 {
		t.Fatalf("hardened data produced findings: %v", findings)
	}
}
