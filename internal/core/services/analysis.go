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
	"regexp"
	"strconv"
	"strings"

	"github.com/fleetprobe/fleetprobe/internal/core/domain"
)

// Thresholds applied to parsed diagnostic output. Utilization is in
// percent.
const (
	diskCriticalPct   = 90
	diskWarningPct    = 80
	memoryCriticalPct = 90
	memoryWarningPct  = 80
	cpuSaturationPct  = 90.0
	loadPerCPUHigh    = 2.0
)

var unsafePorts = []string{"21", "23", "80", "3389"}

// parseDiskUsage extracts per-filesystem use percentages from `df -h`
// output and returns the highest one seen. It skips pseudo filesystems
// with zero size.
func parseDiskUsage(output string) (maxPct int, mount string) {
	for _, line := range strings.Split(output, "\n")[1:] {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		pctField := fields[4]
		if !strings.HasSuffix(pctField, "%") {
			continue
		}
		pct, err := strconv.Atoi(strings.TrimSuffix(pctField, "%"))
		if err != nil {
			continue
		}
		if pct > maxPct {
			maxPct = pct
			mount = fields[5]
		}
	}
	return maxPct, mount
}

// parseMemoryUsage derives used-vs-total percent from `free -h`
// output. Returns -1 when the Mem: line cannot be parsed.
func parseMemoryUsage(output string) int {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, "Mem:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return -1
		}
		total := parseSize(fields[1])
		used := parseSize(fields[2])
		if total <= 0 {
			return -1
		}
		return int(used * 100 / total)
	}
	return -1
}

// parseSize converts a human-readable size (512M, 4.2Gi, 15Gi, 240Mi)
// to kibibytes. Returns 0 on anything unparseable.
func parseSize(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	multipliers := map[string]float64{
		"B": 1.0 / 1024, "K": 1, "Ki": 1,
		"M": 1024, "Mi": 1024,
		"G": 1024 * 1024, "Gi": 1024 * 1024,
		"T": 1024 * 1024 * 1024, "Ti": 1024 * 1024 * 1024,
	}
	numEnd := len(s)
	for i, c := range s {
		if (c < '0' || c > '9') && c != '.' {
			numEnd = i
			break
		}
	}
	value, err := strconv.ParseFloat(s[:numEnd], 64)
	if err != nil {
		return 0
	}
	suffix := s[numEnd:]
	if suffix == "" {
		return value // assume kibibytes, free's default unit
	}
	mult, ok := multipliers[suffix]
	if !ok {
		return 0
	}
	return value * mult
}

// parseCPUCount reads the processor count from `nproc` output.
// Returns 0 when unparseable.
func parseCPUCount(output string) int {
	fields := strings.Fields(output)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

var loadAvgRe = regexp.MustCompile(`load average[s]?:\s*([0-9.]+)`)

// parseLoadAverage pulls the 1-minute load average out of `uptime`
// output. Returns -1 when absent.
func parseLoadAverage(output string) float64 {
	m := loadAvgRe.FindStringSubmatch(output)
	if m == nil {
		return -1
	}
	load, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return -1
	}
	return load
}

// recentlyRebooted reports whether `uptime` output indicates the host
// has been up for less than a day (minutes or hours, no "day").
func recentlyRebooted(output string) bool {
	if output == "" {
		return false
	}
	if strings.Contains(output, "day") {
		return false
	}
	return strings.Contains(output, "min") || strings.Contains(output, ":")
}

var cpuIdleRe = regexp.MustCompile(`([0-9.]+)\s*(?:%?\s*)id`)

// parseCPUUsage derives total CPU utilization percent from `top -bn1`
// output via the idle figure on the Cpu(s) line. Returns -1 when the
// line is absent.
func parseCPUUsage(output string) float64 {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "Cpu(s)") && !strings.Contains(line, "%Cpu") {
			continue
		}
		m := cpuIdleRe.FindStringSubmatch(line)
		if m == nil {
			return -1
		}
		idle, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return -1
		}
		return 100 - idle
	}
	return -1
}

var listenPortRe = regexp.MustCompile(`:([0-9]+)\s`)

// parseListeningPorts extracts distinct local ports from
// `netstat -tuln` style output.
func parseListeningPorts(output string) []string {
	seen := make(map[string]struct{})
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "LISTEN") && !strings.Contains(line, "udp") {
			continue
		}
		for _, m := range listenPortRe.FindAllStringSubmatch(line, -1) {
			if _, ok := seen[m[1]]; !ok {
				seen[m[1]] = struct{}{}
				ports = append(ports, m[1])
			}
		}
	}
	return ports
}

// analyzeBasic applies the basic-profile rules to collected data.
func analyzeBasic(data map[string]string) []domain.Finding {
	var findings []domain.Finding

	if pct, mount := parseDiskUsage(data["disk_usage"]); pct > diskCriticalPct {
		findings = append(findings, domain.Finding{
			IssueType:   "disk_space_critical",
			Severity:    domain.SeverityHigh,
			Description: fmt.Sprintf("Disk usage on %s is critically high (%d%% > %d%%)", mount, pct, diskCriticalPct),
		})
	} else if pct > diskWarningPct {
		findings = append(findings, domain.Finding{
			IssueType:   "disk_space_warning",
			Severity:    domain.SeverityMedium,
			Description: fmt.Sprintf("Disk usage on %s is high (%d%% > %d%%)", mount, pct, diskWarningPct),
		})
	}

	if recentlyRebooted(data["uptime"]) {
		findings = append(findings, domain.Finding{
			IssueType:   "recent_reboot",
			Severity:    domain.SeverityLow,
			Description: "Server was recently rebooted",
		})
	}

	return findings
}

// analyzePerformance applies the performance-profile rules.
func analyzePerformance(data map[string]string) []domain.Finding {
	findings := analyzeBasic(data)

	if cpu := parseCPUUsage(data["cpu_usage"]); cpu > cpuSaturationPct {
		findings = append(findings, domain.Finding{
			IssueType:   "high_cpu",
			Severity:    domain.SeverityHigh,
			Description: fmt.Sprintf("High CPU usage detected (%.1f%% > %.0f%%)", cpu, cpuSaturationPct),
		})
	}

	if pct := parseMemoryUsage(data["memory_usage"]); pct > memoryCriticalPct {
		findings = append(findings, domain.Finding{
			IssueType:   "high_memory",
			Severity:    domain.SeverityHigh,
			Description: fmt.Sprintf("High memory usage detected (%d%% > %d%%)", pct, memoryCriticalPct),
		})
	} else if pct > memoryWarningPct {
		findings = append(findings, domain.Finding{
			IssueType:   "memory_warning",
			Severity:    domain.SeverityMedium,
			Description: fmt.Sprintf("Elevated memory usage (%d%% > %d%%)", pct, memoryWarningPct),
		})
	}

	if load := parseLoadAverage(data["load_average"]); load >= 0 {
		cpus := parseCPUCount(data["cpu_count"])
		switch {
		case cpus > 0 && load/float64(cpus) >= loadPerCPUHigh:
			findings = append(findings, domain.Finding{
				IssueType:   "high_load",
				Severity:    domain.SeverityHigh,
				Description: fmt.Sprintf("1-minute load average %.2f is %.2f per CPU (threshold %.1f)", load, load/float64(cpus), loadPerCPUHigh),
			})
		case cpus == 0 && load >= loadPerCPUHigh:
			// CPU count unknown; judge the raw load average.
			findings = append(findings, domain.Finding{
				IssueType:   "high_load",
				Severity:    domain.SeverityHigh,
				Description: fmt.Sprintf("1-minute load average %.2f exceeds threshold %.1f", load, loadPerCPUHigh),
			})
		}
	}

	return findings
}

// analyzeSecurity applies the security-profile rules.
func analyzeSecurity(data map[string]string) []domain.Finding {
	var findings []domain.Finding

	open := parseListeningPorts(data["open_ports"])
	for _, unsafe := range unsafePorts {
		for _, port := range open {
			if port == unsafe {
				findings = append(findings, domain.Finding{
					IssueType:   "unsafe_port_open",
					Severity:    domain.SeverityMedium,
					Description: fmt.Sprintf("Potentially unsafe port %s is open", port),
				})
			}
		}
	}

	firewall := strings.ToLower(data["firewall_status"])
	if strings.Contains(firewall, "inactive") || strings.Contains(firewall, "no firewall") {
		findings = append(findings, domain.Finding{
			IssueType:   "firewall_disabled",
			Severity:    domain.SeverityHigh,
			Description: "Firewall appears to be disabled",
		})
	}

	return findings
}
