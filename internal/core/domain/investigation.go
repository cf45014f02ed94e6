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

package domain

import "time"

// InvestigationProfile selects which command battery an investigation
// runs and which analysis rules apply to the collected data.
type InvestigationProfile string

const (
	ProfileBasic       InvestigationProfile = "basic"
	ProfilePerformance InvestigationProfile = "performance"
	ProfileSecurity    InvestigationProfile = "security"
)

// InvestigationStatus tracks the investigation state machine:
// pending -> running -> {completed, failed}.
type InvestigationStatus string

const (
	InvestigationPending   InvestigationStatus = "pending"
	InvestigationRunning   InvestigationStatus = "running"
	InvestigationCompleted InvestigationStatus = "completed"
	InvestigationFailed    InvestigationStatus = "failed"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Finding is one typed, severity-ranked observation derived from
// collected diagnostic data.
type Finding struct {
	IssueType   string   `json:"issue_type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// Issue describes a flagged problem handed to auto-remediation.
// Remediation only acts when AutoFixable is set and FixCommands is
// non-empty.
type Issue struct {
	Type        string   `json:"type"`
	AutoFixable bool     `json:"auto_fixable"`
	FixCommands []string `json:"fix_commands,omitempty"`
}

// FixResult reports the outcome of one remediation command.
type FixResult struct {
	Command string `json:"command"`
	Status  string `json:"status"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RemediationResult aggregates the fixes applied for one issue.
// Status is "success" only when every fix command succeeded,
// "partial" otherwise, and "skipped" when nothing was attempted.
type RemediationResult struct {
	Status       string      `json:"status"`
	Reason       string      `json:"reason,omitempty"`
	IssueType    string      `json:"issue_type,omitempty"`
	AppliedFixes []FixResult `json:"applied_fixes,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// InvestigationResult is the full record of one diagnostic sweep
// against one server. CollectedData is namespaced by profile, e.g.
// collected_data["performance"]["disk_usage"].
type InvestigationResult struct {
	ID              string                       `json:"id"`
	Server          string                       `json:"server"`
	Profile         InvestigationProfile         `json:"profile"`
	Status          InvestigationStatus          `json:"status"`
	StartTime       time.Time                    `json:"start_time"`
	EndTime         time.Time                    `json:"end_time,omitzero"`
	Duration        time.Duration                `json:"duration"`
	CollectedData   map[string]map[string]string `json:"collected_data,omitempty"`
	Findings        []Finding                    `json:"findings,omitempty"`
	Recommendations []string                     `json:"recommendations,omitempty"`
}

// FindingsWithSeverity filters the findings by severity.
func (r InvestigationResult) FindingsWithSeverity(sev Severity) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == sev {
			out = append(out, f)
		}
	}
	return out
}

// ToMap converts the investigation to a plain nested map for the CLI
// and reporting layer.
func (r InvestigationResult) ToMap() map[string]any {
	m := map[string]any{
		"id":         r.ID,
		"server":     r.Server,
		"profile":    string(r.Profile),
		"status":     string(r.Status),
		"start_time": r.StartTime.Format(time.RFC3339Nano),
		"duration":   r.Duration.Seconds(),
	}
	if !r.EndTime.IsZero() {
		m["end_time"] = r.EndTime.Format(time.RFC3339Nano)
	}
	if r.CollectedData != nil {
		m["collected_data"] = r.CollectedData
	}
	findings := make([]map[string]any, 0, len(r.Findings))
	for _, f := range r.Findings {
		findings = append(findings, map[string]any{
			"issue_type":  f.IssueType,
			"severity":    string(f.Severity),
			"description": f.Description,
		})
	}
	m["findings"] = findings
	m["recommendations"] = append([]string(nil), r.Recommendations...)
	return m
}
