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
	"time"

	"github.com/fleetprobe/fleetprobe/internal/core/domain"
)

// GenerateInvestigationReport assembles the reporting structure the
// CLI renders: metadata, executive summary, system overview, findings,
// recommendations, and the raw technical details.
func (a *InvestigationAgent) GenerateInvestigationReport(inv domain.InvestigationResult) map[string]any {
	findings := make([]map[string]any, 0, len(inv.Findings))
	for _, f := range inv.Findings {
		findings = append(findings, map[string]any{
			"issue_type":  f.IssueType,
			"severity":    string(f.Severity),
			"description": f.Description,
		})
	}

	var overview map[string]string
	if data, ok := inv.CollectedData[string(domain.ProfileBasic)]; ok {
		overview = data
	}

	return map[string]any{
		"metadata": map[string]any{
			"id":                 inv.ID,
			"server":             inv.Server,
			"profile":            string(inv.Profile),
			"investigation_time": inv.StartTime.Format(time.RFC3339),
			"duration":           inv.Duration.Seconds(),
			"status":             string(inv.Status),
		},
		"executive_summary":   executiveSummary(inv),
		"system_overview":     overview,
		"findings_and_issues": findings,
		"recommendations":     append([]string(nil), inv.Recommendations...),
		"technical_details":   inv.CollectedData,
	}
}

func executiveSummary(inv domain.InvestigationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Investigation completed for %s.\n", inv.Server)

	high := inv.FindingsWithSeverity(domain.SeverityHigh)
	medium := inv.FindingsWithSeverity(domain.SeverityMedium)

	if len(high) > 0 {
		fmt.Fprintf(&b, "Critical issues found: %d\n", len(high))
	}
	if len(medium) > 0 {
		fmt.Fprintf(&b, "Medium priority issues found: %d\n", len(medium))
	}
	if len(inv.Findings) == 0 {
		b.WriteString("No significant issues detected.\n")
	}
	if len(inv.Recommendations) > 0 {
		fmt.Fprintf(&b, "Recommendations provided: %d\n", len(inv.Recommendations))
	}
	return b.String()
}
