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

// CommandStatus classifies the outcome of one command execution.
type CommandStatus string

const (
	StatusSuccess          CommandStatus = "success"
	StatusFailed           CommandStatus = "failed"
	StatusTimeout          CommandStatus = "timeout"
	StatusPermissionDenied CommandStatus = "permission_denied"
	StatusNotFound         CommandStatus = "not_found"
)

// CommandResult is the immutable record of one execution attempt
// against one server.
type CommandResult struct {
	Status    CommandStatus  `json:"status"`
	Output    string         `json:"output"`
	Error     string         `json:"error,omitempty"`
	ExitCode  int            `json:"exit_code"`
	Duration  time.Duration  `json:"duration"`
	Server    string         `json:"server"`
	Command   string         `json:"command"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ToMap converts the result to a plain nested map for JSON or table
// rendering by the CLI layer.
func (r CommandResult) ToMap() map[string]any {
	m := map[string]any{
		"status":    string(r.Status),
		"output":    r.Output,
		"error":     r.Error,
		"exit_code": r.ExitCode,
		"duration":  r.Duration.Seconds(),
		"server":    r.Server,
		"command":   r.Command,
		"timestamp": r.Timestamp.Format(time.RFC3339Nano),
	}
	if r.Metadata != nil {
		m["metadata"] = r.Metadata
	}
	return m
}

// ExecutionRecord is the compact history entry kept per execution.
// It records shape, not payload: output length rather than output.
type ExecutionRecord struct {
	Timestamp    time.Time     `json:"timestamp"`
	Server       string        `json:"server"`
	Command      string        `json:"command"`
	Status       CommandStatus `json:"status"`
	Duration     time.Duration `json:"duration"`
	OutputLength int           `json:"output_length"`
	HasError     bool          `json:"has_error"`
}

// ServerStatistics aggregates the execution history for one server.
type ServerStatistics struct {
	Server          string        `json:"server"`
	TotalExecutions int           `json:"total_executions"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
	LastExecution   time.Time     `json:"last_execution,omitzero"`
}
