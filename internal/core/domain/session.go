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

import (
	"fmt"
	"strings"
	"time"
)

// SessionState represents the lifecycle state of a remote session.
type SessionState string

const (
	StateDisconnected  SessionState = "disconnected"
	StateConnecting    SessionState = "connecting"
	StateConnected     SessionState = "connected"
	StateDisconnecting SessionState = "disconnecting"
	StateError         SessionState = "error"
)

// SessionConfig holds everything needed to open one authenticated
// session to one host. It is validated once and treated as immutable
// afterwards.
type SessionConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	KeyFile    string
	AllowAgent bool
	Timeout    time.Duration
}

// Validate checks the config before any connection attempt is made.
func (c SessionConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("hostname is required")
	}
	if strings.TrimSpace(c.User) == "" {
		return fmt.Errorf("username is required")
	}
	if c.Password == "" && c.KeyFile == "" && !c.AllowAgent {
		return fmt.Errorf("authentication method required (password, key, or agent)")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535")
	}
	return nil
}

// Addr returns the dial target, defaulting the port to 22.
func (c SessionConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// ConnectionInfo is a point-in-time snapshot of a session, exposed for
// status reporting. It never contains authentication material.
type ConnectionInfo struct {
	Host        string        `json:"host"`
	Port        int           `json:"port"`
	User        string        `json:"user"`
	State       SessionState  `json:"state"`
	Simulated   bool          `json:"simulated"`
	ConnectedAt time.Time     `json:"connected_at,omitzero"`
	Uptime      time.Duration `json:"uptime,omitempty"`
	IdleTime    time.Duration `json:"idle_time,omitempty"`
}
