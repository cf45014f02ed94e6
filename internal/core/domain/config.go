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
	"time"
)

// Config carries the tunables for the remote-execution core. Values
// come from the YAML config file with environment overrides applied
// on top (FLEETPROBE_* variables).
type Config struct {
	// Connection pool and manager.
	MaxConnections    int           `yaml:"max_connections" envconfig:"MAX_CONNECTIONS"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" envconfig:"CONNECTION_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ReapInterval      time.Duration `yaml:"reap_interval" envconfig:"REAP_INTERVAL"`
	RetryAttempts     int           `yaml:"retry_attempts" envconfig:"RETRY_ATTEMPTS"`
	RetryDelay        time.Duration `yaml:"retry_delay" envconfig:"RETRY_DELAY"`

	// Execution tool.
	ToolTimeout time.Duration `yaml:"tool_timeout" envconfig:"TOOL_TIMEOUT"`
	SafeMode    bool          `yaml:"safe_mode" envconfig:"SAFE_MODE"`
	MaxRetries  int           `yaml:"max_retries" envconfig:"MAX_RETRIES"`
	HistorySize int           `yaml:"history_size" envconfig:"HISTORY_SIZE"`

	// Investigation agent.
	MaxConcurrentServers int `yaml:"max_concurrent_servers" envconfig:"MAX_CONCURRENT_SERVERS"`

	// Simulate selects the simulated transport instead of real SSH.
	Simulate bool `yaml:"simulate" envconfig:"SIMULATE"`
}

// DefaultConfig returns the tunables used when no config file exists.
func DefaultConfig() Config {
	return Config{
		MaxConnections:       10,
		ConnectionTimeout:    30 * time.Second,
		IdleTimeout:          5 * time.Minute,
		ReapInterval:         30 * time.Second,
		RetryAttempts:        3,
		RetryDelay:           2 * time.Second,
		ToolTimeout:          60 * time.Second,
		SafeMode:             true,
		MaxRetries:           3,
		HistorySize:          1000,
		MaxConcurrentServers: 5,
	}
}

// Validate rejects configurations the core cannot run with. This is
// the only fatal error class: everything past it is retried or
// reported as data.
func (c Config) Validate() error {
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive")
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection_timeout must be positive")
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("retry_attempts must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive")
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("history_size must be positive")
	}
	if c.MaxConcurrentServers <= 0 {
		return fmt.Errorf("max_concurrent_servers must be positive")
	}
	return nil
}
