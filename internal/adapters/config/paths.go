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

package config

import (
	"os"
	"path/filepath"
)

// OSPaths resolves the per-user file locations the application reads
// and writes: config, inventory, logs, and the OpenSSH client config.
type OSPaths struct {
	homeDir string
}

func NewOSPaths() (*OSPaths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &OSPaths{homeDir: home}, nil
}

func (p *OSPaths) HomeDir() string {
	return p.homeDir
}

// ConfigPath joins elems under the application config directory.
func (p *OSPaths) ConfigPath(elems ...string) string {
	return filepath.Join(p.homeDir, ".config", "fleetprobe", filepath.Join(elems...))
}

func (p *OSPaths) LogPath(filename string) string {
	return p.ConfigPath("logs", filename)
}

// SSHConfigPath is the default OpenSSH client config imported into the
// inventory.
func (p *OSPaths) SSHConfigPath() string {
	return filepath.Join(p.homeDir, ".ssh", "config")
}

func (p *OSPaths) EnvOrDefault(envVar, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	return defaultValue
}
