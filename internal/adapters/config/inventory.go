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
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fleetprobe/fleetprobe/internal/core/domain"
	"github.com/fleetprobe/fleetprobe/internal/core/ports"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// FLEETPROBE_MAX_CONNECTIONS=20.
const EnvPrefix = "FLEETPROBE"

// inventoryFile is the on-disk shape of the fleet inventory.
type inventoryFile struct {
	Servers []domain.Server      `yaml:"servers"`
	Groups  []domain.ServerGroup `yaml:"groups"`
}

// fileInventory loads servers and groups from a YAML inventory file,
// optionally merged with hosts parsed from an OpenSSH client config.
type fileInventory struct {
	logger        *zap.SugaredLogger
	inventoryPath string
	sshConfigPath string
}

// NewFileInventory builds the inventory adapter. sshConfigPath may be
// empty to skip the ssh_config source.
func NewFileInventory(logger *zap.SugaredLogger, inventoryPath, sshConfigPath string) ports.Inventory {
	return &fileInventory{
		logger:        logger,
		inventoryPath: inventoryPath,
		sshConfigPath: sshConfigPath,
	}
}

func (f *fileInventory) load() (inventoryFile, error) {
	var inv inventoryFile
	data, err := os.ReadFile(f.inventoryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return inv, nil
		}
		return inv, fmt.Errorf("read inventory: %w", err)
	}
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return inv, fmt.Errorf("parse inventory: %w", err)
	}
	return inv, nil
}

// Servers returns every server record: YAML inventory first, then any
// ssh_config hosts not already present.
func (f *fileInventory) Servers() ([]domain.Server, error) {
	inv, err := f.load()
	if err != nil {
		return nil, err
	}
	servers := inv.Servers

	if f.sshConfigPath != "" {
		sshServers, err := parseSSHConfigHosts(f.sshConfigPath)
		if err != nil {
			f.logger.Warnf("failed to parse ssh config %s: %v", f.sshConfigPath, err)
		} else {
			known := make(map[string]struct{}, len(servers))
			for _, s := range servers {
				known[s.Hostname] = struct{}{}
			}
			for _, s := range sshServers {
				if _, dup := known[s.Hostname]; !dup {
					servers = append(servers, s)
				}
			}
		}
	}
	return servers, nil
}

// Groups returns the group definitions. Servers listed by hostname
// only are resolved against the full server list.
func (f *fileInventory) Groups() ([]domain.ServerGroup, error) {
	inv, err := f.load()
	if err != nil {
		return nil, err
	}

	all, err := f.Servers()
	if err != nil {
		return nil, err
	}
	byHost := make(map[string]domain.Server, len(all))
	for _, s := range all {
		byHost[s.Hostname] = s
	}

	groups := inv.Groups
	for gi := range groups {
		for si, member := range groups[gi].Servers {
			// A member with only a hostname inherits the full record
			// from the server list.
			if member.Username == "" {
				if full, ok := byHost[member.Hostname]; ok {
					groups[gi].Servers[si] = full
				}
			}
		}
	}

	// Servers carrying a group name form implicit groups.
	implicit := make(map[string][]domain.Server)
	for _, s := range all {
		if s.Group != "" {
			implicit[s.Group] = append(implicit[s.Group], s)
		}
	}
	named := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		named[g.Name] = struct{}{}
	}
	for name, members := range implicit {
		if _, exists := named[name]; !exists {
			groups = append(groups, domain.ServerGroup{Name: name, Servers: members})
		}
	}

	return groups, nil
}

// FindServer returns the record for a hostname.
func (f *fileInventory) FindServer(hostname string) (domain.Server, error) {
	servers, err := f.Servers()
	if err != nil {
		return domain.Server{}, err
	}
	for _, s := range servers {
		if s.Hostname == hostname {
			return s, nil
		}
	}
	return domain.Server{}, fmt.Errorf("server %q not found in inventory", hostname)
}

// LoadTunables reads the tunables YAML (missing file means defaults)
// and applies FLEETPROBE_* environment overrides on top.
func LoadTunables(path string) (domain.Config, error) {
	cfg := domain.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
