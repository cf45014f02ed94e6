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
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"

	"github.com/fleetprobe/fleetprobe/internal/core/domain"
)

// parseSSHConfigHosts reads an OpenSSH client config and converts its
// concrete Host entries into inventory records. Pattern entries (with
// wildcards) are skipped; so are hosts without a resolvable hostname.
func parseSSHConfigHosts(path string) ([]domain.Server, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ssh config: %w", err)
	}
	defer file.Close()

	cfg, err := ssh_config.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode ssh config: %w", err)
	}

	var servers []domain.Server
	for _, host := range cfg.Hosts {
		alias := concreteAlias(host)
		if alias == "" {
			continue
		}

		server := domain.Server{
			Hostname:    alias,
			Description: "imported from ssh_config",
		}
		for _, node := range host.Nodes {
			kv, ok := node.(*ssh_config.KV)
			if !ok {
				continue
			}
			switch strings.ToLower(kv.Key) {
			case "hostname":
				server.Hostname = kv.Value
			case "user":
				server.Username = kv.Value
			case "port":
				if port, err := strconv.Atoi(kv.Value); err == nil {
					server.Port = port
				}
			case "identityfile":
				server.KeyFile = expandHome(kv.Value)
			}
		}
		if server.Username == "" {
			continue
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func concreteAlias(host *ssh_config.Host) string {
	for _, pattern := range host.Patterns {
		name := pattern.String()
		if name == "" || name == "*" || strings.ContainsAny(name, "*?!") {
			continue
		}
		return name
	}
	return ""
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}
