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
	"slices"
	"time"
)

// Server is one inventory record for a remote host. Authentication
// material is resolved by the configuration layer before a Server
// reaches the execution core.
type Server struct {
	Hostname    string   `yaml:"hostname" json:"hostname"`
	Port        int      `yaml:"port" json:"port"`
	Username    string   `yaml:"username" json:"username"`
	Password    string   `yaml:"password,omitempty" json:"-"`
	KeyFile     string   `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Group       string   `yaml:"group,omitempty" json:"group,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

// SessionConfig derives the per-connection config for this server,
// with the given connect timeout.
func (s Server) SessionConfig(timeout time.Duration) SessionConfig {
	return SessionConfig{
		Host:       s.Hostname,
		Port:       s.Port,
		User:       s.Username,
		Password:   s.Password,
		KeyFile:    s.KeyFile,
		AllowAgent: s.Password == "" && s.KeyFile == "",
		Timeout:    timeout,
	}
}

// HasTag reports whether the server carries the given tag.
func (s Server) HasTag(tag string) bool {
	return slices.Contains(s.Tags, tag)
}

// ServerGroup is a named, ordered collection of servers. A server may
// belong to any number of groups.
type ServerGroup struct {
	Name        string   `yaml:"name" json:"name"`
	Servers     []Server `yaml:"servers" json:"servers"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// HasTag reports whether the group carries the given tag.
func (g ServerGroup) HasTag(tag string) bool {
	return slices.Contains(g.Tags, tag)
}

// Contains reports whether the group includes a server with the given
// hostname.
func (g ServerGroup) Contains(hostname string) bool {
	for _, s := range g.Servers {
		if s.Hostname == hostname {
			return true
		}
	}
	return false
}
