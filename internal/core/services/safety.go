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
)

// commandFilter is the deny-list/allow-list policy applied before any
// command reaches a transport. Denials are deterministic and never
// retried.
type commandFilter struct {
	safeMode          bool
	deniedCommands    map[string]struct{}
	allowedCommands   map[string]struct{}
	dangerousPatterns []string
}

func newCommandFilter(safeMode bool) *commandFilter {
	denied := []string{
		"rm", "rmdir", "del", "format", "fdisk", "mkfs",
		"dd", "shutdown", "reboot", "halt", "poweroff",
		"chmod", "chown", "passwd", "su", "sudo",
		"kill", "killall", "pkill", "mount", "umount",
	}
	allowed := []string{
		"ls", "cat", "head", "tail", "grep", "find", "which",
		"ps", "top", "htop", "df", "du", "free", "uptime",
		"date", "whoami", "id", "pwd", "echo", "wc", "last",
		"systemctl", "journalctl", "netstat", "ss", "lsof", "iostat",
		"curl", "wget", "ping", "nslookup", "dig",
		"git", "docker", "kubectl", "helm", "hostname",
		"uname", "nproc", "env", "history", "alias", "iptables", "ufw",
	}

	f := &commandFilter{
		safeMode:        safeMode,
		deniedCommands:  make(map[string]struct{}, len(denied)),
		allowedCommands: make(map[string]struct{}, len(allowed)),
		dangerousPatterns: []string{
			"rm -rf /",
			"rm -rf *",
			"chmod 777",
			"chown -r",
			"> /dev/",
			"dd if=",
			"mkfs.",
			"fdisk",
			"parted",
		},
	}
	for _, c := range denied {
		f.deniedCommands[c] = struct{}{}
	}
	for _, c := range allowed {
		f.allowedCommands[c] = struct{}{}
	}
	return f
}

// Check returns a reason the command is blocked, or "" when it may
// proceed. Malformed shell syntax counts as unsafe.
func (f *commandFilter) Check(command string) string {
	tokens, err := tokenize(command)
	if err != nil {
		return fmt.Sprintf("unparseable command: %v", err)
	}
	if len(tokens) == 0 {
		return "empty command"
	}

	// Strip any path prefix so /bin/rm matches rm.
	base := tokens[0]
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}

	if _, denied := f.deniedCommands[base]; denied {
		return fmt.Sprintf("command %q is denied", base)
	}

	lower := strings.ToLower(command)
	for _, pattern := range f.dangerousPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Sprintf("command matches dangerous pattern %q", pattern)
		}
	}

	if f.safeMode {
		if _, allowed := f.allowedCommands[base]; !allowed {
			return fmt.Sprintf("command %q is not on the safe-mode allow-list", base)
		}
	}
	return ""
}

// tokenize splits a command line into shell words, honoring single and
// double quotes and backslash escapes. An unterminated quote is an
// error.
func tokenize(command string) ([]string, error) {
	var tokens []string
	var current strings.Builder
	inToken := false

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\\':
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("trailing backslash")
			}
			i++
			current.WriteRune(runes[i])
			inToken = true
		case c == '\'' || c == '"':
			quote := c
			i++
			closed := false
			for ; i < len(runes); i++ {
				if runes[i] == quote {
					closed = true
					break
				}
				current.WriteRune(runes[i])
			}
			if !closed {
				return nil, fmt.Errorf("unterminated %c quote", quote)
			}
			inToken = true
		case c == ' ' || c == '\t' || c == '\n':
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(c)
			inToken = true
		}
	}
	if inToken {
		tokens = append(tokens, current.String())
	}
	return tokens, nil
}
