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
	"strings"
	"testing"
)

func TestCommandFilterCheck(t *testing.T) {
	tests := []struct {
		name     string
		safeMode bool
		command  string
		blocked  bool
	}{
		{"allowed command", true, "df -h", false},
		{"allowed with args", true, "grep -r error /var/log", false},
		{"denied base command", true, "rm /tmp/file", true},
		{"denied via path prefix", true, "/bin/rm /tmp/file", true},
		{"denied sudo", true, "sudo ls", true},
		{"denied regardless of safe mode", false, "reboot", true},
		{"dangerous rm pattern", false, "ls; rm -rf / --no-preserve-root", true},
		{"dangerous device redirect", false, "cat zeros > /dev/sda", true},
		{"dangerous chmod 777", true, "chmod 777 /etc", true},
		{"unlisted blocked in safe mode", true, "vim /etc/hosts", true},
		{"unlisted allowed in unsafe mode", false, "vim /etc/hosts", false},
		{"empty command", true, "   ", true},
		{"unterminated quote", true, `echo "broken`, true},
		{"quoted argument passes", true, `grep "disk full" /var/log/syslog`, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			filter := newCommandFilter(tc.safeMode)
			reason := filter.Check(tc.command)
			if tc.blocked && reason == "" {
				t.Fatalf("Check(%q) allowed, want blocked", tc.command)
			}
			if !tc.blocked && reason != "" {
				t.Fatalf("Check(%q) blocked: %s", tc.command, reason)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		command string
		want    []string
	}{
		{`ls -la /tmp`, []string{"ls", "-la", "/tmp"}},
		{`echo "hello world"`, []string{"echo", "hello world"}},
		{`echo 'single quoted'`, []string{"echo", "single quoted"}},
		{`grep foo\ bar file`, []string{"grep", "foo bar", "file"}},
		{`df  -h	/`, []string{"df", "-h", "/"}},
	}
	for _, tc := range tests {
		got, err := tokenize(tc.command)
		if err != nil {
			t.Fatalf("tokenize(%q): %v", tc.command, err)
		}
		if strings.Join(got, "\x00") != strings.Join(tc.want, "\x00") {
			t.Fatalf("tokenize(%q) = %q, want %q", tc.command, got, tc.want)
		}
	}

	for _, bad := range []string{`echo "open`, `echo 'open`, `trailing \`} {
		if _, err := tokenize(bad); err == nil {
			t.Fatalf("tokenize(%q) should fail", bad)
		}
	}
}
