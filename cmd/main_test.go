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

package main

import (
	"testing"

	"github.com/fleetprobe/fleetprobe/internal/core/domain"
)

func TestParseProfile(t *testing.T) {
	for name, want := range map[string]domain.InvestigationProfile{
		"basic":       domain.ProfileBasic,
		"performance": domain.ProfilePerformance,
		"security":    domain.ProfileSecurity,
	} {
		got, err := parseProfile(name)
		if err != nil || got != want {
			t.Fatalf("parseProfile(%q) = %v, %v", name, got, err)
		}
	}

	for _, bad := range []string{"", "preformance", "Basic", "forensics"} {
		if _, err := parseProfile(bad); err == nil {
			t.Fatalf("parseProfile(%q) should fail", bad)
		}
	}
}
