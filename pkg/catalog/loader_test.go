// Copyright 2025 The Agon Authors
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

package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validStrategiesYAML = `
attack:
  - id: Conceptual_Undermining
    cue: attack the concept
    axis_weights:
      data_respect: 0.1
      conceptual_precision: 0.6
      systematic_logic: 0.3
      pragmatic_orientation: 0.05
      rhetorical_independence: -0.2
  - id: Empirical_Challenge
    cue: demand evidence
    axis_weights:
      data_respect: 0.8
defense:
  - id: Concept_Clarification
    cue: clarify
followup:
  - id: Press_The_Point
    cue: press
default_attack: Conceptual_Undermining
default_defense: Concept_Clarification
default_followup: Press_The_Point
defense_map:
  Conceptual_Undermining: [Concept_Clarification]
followup_map:
  Concept_Clarification: [Press_The_Point]
`

const validPhilosophersYAML = `
philosophers:
  - key: kant
    name: Immanuel Kant
    attack_weights:
      Conceptual_Undermining: 0.7
      Empirical_Challenge: 0.3
    defense_weights:
      Concept_Clarification: 1.0
    followup_weights:
      Press_The_Point: 1.0
    rag_affinity: 0.6
    rag_stats:
      data_respect: 0.7
      conceptual_precision: 0.9
      systematic_logic: 0.9
      pragmatic_orientation: 0.3
      rhetorical_independence: 0.2
moderators:
  - key: socratic_host
    name: The Socratic Host
  - key: broadcast_anchor
    name: The Broadcast Anchor
default_moderator: socratic_host
`

func writeCatalogFiles(t *testing.T, philosophers, strategies string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	pPath := filepath.Join(dir, "philosophers.yaml")
	sPath := filepath.Join(dir, "strategies.yaml")
	if err := os.WriteFile(pPath, []byte(philosophers), 0o644); err != nil {
		t.Fatalf("write philosophers: %v", err)
	}
	if err := os.WriteFile(sPath, []byte(strategies), 0o644); err != nil {
		t.Fatalf("write strategies: %v", err)
	}
	return pPath, sPath
}

func TestLoad(t *testing.T) {
	pPath, sPath := writeCatalogFiles(t, validPhilosophersYAML, validStrategiesYAML)

	cat, err := Load(pPath, sPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	kant := cat.Philosopher("kant")
	if kant == nil || kant.Name != "Immanuel Kant" {
		t.Fatalf("kant not loaded: %+v", kant)
	}
	if kant.RAGStats[AxisConceptualPrecision] != 0.9 {
		t.Errorf("rag_stats not parsed: %v", kant.RAGStats)
	}

	if cat.DefaultModerator != "socratic_host" {
		t.Errorf("default moderator %q", cat.DefaultModerator)
	}
	if m := cat.Moderator("broadcast_anchor"); m == nil || m.Key != "broadcast_anchor" {
		t.Errorf("broadcast_anchor not loaded: %+v", m)
	}
	// Unknown moderator keys resolve to the default.
	if m := cat.Moderator("nobody"); m == nil || m.Key != "socratic_host" {
		t.Errorf("expected the default moderator fallback, got %+v", m)
	}

	if s, ok := cat.Strategies.Strategy(StrategyAttack, "Conceptual_Undermining"); !ok || s.Cue == "" {
		t.Errorf("attack strategy not loaded: %v %v", s, ok)
	}
	if _, ok := cat.Strategies.Strategy(StrategyDefense, "Conceptual_Undermining"); ok {
		t.Error("kinds must not share a namespace")
	}
}

func TestLoadDefaultModeratorFallback(t *testing.T) {
	yaml := strings.Replace(validPhilosophersYAML, "default_moderator: socratic_host", "", 1)
	pPath, sPath := writeCatalogFiles(t, yaml, validStrategiesYAML)

	cat, err := Load(pPath, sPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Lexicographically first key.
	if cat.DefaultModerator != "broadcast_anchor" {
		t.Errorf("expected broadcast_anchor, got %q", cat.DefaultModerator)
	}
}

func TestLoadRejectsInvalidCatalogues(t *testing.T) {
	cases := []struct {
		name         string
		philosophers string
		strategies   string
		wantErr      string
	}{
		{
			name:         "attack without axis weights",
			philosophers: validPhilosophersYAML,
			strategies:   strings.Replace(validStrategiesYAML, "    axis_weights:\n      data_respect: 0.8\n", "", 1),
			wantErr:      "no axis_weights",
		},
		{
			name:         "axis weight out of range",
			philosophers: validPhilosophersYAML,
			strategies:   strings.Replace(validStrategiesYAML, "data_respect: 0.8", "data_respect: 1.8", 1),
			wantErr:      "out of [-1,1]",
		},
		{
			name:         "unknown axis",
			philosophers: validPhilosophersYAML,
			strategies:   strings.Replace(validStrategiesYAML, "data_respect: 0.8", "no_such_axis: 0.8", 1),
			wantErr:      "unknown axis",
		},
		{
			name:         "unknown default attack",
			philosophers: validPhilosophersYAML,
			strategies:   strings.Replace(validStrategiesYAML, "default_attack: Conceptual_Undermining", "default_attack: Missing", 1),
			wantErr:      "default_attack",
		},
		{
			name:         "defense map references unknown defense",
			philosophers: validPhilosophersYAML,
			strategies:   strings.Replace(validStrategiesYAML, "Conceptual_Undermining: [Concept_Clarification]", "Conceptual_Undermining: [Missing]", 1),
			wantErr:      "unknown defense",
		},
		{
			name:         "weights do not sum to one",
			philosophers: strings.Replace(validPhilosophersYAML, "Conceptual_Undermining: 0.7", "Conceptual_Undermining: 0.5", 1),
			strategies:   validStrategiesYAML,
			wantErr:      "sums to",
		},
		{
			name:         "weights reference unknown strategy",
			philosophers: strings.Replace(validPhilosophersYAML, "Conceptual_Undermining: 0.7", "Missing: 0.7", 1),
			strategies:   validStrategiesYAML,
			wantErr:      "unknown strategy",
		},
		{
			name:         "incomplete rag stats",
			philosophers: strings.Replace(validPhilosophersYAML, "      rhetorical_independence: 0.2\n", "", 1),
			strategies:   validStrategiesYAML,
			wantErr:      "rag_stats must cover",
		},
		{
			name:         "rag affinity out of range",
			philosophers: strings.Replace(validPhilosophersYAML, "rag_affinity: 0.6", "rag_affinity: 1.4", 1),
			strategies:   validStrategiesYAML,
			wantErr:      "rag_affinity",
		},
		{
			name:         "unknown default moderator",
			philosophers: strings.Replace(validPhilosophersYAML, "default_moderator: socratic_host", "default_moderator: nobody", 1),
			strategies:   validStrategiesYAML,
			wantErr:      "default_moderator",
		},
		{
			name:         "no philosophers",
			philosophers: "philosophers: []\nmoderators:\n  - key: m\n",
			strategies:   validStrategiesYAML,
			wantErr:      "is empty",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pPath, sPath := writeCatalogFiles(t, tc.philosophers, tc.strategies)
			_, err := Load(pPath, sPath)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadMissingFiles(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "nope.yaml"), filepath.Join(dir, "nope2.yaml")); err == nil {
		t.Fatal("expected an error for missing files")
	}
}

func TestAxisVectorDot(t *testing.T) {
	a := AxisVector{AxisDataRespect: 0.5, AxisSystematicLogic: 1.0}
	b := AxisVector{AxisDataRespect: 0.4, AxisConceptualPrecision: 0.9}
	if got := a.Dot(b); got != 0.2 {
		t.Errorf("Dot = %v, want 0.2", got)
	}
	if got := a.Dot(nil); got != 0 {
		t.Errorf("Dot with nil = %v, want 0", got)
	}
}
