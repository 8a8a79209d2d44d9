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

// Package catalog holds the static debate data loaded at startup: philosopher
// profiles, the three strategy catalogues, and the weight tables binding
// strategies to retrieval axes. All catalog data is read-only after load and
// shared across rooms without synchronization.
package catalog

// Axis names the five retrieval-affinity dimensions a philosopher is scored
// on and an attack strategy weighs against.
type Axis string

const (
	AxisDataRespect            Axis = "data_respect"
	AxisConceptualPrecision    Axis = "conceptual_precision"
	AxisSystematicLogic        Axis = "systematic_logic"
	AxisPragmaticOrientation   Axis = "pragmatic_orientation"
	AxisRhetoricalIndependence Axis = "rhetorical_independence"
)

// Axes lists all axes in canonical order.
var Axes = []Axis{
	AxisDataRespect,
	AxisConceptualPrecision,
	AxisSystematicLogic,
	AxisPragmaticOrientation,
	AxisRhetoricalIndependence,
}

// AxisVector maps axis name to a scalar weight or score.
type AxisVector map[Axis]float64

// Dot computes the dot product of two axis vectors over the canonical axes.
func (v AxisVector) Dot(other AxisVector) float64 {
	var sum float64
	for _, axis := range Axes {
		sum += v[axis] * other[axis]
	}
	return sum
}

// PhilosopherProfile describes one debater persona. Immutable after load.
type PhilosopherProfile struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Essence     string   `yaml:"essence"`
	Style       string   `yaml:"style"`
	Personality string   `yaml:"personality"`
	KeyTraits   []string `yaml:"key_traits"`
	Quote       string   `yaml:"quote"`

	// Strategy preference weights, per catalogue. Each map sums to 1.
	AttackWeights   map[string]float64 `yaml:"attack_weights"`
	DefenseWeights  map[string]float64 `yaml:"defense_weights"`
	FollowupWeights map[string]float64 `yaml:"followup_weights"`

	// RAGAffinity in [0,1]: general eagerness to ground claims in sources.
	RAGAffinity float64 `yaml:"rag_affinity"`

	// VulnerabilitySensitivity weighs how strongly this philosopher exploits
	// each vulnerability axis when choosing targets.
	VulnerabilitySensitivity AxisVector `yaml:"vulnerability_sensitivity"`

	// RAGStats is the per-axis stat vector used by the RAG-use decision.
	RAGStats AxisVector `yaml:"rag_stats"`
}

// ModeratorStyle describes a moderator persona.
type ModeratorStyle struct {
	Key   string `yaml:"key"`
	Name  string `yaml:"name"`
	Style string `yaml:"style"`
}

// StrategyKind separates the three disjoint catalogues.
type StrategyKind string

const (
	StrategyAttack   StrategyKind = "attack"
	StrategyDefense  StrategyKind = "defense"
	StrategyFollowup StrategyKind = "followup"
)

// Strategy is one named rhetorical approach.
type Strategy struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`

	// Cue is the stylistic instruction handed to the prompt builder.
	Cue string `yaml:"cue"`

	// AxisWeights is the per-axis weight vector, values in [-1,1]. It drives
	// both target-fit scoring and the retrieval-use decision. Present for
	// attack strategies only.
	AxisWeights AxisVector `yaml:"axis_weights,omitempty"`
}

// StrategyCatalog holds the three catalogues plus the cross-catalogue maps.
type StrategyCatalog struct {
	Attack   map[string]Strategy
	Defense  map[string]Strategy
	Followup map[string]Strategy

	// Fallback strategy ids used when a candidate set comes up empty.
	DefaultAttack   string
	DefaultDefense  string
	DefaultFollowup string

	// DefenseCandidates restricts defense options per inferred attack
	// strategy. Unknown attack strategies fall back to the full catalogue.
	DefenseCandidates map[string][]string

	// FollowupCandidates restricts followup options per opposing defense
	// strategy.
	FollowupCandidates map[string][]string
}

// Catalog bundles everything the engine loads at startup.
type Catalog struct {
	Philosophers map[string]*PhilosopherProfile
	Moderators   map[string]*ModeratorStyle

	// DefaultModerator is used when a room names no moderator style.
	DefaultModerator string

	Strategies *StrategyCatalog
}

// Philosopher returns the profile for key, or nil.
func (c *Catalog) Philosopher(key string) *PhilosopherProfile {
	return c.Philosophers[key]
}

// Moderator returns the moderator style for key, falling back to the default.
func (c *Catalog) Moderator(key string) *ModeratorStyle {
	if m, ok := c.Moderators[key]; ok {
		return m
	}
	return c.Moderators[c.DefaultModerator]
}

// Strategy looks up a strategy id in the catalogue for the given kind.
func (s *StrategyCatalog) Strategy(kind StrategyKind, id string) (Strategy, bool) {
	var m map[string]Strategy
	switch kind {
	case StrategyAttack:
		m = s.Attack
	case StrategyDefense:
		m = s.Defense
	case StrategyFollowup:
		m = s.Followup
	}
	st, ok := m[id]
	return st, ok
}
