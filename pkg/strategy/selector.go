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

// Package strategy implements per-turn strategy selection and the
// retrieval-use decision. Selection is pure arithmetic over the loaded
// catalogues; no LLM calls happen here, which keeps every choice
// deterministic and unit-testable.
package strategy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/agonhq/agon/pkg/catalog"
)

var (
	// ErrUnknown is returned when a strategy id is not in its catalogue.
	ErrUnknown = errors.New("unknown strategy")

	// ErrEmpty is returned when a candidate set resolves to nothing.
	ErrEmpty = errors.New("empty strategy candidate set")
)

// BlocklistWindow is how many recent uses against the same target block a
// strategy from being picked again.
const BlocklistWindow = 2

// RAGThreshold is the retrieval-use decision boundary.
const RAGThreshold = 0.5

// Selection is the outcome of a strategy pick.
type Selection struct {
	StrategyID string
	Kind       catalog.StrategyKind
	Score      float64

	// Relaxed is set when every candidate was blocklisted and the
	// highest-weighted strategy was taken anyway.
	Relaxed bool
}

// AttackInfo describes the opponent attack a defender responds to.
type AttackInfo struct {
	StrategyID string
	RAGUsed    bool
	Text       string
}

// DefenseInfo describes the opponent defense a followup responds to.
type DefenseInfo struct {
	StrategyID string
	Text       string
}

// RAGDecision explains whether retrieval should back the selected strategy.
type RAGDecision struct {
	UseRAG        bool                   `json:"use_rag"`
	Score         float64                `json:"score"`
	Threshold     float64                `json:"threshold"`
	Contributions map[catalog.Axis]float64 `json:"contributions"`
}

// Selector picks strategies against a loaded catalogue.
type Selector struct {
	strategies *catalog.StrategyCatalog
}

func NewSelector(strategies *catalog.StrategyCatalog) *Selector {
	return &Selector{strategies: strategies}
}

// SelectAttack scores every attack strategy against the target's per-axis
// vulnerability and picks the argmax of
// philosopher_weight * (1 + fit), skipping recently used strategies.
func (s *Selector) SelectAttack(profile *catalog.PhilosopherProfile, vulnerability catalog.AxisVector, blocked []string) (Selection, error) {
	if len(s.strategies.Attack) == 0 {
		return Selection{}, ErrEmpty
	}

	blockedSet := make(map[string]bool, len(blocked))
	for _, id := range blocked {
		blockedSet[id] = true
	}

	type scored struct {
		id     string
		weight float64
		score  float64
	}
	all := make([]scored, 0, len(s.strategies.Attack))
	for id, strat := range s.strategies.Attack {
		weight := profile.AttackWeights[id]
		fit := strat.AxisWeights.Dot(vulnerability)
		all = append(all, scored{id: id, weight: weight, score: weight * (1 + fit)})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		if all[i].id != all[j].id {
			return all[i].id < all[j].id
		}
		return all[i].weight > all[j].weight
	})

	for _, c := range all {
		if blockedSet[c.id] {
			continue
		}
		return Selection{StrategyID: c.id, Kind: catalog.StrategyAttack, Score: c.score}, nil
	}

	// Every candidate blocked: relax the blocklist once and take the
	// highest-weighted strategy overall.
	best := all[0]
	for _, c := range all[1:] {
		if c.weight > best.weight || (c.weight == best.weight && c.id < best.id) {
			best = c
		}
	}
	return Selection{StrategyID: best.id, Kind: catalog.StrategyAttack, Score: best.score, Relaxed: true}, nil
}

// SelectDefense picks within the candidate set mapped from the inferred
// attack strategy. An unrecognized attack opens the full defense catalogue.
func (s *Selector) SelectDefense(profile *catalog.PhilosopherProfile, attack AttackInfo) (Selection, error) {
	candidates := s.strategies.DefenseCandidates[attack.StrategyID]
	if len(candidates) == 0 {
		candidates = sortedKeys(s.strategies.Defense)
	}
	return s.pickByWeight(catalog.StrategyDefense, candidates, profile.DefenseWeights, s.strategies.Defense)
}

// SelectFollowup picks within the candidate set mapped from the opposing
// defense strategy.
func (s *Selector) SelectFollowup(profile *catalog.PhilosopherProfile, defense DefenseInfo) (Selection, error) {
	candidates := s.strategies.FollowupCandidates[defense.StrategyID]
	if len(candidates) == 0 {
		candidates = sortedKeys(s.strategies.Followup)
	}
	return s.pickByWeight(catalog.StrategyFollowup, candidates, profile.FollowupWeights, s.strategies.Followup)
}

// pickByWeight selects the argmax philosopher weight within candidates, ties
// broken by lower id lexicographically.
func (s *Selector) pickByWeight(kind catalog.StrategyKind, candidates []string, weights map[string]float64, cat map[string]catalog.Strategy) (Selection, error) {
	if len(candidates) == 0 {
		return Selection{}, ErrEmpty
	}
	best := ""
	bestWeight := 0.0
	for _, id := range candidates {
		if _, ok := cat[id]; !ok {
			return Selection{}, fmt.Errorf("%w: %s strategy %q", ErrUnknown, kind, id)
		}
		w := weights[id]
		if best == "" || w > bestWeight || (w == bestWeight && id < best) {
			best = id
			bestWeight = w
		}
	}
	return Selection{StrategyID: best, Kind: kind, Score: bestWeight}, nil
}

// DecideRAG computes the retrieval-use decision for a selected attack
// strategy. The per-axis contributions make the decision auditable.
func (s *Selector) DecideRAG(strategyID string, profile *catalog.PhilosopherProfile) (RAGDecision, error) {
	strat, ok := s.strategies.Attack[strategyID]
	if !ok {
		return RAGDecision{}, fmt.Errorf("%w: attack strategy %q", ErrUnknown, strategyID)
	}

	contributions := make(map[catalog.Axis]float64, len(catalog.Axes))
	var score float64
	for _, axis := range catalog.Axes {
		c := strat.AxisWeights[axis] * profile.RAGStats[axis]
		contributions[axis] = c
		score += c
	}
	return RAGDecision{
		UseRAG:        score >= RAGThreshold,
		Score:         score,
		Threshold:     RAGThreshold,
		Contributions: contributions,
	}, nil
}

// Default returns the catalogue's declared fallback id for a kind.
func (s *Selector) Default(kind catalog.StrategyKind) string {
	switch kind {
	case catalog.StrategyAttack:
		return s.strategies.DefaultAttack
	case catalog.StrategyDefense:
		return s.strategies.DefaultDefense
	case catalog.StrategyFollowup:
		return s.strategies.DefaultFollowup
	}
	return ""
}

// Lookup resolves a strategy id within a kind's catalogue.
func (s *Selector) Lookup(kind catalog.StrategyKind, id string) (catalog.Strategy, error) {
	strat, ok := s.strategies.Strategy(kind, id)
	if !ok {
		return catalog.Strategy{}, fmt.Errorf("%w: %s strategy %q", ErrUnknown, kind, id)
	}
	return strat, nil
}

func sortedKeys(m map[string]catalog.Strategy) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
