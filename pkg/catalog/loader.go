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
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

const weightSumEpsilon = 0.01

// philosophersFile is the YAML shape of the philosopher catalogue file.
type philosophersFile struct {
	Philosophers     []*PhilosopherProfile `yaml:"philosophers"`
	Moderators       []*ModeratorStyle     `yaml:"moderators"`
	DefaultModerator string                `yaml:"default_moderator"`
}

// strategiesFile is the YAML shape of the strategy catalogue file.
type strategiesFile struct {
	Attack          []Strategy          `yaml:"attack"`
	Defense         []Strategy          `yaml:"defense"`
	Followup        []Strategy          `yaml:"followup"`
	DefaultAttack   string              `yaml:"default_attack"`
	DefaultDefense  string              `yaml:"default_defense"`
	DefaultFollowup string              `yaml:"default_followup"`
	DefenseMap      map[string][]string `yaml:"defense_map"`
	FollowupMap     map[string][]string `yaml:"followup_map"`
}

// Load reads and validates the catalogue files. Validation failures are
// fatal configuration errors.
func Load(philosophersPath, strategiesPath string) (*Catalog, error) {
	strategies, err := loadStrategies(strategiesPath)
	if err != nil {
		return nil, err
	}

	philosophers, moderators, defaultModerator, err := loadPhilosophers(philosophersPath, strategies)
	if err != nil {
		return nil, err
	}

	return &Catalog{
		Philosophers:     philosophers,
		Moderators:       moderators,
		DefaultModerator: defaultModerator,
		Strategies:       strategies,
	}, nil
}

func loadStrategies(path string) (*StrategyCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy catalogue %s: %w", path, err)
	}

	var file strategiesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse strategy catalogue %s: %w", path, err)
	}

	cat := &StrategyCatalog{
		Attack:             map[string]Strategy{},
		Defense:            map[string]Strategy{},
		Followup:           map[string]Strategy{},
		DefaultAttack:      file.DefaultAttack,
		DefaultDefense:     file.DefaultDefense,
		DefaultFollowup:    file.DefaultFollowup,
		DefenseCandidates:  file.DefenseMap,
		FollowupCandidates: file.FollowupMap,
	}

	for _, entry := range []struct {
		kind       StrategyKind
		strategies []Strategy
		into       map[string]Strategy
	}{
		{StrategyAttack, file.Attack, cat.Attack},
		{StrategyDefense, file.Defense, cat.Defense},
		{StrategyFollowup, file.Followup, cat.Followup},
	} {
		for _, s := range entry.strategies {
			if s.ID == "" {
				return nil, fmt.Errorf("config invalid: %s strategy with empty id in %s", entry.kind, path)
			}
			if _, dup := entry.into[s.ID]; dup {
				return nil, fmt.Errorf("config invalid: duplicate %s strategy %q", entry.kind, s.ID)
			}
			if entry.kind == StrategyAttack {
				if len(s.AxisWeights) == 0 {
					return nil, fmt.Errorf("config invalid: attack strategy %q has no axis_weights", s.ID)
				}
				for axis, w := range s.AxisWeights {
					if !validAxis(axis) {
						return nil, fmt.Errorf("config invalid: attack strategy %q weighs unknown axis %q", s.ID, axis)
					}
					if w < -1 || w > 1 {
						return nil, fmt.Errorf("config invalid: attack strategy %q axis %q weight %v out of [-1,1]", s.ID, axis, w)
					}
				}
			}
			entry.into[s.ID] = s
		}
	}

	if _, ok := cat.Attack[cat.DefaultAttack]; !ok {
		return nil, fmt.Errorf("config invalid: default_attack %q not in attack catalogue", cat.DefaultAttack)
	}
	if _, ok := cat.Defense[cat.DefaultDefense]; !ok {
		return nil, fmt.Errorf("config invalid: default_defense %q not in defense catalogue", cat.DefaultDefense)
	}
	if _, ok := cat.Followup[cat.DefaultFollowup]; !ok {
		return nil, fmt.Errorf("config invalid: default_followup %q not in followup catalogue", cat.DefaultFollowup)
	}

	for attackID, defenses := range cat.DefenseCandidates {
		if _, ok := cat.Attack[attackID]; !ok {
			return nil, fmt.Errorf("config invalid: defense_map keys unknown attack strategy %q", attackID)
		}
		for _, d := range defenses {
			if _, ok := cat.Defense[d]; !ok {
				return nil, fmt.Errorf("config invalid: defense_map[%s] references unknown defense %q", attackID, d)
			}
		}
	}
	for defenseID, followups := range cat.FollowupCandidates {
		if _, ok := cat.Defense[defenseID]; !ok {
			return nil, fmt.Errorf("config invalid: followup_map keys unknown defense strategy %q", defenseID)
		}
		for _, f := range followups {
			if _, ok := cat.Followup[f]; !ok {
				return nil, fmt.Errorf("config invalid: followup_map[%s] references unknown followup %q", defenseID, f)
			}
		}
	}

	return cat, nil
}

func loadPhilosophers(path string, strategies *StrategyCatalog) (map[string]*PhilosopherProfile, map[string]*ModeratorStyle, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to read philosopher catalogue %s: %w", path, err)
	}

	var file philosophersFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, nil, "", fmt.Errorf("failed to parse philosopher catalogue %s: %w", path, err)
	}

	if len(file.Philosophers) == 0 {
		return nil, nil, "", fmt.Errorf("config invalid: philosopher catalogue %s is empty", path)
	}

	philosophers := make(map[string]*PhilosopherProfile, len(file.Philosophers))
	for _, p := range file.Philosophers {
		if p.Key == "" {
			return nil, nil, "", fmt.Errorf("config invalid: philosopher with empty key in %s", path)
		}
		if _, dup := philosophers[p.Key]; dup {
			return nil, nil, "", fmt.Errorf("config invalid: duplicate philosopher %q", p.Key)
		}
		if err := validateProfile(p, strategies); err != nil {
			return nil, nil, "", err
		}
		philosophers[p.Key] = p
	}

	moderators := make(map[string]*ModeratorStyle, len(file.Moderators))
	for _, m := range file.Moderators {
		if m.Key == "" {
			return nil, nil, "", fmt.Errorf("config invalid: moderator with empty key in %s", path)
		}
		moderators[m.Key] = m
	}
	if len(moderators) == 0 {
		return nil, nil, "", fmt.Errorf("config invalid: no moderators defined in %s", path)
	}

	defaultModerator := file.DefaultModerator
	if defaultModerator == "" {
		// Deterministic fallback: lexicographically first moderator key.
		keys := make([]string, 0, len(moderators))
		for k := range moderators {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		defaultModerator = keys[0]
	}
	if _, ok := moderators[defaultModerator]; !ok {
		return nil, nil, "", fmt.Errorf("config invalid: default_moderator %q not defined", defaultModerator)
	}

	return philosophers, moderators, defaultModerator, nil
}

func validateProfile(p *PhilosopherProfile, strategies *StrategyCatalog) error {
	for _, entry := range []struct {
		name    string
		weights map[string]float64
		in      map[string]Strategy
	}{
		{"attack_weights", p.AttackWeights, strategies.Attack},
		{"defense_weights", p.DefenseWeights, strategies.Defense},
		{"followup_weights", p.FollowupWeights, strategies.Followup},
	} {
		if len(entry.weights) == 0 {
			return fmt.Errorf("config invalid: philosopher %q has no %s", p.Key, entry.name)
		}
		var sum float64
		for id, w := range entry.weights {
			if _, ok := entry.in[id]; !ok {
				return fmt.Errorf("config invalid: philosopher %q %s references unknown strategy %q", p.Key, entry.name, id)
			}
			if w < 0 {
				return fmt.Errorf("config invalid: philosopher %q %s[%s] is negative", p.Key, entry.name, id)
			}
			sum += w
		}
		if math.Abs(sum-1) > weightSumEpsilon {
			return fmt.Errorf("config invalid: philosopher %q %s sums to %v, want 1", p.Key, entry.name, sum)
		}
	}

	if p.RAGAffinity < 0 || p.RAGAffinity > 1 {
		return fmt.Errorf("config invalid: philosopher %q rag_affinity %v out of [0,1]", p.Key, p.RAGAffinity)
	}

	for _, vec := range []struct {
		name string
		v    AxisVector
	}{
		{"vulnerability_sensitivity", p.VulnerabilitySensitivity},
		{"rag_stats", p.RAGStats},
	} {
		for axis, value := range vec.v {
			if !validAxis(axis) {
				return fmt.Errorf("config invalid: philosopher %q %s has unknown axis %q", p.Key, vec.name, axis)
			}
			if value < 0 || value > 1 {
				return fmt.Errorf("config invalid: philosopher %q %s[%s]=%v out of [0,1]", p.Key, vec.name, axis, value)
			}
		}
	}
	if len(p.RAGStats) != len(Axes) {
		return fmt.Errorf("config invalid: philosopher %q rag_stats must cover all %d axes", p.Key, len(Axes))
	}

	return nil
}

func validAxis(axis Axis) bool {
	for _, a := range Axes {
		if a == axis {
			return true
		}
	}
	return false
}
