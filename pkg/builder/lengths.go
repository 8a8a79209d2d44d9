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

package builder

import "github.com/agonhq/agon/pkg/debate"

// LengthPolicy bounds an utterance: the target band goes into the prompt,
// the hard cap goes into the completion request.
type LengthPolicy struct {
	TargetMin int
	TargetMax int
	HardCap   int
}

var lengthPolicies = map[debate.Kind]LengthPolicy{
	debate.KindOpening:             {600, 900, 1300},
	debate.KindAttack:              {80, 160, 300},
	debate.KindDefense:             {80, 160, 300},
	debate.KindFollowup:            {80, 160, 300},
	debate.KindClosing:             {300, 600, 1000},
	debate.KindModeratorIntro:      {400, 800, 1500},
	debate.KindModeratorSummary:    {300, 600, 1500},
	debate.KindModeratorConclusion: {300, 600, 1500},
}

// stanceLengthPolicy bounds the per-role stance statements.
var stanceLengthPolicy = LengthPolicy{80, 150, 300}

// PolicyFor returns the length policy for an utterance kind.
func PolicyFor(kind debate.Kind) LengthPolicy {
	if p, ok := lengthPolicies[kind]; ok {
		return p
	}
	return LengthPolicy{80, 160, 300}
}
