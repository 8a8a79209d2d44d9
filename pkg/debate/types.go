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

// Package debate holds the core debate model: rooms, utterances, arguments,
// stages, and the turn scheduler. All room state mutation happens through
// methods on Room, serialized by the room's lock.
package debate

import (
	"time"

	"github.com/agonhq/agon/pkg/catalog"
)

// Side is the pro/con axis of the debate.
type Side string

const (
	SidePro Side = "pro"
	SideCon Side = "con"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SidePro {
		return SideCon
	}
	return SidePro
}

// Role is a participant's position in the room.
type Role string

const (
	RolePro       Role = "pro"
	RoleCon       Role = "con"
	RoleUserPro   Role = "user-pro"
	RoleUserCon   Role = "user-con"
	RoleModerator Role = "moderator"
)

// Side maps the role onto the pro/con axis. The moderator has no side.
func (r Role) Side() Side {
	switch r {
	case RolePro, RoleUserPro:
		return SidePro
	case RoleCon, RoleUserCon:
		return SideCon
	}
	return ""
}

// IsUser reports whether the role is held by a human participant.
func (r Role) IsUser() bool {
	return r == RoleUserPro || r == RoleUserCon
}

// Kind classifies an utterance.
type Kind string

const (
	KindOpening             Kind = "opening"
	KindAttack              Kind = "attack"
	KindDefense             Kind = "defense"
	KindFollowup            Kind = "followup"
	KindModeratorIntro      Kind = "moderator-intro"
	KindModeratorSummary    Kind = "moderator-summary"
	KindModeratorConclusion Kind = "moderator-conclusion"
	KindUserInput           Kind = "user-input"
	KindClosing             Kind = "closing"
)

// Interactive reports whether the kind belongs to the interactive phase and
// therefore requires a strategy id in metadata.
func (k Kind) Interactive() bool {
	return k == KindAttack || k == KindDefense || k == KindFollowup
}

// Stage is the debate protocol state.
type Stage string

const (
	StageModeratorIntro   Stage = "moderator_intro"
	StageProOpening       Stage = "pro_opening"
	StageConOpening       Stage = "con_opening"
	StageInteractive      Stage = "interactive_argument"
	StageProConclusion    Stage = "pro_conclusion"
	StageConConclusion    Stage = "con_conclusion"
	StageModeratorClosing Stage = "moderator_closing"
	StageCompleted        Stage = "completed"
)

// stageRank orders stages along the protocol DAG; transitions only move
// forward.
var stageRank = map[Stage]int{
	StageModeratorIntro:   0,
	StageProOpening:       1,
	StageConOpening:       2,
	StageInteractive:      3,
	StageProConclusion:    4,
	StageConConclusion:    5,
	StageModeratorClosing: 6,
	StageCompleted:        7,
}

// Capabilities is the explicit capability set replacing per-kind agent
// subclasses. The moderator is a participant with moderator capabilities.
type Capabilities struct {
	CanAttack         bool
	CanDefend         bool
	CanSummarize      bool
	CanDecideUserTurn bool
}

// Participant is one debate role holder within a room.
type Participant struct {
	ID           string
	Role         Role
	IsUser       bool
	Capabilities Capabilities
}

// ModeratorID is the reserved speaker id for the room moderator.
const ModeratorID = "moderator"

// RAGSource records one retrieved evidence item attached to an utterance.
type RAGSource struct {
	SourceName string  `json:"source_name"`
	Snippet    string  `json:"snippet"`
	Relevance  float64 `json:"relevance,omitempty"`
}

// Citation is an inline [n] citation marker resolved to its source.
type Citation struct {
	ID       int    `json:"id"`
	Source   string `json:"source"`
	Snippet  string `json:"snippet"`
	Location string `json:"location,omitempty"`
}

// Metadata carries per-utterance generation facts.
type Metadata struct {
	StrategyID       string      `json:"strategy_id,omitempty"`
	TargetArgumentID string      `json:"target_argument_id,omitempty"`
	RAGUsed          bool        `json:"rag_used"`
	RAGSourceCount   int         `json:"rag_source_count"`
	RAGSources       []RAGSource `json:"rag_sources,omitempty"`
	Citations        []Citation  `json:"citations,omitempty"`
	Fallback         bool        `json:"fallback,omitempty"`
}

// Utterance is one entry in a room's speaking history.
type Utterance struct {
	ID        string    `json:"id"`
	SpeakerID string    `json:"speaker_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Metadata  Metadata  `json:"metadata"`
}

// ArgumentStatus tracks an extracted argument through analysis and attack.
type ArgumentStatus string

const (
	ArgumentPending  ArgumentStatus = "pending-analysis"
	ArgumentScored   ArgumentStatus = "scored"
	ArgumentAttacked ArgumentStatus = "attacked"
)

// Argument is a structured claim extracted from an opponent utterance.
type Argument struct {
	ID                string             `json:"id"`
	SpeakerID         string             `json:"speaker_id"`
	SourceUtteranceID string             `json:"source_utterance_id"`
	Claim             string             `json:"claim"`
	Premises          []string           `json:"premises,omitempty"`
	Evidence          []string           `json:"evidence,omitempty"`
	Vulnerability     float64            `json:"vulnerability"`
	AxisScores        catalog.AxisVector `json:"axis_scores,omitempty"`
	Status            ArgumentStatus     `json:"status"`
}

// TurnDescriptor tells the builder who speaks next and how.
type TurnDescriptor struct {
	Stage     Stage     `json:"stage"`
	SpeakerID string    `json:"speaker_id"`
	IsUser    bool      `json:"is_user"`
	KindHint  Kind      `json:"kind_hint"`
	Deadline  time.Time `json:"deadline,omitempty"`
}

// PreparedOpening is a pre-computed opening utterance with the inputs it was
// derived from; it is valid only while those inputs are unchanged.
type PreparedOpening struct {
	Text       string
	Metadata   Metadata
	Topic      string
	StanceHash string
	PreparedAt time.Time
}

// EndReason explains why a room reached the completed stage.
type EndReason string

const (
	EndReasonFinished  EndReason = "finished"
	EndReasonEvicted   EndReason = "evicted"
	EndReasonCancelled EndReason = "cancelled"
)
