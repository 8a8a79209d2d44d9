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

package debate

import "time"

// ParticipantView is the externally visible participant description.
type ParticipantView struct {
	ID     string `json:"id"`
	Role   Role   `json:"role"`
	IsUser bool   `json:"is_user"`
}

// Snapshot is a consistent point-in-time copy of a room's visible state.
type Snapshot struct {
	ID              string            `json:"id"`
	Topic           string            `json:"topic"`
	Language        string            `json:"language"`
	StancePro       string            `json:"stance_pro"`
	StanceCon       string            `json:"stance_con"`
	Participants    []ParticipantView `json:"participants"`
	ModeratorStyle  string            `json:"moderator_style"`
	Stage           Stage             `json:"stage"`
	Round           int               `json:"round"`
	History         []Utterance       `json:"history"`
	AwaitingUser    bool              `json:"awaiting_user"`
	ExpectedSpeaker string            `json:"expected_speaker,omitempty"`
	EndReason       EndReason         `json:"end_reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	LastActivity    time.Time         `json:"last_activity"`
}

// Snapshot captures the room state under a single lock acquisition.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	participants := make([]ParticipantView, 0, len(r.participants))
	for _, p := range r.participants {
		participants = append(participants, ParticipantView{ID: p.ID, Role: p.Role, IsUser: p.IsUser})
	}
	history := make([]Utterance, len(r.history))
	copy(history, r.history)

	return Snapshot{
		ID:              r.id,
		Topic:           r.topic,
		Language:        r.language,
		StancePro:       r.stancePro,
		StanceCon:       r.stanceCon,
		Participants:    participants,
		ModeratorStyle:  r.moderatorStyle,
		Stage:           r.stage,
		Round:           r.round,
		History:         history,
		AwaitingUser:    r.awaitingUser,
		ExpectedSpeaker: r.expectedSpeaker,
		EndReason:       r.endReason,
		CreatedAt:       r.createdAt,
		LastActivity:    r.lastActivity,
	}
}
