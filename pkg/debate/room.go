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

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Config holds the per-room scheduling knobs, fixed at room creation.
type Config struct {
	MaxRounds           int
	SummaryEveryNRounds int
	UserTurnTimeout     time.Duration
}

// Room is one debate instance. The registry exclusively owns rooms; all
// mutation goes through methods here, serialized by the room lock.
type Room struct {
	id             string
	topic          string
	language       string
	dialogueType   string
	participants   []*Participant
	moderatorStyle string
	cfg            Config
	createdAt      time.Time

	mu sync.Mutex

	stancePro string
	stanceCon string

	stage           Stage
	history         []Utterance
	round           int
	rotation        []string
	spoken          map[string]bool
	pendingSummary  bool
	awaitingUser    bool
	expectedSpeaker string
	userDeadline    time.Time
	turnInFlight    bool
	endReason       EndReason

	arguments        map[string][]*Argument
	argumentIndex    map[string]*Argument
	analyzed         map[string][]string
	recentStrategies map[string][]string
	prepared         map[string]*PreparedOpening

	lastActivity time.Time
}

// NewRoom builds a room in the moderator_intro stage.
func NewRoom(id, topic, language string, participants []*Participant, moderatorStyle string, cfg Config) (*Room, error) {
	if topic == "" {
		return nil, fmt.Errorf("room topic cannot be empty")
	}
	var hasPro, hasCon bool
	seen := map[string]bool{}
	for _, p := range participants {
		if p.ID == "" {
			return nil, fmt.Errorf("participant with empty id")
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate participant id %q", p.ID)
		}
		seen[p.ID] = true
		switch p.Role.Side() {
		case SidePro:
			hasPro = true
		case SideCon:
			hasCon = true
		default:
			return nil, fmt.Errorf("participant %q has invalid role %q", p.ID, p.Role)
		}
	}
	if !hasPro || !hasCon {
		return nil, fmt.Errorf("debate needs at least one participant per side")
	}

	now := time.Now()
	return &Room{
		id:               id,
		topic:            topic,
		language:         language,
		dialogueType:     "debate",
		participants:     participants,
		moderatorStyle:   moderatorStyle,
		cfg:              cfg,
		createdAt:        now,
		lastActivity:     now,
		stage:            StageModeratorIntro,
		rotation:         interleaveRotation(participants),
		spoken:           map[string]bool{},
		arguments:        map[string][]*Argument{},
		argumentIndex:    map[string]*Argument{},
		analyzed:         map[string][]string{},
		recentStrategies: map[string][]string{},
		prepared:         map[string]*PreparedOpening{},
	}, nil
}

// interleaveRotation builds the fixed interactive speaking order
// [pro1, con1, pro2, con2, ...], appending any unpaired tail in order.
func interleaveRotation(participants []*Participant) []string {
	var pros, cons []string
	for _, p := range participants {
		switch p.Role.Side() {
		case SidePro:
			pros = append(pros, p.ID)
		case SideCon:
			cons = append(cons, p.ID)
		}
	}
	rotation := make([]string, 0, len(pros)+len(cons))
	for i := 0; i < len(pros) || i < len(cons); i++ {
		if i < len(pros) {
			rotation = append(rotation, pros[i])
		}
		if i < len(cons) {
			rotation = append(rotation, cons[i])
		}
	}
	return rotation
}

func (r *Room) ID() string           { return r.id }
func (r *Room) Topic() string        { return r.topic }
func (r *Room) Language() string     { return r.language }
func (r *Room) ModeratorStyle() string { return r.moderatorStyle }
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// Participants returns the ordered participant list (read-only after
// creation).
func (r *Room) Participants() []*Participant {
	return r.participants
}

// Participant returns the participant with the given id, or nil.
func (r *Room) Participant(id string) *Participant {
	for _, p := range r.participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// SetStances records the generated stance statements. Prepared openings that
// were derived from different stances are invalidated.
func (r *Room) SetStances(pro, con string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stancePro = pro
	r.stanceCon = con
	for id, prep := range r.prepared {
		p := r.Participant(id)
		if p == nil {
			delete(r.prepared, id)
			continue
		}
		if prep.Topic != r.topic || prep.StanceHash != HashStance(r.stanceFor(p.Role.Side())) {
			delete(r.prepared, id)
		}
	}
}

// Stances returns the pro and con stance statements.
func (r *Room) Stances() (string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stancePro, r.stanceCon
}

// StanceFor returns the stance statement for a side.
func (r *Room) StanceFor(side Side) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stanceFor(side)
}

func (r *Room) stanceFor(side Side) string {
	if side == SidePro {
		return r.stancePro
	}
	return r.stanceCon
}

// Stage returns the current protocol stage.
func (r *Room) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// Round returns the current interactive round (1-based, 0 outside the
// interactive stage).
func (r *Room) Round() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.round
}

// LastActivity returns the time of the last state change.
func (r *Room) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// AwaitingUser reports whether the room is gated on user input and for whom.
func (r *Room) AwaitingUser() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.awaitingUser, r.expectedSpeaker
}

// UserDeadline returns the soft deadline for the pending user turn.
func (r *Room) UserDeadline() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.awaitingUser {
		return time.Time{}, false
	}
	return r.userDeadline, true
}

// History returns a copy of the speaking history.
func (r *Room) History() []Utterance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Utterance, len(r.history))
	copy(out, r.history)
	return out
}

// RecentHistory returns up to n most recent utterances in chronological
// order.
func (r *Room) RecentHistory(n int) []Utterance {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := len(r.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]Utterance, len(r.history)-start)
	copy(out, r.history[start:])
	return out
}

// Ended reports whether the room reached the completed stage and why.
func (r *Room) Ended() (bool, EndReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage == StageCompleted, r.endReason
}

// EstimateBytes approximates the room's memory footprint for the registry's
// memory sweeps.
func (r *Room) EstimateBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64 = 4096
	for _, u := range r.history {
		total += int64(len(u.Text)) + 512
	}
	for _, args := range r.arguments {
		for _, a := range args {
			total += int64(len(a.Claim)) + 256
		}
	}
	for _, p := range r.prepared {
		total += int64(len(p.Text))
	}
	return total
}

// HashStance returns a short stable hash of a stance statement, used for
// prepared-opening invalidation.
func HashStance(stance string) string {
	sum := sha256.Sum256([]byte(stance))
	return hex.EncodeToString(sum[:8])
}

// ----------------------------------------------------------------------------
// Opponent-analysis cache

// StoreArguments records analyzed arguments for a speaker, idempotent per
// source utterance: repeated analysis of the same utterance returns the
// originally stored arguments.
func (r *Room) StoreArguments(sourceUtteranceID string, args []*Argument) []*Argument {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ids, done := r.analyzed[sourceUtteranceID]; done {
		out := make([]*Argument, 0, len(ids))
		for _, id := range ids {
			if a, ok := r.argumentIndex[id]; ok {
				out = append(out, a)
			}
		}
		return out
	}

	ids := make([]string, 0, len(args))
	for _, a := range args {
		r.arguments[a.SpeakerID] = append(r.arguments[a.SpeakerID], a)
		r.argumentIndex[a.ID] = a
		ids = append(ids, a.ID)
	}
	r.analyzed[sourceUtteranceID] = ids
	return args
}

// Analyzed reports whether an utterance has been analyzed already.
func (r *Room) Analyzed(sourceUtteranceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.analyzed[sourceUtteranceID]
	return ok
}

// Argument returns a stored argument by id.
func (r *Room) Argument(id string) (*Argument, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.argumentIndex[id]
	return a, ok
}

// BestTarget returns the highest-vulnerability scored (not yet attacked)
// argument made by the given side's opponents.
func (r *Room) BestTarget(attackerSide Side) *Argument {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *Argument
	for speakerID, args := range r.arguments {
		p := r.Participant(speakerID)
		if p == nil || p.Role.Side() == attackerSide {
			continue
		}
		for _, a := range args {
			if a.Status != ArgumentScored {
				continue
			}
			if best == nil || a.Vulnerability > best.Vulnerability {
				best = a
			}
		}
	}
	return best
}

// MarkAttacked transitions an argument to the attacked status.
func (r *Room) MarkAttacked(argumentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.argumentIndex[argumentID]; ok {
		a.Status = ArgumentAttacked
	}
}

// strategyKey scopes the repetition blocklist per (attacker, target) pair.
func strategyKey(attackerID, targetArgumentID string) string {
	return attackerID + "|" + targetArgumentID
}

// RecentStrategies returns up to n most recently used strategy ids by an
// attacker against a target argument, newest last.
func (r *Room) RecentStrategies(attackerID, targetArgumentID string, n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	used := r.recentStrategies[strategyKey(attackerID, targetArgumentID)]
	if len(used) > n {
		used = used[len(used)-n:]
	}
	out := make([]string, len(used))
	copy(out, used)
	return out
}

// RecordStrategyUse appends to the per-(attacker, target) strategy history.
func (r *Room) RecordStrategyUse(attackerID, targetArgumentID, strategyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strategyKey(attackerID, targetArgumentID)
	r.recentStrategies[key] = append(r.recentStrategies[key], strategyID)
}

// ----------------------------------------------------------------------------
// Prepared-opening cache

// SetPrepared stores a prepared opening for a participant. Entries derived
// from stale inputs are dropped on read.
func (r *Room) SetPrepared(participantID string, prep *PreparedOpening) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stage == StageCompleted {
		return
	}
	r.prepared[participantID] = prep
}

// Prepared returns the participant's prepared opening if it is still valid
// for the room's current topic and stance.
func (r *Room) Prepared(participantID string) (*PreparedOpening, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prep, ok := r.prepared[participantID]
	if !ok {
		return nil, false
	}
	p := r.Participant(participantID)
	if p == nil {
		return nil, false
	}
	if prep.Topic != r.topic || prep.StanceHash != HashStance(r.stanceFor(p.Role.Side())) {
		delete(r.prepared, participantID)
		return nil, false
	}
	return prep, true
}

// InvalidatePrepared drops a participant's prepared opening.
func (r *Room) InvalidatePrepared(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.prepared, participantID)
}

// PreparedCount reports how many prepared openings are cached.
func (r *Room) PreparedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prepared)
}
