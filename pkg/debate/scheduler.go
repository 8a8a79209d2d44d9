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
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transition describes one scheduler step: what was appended and whether the
// protocol stage moved.
type Transition struct {
	Utterance Utterance
	From      Stage
	To        Stage
	Round     int
	Ended     bool
}

// BeginTurn computes the next turn descriptor and reserves the room for it.
// Non-user turns set the in-flight flag until CompleteTurn or AbortTurn;
// user turns instead gate the room on the expected speaker.
func (r *Room) BeginTurn(now time.Time) (TurnDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stage == StageCompleted {
		return TurnDescriptor{}, ErrCompleted
	}
	if r.awaitingUser {
		return TurnDescriptor{}, ErrAwaitingUser
	}
	if r.turnInFlight {
		return TurnDescriptor{}, ErrBusy
	}

	desc, err := r.nextDescriptor()
	if err != nil {
		return TurnDescriptor{}, err
	}

	if desc.IsUser {
		r.awaitingUser = true
		r.expectedSpeaker = desc.SpeakerID
		if r.cfg.UserTurnTimeout > 0 {
			r.userDeadline = now.Add(r.cfg.UserTurnTimeout)
			desc.Deadline = r.userDeadline
		}
	} else {
		r.turnInFlight = true
	}
	r.lastActivity = now
	return desc, nil
}

// PeekTurn returns the next descriptor without reserving the room.
func (r *Room) PeekTurn() (TurnDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stage == StageCompleted {
		return TurnDescriptor{}, ErrCompleted
	}
	if r.awaitingUser {
		desc := TurnDescriptor{
			Stage:     r.stage,
			SpeakerID: r.expectedSpeaker,
			IsUser:    true,
			KindHint:  KindUserInput,
			Deadline:  r.userDeadline,
		}
		return desc, nil
	}
	return r.nextDescriptor()
}

// nextDescriptor resolves the next speaker from the current stage. Lock held.
func (r *Room) nextDescriptor() (TurnDescriptor, error) {
	switch r.stage {
	case StageModeratorIntro:
		return r.moderatorTurn(KindModeratorIntro), nil

	case StageProOpening:
		return r.openingTurn(SidePro)

	case StageConOpening:
		return r.openingTurn(SideCon)

	case StageInteractive:
		if r.pendingSummary {
			return r.moderatorTurn(KindModeratorSummary), nil
		}
		for _, id := range r.rotation {
			if r.spoken[id] {
				continue
			}
			p := r.Participant(id)
			desc := TurnDescriptor{
				Stage:     StageInteractive,
				SpeakerID: id,
				IsUser:    p.IsUser,
			}
			if p.IsUser {
				desc.KindHint = KindUserInput
			} else {
				desc.KindHint = r.interactiveKind(p)
			}
			return desc, nil
		}
		return TurnDescriptor{}, fmt.Errorf("no eligible interactive speaker in room %s", r.id)

	case StageProConclusion:
		return r.conclusionTurn(SidePro)

	case StageConConclusion:
		return r.conclusionTurn(SideCon)

	case StageModeratorClosing:
		return r.moderatorTurn(KindModeratorConclusion), nil
	}
	return TurnDescriptor{}, ErrCompleted
}

func (r *Room) moderatorTurn(kind Kind) TurnDescriptor {
	return TurnDescriptor{Stage: r.stage, SpeakerID: ModeratorID, KindHint: kind}
}

// openingTurn picks the first not-yet-spoken participant on the given side,
// in declaration order.
func (r *Room) openingTurn(side Side) (TurnDescriptor, error) {
	for _, p := range r.participants {
		if p.Role.Side() != side || r.spoken[p.ID] {
			continue
		}
		desc := TurnDescriptor{Stage: r.stage, SpeakerID: p.ID, IsUser: p.IsUser, KindHint: KindOpening}
		if p.IsUser {
			desc.KindHint = KindUserInput
		}
		return desc, nil
	}
	return TurnDescriptor{}, fmt.Errorf("no eligible opening speaker in room %s", r.id)
}

// conclusionTurn assigns each side's closing statement to its first-listed
// participant.
func (r *Room) conclusionTurn(side Side) (TurnDescriptor, error) {
	for _, p := range r.participants {
		if p.Role.Side() != side {
			continue
		}
		desc := TurnDescriptor{Stage: r.stage, SpeakerID: p.ID, IsUser: p.IsUser, KindHint: KindClosing}
		if p.IsUser {
			desc.KindHint = KindUserInput
		}
		return desc, nil
	}
	return TurnDescriptor{}, fmt.Errorf("no eligible closing speaker in room %s", r.id)
}

// interactiveKind derives the hint from the most recent opponent move:
// an unanswered attack invites a defense, a defense invites a followup,
// anything else invites a fresh attack. A speaker's first interactive turn
// with no opposing attack on the table is always an attack.
func (r *Room) interactiveKind(p *Participant) Kind {
	side := p.Role.Side()
	for i := len(r.history) - 1; i >= 0; i-- {
		u := r.history[i]
		if u.Role == RoleModerator {
			continue
		}
		if !u.Kind.Interactive() && u.Kind != KindUserInput {
			break
		}
		if u.Role.Side() == side {
			continue
		}
		switch u.Kind {
		case KindAttack:
			if p.Capabilities.CanDefend {
				return KindDefense
			}
			return KindAttack
		case KindDefense:
			return KindFollowup
		default:
			return KindAttack
		}
	}
	return KindAttack
}

// CompleteTurn appends a generated utterance and advances the protocol.
// Speaker and stage must match the descriptor handed out by BeginTurn.
func (r *Room) CompleteTurn(desc TurnDescriptor, u Utterance) (Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stage == StageCompleted {
		r.turnInFlight = false
		return Transition{}, ErrCompleted
	}
	if !r.turnInFlight {
		return Transition{}, fmt.Errorf("no turn in flight for room %s", r.id)
	}
	r.turnInFlight = false

	if desc.Stage != r.stage || desc.SpeakerID != u.SpeakerID {
		return Transition{}, fmt.Errorf("stale turn descriptor for room %s", r.id)
	}
	return r.append(u), nil
}

// AbortTurn releases the in-flight reservation without appending, used when
// the room ends mid-generation.
func (r *Room) AbortTurn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turnInFlight = false
}

// SubmitUser accepts a human turn. The room must be gated on exactly this
// speaker; a second concurrent submission loses with ErrNotYourTurn.
func (r *Room) SubmitUser(speakerID, text string, now time.Time) (Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stage == StageCompleted {
		return Transition{}, ErrRoomEnded
	}
	p := r.Participant(speakerID)
	if p == nil {
		return Transition{}, ErrUnknownParticipant
	}
	if !r.awaitingUser || r.expectedSpeaker != speakerID {
		return Transition{}, ErrNotYourTurn
	}

	r.awaitingUser = false
	r.expectedSpeaker = ""
	r.userDeadline = time.Time{}

	u := Utterance{
		ID:        uuid.NewString(),
		SpeakerID: speakerID,
		Role:      p.Role,
		Text:      text,
		Timestamp: now,
		Kind:      KindUserInput,
	}
	return r.append(u), nil
}

// YieldUserTurn resolves an expired user turn with an automatic pass so the
// debate keeps moving. Returns false when the room is not awaiting input or
// the deadline has not passed.
func (r *Room) YieldUserTurn(now time.Time) (Transition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stage == StageCompleted || !r.awaitingUser {
		return Transition{}, false
	}
	if r.userDeadline.IsZero() || now.Before(r.userDeadline) {
		return Transition{}, false
	}

	speakerID := r.expectedSpeaker
	p := r.Participant(speakerID)
	r.awaitingUser = false
	r.expectedSpeaker = ""
	r.userDeadline = time.Time{}

	u := Utterance{
		ID:        uuid.NewString(),
		SpeakerID: speakerID,
		Role:      p.Role,
		Text:      fmt.Sprintf("%s yields the turn.", speakerID),
		Timestamp: now,
		Kind:      KindUserInput,
		Metadata:  Metadata{Fallback: true},
	}
	return r.append(u), true
}

// End transitions the room to completed. Idempotent; the first reason wins.
func (r *Room) End(reason EndReason) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stage == StageCompleted {
		return false
	}
	r.stage = StageCompleted
	r.endReason = reason
	r.awaitingUser = false
	r.expectedSpeaker = ""
	r.turnInFlight = false
	r.lastActivity = time.Now()
	return true
}

// append commits an utterance to history and advances the stage machine.
// Lock held. Timestamps are forced strictly increasing.
func (r *Room) append(u Utterance) Transition {
	if n := len(r.history); n > 0 && !u.Timestamp.After(r.history[n-1].Timestamp) {
		u.Timestamp = r.history[n-1].Timestamp.Add(time.Millisecond)
	}
	r.history = append(r.history, u)
	r.lastActivity = u.Timestamp

	from := r.stage
	r.advance(u)

	return Transition{
		Utterance: u,
		From:      from,
		To:        r.stage,
		Round:     r.round,
		Ended:     r.stage == StageCompleted,
	}
}

// advance runs the stage transition rules after an utterance lands. Lock
// held.
func (r *Room) advance(u Utterance) {
	switch r.stage {
	case StageModeratorIntro:
		r.enterStage(StageProOpening)

	case StageProOpening:
		r.spoken[u.SpeakerID] = true
		if r.sideDone(SidePro) {
			r.enterStage(StageConOpening)
		}

	case StageConOpening:
		r.spoken[u.SpeakerID] = true
		if r.sideDone(SideCon) {
			if r.cfg.MaxRounds <= 0 {
				r.enterStage(StageProConclusion)
			} else {
				r.enterStage(StageInteractive)
				r.round = 1
			}
		}

	case StageInteractive:
		if u.Kind == KindModeratorSummary {
			r.pendingSummary = false
			r.advanceRound()
			return
		}
		r.spoken[u.SpeakerID] = true
		if !r.rotationDone() {
			return
		}
		summaryDue := r.cfg.SummaryEveryNRounds > 0 &&
			r.round%r.cfg.SummaryEveryNRounds == 0 &&
			r.round < r.cfg.MaxRounds
		if summaryDue {
			r.pendingSummary = true
			return
		}
		r.advanceRound()

	case StageProConclusion:
		r.enterStage(StageConConclusion)

	case StageConConclusion:
		r.enterStage(StageModeratorClosing)

	case StageModeratorClosing:
		r.stage = StageCompleted
		r.endReason = EndReasonFinished
	}
}

// advanceRound moves to the next interactive round or on to conclusions.
// Lock held.
func (r *Room) advanceRound() {
	if r.round >= r.cfg.MaxRounds {
		r.enterStage(StageProConclusion)
		r.round = 0
		return
	}
	r.round++
	r.spoken = map[string]bool{}
}

// enterStage resets per-stage bookkeeping. Transitions only move forward.
// Lock held.
func (r *Room) enterStage(next Stage) {
	if stageRank[next] <= stageRank[r.stage] {
		return
	}
	r.stage = next
	r.spoken = map[string]bool{}
	r.pendingSummary = false
}

func (r *Room) sideDone(side Side) bool {
	for _, p := range r.participants {
		if p.Role.Side() == side && !r.spoken[p.ID] {
			return false
		}
	}
	return true
}

func (r *Room) rotationDone() bool {
	for _, id := range r.rotation {
		if !r.spoken[id] {
			return false
		}
	}
	return true
}
