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

package rooms

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/agonhq/agon/pkg/builder"
	"github.com/agonhq/agon/pkg/catalog"
	"github.com/agonhq/agon/pkg/debate"
	"github.com/agonhq/agon/pkg/eventbus"
	"github.com/agonhq/agon/pkg/rag"
	"github.com/agonhq/agon/pkg/strategy"
)

// TurnResult reports one advance_turn call. Exactly one of Utterance or
// AwaitingUser is meaningful.
type TurnResult struct {
	Descriptor debate.TurnDescriptor `json:"descriptor"`

	// AwaitingUser is set when the next speaker is human; no utterance is
	// generated until they submit or time out.
	AwaitingUser bool `json:"awaiting_user"`

	Utterance *debate.Utterance `json:"utterance,omitempty"`
	Stage     debate.Stage      `json:"stage"`
	Ended     bool              `json:"ended"`
}

// AdvanceTurn executes the next turn of a room: computes the descriptor,
// generates the utterance (or arms the user-turn timeout), appends it, and
// publishes the resulting events.
func (s *Service) AdvanceTurn(ctx context.Context, roomID string) (*TurnResult, error) {
	entry, ok := s.rooms.Get(roomID)
	if !ok {
		return nil, ErrUnknownRoom
	}
	room := entry.room

	desc, err := room.BeginTurn(time.Now())
	if err != nil {
		return nil, err
	}

	s.bus.Publish(eventbus.Event{
		Type:      eventbus.TypeTurnStarted,
		RoomID:    roomID,
		SpeakerID: desc.SpeakerID,
		Kind:      desc.KindHint,
		IsUser:    desc.IsUser,
	})

	if desc.IsUser {
		s.armUserTimer(entry, desc)
		return &TurnResult{Descriptor: desc, AwaitingUser: true, Stage: room.Stage()}, nil
	}

	s.bus.Publish(eventbus.Event{
		Type:      eventbus.TypeThinking,
		RoomID:    roomID,
		SpeakerID: desc.SpeakerID,
	})

	started := time.Now()
	turnCtx, span := s.tracer.StartTurn(entry.ctx, roomID, desc.SpeakerID, string(desc.KindHint))
	u, genErr := s.generate(turnCtx, room, desc)
	span.End()

	if genErr != nil {
		if errors.Is(genErr, debate.ErrCompleted) || entry.ctx.Err() != nil {
			room.AbortTurn()
			return nil, debate.ErrRoomEnded
		}
		s.logger.Warn("turn generation fell back", "room", roomID, "speaker", desc.SpeakerID, "error", genErr)
		p := room.Participant(desc.SpeakerID)
		role := debate.RoleModerator
		name := desc.SpeakerID
		if p != nil {
			role = p.Role
			if profile := s.catalog.Philosopher(p.ID); profile != nil {
				name = profile.Name
			}
		}
		u = s.builder.Fallback(desc, role, name)
		// Interactive utterances always carry a catalogue strategy id, even
		// canned ones.
		if desc.KindHint.Interactive() {
			u.Metadata.StrategyID = s.selector.Default(catalog.StrategyKind(desc.KindHint))
		}
	}

	trans, err := room.CompleteTurn(desc, u)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTurn(ctx, string(desc.KindHint), time.Since(started).Seconds(), u.Metadata.Fallback)
	s.publishTransition(ctx, entry, trans)

	return &TurnResult{
		Descriptor: desc,
		Utterance:  &trans.Utterance,
		Stage:      trans.To,
		Ended:      trans.Ended,
	}, nil
}

// SubmitUserMessage accepts a human participant's turn. First accepted
// submission wins; others get debate.ErrNotYourTurn.
func (s *Service) SubmitUserMessage(ctx context.Context, roomID, userID, text string) (*debate.Utterance, error) {
	entry, ok := s.rooms.Get(roomID)
	if !ok {
		return nil, ErrUnknownRoom
	}

	trans, err := entry.room.SubmitUser(userID, text, time.Now())
	if err != nil {
		return nil, err
	}
	s.cancelUserTimer(roomID)
	s.publishTransition(ctx, entry, trans)
	return &trans.Utterance, nil
}

// armUserTimer schedules the automatic yield for an expired user turn.
func (s *Service) armUserTimer(entry *roomEntry, desc debate.TurnDescriptor) {
	if desc.Deadline.IsZero() {
		return
	}
	roomID := entry.room.ID()
	delay := time.Until(desc.Deadline)

	s.mu.Lock()
	if old, ok := s.userTimers[roomID]; ok {
		old.Stop()
	}
	s.userTimers[roomID] = time.AfterFunc(delay, func() {
		s.cancelUserTimer(roomID)
		trans, yielded := entry.room.YieldUserTurn(time.Now())
		if !yielded {
			return
		}
		s.logger.Info("user turn timed out", "room", roomID, "speaker", desc.SpeakerID)
		s.publishTransition(entry.ctx, entry, trans)
	})
	s.mu.Unlock()
}

// publishTransition emits the events for one appended utterance and persists
// it behind the turn path.
func (s *Service) publishTransition(ctx context.Context, entry *roomEntry, trans debate.Transition) {
	roomID := entry.room.ID()

	utterance := trans.Utterance
	s.bus.Publish(eventbus.Event{
		Type:      eventbus.TypeNewMessage,
		RoomID:    roomID,
		SpeakerID: utterance.SpeakerID,
		Kind:      utterance.Kind,
		Utterance: &utterance,
	})
	if trans.From != trans.To {
		s.bus.Publish(eventbus.Event{
			Type:   eventbus.TypeStageChanged,
			RoomID: roomID,
			From:   trans.From,
			To:     trans.To,
		})
	}

	s.persistUtterance(ctx, roomID, trans.Utterance)
	s.persistRoom(ctx, entry.room)

	if trans.Ended {
		s.endEntry(ctx, entry, debate.EndReasonFinished)
	}
}

// generate produces the utterance for a non-user turn.
func (s *Service) generate(ctx context.Context, room *debate.Room, desc debate.TurnDescriptor) (debate.Utterance, error) {
	switch desc.KindHint {
	case debate.KindModeratorIntro, debate.KindModeratorSummary, debate.KindModeratorConclusion:
		return s.generateModerator(ctx, room, desc)
	case debate.KindOpening:
		return s.generateOpening(ctx, room, desc)
	case debate.KindClosing:
		return s.generateClosing(ctx, room, desc)
	default:
		return s.generateInteractive(ctx, room, desc)
	}
}

func (s *Service) generateModerator(ctx context.Context, room *debate.Room, desc debate.TurnDescriptor) (debate.Utterance, error) {
	return s.builder.Build(ctx, builder.Input{
		Topic:      room.Topic(),
		Language:   room.Language(),
		Descriptor: desc,
		Role:       debate.RoleModerator,
		History:    room.RecentHistory(builder.RecentHistoryWindow),
		Moderator:  s.catalog.Moderator(room.ModeratorStyle()),
	})
}

// generateOpening serves from the prepared cache when valid, otherwise runs
// the preparation pipeline synchronously.
func (s *Service) generateOpening(ctx context.Context, room *debate.Room, desc debate.TurnDescriptor) (debate.Utterance, error) {
	p := room.Participant(desc.SpeakerID)
	profile := s.catalog.Philosopher(p.ID)
	if profile == nil {
		return debate.Utterance{}, ErrUnknownRoom
	}

	prep, err := s.preparer.GetPreparedOrGenerate(ctx, room, p, profile)
	if err == nil {
		u := debate.Utterance{
			ID:        uuid.NewString(),
			SpeakerID: p.ID,
			Role:      p.Role,
			Text:      prep.Text,
			Timestamp: time.Now(),
			Kind:      debate.KindOpening,
			Metadata:  prep.Metadata,
		}
		return u, nil
	}
	s.logger.Warn("prepared opening unavailable, generating directly", "room", room.ID(), "speaker", p.ID, "error", err)

	return s.builder.Build(ctx, builder.Input{
		Topic:      room.Topic(),
		Language:   room.Language(),
		Stance:     room.StanceFor(p.Role.Side()),
		Descriptor: desc,
		Role:       p.Role,
		History:    room.RecentHistory(builder.RecentHistoryWindow),
		Profile:    profile,
	})
}

func (s *Service) generateClosing(ctx context.Context, room *debate.Room, desc debate.TurnDescriptor) (debate.Utterance, error) {
	p := room.Participant(desc.SpeakerID)
	return s.builder.Build(ctx, builder.Input{
		Topic:      room.Topic(),
		Language:   room.Language(),
		Stance:     room.StanceFor(p.Role.Side()),
		Descriptor: desc,
		Role:       p.Role,
		History:    room.RecentHistory(builder.RecentHistoryWindow),
		Profile:    s.catalog.Philosopher(p.ID),
	})
}

func (s *Service) generateInteractive(ctx context.Context, room *debate.Room, desc debate.TurnDescriptor) (debate.Utterance, error) {
	p := room.Participant(desc.SpeakerID)
	profile := s.catalog.Philosopher(p.ID)
	side := p.Role.Side()

	s.analyzeOpponents(ctx, room, side)

	in := builder.Input{
		Topic:      room.Topic(),
		Language:   room.Language(),
		Stance:     room.StanceFor(side),
		Descriptor: desc,
		Role:       p.Role,
		History:    room.RecentHistory(builder.RecentHistoryWindow),
		Profile:    profile,
	}

	var sel strategy.Selection
	var err error
	switch desc.KindHint {
	case debate.KindAttack:
		target := room.BestTarget(side)
		blocked := []string{}
		if target != nil {
			in.Target = target
			blocked = room.RecentStrategies(p.ID, target.ID, strategy.BlocklistWindow)
		}
		vulnerability := catalog.AxisVector{}
		if target != nil {
			vulnerability = target.AxisScores
		}
		sel, err = s.selector.SelectAttack(profile, vulnerability, blocked)

	case debate.KindDefense:
		sel, err = s.selector.SelectDefense(profile, strategy.AttackInfo{
			StrategyID: lastOpponentStrategy(room, side, debate.KindAttack),
		})

	default:
		sel, err = s.selector.SelectFollowup(profile, strategy.DefenseInfo{
			StrategyID: lastOpponentStrategy(room, side, debate.KindDefense),
		})
	}
	if err != nil {
		// An empty candidate set falls back to the catalogue default.
		if errors.Is(err, strategy.ErrEmpty) {
			sel = strategy.Selection{StrategyID: s.selector.Default(catalog.StrategyKind(desc.KindHint))}
		} else {
			return debate.Utterance{}, err
		}
	}
	in.StrategyID = sel.StrategyID
	if strat, lookupErr := s.selector.Lookup(sel.Kind, sel.StrategyID); lookupErr == nil {
		in.StrategyCue = strat.Cue
	}

	if desc.KindHint == debate.KindAttack {
		decision, decErr := s.selector.DecideRAG(sel.StrategyID, profile)
		if decErr == nil && decision.UseRAG {
			in.Evidence = s.retrieve(ctx, room, profile, in.Target)
		}
	}

	u, err := s.builder.Build(ctx, in)
	if err != nil {
		return debate.Utterance{}, err
	}

	if in.Target != nil {
		room.RecordStrategyUse(p.ID, in.Target.ID, sel.StrategyID)
		room.MarkAttacked(in.Target.ID)
	}
	return u, nil
}

// analyzeOpponents makes sure the latest opponent utterances have stored
// arguments before target selection. Analysis is idempotent per utterance.
func (s *Service) analyzeOpponents(ctx context.Context, room *debate.Room, side debate.Side) {
	if s.analyzer == nil {
		return
	}
	history := room.RecentHistory(builder.RecentHistoryWindow)
	for _, u := range history {
		if u.Role == debate.RoleModerator || u.Role.Side() == side {
			continue
		}
		if _, err := s.analyzer.Analyze(ctx, room, side, u); err != nil {
			s.logger.Warn("opponent analysis failed", "room", room.ID(), "utterance", u.ID, "error", err)
		}
	}
}

// retrieve runs the combined retrieval for an attack turn. Failure returns
// no evidence rather than failing the turn.
func (s *Service) retrieve(ctx context.Context, room *debate.Room, profile *catalog.PhilosopherProfile, target *debate.Argument) []rag.Item {
	if s.gateway == nil {
		return nil
	}
	query := room.Topic()
	if target != nil {
		query = target.Claim
	}
	result, err := s.gateway.Combined(ctx, query, rag.Weights{
		rag.OriginPhilosopher: 1.0,
		rag.OriginVector:      0.7,
		rag.OriginWeb:         0.5,
	}, 4, profile.Key)
	if err != nil {
		s.logger.Debug("attack retrieval failed", "room", room.ID(), "error", err)
		return nil
	}
	s.metrics.RecordRAGCall(ctx, "combined", false)
	return result.Items
}

// lastOpponentStrategy finds the strategy id on the most recent opposing
// utterance of the given kind.
func lastOpponentStrategy(room *debate.Room, side debate.Side, kind debate.Kind) string {
	history := room.History()
	for i := len(history) - 1; i >= 0; i-- {
		u := history[i]
		if u.Role == debate.RoleModerator || u.Role.Side() == side {
			continue
		}
		if u.Kind == kind {
			return u.Metadata.StrategyID
		}
		if u.Kind.Interactive() {
			// A different interactive move supersedes older ones.
			return u.Metadata.StrategyID
		}
	}
	return ""
}
