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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agonhq/agon/pkg/builder"
	"github.com/agonhq/agon/pkg/catalog"
	"github.com/agonhq/agon/pkg/config"
	"github.com/agonhq/agon/pkg/debate"
	"github.com/agonhq/agon/pkg/eventbus"
	"github.com/agonhq/agon/pkg/llms"
	"github.com/agonhq/agon/pkg/prepare"
)

// routingCompleter answers by request shape instead of call order, so the
// background preparation goroutines cannot race the scripted turns.
type routingCompleter struct {
	mu    sync.Mutex
	calls []llms.Request
}

func (c *routingCompleter) Complete(ctx context.Context, req llms.Request) (*llms.Result, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.mu.Unlock()
	switch {
	case strings.Contains(req.System, "You set up formal debates"):
		return &llms.Result{Text: `{"pro": "Yes.", "con": "No."}`}, nil
	case strings.Contains(req.System, "preparing for a debate"):
		// A plan without arguments fails preparation, forcing the direct
		// opening path without any retrieval.
		return &llms.Result{Text: `{"arguments": []}`}, nil
	default:
		return &llms.Result{Text: "Let us begin."}, nil
	}
}

func (c *routingCompleter) ModelName() string { return "routing" }
func (c *routingCompleter) Close() error      { return nil }

func newRunnerService(t *testing.T, cfg *config.DebateConfig) *Service {
	t.Helper()
	stub := &routingCompleter{}
	r := llms.NewRegistry()
	if err := r.RegisterProvider("routing", stub); err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}
	for _, alias := range []llms.Alias{llms.AliasHigh, llms.AliasMid, llms.AliasLow} {
		if err := r.BindAlias(alias, "routing"); err != nil {
			t.Fatalf("BindAlias: %v", err)
		}
	}
	return NewService(Options{
		Config:   cfg,
		Catalog:  testCatalog(),
		Builder:  builder.New(r, time.Second),
		Preparer: prepare.New(r, nil, time.Second),
		Bus:      eventbus.New(32),
	})
}

func TestAdvanceTurnFullDebate(t *testing.T) {
	s := newRunnerService(t, &config.DebateConfig{MaxActiveRooms: 4, MaxRounds: 0})
	ctx := context.Background()

	room, err := s.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sub, err := s.Subscribe(room.ID())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	wantKinds := []debate.Kind{
		debate.KindModeratorIntro,
		debate.KindOpening,
		debate.KindOpening,
		debate.KindClosing,
		debate.KindClosing,
		debate.KindModeratorConclusion,
	}
	var last *TurnResult
	for i, want := range wantKinds {
		res, err := s.AdvanceTurn(ctx, room.ID())
		if err != nil {
			t.Fatalf("AdvanceTurn %d: %v", i, err)
		}
		if res.AwaitingUser || res.Utterance == nil {
			t.Fatalf("turn %d produced no utterance: %+v", i, res)
		}
		if res.Utterance.Kind != want {
			t.Fatalf("turn %d kind %s, want %s", i, res.Utterance.Kind, want)
		}
		if res.Utterance.Text != "Let us begin." {
			t.Errorf("turn %d text %q", i, res.Utterance.Text)
		}
		last = res
	}

	if !last.Ended || last.Stage != debate.StageCompleted {
		t.Errorf("final turn must complete the debate: %+v", last)
	}
	ended, reason := room.Ended()
	if !ended || reason != debate.EndReasonFinished {
		t.Errorf("room not finished: %v %s", ended, reason)
	}
	if _, err := s.AdvanceTurn(ctx, room.ID()); !errors.Is(err, ErrUnknownRoom) {
		t.Errorf("a finished room leaves the registry, got %v", err)
	}

	var messages, stageChanges, ends int
	for ev := range sub.C() {
		switch ev.Type {
		case eventbus.TypeNewMessage:
			messages++
		case eventbus.TypeStageChanged:
			stageChanges++
		case eventbus.TypeRoomEnded:
			ends++
			if ev.Reason != debate.EndReasonFinished {
				t.Errorf("room_ended reason %s, want finished", ev.Reason)
			}
		}
	}
	if messages != 6 || stageChanges != 6 || ends != 1 {
		t.Errorf("events: %d messages, %d stage changes, %d ends", messages, stageChanges, ends)
	}
}

func TestAdvanceTurnFallsBackWithoutModels(t *testing.T) {
	// The builder's registry resolves nothing, so every generation fails and
	// the deterministic fallback carries the turn.
	s := newTestService(t, nil)
	ctx := context.Background()

	room, err := s.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := s.AdvanceTurn(ctx, room.ID())
	if err != nil {
		t.Fatalf("AdvanceTurn: %v", err)
	}
	if res.Utterance == nil || !res.Utterance.Metadata.Fallback {
		t.Fatalf("expected a fallback utterance, got %+v", res.Utterance)
	}
	if res.Utterance.Kind != debate.KindModeratorIntro {
		t.Errorf("kind %s", res.Utterance.Kind)
	}
	if res.Stage != debate.StageProOpening {
		t.Errorf("the fallback still advances the stage, got %s", res.Stage)
	}

	// The opening turn runs through the defaulted preparer and degrades to
	// the canned opening the same way.
	res, err = s.AdvanceTurn(ctx, room.ID())
	if err != nil {
		t.Fatalf("opening turn: %v", err)
	}
	if res.Utterance == nil || !res.Utterance.Metadata.Fallback || res.Utterance.Kind != debate.KindOpening {
		t.Fatalf("expected a fallback opening, got %+v", res.Utterance)
	}
}

func TestInteractiveFallbackCarriesStrategyID(t *testing.T) {
	cat := testCatalog()
	cat.Strategies = &catalog.StrategyCatalog{
		Attack: map[string]catalog.Strategy{
			"Conceptual_Undermining": {ID: "Conceptual_Undermining", Cue: "Question the load-bearing concept."},
		},
		DefaultAttack: "Conceptual_Undermining",
	}
	s := NewService(Options{
		Config:  &config.DebateConfig{MaxActiveRooms: 4, MaxRounds: 1},
		Catalog: cat,
		Builder: builder.New(llms.NewRegistry(), time.Second),
		Bus:     eventbus.New(16),
	})
	ctx := context.Background()

	room, err := s.Create(ctx, createRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Intro, both openings, then the first interactive turn; every one of
	// them falls back since no model resolves.
	var res *TurnResult
	for i := 0; i < 4; i++ {
		res, err = s.AdvanceTurn(ctx, room.ID())
		if err != nil {
			t.Fatalf("AdvanceTurn %d: %v", i, err)
		}
	}
	u := res.Utterance
	if u == nil || u.Kind != debate.KindAttack || !u.Metadata.Fallback {
		t.Fatalf("expected a fallback attack, got %+v", u)
	}
	if u.Metadata.StrategyID != "Conceptual_Undermining" {
		t.Errorf("fallback attack must carry a catalogue strategy id, got %+v", u.Metadata)
	}
}

func TestUserTurnFlow(t *testing.T) {
	s := newRunnerService(t, &config.DebateConfig{
		MaxActiveRooms:  4,
		MaxRounds:       1,
		UserTurnTimeout: time.Minute,
	})
	ctx := context.Background()

	room, err := s.Create(ctx, CreateRequest{
		Topic: "Is free will an illusion?",
		Participants: []ParticipantSpec{
			{ID: "alice", Role: debate.RoleUserPro},
			{ID: "nietzsche", Role: debate.RoleCon},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.AdvanceTurn(ctx, room.ID()); err != nil {
		t.Fatalf("intro turn: %v", err)
	}

	res, err := s.AdvanceTurn(ctx, room.ID())
	if err != nil {
		t.Fatalf("user turn: %v", err)
	}
	if !res.AwaitingUser || res.Utterance != nil {
		t.Fatalf("expected an awaiting-user result, got %+v", res)
	}
	if res.Descriptor.SpeakerID != "alice" || res.Descriptor.Deadline.IsZero() {
		t.Errorf("descriptor %+v", res.Descriptor)
	}

	if _, err := s.AdvanceTurn(ctx, room.ID()); !errors.Is(err, debate.ErrAwaitingUser) {
		t.Errorf("expected ErrAwaitingUser while gated, got %v", err)
	}
	if _, err := s.SubmitUserMessage(ctx, room.ID(), "nietzsche", "not my cue"); !errors.Is(err, debate.ErrNotYourTurn) {
		t.Errorf("expected ErrNotYourTurn, got %v", err)
	}

	u, err := s.SubmitUserMessage(ctx, room.ID(), "alice", "I claim the will is free.")
	if err != nil {
		t.Fatalf("SubmitUserMessage: %v", err)
	}
	if u.Kind != debate.KindUserInput || u.SpeakerID != "alice" {
		t.Errorf("unexpected utterance %+v", u)
	}
	if room.Stage() != debate.StageConOpening {
		t.Errorf("stage after the user opening: %s", room.Stage())
	}
	if _, err := s.SubmitUserMessage(ctx, room.ID(), "alice", "again"); !errors.Is(err, debate.ErrNotYourTurn) {
		t.Errorf("a second submission must lose, got %v", err)
	}
}
