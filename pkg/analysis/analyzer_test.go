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

package analysis

import (
	"context"
	"testing"

	"github.com/agonhq/agon/pkg/debate"
	"github.com/agonhq/agon/pkg/llms"
)

// scriptedCompleter replays canned responses in order.
type scriptedCompleter struct {
	responses []string
	calls     int
}

func (s *scriptedCompleter) Complete(ctx context.Context, req llms.Request) (*llms.Result, error) {
	if s.calls >= len(s.responses) {
		return &llms.Result{Text: "{}"}, nil
	}
	text := s.responses[s.calls]
	s.calls++
	return &llms.Result{Text: text}, nil
}

func (s *scriptedCompleter) ModelName() string { return "scripted" }
func (s *scriptedCompleter) Close() error      { return nil }

func newTestAnalyzer(t *testing.T, responses ...string) (*Analyzer, *scriptedCompleter) {
	t.Helper()
	stub := &scriptedCompleter{responses: responses}
	r := llms.NewRegistry()
	if err := r.RegisterProvider("scripted", stub); err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}
	if err := r.BindAlias(llms.AliasMid, "scripted"); err != nil {
		t.Fatalf("BindAlias: %v", err)
	}
	a, err := NewAnalyzer(r)
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}
	return a, stub
}

func testRoom(t *testing.T) *debate.Room {
	t.Helper()
	room, err := debate.NewRoom("r", "Is free will an illusion?", "en", []*debate.Participant{
		{ID: "kant", Role: debate.RolePro, Capabilities: debate.Capabilities{CanAttack: true, CanDefend: true}},
		{ID: "nietzsche", Role: debate.RoleCon, Capabilities: debate.Capabilities{CanAttack: true, CanDefend: true}},
	}, "", debate.Config{MaxRounds: 1})
	if err != nil {
		t.Fatalf("NewRoom: %v", err)
	}
	return room
}

const extractionJSON = `{"arguments": [
	{"claim": "Choice is mere chemistry.", "premises": ["brains obey physics"], "key_concept": "choice"},
	{"claim": "Moral praise is incoherent.", "premises": ["no agent authors their character"]}
]}`

const scoringJSON = `{"scores": [
	{"data_respect": 0.3, "conceptual_precision": 0.8, "systematic_logic": 0.5, "pragmatic_orientation": 0.2, "rhetorical_independence": 0.4, "overall": 0.7},
	{"data_respect": 0.2, "conceptual_precision": 0.5, "systematic_logic": 0.6, "pragmatic_orientation": 0.3, "rhetorical_independence": 0.3, "overall": 0.5}
]}`

func TestAnalyze(t *testing.T) {
	a, stub := newTestAnalyzer(t, extractionJSON, scoringJSON)
	room := testRoom(t)

	u := debate.Utterance{
		ID:        "u-1",
		SpeakerID: "nietzsche",
		Role:      debate.RoleCon,
		Text:      "Choice is mere chemistry, and so moral praise is incoherent.",
	}

	args, err := a.Analyze(context.Background(), room, debate.SidePro, u)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(args) != 2 {
		t.Fatalf("expected 2 arguments, got %d", len(args))
	}
	if args[0].Claim != "Choice is mere chemistry." || args[0].Status != debate.ArgumentScored {
		t.Errorf("unexpected first argument %+v", args[0])
	}
	if args[0].Vulnerability != 0.7 {
		t.Errorf("vulnerability %v, want 0.7", args[0].Vulnerability)
	}
	if args[0].SpeakerID != "nietzsche" || args[0].SourceUtteranceID != "u-1" {
		t.Errorf("provenance wrong: %+v", args[0])
	}
	if stub.calls != 2 {
		t.Fatalf("expected extract + score calls, got %d", stub.calls)
	}

	// Re-analysis of the same utterance answers from the room cache.
	again, err := a.Analyze(context.Background(), room, debate.SidePro, u)
	if err != nil {
		t.Fatalf("Analyze again: %v", err)
	}
	if len(again) != 2 || again[0].ID != args[0].ID {
		t.Errorf("expected the cached arguments back, got %+v", again)
	}
	if stub.calls != 2 {
		t.Errorf("cached analysis must not call the model, got %d calls", stub.calls)
	}

	// The room can now target the most vulnerable claim.
	target := room.BestTarget(debate.SidePro)
	if target == nil || target.Claim != "Choice is mere chemistry." {
		t.Errorf("unexpected best target %+v", target)
	}
}

func TestAnalyzeSkipsNonOpponents(t *testing.T) {
	a, stub := newTestAnalyzer(t)
	room := testRoom(t)

	cases := []struct {
		name string
		u    debate.Utterance
	}{
		{"empty text", debate.Utterance{ID: "u-1", SpeakerID: "nietzsche", Role: debate.RoleCon, Text: "   "}},
		{"moderator", debate.Utterance{ID: "u-2", SpeakerID: debate.ModeratorID, Role: debate.RoleModerator, Text: "welcome"}},
		{"same side", debate.Utterance{ID: "u-3", SpeakerID: "kant", Role: debate.RolePro, Text: "my own point"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			args, err := a.Analyze(context.Background(), room, debate.SidePro, tc.u)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if args != nil {
				t.Errorf("expected no analysis, got %+v", args)
			}
		})
	}
	if stub.calls != 0 {
		t.Errorf("no model calls expected, got %d", stub.calls)
	}
}

func TestAnalyzeExtractionSchemaFailureDegrades(t *testing.T) {
	// Both the initial response and the repair are unusable.
	a, stub := newTestAnalyzer(t, "not json", "still not json")
	room := testRoom(t)

	u := debate.Utterance{ID: "u-1", SpeakerID: "nietzsche", Role: debate.RoleCon, Text: "some text"}
	args, err := a.Analyze(context.Background(), room, debate.SidePro, u)
	if err != nil {
		t.Fatalf("schema failures must degrade, not error: %v", err)
	}
	if args != nil {
		t.Errorf("expected no arguments, got %+v", args)
	}
	if stub.calls != 2 {
		t.Errorf("expected initial + repair calls, got %d", stub.calls)
	}
}

func TestAnalyzeScoringFailureLeavesPending(t *testing.T) {
	a, _ := newTestAnalyzer(t, extractionJSON, "not json", "still not json")
	room := testRoom(t)

	u := debate.Utterance{ID: "u-1", SpeakerID: "nietzsche", Role: debate.RoleCon, Text: "some text"}
	args, err := a.Analyze(context.Background(), room, debate.SidePro, u)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(args) != 2 {
		t.Fatalf("expected the extracted arguments, got %d", len(args))
	}
	for _, arg := range args {
		if arg.Status != debate.ArgumentPending {
			t.Errorf("unscored argument must stay pending, got %s", arg.Status)
		}
	}
	// Pending arguments are never attack targets.
	if target := room.BestTarget(debate.SidePro); target != nil {
		t.Errorf("pending arguments must not be targeted, got %+v", target)
	}
}

func TestAnalyzeCapsArgumentCount(t *testing.T) {
	many := `{"arguments": [
		{"claim": "one"}, {"claim": "two"}, {"claim": "three"},
		{"claim": "four"}, {"claim": "five"}
	]}`
	scores := `{"scores": [
		{"overall": 0.1}, {"overall": 0.2}, {"overall": 0.3}
	]}`
	a, _ := newTestAnalyzer(t, many, scores)
	room := testRoom(t)

	u := debate.Utterance{ID: "u-1", SpeakerID: "nietzsche", Role: debate.RoleCon, Text: "a flood of claims"}
	args, err := a.Analyze(context.Background(), room, debate.SidePro, u)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(args) != MaxArguments {
		t.Fatalf("expected the cap of %d, got %d", MaxArguments, len(args))
	}
}
