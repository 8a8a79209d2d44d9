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

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/agonhq/agon/pkg/catalog"
	"github.com/agonhq/agon/pkg/debate"
	"github.com/agonhq/agon/pkg/llms"
	"github.com/agonhq/agon/pkg/rag"
)

// scriptedCompleter replays canned results, failing the first failures calls.
type scriptedCompleter struct {
	text     string
	failures int
	calls    int
	requests []llms.Request
}

func (s *scriptedCompleter) Complete(ctx context.Context, req llms.Request) (*llms.Result, error) {
	s.calls++
	s.requests = append(s.requests, req)
	if s.calls <= s.failures {
		return nil, llms.ErrTimeout
	}
	return &llms.Result{Text: s.text}, nil
}

func (s *scriptedCompleter) ModelName() string { return "scripted" }
func (s *scriptedCompleter) Close() error      { return nil }

func testRegistry(t *testing.T, completer llms.Completer) *llms.Registry {
	t.Helper()
	r := llms.NewRegistry()
	if err := r.RegisterProvider("scripted", completer); err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}
	for _, alias := range []llms.Alias{llms.AliasHigh, llms.AliasMid, llms.AliasLow} {
		if err := r.BindAlias(alias, "scripted"); err != nil {
			t.Fatalf("BindAlias: %v", err)
		}
	}
	return r
}

func kantInput(kind debate.Kind) Input {
	return Input{
		Topic:  "Is free will an illusion?",
		Stance: "Free will is real.",
		Descriptor: debate.TurnDescriptor{
			Stage:     debate.StageInteractive,
			SpeakerID: "kant",
			KindHint:  kind,
		},
		Role: debate.RolePro,
		Profile: &catalog.PhilosopherProfile{
			Key:     "kant",
			Name:    "Immanuel Kant",
			Essence: "Systematic critic of reason's limits.",
		},
	}
}

func TestBuild(t *testing.T) {
	completer := &scriptedCompleter{text: "  The concept of illusion presupposes a standard of reality. "}
	b := New(testRegistry(t, completer), time.Second)

	in := kantInput(debate.KindAttack)
	in.StrategyID = "Conceptual_Undermining"
	in.Target = &debate.Argument{ID: "a1", Claim: "Choice is mere chemistry."}

	u, err := b.Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if u.SpeakerID != "kant" || u.Role != debate.RolePro || u.Kind != debate.KindAttack {
		t.Errorf("unexpected utterance envelope %+v", u)
	}
	if u.Text != "The concept of illusion presupposes a standard of reality." {
		t.Errorf("text not trimmed: %q", u.Text)
	}
	if u.Metadata.StrategyID != "Conceptual_Undermining" {
		t.Errorf("strategy id missing, got %q", u.Metadata.StrategyID)
	}
	if u.Metadata.TargetArgumentID != "a1" {
		t.Errorf("target argument missing, got %q", u.Metadata.TargetArgumentID)
	}
	if u.Metadata.RAGUsed {
		t.Error("no evidence was supplied")
	}
	if completer.calls != 1 {
		t.Errorf("expected a single completion, got %d", completer.calls)
	}
}

func TestBuildRetriesWithReducedHistory(t *testing.T) {
	completer := &scriptedCompleter{text: "Recovered.", failures: 1}
	b := New(testRegistry(t, completer), time.Second)

	in := kantInput(debate.KindDefense)
	for i := 0; i < 10; i++ {
		in.History = append(in.History, debate.Utterance{
			SpeakerID: "nietzsche",
			Text:      "provocation",
		})
	}

	u, err := b.Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if u.Text != "Recovered." {
		t.Errorf("unexpected text %q", u.Text)
	}
	if completer.calls != 2 {
		t.Fatalf("expected one retry, got %d calls", completer.calls)
	}

	// The retry prompt carries less history than the first attempt.
	first := strings.Count(completer.requests[0].User, "provocation")
	second := strings.Count(completer.requests[1].User, "provocation")
	if first != RecentHistoryWindow || second != reducedHistoryWindow {
		t.Errorf("history windows %d/%d, want %d/%d",
			first, second, RecentHistoryWindow, reducedHistoryWindow)
	}
}

func TestBuildSecondFailureSurfaces(t *testing.T) {
	completer := &scriptedCompleter{failures: 2}
	b := New(testRegistry(t, completer), time.Second)

	_, err := b.Build(context.Background(), kantInput(debate.KindAttack))
	if !errors.Is(err, llms.ErrTimeout) {
		t.Fatalf("expected the timeout to surface, got %v", err)
	}
	if completer.calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", completer.calls)
	}
}

func TestBuildEvidenceAndCitations(t *testing.T) {
	completer := &scriptedCompleter{text: "As the Critique argues [1], causality is a category of thought [1][3]."}
	b := New(testRegistry(t, completer), time.Second)

	in := kantInput(debate.KindAttack)
	in.Evidence = []rag.Item{
		{SourceID: "c1", Title: "Critique of Pure Reason", Text: "causality passage", FinalScore: 0.9},
		{SourceID: "c2", Text: "unused passage", FinalScore: 0.5},
	}

	u, err := b.Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !u.Metadata.RAGUsed || u.Metadata.RAGSourceCount != 2 {
		t.Errorf("rag accounting wrong: %+v", u.Metadata)
	}
	// [1] resolves once; the duplicate and the out-of-range [3] are dropped.
	if len(u.Metadata.Citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(u.Metadata.Citations))
	}
	c := u.Metadata.Citations[0]
	if c.ID != 1 || c.Source != "Critique of Pure Reason" || c.Location != "c1" {
		t.Errorf("unexpected citation %+v", c)
	}

	// The prompt lists the evidence with its markers.
	prompt := completer.requests[0].User
	if !strings.Contains(prompt, "[1] (Critique of Pure Reason) causality passage") {
		t.Errorf("evidence list missing from prompt:\n%s", prompt)
	}
}

func TestBuildModeratorRole(t *testing.T) {
	completer := &scriptedCompleter{text: "Welcome to tonight's debate."}
	b := New(testRegistry(t, completer), time.Second)

	u, err := b.Build(context.Background(), Input{
		Topic: "Is free will an illusion?",
		Descriptor: debate.TurnDescriptor{
			Stage:     debate.StageModeratorIntro,
			SpeakerID: debate.ModeratorID,
			KindHint:  debate.KindModeratorIntro,
		},
		Moderator: &catalog.ModeratorStyle{Key: "socratic_host", Name: "The Socratic Host", Style: "probing"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if u.Role != debate.RoleModerator {
		t.Errorf("expected moderator role, got %s", u.Role)
	}
	if !strings.Contains(completer.requests[0].System, "The Socratic Host") {
		t.Error("moderator persona missing from system prompt")
	}
}

func TestFallback(t *testing.T) {
	b := New(nil, time.Second)
	desc := debate.TurnDescriptor{SpeakerID: "kant", KindHint: debate.KindAttack}

	u := b.Fallback(desc, debate.RolePro, "Immanuel Kant")
	if u.Text != "Immanuel Kant yields the turn." {
		t.Errorf("unexpected fallback text %q", u.Text)
	}
	if !u.Metadata.Fallback {
		t.Error("fallback metadata not set")
	}

	// Without a display name the speaker id is used.
	u = b.Fallback(desc, debate.RolePro, "")
	if u.Text != "kant yields the turn." {
		t.Errorf("unexpected fallback text %q", u.Text)
	}
}

func TestExtractCitationsEdgeCases(t *testing.T) {
	evidence := []rag.Item{
		{SourceID: "s1", Text: "first"},
		{SourceID: "s2", Text: "second"},
	}

	if got := extractCitations("no markers here", evidence); got != nil {
		t.Errorf("expected no citations, got %+v", got)
	}
	if got := extractCitations("[1] and [2]", nil); got != nil {
		t.Errorf("markers without evidence resolve to nothing, got %+v", got)
	}
	if got := extractCitations("[0] [3] [99]", evidence); got != nil {
		t.Errorf("out-of-range markers resolve to nothing, got %+v", got)
	}

	got := extractCitations("[2] then [1] then [2]", evidence)
	if len(got) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(got))
	}
	// Order follows first appearance in the text.
	if got[0].ID != 2 || got[1].ID != 1 {
		t.Errorf("unexpected citation order %+v", got)
	}
}

func TestPolicyFor(t *testing.T) {
	opening := PolicyFor(debate.KindOpening)
	if opening.TargetMin != 600 || opening.TargetMax != 900 || opening.HardCap != 1300 {
		t.Errorf("unexpected opening policy %+v", opening)
	}
	attack := PolicyFor(debate.KindAttack)
	if attack.TargetMax != 160 {
		t.Errorf("unexpected attack policy %+v", attack)
	}
	// Unknown kinds fall back to the interactive band.
	if PolicyFor(debate.KindUserInput) != attack {
		t.Error("unknown kinds must use the default policy")
	}
}

func TestAliasByKind(t *testing.T) {
	completer := &scriptedCompleter{text: "x"}
	b := New(testRegistry(t, completer), time.Second)

	// Openings use the high tier's larger budget end to end; interactive
	// turns stay on the tight cap.
	if _, err := b.Build(context.Background(), kantInput(debate.KindOpening)); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := completer.requests[0].MaxTokens; got != 1300 {
		t.Errorf("opening hard cap %d, want 1300", got)
	}
	if _, err := b.Build(context.Background(), kantInput(debate.KindAttack)); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := completer.requests[1].MaxTokens; got != 300 {
		t.Errorf("attack hard cap %d, want 300", got)
	}
}
