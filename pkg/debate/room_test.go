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
	"testing"
	"time"
)

func TestNewRoomValidation(t *testing.T) {
	pro := philosopher("kant", RolePro)
	con := philosopher("nietzsche", RoleCon)

	cases := []struct {
		name         string
		topic        string
		participants []*Participant
	}{
		{"empty topic", "", []*Participant{pro, con}},
		{"missing con side", "t", []*Participant{pro}},
		{"missing pro side", "t", []*Participant{con}},
		{"duplicate id", "t", []*Participant{pro, philosopher("kant", RoleCon)}},
		{"empty id", "t", []*Participant{philosopher("", RolePro), con}},
		{"moderator role", "t", []*Participant{pro, con, {ID: "m", Role: RoleModerator}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRoom("r", tc.topic, "en", tc.participants, "", Config{}); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestStoreArgumentsIdempotent(t *testing.T) {
	room := newTestRoom(t, []*Participant{
		philosopher("kant", RolePro),
		philosopher("nietzsche", RoleCon),
	}, Config{MaxRounds: 1})

	first := []*Argument{
		{ID: "a1", SpeakerID: "nietzsche", SourceUtteranceID: "u1", Claim: "c1", Status: ArgumentScored},
		{ID: "a2", SpeakerID: "nietzsche", SourceUtteranceID: "u1", Claim: "c2", Status: ArgumentScored},
	}
	stored := room.StoreArguments("u1", first)
	if len(stored) != 2 {
		t.Fatalf("stored %d arguments, want 2", len(stored))
	}
	if !room.Analyzed("u1") {
		t.Fatal("utterance must be marked analyzed")
	}

	// A second analysis of the same utterance returns the original set and
	// stores nothing new.
	again := room.StoreArguments("u1", []*Argument{
		{ID: "a3", SpeakerID: "nietzsche", SourceUtteranceID: "u1", Claim: "other"},
	})
	if len(again) != 2 || again[0].ID != "a1" {
		t.Fatalf("expected the original arguments back, got %+v", again)
	}
	if _, ok := room.Argument("a3"); ok {
		t.Error("the duplicate analysis must not be stored")
	}
}

func TestBestTarget(t *testing.T) {
	room := newTestRoom(t, []*Participant{
		philosopher("kant", RolePro),
		philosopher("nietzsche", RoleCon),
	}, Config{MaxRounds: 1})

	room.StoreArguments("u1", []*Argument{
		{ID: "a1", SpeakerID: "nietzsche", SourceUtteranceID: "u1", Vulnerability: 0.4, Status: ArgumentScored},
		{ID: "a2", SpeakerID: "nietzsche", SourceUtteranceID: "u1", Vulnerability: 0.9, Status: ArgumentScored},
		{ID: "a3", SpeakerID: "nietzsche", SourceUtteranceID: "u1", Vulnerability: 0.99, Status: ArgumentPending},
	})
	room.StoreArguments("u2", []*Argument{
		{ID: "a4", SpeakerID: "kant", SourceUtteranceID: "u2", Vulnerability: 1.0, Status: ArgumentScored},
	})

	// Unscored arguments and the attacker's own side are not targets.
	target := room.BestTarget(SidePro)
	if target == nil || target.ID != "a2" {
		t.Fatalf("expected a2, got %+v", target)
	}

	room.MarkAttacked("a2")
	target = room.BestTarget(SidePro)
	if target == nil || target.ID != "a1" {
		t.Fatalf("expected a1 after a2 was attacked, got %+v", target)
	}

	room.MarkAttacked("a1")
	if target = room.BestTarget(SidePro); target != nil {
		t.Fatalf("expected no target left, got %+v", target)
	}
}

func TestRecentStrategiesWindow(t *testing.T) {
	room := newTestRoom(t, []*Participant{
		philosopher("kant", RolePro),
		philosopher("nietzsche", RoleCon),
	}, Config{MaxRounds: 1})

	room.RecordStrategyUse("kant", "a1", "Conceptual_Undermining")
	room.RecordStrategyUse("kant", "a1", "Logical_Dissection")
	room.RecordStrategyUse("kant", "a1", "Empirical_Challenge")

	recent := room.RecentStrategies("kant", "a1", 2)
	if len(recent) != 2 || recent[0] != "Logical_Dissection" || recent[1] != "Empirical_Challenge" {
		t.Fatalf("unexpected window %v", recent)
	}

	// Histories are scoped per (attacker, target) pair.
	if got := room.RecentStrategies("kant", "a2", 2); len(got) != 0 {
		t.Errorf("expected an empty history for a2, got %v", got)
	}
	if got := room.RecentStrategies("nietzsche", "a1", 2); len(got) != 0 {
		t.Errorf("expected an empty history for nietzsche, got %v", got)
	}
}

func TestPreparedOpeningLifecycle(t *testing.T) {
	room := newTestRoom(t, []*Participant{
		philosopher("kant", RolePro),
		philosopher("nietzsche", RoleCon),
	}, Config{MaxRounds: 1})
	room.SetStances("Free will is real.", "Free will is an illusion.")

	prep := &PreparedOpening{
		Text:       "prepared opening",
		Topic:      room.Topic(),
		StanceHash: HashStance("Free will is real."),
		PreparedAt: time.Now(),
	}
	room.SetPrepared("kant", prep)

	got, ok := room.Prepared("kant")
	if !ok || got.Text != "prepared opening" {
		t.Fatalf("expected the prepared opening back, got %v %v", got, ok)
	}
	if room.PreparedCount() != 1 {
		t.Errorf("expected 1 cached opening, got %d", room.PreparedCount())
	}

	// A stance change invalidates openings derived from the old stance.
	room.SetStances("Determinism is false.", "Free will is an illusion.")
	if _, ok := room.Prepared("kant"); ok {
		t.Fatal("stale opening must not survive a stance change")
	}
	if room.PreparedCount() != 0 {
		t.Errorf("expected an empty cache, got %d", room.PreparedCount())
	}
}

func TestPreparedStaleTopicDroppedOnRead(t *testing.T) {
	room := newTestRoom(t, []*Participant{
		philosopher("kant", RolePro),
		philosopher("nietzsche", RoleCon),
	}, Config{MaxRounds: 1})
	room.SetStances("pro stance", "con stance")

	room.SetPrepared("kant", &PreparedOpening{
		Text:       "wrong topic",
		Topic:      "some other topic",
		StanceHash: HashStance("pro stance"),
	})
	if _, ok := room.Prepared("kant"); ok {
		t.Fatal("an opening for a different topic must not be served")
	}
	if room.PreparedCount() != 0 {
		t.Error("the stale entry must be evicted on read")
	}
}

func TestSetPreparedAfterEndIsIgnored(t *testing.T) {
	room := newTestRoom(t, []*Participant{
		philosopher("kant", RolePro),
		philosopher("nietzsche", RoleCon),
	}, Config{MaxRounds: 1})
	room.End(EndReasonCancelled)

	room.SetPrepared("kant", &PreparedOpening{Text: "late", Topic: room.Topic()})
	if room.PreparedCount() != 0 {
		t.Error("a completed room must not accept prepared openings")
	}
}

func TestRecentHistory(t *testing.T) {
	room := newTestRoom(t, []*Participant{
		philosopher("kant", RolePro),
		philosopher("nietzsche", RoleCon),
	}, Config{MaxRounds: 1})

	now := time.Now()
	for i := 0; i < 4; i++ {
		step(t, room, now)
	}

	recent := room.RecentHistory(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 utterances, got %d", len(recent))
	}
	full := room.History()
	if recent[1].ID != full[len(full)-1].ID {
		t.Error("recent history must end at the newest utterance")
	}
	if got := room.RecentHistory(100); len(got) != len(full) {
		t.Errorf("oversized window must return the full history, got %d", len(got))
	}
}

func TestEstimateBytesGrowsWithHistory(t *testing.T) {
	room := newTestRoom(t, []*Participant{
		philosopher("kant", RolePro),
		philosopher("nietzsche", RoleCon),
	}, Config{MaxRounds: 1})

	before := room.EstimateBytes()
	step(t, room, time.Now())
	if after := room.EstimateBytes(); after <= before {
		t.Errorf("estimate did not grow: %d -> %d", before, after)
	}
}

func TestHashStanceStable(t *testing.T) {
	a := HashStance("free will is real")
	b := HashStance("free will is real")
	c := HashStance("free will is not real")
	if a != b {
		t.Error("hash must be deterministic")
	}
	if a == c {
		t.Error("different stances must hash differently")
	}
	if len(a) != 16 {
		t.Errorf("expected a 16-character hash, got %d", len(a))
	}
}
