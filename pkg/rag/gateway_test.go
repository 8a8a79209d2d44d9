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

package rag

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"
)

func TestMergeItems(t *testing.T) {
	batches := [][]Item{
		{
			{Origin: OriginPhilosopher, SourceID: "p1", Score: 0.8},
			{Origin: OriginPhilosopher, SourceID: "p2", Score: 0.4},
		},
		{
			{Origin: OriginWeb, SourceID: "w1", Score: 10},
			{Origin: OriginWeb, SourceID: "w2", Score: 5},
		},
	}
	weights := Weights{OriginPhilosopher: 1.0, OriginWeb: 0.5}

	merged := mergeItems(batches, weights, 10)
	if len(merged) != 4 {
		t.Fatalf("expected 4 items, got %d", len(merged))
	}

	// Per-batch max normalization: p1 -> 1.0*1.0, w1 -> 0.5*1.0,
	// p2 -> 1.0*0.5, w2 -> 0.5*0.5.
	wantOrder := []string{"p1", "p2", "w1", "w2"}
	for i, id := range wantOrder {
		if merged[i].SourceID != id {
			t.Fatalf("position %d: got %s, want %s", i, merged[i].SourceID, id)
		}
	}
	if math.Abs(merged[0].FinalScore-1.0) > 1e-9 {
		t.Errorf("p1 final score %v, want 1.0", merged[0].FinalScore)
	}
	if math.Abs(merged[3].FinalScore-0.25) > 1e-9 {
		t.Errorf("w2 final score %v, want 0.25", merged[3].FinalScore)
	}
}

func TestMergeItemsDeduplicatesBySourceID(t *testing.T) {
	batches := [][]Item{
		{{Origin: OriginVector, SourceID: "dup", Score: 1.0}},
		{{Origin: OriginPhilosopher, SourceID: "dup", Score: 1.0}},
	}
	weights := Weights{OriginVector: 0.7, OriginPhilosopher: 1.0}

	merged := mergeItems(batches, weights, 10)
	if len(merged) != 1 {
		t.Fatalf("expected 1 deduplicated item, got %d", len(merged))
	}
	if merged[0].Origin != OriginPhilosopher {
		t.Errorf("the higher-weighted duplicate must win, got %s", merged[0].Origin)
	}
}

func TestMergeItemsTruncates(t *testing.T) {
	batch := make([]Item, 8)
	for i := range batch {
		batch[i] = Item{Origin: OriginWeb, SourceID: string(rune('a' + i)), Score: float64(8 - i)}
	}
	merged := mergeItems([][]Item{batch}, Weights{OriginWeb: 1.0}, 3)
	if len(merged) != 3 {
		t.Fatalf("expected 3 items, got %d", len(merged))
	}
	if merged[0].SourceID != "a" {
		t.Errorf("truncation must keep the best items, got %s first", merged[0].SourceID)
	}
}

func TestMergeItemsTiesBreakBySourceID(t *testing.T) {
	batch := []Item{
		{Origin: OriginWeb, SourceID: "zeta", Score: 1.0},
		{Origin: OriginWeb, SourceID: "alpha", Score: 1.0},
	}
	merged := mergeItems([][]Item{batch}, Weights{OriginWeb: 1.0}, 10)
	if merged[0].SourceID != "alpha" {
		t.Errorf("equal scores must order by source id, got %s first", merged[0].SourceID)
	}
}

func TestCacheKeyNormalization(t *testing.T) {
	a := cacheKey("Free  Will\tand determinism", "web")
	b := cacheKey("free will and DETERMINISM", "web")
	if a != b {
		t.Errorf("queries differing in case and whitespace must share a key:\n%q\n%q", a, b)
	}
	if cacheKey("free will", "web") == cacheKey("free will", "vector:corpus") {
		t.Error("different source signatures must not collide")
	}
}

func TestQueryCacheTTL(t *testing.T) {
	cache, err := newQueryCache(4, time.Minute)
	if err != nil {
		t.Fatalf("newQueryCache: %v", err)
	}

	now := time.Now()
	cache.put("k", []Item{{SourceID: "s1"}}, now)

	if items, ok := cache.get("k", now.Add(30*time.Second)); !ok || len(items) != 1 {
		t.Fatal("expected a hit inside the TTL")
	}
	if _, ok := cache.get("k", now.Add(2*time.Minute)); ok {
		t.Fatal("expected a miss after the TTL")
	}
	// The expired entry is evicted, not just skipped.
	if cache.len() != 0 {
		t.Errorf("expected lazy eviction, %d entries remain", cache.len())
	}
}

func TestQueryCacheCopiesItems(t *testing.T) {
	cache, err := newQueryCache(4, time.Minute)
	if err != nil {
		t.Fatalf("newQueryCache: %v", err)
	}
	now := time.Now()
	original := []Item{{SourceID: "s1", Text: "original"}}
	cache.put("k", original, now)
	original[0].Text = "mutated"

	items, ok := cache.get("k", now)
	if !ok {
		t.Fatal("expected a hit")
	}
	if items[0].Text != "original" {
		t.Error("cache entries must not alias caller slices")
	}
	items[0].Text = "mutated again"
	if again, _ := cache.get("k", now); again[0].Text != "original" {
		t.Error("cache reads must not alias each other")
	}
}

type fakeWeb struct {
	items []Item
	err   error
}

func (f *fakeWeb) Search(ctx context.Context, query string, maxResults int) ([]Item, error) {
	return f.items, f.err
}

func testGateway(t *testing.T, web WebSearcher) *Gateway {
	t.Helper()
	cache, err := newQueryCache(16, time.Minute)
	if err != nil {
		t.Fatalf("newQueryCache: %v", err)
	}
	return &Gateway{
		web:             web,
		subTimeout:      time.Second,
		combinedTimeout: 2 * time.Second,
		cache:           cache,
		logger:          slog.Default(),
	}
}

func TestCombinedWebOnly(t *testing.T) {
	g := testGateway(t, &fakeWeb{items: []Item{
		{Origin: OriginWeb, SourceID: "w1", Score: 2},
		{Origin: OriginWeb, SourceID: "w2", Score: 1},
	}})

	res, err := g.Combined(context.Background(), "free will", Weights{OriginWeb: 0.5}, 5, "")
	if err != nil {
		t.Fatalf("Combined: %v", err)
	}
	if res.Partial {
		t.Error("a fully successful call must not be partial")
	}
	if len(res.Items) != 2 || res.Items[0].SourceID != "w1" {
		t.Fatalf("unexpected merge %+v", res.Items)
	}
	if len(res.Statuses) != 1 || !res.Statuses[0].OK {
		t.Fatalf("unexpected statuses %+v", res.Statuses)
	}
}

func TestCombinedAllSourcesFailed(t *testing.T) {
	g := testGateway(t, &fakeWeb{err: errors.New("engine down")})

	res, err := g.Combined(context.Background(), "free will", Weights{OriginWeb: 0.5}, 5, "")
	if err != nil {
		t.Fatalf("Combined: %v", err)
	}
	if len(res.Items) != 0 || !res.Partial {
		t.Fatalf("expected an empty partial result when every source fails, got %+v", res)
	}
	if len(res.Statuses) != 1 || res.Statuses[0].OK || res.Statuses[0].Error == "" {
		t.Errorf("statuses must report the failure, got %+v", res.Statuses)
	}
}

func TestCombinedNoEligibleSources(t *testing.T) {
	g := testGateway(t, nil)

	res, err := g.Combined(context.Background(), "free will", Weights{OriginWeb: 1.0}, 5, "")
	if err != nil {
		t.Fatalf("Combined: %v", err)
	}
	if len(res.Items) != 0 || res.Partial {
		t.Errorf("expected an empty clean result, got %+v", res)
	}
}

func TestWebSearchCaches(t *testing.T) {
	web := &fakeWeb{items: []Item{{Origin: OriginWeb, SourceID: "w1", Score: 1}}}
	g := testGateway(t, web)

	if _, err := g.WebSearch(context.Background(), "Free Will", 5); err != nil {
		t.Fatalf("WebSearch: %v", err)
	}
	// The engine breaks; the normalized query still answers from cache.
	web.err = errors.New("engine down")
	items, err := g.WebSearch(context.Background(), "free  will", 5)
	if err != nil {
		t.Fatalf("expected a cache hit, got %v", err)
	}
	if len(items) != 1 || items[0].SourceID != "w1" {
		t.Fatalf("unexpected cached items %+v", items)
	}
}

func TestClassifyTimeout(t *testing.T) {
	g := testGateway(t, nil)
	err := g.classify(context.DeadlineExceeded)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("deadline errors must map to ErrTimeout, got %v", err)
	}
	plain := errors.New("boom")
	if got := g.classify(plain); !errors.Is(got, plain) {
		t.Errorf("other errors pass through, got %v", got)
	}
}

func TestPhilosopherFromPath(t *testing.T) {
	cases := map[string]string{
		"kant/critique.txt":       "kant",
		"nietzsche/genealogy.pdf": "nietzsche",
		"common-notes.md":         "common",
		"hume/essays/enquiry.txt": "hume",
	}
	for rel, want := range cases {
		if got := philosopherFromPath(rel); got != want {
			t.Errorf("philosopherFromPath(%q) = %q, want %q", rel, got, want)
		}
	}
}
