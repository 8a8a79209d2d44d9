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
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/agonhq/agon/pkg/config"
	"github.com/agonhq/agon/pkg/embedder"
	"github.com/agonhq/agon/pkg/vector"
)

// PhilosopherCollection is the vector collection holding the indexed
// per-philosopher corpus. Items carry a "philosopher" metadata key.
const PhilosopherCollection = "philosopher_corpus"

const defaultSourceBudget = 5

// Gateway is the single entry point for retrieval. All methods respect the
// configured sub-source timeout; Combined additionally bounds the whole call.
type Gateway struct {
	web        WebSearcher
	vectors    vector.Provider
	embed      embedder.Embedder
	collection string

	subTimeout      time.Duration
	combinedTimeout time.Duration

	cache  *queryCache
	logger *slog.Logger
}

func NewGateway(cfg *config.RAGConfig, web WebSearcher, vectors vector.Provider, embed embedder.Embedder) (*Gateway, error) {
	cache, err := newQueryCache(cfg.CacheSize, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrieval cache: %w", err)
	}
	return &Gateway{
		web:             web,
		vectors:         vectors,
		embed:           embed,
		collection:      cfg.Collection,
		subTimeout:      cfg.SubSourceTimeout,
		combinedTimeout: cfg.CombinedTimeout,
		cache:           cache,
		logger:          slog.Default().With("component", "rag"),
	}, nil
}

// CacheLen reports the live cache entry count.
func (g *Gateway) CacheLen() int {
	return g.cache.len()
}

// WebSearch queries the configured web engine. Returns ErrTimeout when the
// deadline expires first.
func (g *Gateway) WebSearch(ctx context.Context, query string, maxResults int) ([]Item, error) {
	if g.web == nil {
		return nil, nil
	}
	return g.cached(ctx, query, "web", func(ctx context.Context) ([]Item, error) {
		return g.web.Search(ctx, query, maxResults)
	})
}

// VectorSearch embeds the query and searches the shared collection.
func (g *Gateway) VectorSearch(ctx context.Context, query string, maxResults int) ([]Item, error) {
	if g.vectors == nil || g.embed == nil {
		return nil, nil
	}
	return g.cached(ctx, query, "vector:"+g.collection, func(ctx context.Context) ([]Item, error) {
		return g.vectorQuery(ctx, g.collection, query, maxResults, nil, OriginVector)
	})
}

// PhilosopherSearch searches the indexed corpus of one philosopher.
func (g *Gateway) PhilosopherSearch(ctx context.Context, query, philosopherKey string, maxResults int) ([]Item, error) {
	if g.vectors == nil || g.embed == nil {
		return nil, nil
	}
	return g.cached(ctx, query, "philosopher:"+philosopherKey, func(ctx context.Context) ([]Item, error) {
		filter := map[string]any{"philosopher": philosopherKey}
		return g.vectorQuery(ctx, PhilosopherCollection, query, maxResults, filter, OriginPhilosopher)
	})
}

func (g *Gateway) vectorQuery(ctx context.Context, collection, query string, maxResults int, filter map[string]any, origin Origin) ([]Item, error) {
	vec, err := g.embed.Embed(ctx, query)
	if err != nil {
		return nil, g.classify(fmt.Errorf("failed to embed query: %w", err))
	}

	var results []vector.Result
	if filter != nil {
		results, err = g.vectors.SearchWithFilter(ctx, collection, vec, maxResults, filter)
	} else {
		results, err = g.vectors.Search(ctx, collection, vec, maxResults)
	}
	if err != nil {
		return nil, g.classify(fmt.Errorf("vector search failed: %w", err))
	}

	items := make([]Item, 0, len(results))
	for _, r := range results {
		title, _ := r.Metadata["title"].(string)
		items = append(items, Item{
			Origin:   origin,
			SourceID: r.ID,
			Title:    title,
			Text:     r.Content,
			Score:    float64(r.Score),
		})
	}
	return items, nil
}

// cached wraps a sub-source call with the per-source timeout and the LRU.
func (g *Gateway) cached(ctx context.Context, query, signature string, fetch func(context.Context) ([]Item, error)) ([]Item, error) {
	now := time.Now()
	key := cacheKey(query, signature)
	if items, ok := g.cache.get(key, now); ok {
		g.logger.Debug("retrieval cache hit", "signature", signature)
		return items, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, g.subTimeout)
	defer cancel()

	items, err := fetch(callCtx)
	if err != nil {
		return nil, g.classify(err)
	}
	g.cache.put(key, items, now)
	return items, nil
}

func (g *Gateway) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// Combined fans out to every weighted sub-source in parallel and merges the
// answers. A failed or slow sub-source degrades the result instead of
// failing it; even with every source failed the caller gets an empty partial
// result whose statuses name each failure.
func (g *Gateway) Combined(ctx context.Context, query string, weights Weights, maxTotal int, philosopherKey string) (*CombinedResult, error) {
	if maxTotal <= 0 {
		maxTotal = defaultSourceBudget
	}

	ctx, cancel := context.WithTimeout(ctx, g.combinedTimeout)
	defer cancel()

	type sourceCall struct {
		origin Origin
		run    func(context.Context) ([]Item, error)
	}
	var calls []sourceCall
	if weights[OriginWeb] > 0 && g.web != nil {
		calls = append(calls, sourceCall{OriginWeb, func(ctx context.Context) ([]Item, error) {
			return g.WebSearch(ctx, query, defaultSourceBudget)
		}})
	}
	if weights[OriginVector] > 0 && g.vectors != nil {
		calls = append(calls, sourceCall{OriginVector, func(ctx context.Context) ([]Item, error) {
			return g.VectorSearch(ctx, query, defaultSourceBudget)
		}})
	}
	if weights[OriginPhilosopher] > 0 && g.vectors != nil && philosopherKey != "" {
		calls = append(calls, sourceCall{OriginPhilosopher, func(ctx context.Context) ([]Item, error) {
			return g.PhilosopherSearch(ctx, query, philosopherKey, defaultSourceBudget)
		}})
	}
	if len(calls) == 0 {
		return &CombinedResult{}, nil
	}

	var mu sync.Mutex
	var batches [][]Item
	statuses := make([]SourceStatus, 0, len(calls))

	var wg sync.WaitGroup
	for _, call := range calls {
		wg.Add(1)
		go func(call sourceCall) {
			defer wg.Done()
			items, err := call.run(ctx)
			mu.Lock()
			defer mu.Unlock()
			status := SourceStatus{Origin: call.origin, OK: err == nil, Count: len(items)}
			if err != nil {
				status.Error = err.Error()
				g.logger.Warn("retrieval sub-source failed", "origin", call.origin, "error", err)
			} else {
				batches = append(batches, items)
			}
			statuses = append(statuses, status)
		}(call)
	}
	wg.Wait()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Origin < statuses[j].Origin })

	partial := false
	for _, st := range statuses {
		if !st.OK {
			partial = true
		}
	}

	merged := mergeItems(batches, weights, maxTotal)
	return &CombinedResult{Items: merged, Statuses: statuses, Partial: partial}, nil
}

// mergeItems normalizes each batch by its max score, weighs by source,
// deduplicates by source id keeping the highest final score, and truncates.
func mergeItems(batches [][]Item, weights Weights, maxTotal int) []Item {
	byID := make(map[string]Item)
	for _, batch := range batches {
		var max float64
		for _, item := range batch {
			if item.Score > max {
				max = item.Score
			}
		}
		for _, item := range batch {
			normalized := 0.0
			if max > 0 {
				normalized = item.Score / max
			}
			item.FinalScore = weights[item.Origin] * normalized
			if prev, ok := byID[item.SourceID]; !ok || item.FinalScore > prev.FinalScore {
				byID[item.SourceID] = item
			}
		}
	}

	merged := make([]Item, 0, len(byID))
	for _, item := range byID {
		merged = append(merged, item)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].FinalScore != merged[j].FinalScore {
			return merged[i].FinalScore > merged[j].FinalScore
		}
		return merged[i].SourceID < merged[j].SourceID
	})
	if len(merged) > maxTotal {
		merged = merged[:maxTotal]
	}
	return merged
}
