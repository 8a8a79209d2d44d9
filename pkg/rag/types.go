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

// Package rag fronts the external retrieval services behind one contract:
// web search, vector search over the shared collection, and the per-philosopher
// corpus. Sub-sources are independently timed out; a combined call degrades to
// whatever subset answered in time.
package rag

import "errors"

// ErrTimeout is returned when a retrieval call exceeds its deadline with no
// usable partial result.
var ErrTimeout = errors.New("retrieval timed out")

// Origin identifies which sub-source produced an item.
type Origin string

const (
	OriginWeb         Origin = "web"
	OriginVector      Origin = "vector"
	OriginPhilosopher Origin = "philosopher"
)

// Item is one retrieved evidence snippet, source-agnostic.
type Item struct {
	Origin   Origin  `json:"origin"`
	SourceID string  `json:"source_id"`
	Title    string  `json:"title,omitempty"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`

	// FinalScore is set by the combined merge: source weight times the
	// per-source max-normalized score.
	FinalScore float64 `json:"final_score,omitempty"`
}

// SourceStatus reports per-source success for a combined call, so callers can
// tell a full result from a degraded one.
type SourceStatus struct {
	Origin Origin `json:"origin"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Count  int    `json:"count"`
}

// CombinedResult is the merged output of a multi-source retrieval.
type CombinedResult struct {
	Items    []Item         `json:"items"`
	Statuses []SourceStatus `json:"statuses"`

	// Partial is set when at least one sub-source failed or timed out.
	Partial bool `json:"partial"`
}

// Weights assigns a relative importance to each sub-source in a combined
// call. Missing origins get weight zero and are skipped.
type Weights map[Origin]float64
