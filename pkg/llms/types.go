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

// Package llms adapts external LLM completion services behind a single
// Completer contract. All model access in the engine goes through this
// package; it is the only place provider timeouts and retries live.
package llms

import (
	"context"
	"errors"
	"time"
)

// Completion errors, classified per provider response.
var (
	ErrTimeout       = errors.New("llm timeout")
	ErrRateLimited   = errors.New("llm rate limited")
	ErrSchemaInvalid = errors.New("llm schema invalid")
	ErrNetwork       = errors.New("llm network error")
)

// Alias names the abstract model tiers the engine requests by.
type Alias string

const (
	AliasHigh Alias = "high"
	AliasMid  Alias = "mid"
	AliasLow  Alias = "low"
)

// Request is a single completion request.
type Request struct {
	System    string
	User      string
	MaxTokens int

	// Timeout bounds this call; zero uses the provider default.
	Timeout time.Duration

	// Schema, when set, asks the provider for JSON output matching the
	// given JSON Schema. Providers without native schema support receive
	// an equivalent instruction in the system prompt.
	Schema map[string]any
}

// Result is a completed response with token accounting.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Completer performs non-streaming completions.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Result, error)

	ModelName() string

	Close() error
}
