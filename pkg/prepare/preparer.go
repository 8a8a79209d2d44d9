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

// Package prepare pre-computes opening statements so a participant's opening
// turn publishes without a generation pause. Concurrent requests for the
// same (participant, topic, stance) share one pipeline run.
package prepare

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/agonhq/agon/pkg/builder"
	"github.com/agonhq/agon/pkg/catalog"
	"github.com/agonhq/agon/pkg/debate"
	"github.com/agonhq/agon/pkg/llms"
	"github.com/agonhq/agon/pkg/rag"
)

// strengthenConcurrency bounds parallel per-argument strengthening calls.
const strengthenConcurrency = 3

// planArguments is how many core arguments the plan call asks for.
const planArguments = 3

// openingPlan is the structured plan-call schema: core arguments paired with
// the retrieval query that would back each one.
type openingPlan struct {
	Arguments []struct {
		Point string `json:"point" jsonschema:"description=One core argument for the stance"`
		Query string `json:"query" jsonschema:"description=A retrieval query to find supporting evidence"`
	} `json:"arguments"`
}

// Preparer runs the four-step opening pipeline.
type Preparer struct {
	models  *llms.Registry
	gateway *rag.Gateway
	timeout time.Duration

	group  singleflight.Group
	logger *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func New(models *llms.Registry, gateway *rag.Gateway, llmTimeout time.Duration) *Preparer {
	return &Preparer{
		models:  models,
		gateway: gateway,
		timeout: llmTimeout,
		logger:  slog.Default().With("component", "prepare"),
		cancels: map[string]context.CancelFunc{},
	}
}

func prepareKey(participantID, topic, stanceHash string) string {
	return participantID + "\x00" + topic + "\x00" + stanceHash
}

// PrepareAll kicks off background preparation for every non-user participant.
// Results land in the room's prepared-opening cache.
func (p *Preparer) PrepareAll(ctx context.Context, room *debate.Room, cat *catalog.Catalog) {
	for _, participant := range room.Participants() {
		if participant.IsUser || participant.ID == debate.ModeratorID {
			continue
		}
		profile := cat.Philosopher(participant.ID)
		if profile == nil {
			continue
		}
		go func(participant *debate.Participant, profile *catalog.PhilosopherProfile) {
			if _, err := p.GetPreparedOrGenerate(ctx, room, participant, profile); err != nil {
				if ctx.Err() == nil {
					p.logger.Warn("opening preparation failed",
						"room", room.ID(), "participant", participant.ID, "error", err)
				}
			}
		}(participant, profile)
	}
}

// GetPreparedOrGenerate returns the cached opening when still valid for the
// room's (topic, stance), otherwise runs the pipeline. Concurrent callers
// for the same key share a single run.
func (p *Preparer) GetPreparedOrGenerate(ctx context.Context, room *debate.Room, participant *debate.Participant, profile *catalog.PhilosopherProfile) (*debate.PreparedOpening, error) {
	if prep, ok := room.Prepared(participant.ID); ok {
		return prep, nil
	}

	stance := room.StanceFor(participant.Role.Side())
	key := prepareKey(participant.ID, room.Topic(), debate.HashStance(stance))

	result, err, _ := p.group.Do(key, func() (any, error) {
		runCtx, cancel := context.WithCancel(ctx)
		p.registerCancel(key, cancel)
		defer p.unregisterCancel(key)

		prep, err := p.run(runCtx, room, participant, profile, stance)
		if err != nil {
			return nil, err
		}
		room.SetPrepared(participant.ID, prep)
		return prep, nil
	})
	if err != nil {
		return nil, err
	}
	prep := result.(*debate.PreparedOpening)

	// The shared run may predate a stance change; validate against the room.
	if cached, ok := room.Prepared(participant.ID); ok {
		return cached, nil
	}
	return prep, nil
}

// Invalidate evicts the participant's prepared opening and cancels any
// in-flight preparation for them.
func (p *Preparer) Invalidate(room *debate.Room, participantID string) {
	room.InvalidatePrepared(participantID)

	prefix := participantID + "\x00"
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, cancel := range p.cancels {
		if strings.HasPrefix(key, prefix) {
			cancel()
			delete(p.cancels, key)
		}
	}
}

func (p *Preparer) registerCancel(key string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels[key] = cancel
}

func (p *Preparer) unregisterCancel(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cancels, key)
}

// run executes the pipeline: plan, retrieve, strengthen, synthesize.
func (p *Preparer) run(ctx context.Context, room *debate.Room, participant *debate.Participant, profile *catalog.PhilosopherProfile, stance string) (*debate.PreparedOpening, error) {
	topic := room.Topic()

	plan, err := p.plan(ctx, profile, topic, stance)
	if err != nil {
		return nil, fmt.Errorf("opening plan failed: %w", err)
	}
	if len(plan.Arguments) == 0 {
		return nil, fmt.Errorf("opening plan returned no arguments")
	}

	evidence := make([][]rag.Item, len(plan.Arguments))
	g, gctx := errgroup.WithContext(ctx)
	for i, arg := range plan.Arguments {
		g.Go(func() error {
			result, err := p.gateway.Combined(gctx, arg.Query, rag.Weights{
				rag.OriginPhilosopher: 1.0,
				rag.OriginVector:      0.7,
				rag.OriginWeb:         0.5,
			}, 3, profile.Key)
			if err != nil {
				// Missing evidence weakens the argument, it does not sink
				// the opening.
				p.logger.Debug("opening retrieval failed", "participant", participant.ID, "error", err)
				return nil
			}
			evidence[i] = result.Items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	strengthened := make([]string, len(plan.Arguments))
	sem := semaphore.NewWeighted(strengthenConcurrency)
	g2, g2ctx := errgroup.WithContext(ctx)
	for i, arg := range plan.Arguments {
		g2.Go(func() error {
			if err := sem.Acquire(g2ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			text, err := p.strengthen(g2ctx, profile, arg.Point, evidence[i])
			if err != nil {
				text = arg.Point
			}
			strengthened[i] = text
			return nil
		})
	}
	if err := g2.Wait(); err != nil {
		return nil, err
	}

	var allEvidence []rag.Item
	for _, batch := range evidence {
		allEvidence = append(allEvidence, batch...)
	}

	text, err := p.synthesize(ctx, profile, topic, stance, strengthened, allEvidence)
	if err != nil {
		return nil, fmt.Errorf("opening synthesis failed: %w", err)
	}

	return &debate.PreparedOpening{
		Text: text,
		Metadata: debate.Metadata{
			RAGUsed:        len(allEvidence) > 0,
			RAGSourceCount: len(allEvidence),
		},
		Topic:      topic,
		StanceHash: debate.HashStance(stance),
		PreparedAt: time.Now(),
	}, nil
}

func (p *Preparer) plan(ctx context.Context, profile *catalog.PhilosopherProfile, topic, stance string) (*openingPlan, error) {
	req := llms.Request{
		System: fmt.Sprintf("You are %s preparing for a debate. %s Respond with JSON only.",
			profile.Name, profile.Essence),
		User: fmt.Sprintf(
			"Topic: %s\nYour stance: %s\n\nList your %d strongest arguments for this stance. "+
				"Pair each with a search query that would surface supporting evidence.",
			topic, stance, planArguments),
		MaxTokens: 1024,
		Timeout:   p.timeout,
		Schema:    llms.SchemaFor[openingPlan](),
	}

	completer, err := p.models.Resolve(llms.AliasMid)
	if err != nil {
		return nil, err
	}
	var plan openingPlan
	if err := llms.CompleteJSON(ctx, completer, req, &plan); err != nil {
		return nil, err
	}
	if len(plan.Arguments) > planArguments {
		plan.Arguments = plan.Arguments[:planArguments]
	}
	return &plan, nil
}

func (p *Preparer) strengthen(ctx context.Context, profile *catalog.PhilosopherProfile, point string, evidence []rag.Item) (string, error) {
	if len(evidence) == 0 {
		return point, nil
	}

	var sb strings.Builder
	for i, item := range evidence {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, item.Text)
	}

	req := llms.Request{
		System: fmt.Sprintf("You are %s. Sharpen a debate argument using evidence. "+
			"Keep it to two or three sentences.", profile.Name),
		User:      fmt.Sprintf("Argument: %s\n\nEvidence:\n%s", point, sb.String()),
		MaxTokens: 300,
		Timeout:   p.timeout,
	}

	result, err := p.models.Complete(ctx, llms.AliasLow, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text), nil
}

func (p *Preparer) synthesize(ctx context.Context, profile *catalog.PhilosopherProfile, topic, stance string, arguments []string, evidence []rag.Item) (string, error) {
	policy := builder.PolicyFor(debate.KindOpening)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\nYour stance: %s\n\nYour prepared arguments:\n", topic, stance)
	for i, arg := range arguments {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, arg)
	}
	if len(evidence) > 0 {
		sb.WriteString("\nEvidence you may cite with [n] markers:\n")
		for i, item := range evidence {
			fmt.Fprintf(&sb, "[%d] %s\n", i+1, item.Text)
		}
	}
	fmt.Fprintf(&sb, "\nCompose your opening statement, %d to %d words, in the same language as the topic.",
		policy.TargetMin, policy.TargetMax)

	req := llms.Request{
		System: fmt.Sprintf("You are %s delivering a debate opening. %s Stay in character. "+
			"Output only the spoken statement.", profile.Name, profile.Style),
		User:      sb.String(),
		MaxTokens: policy.HardCap,
		Timeout:   p.timeout,
	}

	result, err := p.models.Complete(ctx, llms.AliasHigh, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text), nil
}
