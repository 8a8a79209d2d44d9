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

// Package builder turns a turn descriptor plus its supporting context into
// one utterance through the LLM. It owns prompt construction, the length
// policy, and citation resolution; strategy and retrieval decisions are made
// upstream and arrive here as inputs.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agonhq/agon/pkg/catalog"
	"github.com/agonhq/agon/pkg/debate"
	"github.com/agonhq/agon/pkg/llms"
	"github.com/agonhq/agon/pkg/rag"
)

// RecentHistoryWindow is how many trailing utterances enter the prompt.
const RecentHistoryWindow = 6

// reducedHistoryWindow is used on the single retry after a timeout.
const reducedHistoryWindow = 2

// Input carries everything one turn needs.
type Input struct {
	Topic    string
	Language string
	Stance   string

	Descriptor debate.TurnDescriptor
	Role       debate.Role
	History    []debate.Utterance

	// Profile is nil for moderator turns; Moderator is nil otherwise.
	Profile   *catalog.PhilosopherProfile
	Moderator *catalog.ModeratorStyle

	// Strategy drives interactive turns.
	StrategyID  string
	StrategyCue string

	// Target is the attacked argument, when the kind is attack.
	Target *debate.Argument

	// Evidence is the retrieved bundle; empty means retrieval was skipped
	// or returned nothing.
	Evidence []rag.Item
}

// Builder generates utterances.
type Builder struct {
	models  *llms.Registry
	timeout time.Duration
	logger  *slog.Logger
}

func New(models *llms.Registry, llmTimeout time.Duration) *Builder {
	return &Builder{
		models:  models,
		timeout: llmTimeout,
		logger:  slog.Default().With("component", "builder"),
	}
}

// Build generates the utterance for a turn. On LLM timeout it retries once
// with a reduced history window; the second failure surfaces the error so
// the caller can fall back.
func (b *Builder) Build(ctx context.Context, in Input) (debate.Utterance, error) {
	text, err := b.generate(ctx, in, RecentHistoryWindow)
	if err != nil {
		b.logger.Warn("generation failed, retrying with reduced context",
			"speaker", in.Descriptor.SpeakerID, "error", err)
		text, err = b.generate(ctx, in, reducedHistoryWindow)
		if err != nil {
			return debate.Utterance{}, err
		}
	}

	citations := extractCitations(text, in.Evidence)
	meta := debate.Metadata{
		StrategyID:     in.StrategyID,
		RAGUsed:        len(in.Evidence) > 0,
		RAGSourceCount: len(in.Evidence),
		RAGSources:     ragSources(in.Evidence),
		Citations:      citations,
	}
	if in.Target != nil {
		meta.TargetArgumentID = in.Target.ID
	}

	role := in.Role
	if in.Descriptor.SpeakerID == debate.ModeratorID {
		role = debate.RoleModerator
	}
	return debate.Utterance{
		ID:        uuid.NewString(),
		SpeakerID: in.Descriptor.SpeakerID,
		Role:      role,
		Text:      strings.TrimSpace(text),
		Timestamp: time.Now(),
		Kind:      in.Descriptor.KindHint,
		Metadata:  meta,
	}, nil
}

// Fallback produces the deterministic yield utterance used when generation
// failed twice. It always advances the debate.
func (b *Builder) Fallback(desc debate.TurnDescriptor, role debate.Role, displayName string) debate.Utterance {
	name := displayName
	if name == "" {
		name = desc.SpeakerID
	}
	return debate.Utterance{
		ID:        uuid.NewString(),
		SpeakerID: desc.SpeakerID,
		Role:      role,
		Text:      fmt.Sprintf("%s yields the turn.", name),
		Timestamp: time.Now(),
		Kind:      desc.KindHint,
		Metadata:  debate.Metadata{Fallback: true},
	}
}

func (b *Builder) generate(ctx context.Context, in Input, historyWindow int) (string, error) {
	policy := PolicyFor(in.Descriptor.KindHint)

	req := llms.Request{
		System:    b.systemPrompt(in),
		User:      b.userPrompt(in, historyWindow, policy),
		MaxTokens: policy.HardCap,
		Timeout:   b.timeout,
	}

	alias := llms.AliasMid
	switch in.Descriptor.KindHint {
	case debate.KindOpening, debate.KindModeratorIntro, debate.KindModeratorConclusion, debate.KindClosing:
		alias = llms.AliasHigh
	}

	result, err := b.models.Complete(ctx, alias, req)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func (b *Builder) systemPrompt(in Input) string {
	var sb strings.Builder
	if in.Moderator != nil {
		fmt.Fprintf(&sb, "You are %s, the moderator of a philosophical debate. Style: %s.\n",
			in.Moderator.Name, in.Moderator.Style)
	} else if in.Profile != nil {
		fmt.Fprintf(&sb, "You are %s. %s\n", in.Profile.Name, in.Profile.Essence)
		if in.Profile.Style != "" {
			fmt.Fprintf(&sb, "Speaking style: %s\n", in.Profile.Style)
		}
		if in.Profile.Personality != "" {
			fmt.Fprintf(&sb, "Personality: %s\n", in.Profile.Personality)
		}
	}
	sb.WriteString("Stay in character. Respond in the same language as the topic text. ")
	sb.WriteString("Output only the spoken utterance, no stage directions.")
	return sb.String()
}

func (b *Builder) userPrompt(in Input, historyWindow int, policy LengthPolicy) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Debate topic: %s\n", in.Topic)
	if in.Stance != "" && in.Moderator == nil {
		fmt.Fprintf(&sb, "Your stance: %s\n", in.Stance)
	}

	history := in.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	if len(history) > 0 {
		sb.WriteString("\nRecent exchange:\n")
		for _, u := range history {
			fmt.Fprintf(&sb, "%s: %s\n", u.SpeakerID, u.Text)
		}
	}

	sb.WriteString("\n")
	sb.WriteString(taskInstruction(in))

	if in.StrategyCue != "" {
		fmt.Fprintf(&sb, "\nApproach: %s\n", in.StrategyCue)
	}

	if len(in.Evidence) > 0 {
		sb.WriteString("\nEvidence you may draw on. Cite with inline markers like [1] matching the list numbers:\n")
		for i, item := range in.Evidence {
			fmt.Fprintf(&sb, "[%d] (%s) %s\n", i+1, citationSource(item), item.Text)
		}
	}

	fmt.Fprintf(&sb, "\nLength: %d to %d words.\n", policy.TargetMin, policy.TargetMax)
	return sb.String()
}

func taskInstruction(in Input) string {
	switch in.Descriptor.KindHint {
	case debate.KindOpening:
		return "Deliver your opening statement: present your strongest case for your stance."
	case debate.KindAttack:
		if in.Target != nil {
			return fmt.Sprintf("Attack this claim by your opponent: %q. Expose its weakest point.", in.Target.Claim)
		}
		return "Attack the weakest point in your opponent's position."
	case debate.KindDefense:
		return "Defend your position against the opponent's last attack without conceding ground."
	case debate.KindFollowup:
		return "Press your advantage: follow up on the exchange and sharpen your point."
	case debate.KindClosing:
		return "Deliver your closing statement: synthesize the debate and make your final case."
	case debate.KindModeratorIntro:
		return "Open the debate: introduce the topic and the participants, set the tone, and hand over to the first speaker."
	case debate.KindModeratorSummary:
		return "Summarize the exchange so far, evenhandedly, and note the crux of the disagreement."
	case debate.KindModeratorConclusion:
		return "Close the debate: recap both cases fairly and thank the participants. Do not declare a winner."
	}
	return "Continue the debate in character."
}

// stanceResponse is the structured stance-generation schema.
type stanceResponse struct {
	Pro string `json:"pro" jsonschema:"description=Affirmative stance statement"`
	Con string `json:"con" jsonschema:"description=Opposing stance statement"`
}

// GenerateStances produces the two opposed stance statements for a topic in
// one structured call.
func (b *Builder) GenerateStances(ctx context.Context, topic string) (pro, con string, err error) {
	req := llms.Request{
		System: "You set up formal debates. Given a topic, write one affirmative " +
			"and one opposing stance statement, each a single assertive paragraph " +
			fmt.Sprintf("of %d to %d words, in the same language as the topic. ",
				stanceLengthPolicy.TargetMin, stanceLengthPolicy.TargetMax) +
			"Respond with JSON only.",
		User:      fmt.Sprintf("Topic: %s", topic),
		MaxTokens: 2 * stanceLengthPolicy.HardCap,
		Timeout:   b.timeout,
		Schema:    llms.SchemaFor[stanceResponse](),
	}

	completer, err := b.models.Resolve(llms.AliasMid)
	if err != nil {
		return "", "", err
	}
	var resp stanceResponse
	if err := llms.CompleteJSON(ctx, completer, req, &resp); err != nil {
		return "", "", err
	}
	return resp.Pro, resp.Con, nil
}
