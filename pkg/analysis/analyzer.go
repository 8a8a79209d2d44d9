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

// Package analysis extracts structured arguments from opponent utterances
// and scores their per-axis vulnerability. Results are cached on the room
// per source utterance, so re-analysis is free.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/agonhq/agon/pkg/catalog"
	"github.com/agonhq/agon/pkg/debate"
	"github.com/agonhq/agon/pkg/llms"
	"github.com/agonhq/agon/pkg/utils"
)

// MaxArguments caps how many arguments are extracted per utterance.
const MaxArguments = 3

// maxInputTokens bounds the analyzed text; longer input is cut at a
// sentence boundary.
const maxInputTokens = 1200

// extractedArgument is the extraction schema.
type extractedArgument struct {
	Claim      string   `json:"claim" jsonschema:"description=The central claim being made"`
	Premises   []string `json:"premises,omitempty" jsonschema:"description=Supporting premises"`
	Evidence   []string `json:"evidence,omitempty" jsonschema:"description=Cited evidence or examples"`
	KeyConcept string   `json:"key_concept,omitempty" jsonschema:"description=The load-bearing concept"`
}

type extractionResponse struct {
	Arguments []extractedArgument `json:"arguments"`
}

// axisScore is the scoring schema, one entry per argument.
type axisScore struct {
	DataRespect            float64 `json:"data_respect" jsonschema:"minimum=0,maximum=1"`
	ConceptualPrecision    float64 `json:"conceptual_precision" jsonschema:"minimum=0,maximum=1"`
	SystematicLogic        float64 `json:"systematic_logic" jsonschema:"minimum=0,maximum=1"`
	PragmaticOrientation   float64 `json:"pragmatic_orientation" jsonschema:"minimum=0,maximum=1"`
	RhetoricalIndependence float64 `json:"rhetorical_independence" jsonschema:"minimum=0,maximum=1"`
	Overall                float64 `json:"overall" jsonschema:"minimum=0,maximum=1,description=Overall vulnerability"`
}

type scoringResponse struct {
	Scores []axisScore `json:"scores"`
}

// Analyzer runs the two-step extract-then-score pipeline.
type Analyzer struct {
	models *llms.Registry
	tokens *utils.TokenCounter
	logger *slog.Logger
}

func NewAnalyzer(models *llms.Registry) (*Analyzer, error) {
	tokens, err := utils.NewTokenCounter("gpt-4o")
	if err != nil {
		return nil, err
	}
	return &Analyzer{
		models: models,
		tokens: tokens,
		logger: slog.Default().With("component", "analysis"),
	}, nil
}

// Analyze extracts and scores up to MaxArguments arguments from one opponent
// utterance, storing them on the room. Idempotent per utterance id; repeated
// calls return the cached arguments. Moderator and same-side speakers are
// never analyzed.
func (a *Analyzer) Analyze(ctx context.Context, room *debate.Room, forSide debate.Side, u debate.Utterance) ([]*debate.Argument, error) {
	if strings.TrimSpace(u.Text) == "" {
		return nil, nil
	}
	if u.Role == debate.RoleModerator || u.Role.Side() == forSide {
		return nil, nil
	}
	if room.Analyzed(u.ID) {
		return room.StoreArguments(u.ID, nil), nil
	}

	text := a.tokens.TruncateAtSentence(u.Text, maxInputTokens)

	extracted, err := a.extract(ctx, text)
	if err != nil {
		if errors.Is(err, llms.ErrSchemaInvalid) {
			a.logger.Warn("argument extraction failed schema validation", "utterance", u.ID)
			return nil, nil
		}
		return nil, err
	}
	if len(extracted) == 0 {
		return room.StoreArguments(u.ID, nil), nil
	}
	if len(extracted) > MaxArguments {
		extracted = extracted[:MaxArguments]
	}

	scores, err := a.score(ctx, text, extracted)
	if err != nil {
		return nil, err
	}

	args := make([]*debate.Argument, 0, len(extracted))
	for i, ex := range extracted {
		arg := &debate.Argument{
			ID:                uuid.NewString(),
			SpeakerID:         u.SpeakerID,
			SourceUtteranceID: u.ID,
			Claim:             ex.Claim,
			Premises:          ex.Premises,
			Evidence:          ex.Evidence,
			Status:            debate.ArgumentPending,
		}
		if i < len(scores) {
			s := scores[i]
			arg.AxisScores = catalog.AxisVector{
				catalog.AxisDataRespect:            s.DataRespect,
				catalog.AxisConceptualPrecision:    s.ConceptualPrecision,
				catalog.AxisSystematicLogic:        s.SystematicLogic,
				catalog.AxisPragmaticOrientation:   s.PragmaticOrientation,
				catalog.AxisRhetoricalIndependence: s.RhetoricalIndependence,
			}
			arg.Vulnerability = s.Overall
			arg.Status = debate.ArgumentScored
		}
		args = append(args, arg)
	}
	return room.StoreArguments(u.ID, args), nil
}

func (a *Analyzer) extract(ctx context.Context, text string) ([]extractedArgument, error) {
	req := llms.Request{
		System: "You analyze debate transcripts. Extract the distinct arguments " +
			"the speaker makes. Return at most 3, strongest first. Respond with " +
			"JSON only.",
		User:      fmt.Sprintf("Extract the arguments from this statement:\n\n%s", text),
		MaxTokens: 1024,
		Schema:    llms.SchemaFor[extractionResponse](),
	}

	var resp extractionResponse
	if err := a.completeJSON(ctx, req, &resp); err != nil {
		return nil, err
	}
	out := resp.Arguments[:0]
	for _, ex := range resp.Arguments {
		if strings.TrimSpace(ex.Claim) != "" {
			out = append(out, ex)
		}
	}
	return out, nil
}

// score rates all extracted arguments in one batched call.
func (a *Analyzer) score(ctx context.Context, text string, args []extractedArgument) ([]axisScore, error) {
	var sb strings.Builder
	for i, ex := range args {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, ex.Claim)
	}

	req := llms.Request{
		System: "You rate debate arguments for vulnerability to counterattack. " +
			"For each argument give per-axis scores in [0,1]: data_respect " +
			"(weak empirical grounding), conceptual_precision (vague concepts), " +
			"systematic_logic (logical gaps), pragmatic_orientation (impractical), " +
			"rhetorical_independence (leans on rhetoric), plus an overall score. " +
			"Return one entry per argument, in order. Respond with JSON only.",
		User:      fmt.Sprintf("Original statement:\n%s\n\nArguments:\n%s", text, sb.String()),
		MaxTokens: 1024,
		Schema:    llms.SchemaFor[scoringResponse](),
	}

	var resp scoringResponse
	if err := a.completeJSON(ctx, req, &resp); err != nil {
		if errors.Is(err, llms.ErrSchemaInvalid) {
			// Unscored arguments stay pending; selection skips them.
			return nil, nil
		}
		return nil, err
	}
	return resp.Scores, nil
}

func (a *Analyzer) completeJSON(ctx context.Context, req llms.Request, out any) error {
	completer, err := a.models.Resolve(llms.AliasMid)
	if err != nil {
		return err
	}
	return llms.CompleteJSON(ctx, completer, req, out)
}
