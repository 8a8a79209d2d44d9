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

package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// SchemaFor derives an inline JSON Schema for a Go type, suitable for the
// Request.Schema field.
func SchemaFor[T any]() map[string]any {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	var zero T
	schema := reflector.Reflect(&zero)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	// The engine targets multiple providers; the draft identifier only
	// confuses the stricter ones.
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// CompleteJSON performs a structured completion and unmarshals the response
// into out. A schema-violating response is retried once with a repair prompt;
// a second failure returns ErrSchemaInvalid.
func CompleteJSON(ctx context.Context, completer Completer, req Request, out any) error {
	result, err := completer.Complete(ctx, req)
	if err != nil {
		return err
	}

	firstErr := decodeJSONResponse(result.Text, out)
	if firstErr == nil {
		return nil
	}

	repair := req
	repair.User = fmt.Sprintf(
		"Your previous response was not valid JSON for the required schema (error: %v).\n"+
			"Previous response:\n%s\n\nOriginal request:\n%s\n\n"+
			"Return ONLY the corrected JSON.",
		firstErr, truncateForRepair(result.Text), req.User)

	result, err = completer.Complete(ctx, repair)
	if err != nil {
		return err
	}
	if err := decodeJSONResponse(result.Text, out); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	return nil
}

// decodeJSONResponse tolerates code fences and leading prose around the JSON
// payload, which smaller models are prone to emit.
func decodeJSONResponse(text string, out any) error {
	trimmed := strings.TrimSpace(text)

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}

	// Fall back to the outermost JSON object or array in the text.
	start := strings.IndexAny(trimmed, "{[")
	end := strings.LastIndexAny(trimmed, "}]")
	if start >= 0 && end > start {
		return json.Unmarshal([]byte(trimmed[start:end+1]), out)
	}
	return fmt.Errorf("no JSON payload found in response")
}

func truncateForRepair(text string) string {
	const max = 2000
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
