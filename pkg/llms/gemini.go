package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/agonhq/agon/pkg/config"
	"github.com/agonhq/agon/pkg/httpclient"
)

const defaultGeminiHost = "https://generativelanguage.googleapis.com"

// GeminiProvider implements Completer for the Gemini generateContent API.
// Structured requests use the native responseSchema mode.
type GeminiProvider struct {
	config     *config.LLMProviderConfig
	httpClient *httpclient.Client
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature      *float64       `json:"temperature,omitempty"`
	MaxOutputTokens  int            `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewGeminiProvider(cfg *config.LLMProviderConfig) *GeminiProvider {
	return &GeminiProvider{
		config:     cfg,
		httpClient: newHTTPClient(cfg, nil),
	}
}

func (p *GeminiProvider) ModelName() string {
	return p.config.Model
}

func (p *GeminiProvider) Complete(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := callTimeout(ctx, req, p.config)
	defer cancel()

	body := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.User}}},
		},
	}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	genCfg := &geminiGenerationConfig{MaxOutputTokens: req.MaxTokens}
	if p.config.Temperature > 0 {
		t := p.config.Temperature
		genCfg.Temperature = &t
	}
	if req.Schema != nil {
		genCfg.ResponseMimeType = "application/json"
		genCfg.ResponseSchema = sanitizeGeminiSchema(req.Schema)
	}
	body.GenerationConfig = genCfg

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	host := p.config.Host
	if host == "" {
		host = defaultGeminiHost
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		host, p.config.Model, p.config.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse gemini response: %v", ErrNetwork, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%w: gemini: %s", ErrNetwork, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("%w: gemini returned no candidates", ErrNetwork)
	}

	var text string
	for _, part := range parsed.Candidates[0].Content.Parts {
		text += part.Text
	}

	return &Result{
		Text:         text,
		InputTokens:  parsed.UsageMetadata.PromptTokenCount,
		OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
	}, nil
}

func (p *GeminiProvider) Close() error {
	return nil
}

// geminiSchemaKeys is the subset of JSON Schema keywords the Gemini
// responseSchema mode accepts.
var geminiSchemaKeys = map[string]bool{
	"type": true, "format": true, "description": true, "nullable": true,
	"enum": true, "items": true, "properties": true, "required": true,
	"propertyOrdering": true, "minItems": true, "maxItems": true,
}

// sanitizeGeminiSchema strips unsupported JSON Schema keywords recursively.
func sanitizeGeminiSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for key, value := range schema {
		if !geminiSchemaKeys[key] {
			continue
		}
		switch typed := value.(type) {
		case map[string]any:
			if key == "properties" {
				props := make(map[string]any, len(typed))
				for name, sub := range typed {
					if subMap, ok := sub.(map[string]any); ok {
						props[name] = sanitizeGeminiSchema(subMap)
					}
				}
				out[key] = props
			} else {
				out[key] = sanitizeGeminiSchema(typed)
			}
		default:
			out[key] = value
		}
	}
	return out
}
