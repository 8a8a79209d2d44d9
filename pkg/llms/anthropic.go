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

const (
	defaultAnthropicHost    = "https://api.anthropic.com"
	anthropicAPIVersion     = "2023-06-01"
	anthropicDefaultMaxToks = 1024
)

// AnthropicProvider implements Completer for the Anthropic messages API.
//
// The messages API has no native JSON-schema response mode; structured
// requests get the schema appended to the system prompt instead.
type AnthropicProvider struct {
	config     *config.LLMProviderConfig
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`

	Temperature float64 `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewAnthropicProvider(cfg *config.LLMProviderConfig) *AnthropicProvider {
	return &AnthropicProvider{
		config:     cfg,
		httpClient: newHTTPClient(cfg, httpclient.ParseAnthropicHeaders),
	}
}

func (p *AnthropicProvider) ModelName() string {
	return p.config.Model
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := callTimeout(ctx, req, p.config)
	defer cancel()

	system := req.System
	if req.Schema != nil {
		if system != "" {
			system += "\n\n"
		}
		system += schemaInstruction(req.Schema)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxToks
	}

	body := anthropicRequest{
		Model:       p.config.Model,
		MaxTokens:   maxTokens,
		System:      system,
		Temperature: p.config.Temperature,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.User},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal anthropic request: %w", err)
	}

	host := p.config.Host
	if host == "" {
		host = defaultAnthropicHost
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		host+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.config.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse anthropic response: %v", ErrNetwork, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%w: anthropic: %s", ErrNetwork, parsed.Error.Message)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, fmt.Errorf("%w: anthropic returned no text content", ErrNetwork)
	}

	return &Result{
		Text:         text,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}, nil
}

func (p *AnthropicProvider) Close() error {
	return nil
}
