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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/agonhq/agon/pkg/httpclient"
)

// WebSearcher answers free-text queries with web results.
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Item, error)
}

// SearxClient queries a SearxNG-compatible JSON search endpoint.
type SearxClient struct {
	baseURL string
	client  *httpclient.Client
}

func NewSearxClient(baseURL string) *SearxClient {
	return &SearxClient{
		baseURL: baseURL,
		client:  httpclient.New(httpclient.WithMaxRetries(2)),
	}
}

type searxResponse struct {
	Results []struct {
		URL     string  `json:"url"`
		Title   string  `json:"title"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (c *SearxClient) Search(ctx context.Context, query string, maxResults int) ([]Item, error) {
	endpoint := fmt.Sprintf("%s/search?q=%s&format=json", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("web search returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	items := make([]Item, 0, maxResults)
	for _, r := range parsed.Results {
		if len(items) >= maxResults {
			break
		}
		score := r.Score
		if score == 0 {
			// Engines without scoring imply rank order; synthesize a
			// decaying score so normalization stays meaningful.
			score = 1.0 / float64(len(items)+1)
		}
		items = append(items, Item{
			Origin:   OriginWeb,
			SourceID: r.URL,
			Title:    r.Title,
			Text:     r.Content,
			Score:    score,
		})
	}
	return items, nil
}
