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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearxClientSearch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": [
			{"url": "https://a.example", "title": "A", "content": "first", "score": 2.0},
			{"url": "https://b.example", "title": "B", "content": "second"},
			{"url": "https://c.example", "title": "C", "content": "third"}
		]}`))
	}))
	defer srv.Close()

	c := NewSearxClient(srv.URL)
	items, err := c.Search(context.Background(), "free will causality", 2)
	require.NoError(t, err)
	assert.Equal(t, "free will causality", gotQuery)

	require.Len(t, items, 2, "maxResults truncates")
	assert.Equal(t, OriginWeb, items[0].Origin)
	assert.Equal(t, "https://a.example", items[0].SourceID)
	assert.Equal(t, 2.0, items[0].Score)
	// Unscored results get a rank-decay score.
	assert.Equal(t, 0.5, items[1].Score)
}

func TestSearxClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewSearxClient(srv.URL)
	_, err := c.Search(context.Background(), "anything", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestSearxClientBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := NewSearxClient(srv.URL)
	_, err := c.Search(context.Background(), "anything", 3)
	require.Error(t, err)
}
