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

package builder

import (
	"regexp"
	"strconv"

	"github.com/agonhq/agon/pkg/debate"
	"github.com/agonhq/agon/pkg/rag"
)

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// extractCitations resolves inline [n] markers against the 1-based evidence
// list. Markers without a matching evidence entry, and evidence never cited
// in the text, produce no citation entries.
func extractCitations(text string, evidence []rag.Item) []debate.Citation {
	if len(evidence) == 0 {
		return nil
	}

	seen := map[int]bool{}
	var citations []debate.Citation
	for _, match := range citationMarker.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil || n < 1 || n > len(evidence) || seen[n] {
			continue
		}
		seen[n] = true
		item := evidence[n-1]
		citations = append(citations, debate.Citation{
			ID:       n,
			Source:   citationSource(item),
			Snippet:  item.Text,
			Location: item.SourceID,
		})
	}
	return citations
}

func citationSource(item rag.Item) string {
	if item.Title != "" {
		return item.Title
	}
	return item.SourceID
}

// ragSources converts retrieved items into utterance metadata entries.
func ragSources(evidence []rag.Item) []debate.RAGSource {
	sources := make([]debate.RAGSource, 0, len(evidence))
	for _, item := range evidence {
		sources = append(sources, debate.RAGSource{
			SourceName: citationSource(item),
			Snippet:    item.Text,
			Relevance:  item.FinalScore,
		})
	}
	return sources
}
