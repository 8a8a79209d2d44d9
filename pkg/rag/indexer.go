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
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/agonhq/agon/pkg/embedder"
	"github.com/agonhq/agon/pkg/utils"
	"github.com/agonhq/agon/pkg/vector"
)

const chunkTokenLimit = 400

// Indexer ingests the philosopher corpus directory into the vector store.
// Layout: <corpus_dir>/<philosopher_key>/*.{txt,md,pdf}; the subdirectory
// name becomes the philosopher metadata key.
type Indexer struct {
	vectors vector.Provider
	embed   embedder.Embedder
	tokens  *utils.TokenCounter
	logger  *slog.Logger
}

func NewIndexer(vectors vector.Provider, embed embedder.Embedder) (*Indexer, error) {
	tokens, err := utils.NewTokenCounter("gpt-4o")
	if err != nil {
		return nil, err
	}
	return &Indexer{
		vectors: vectors,
		embed:   embed,
		tokens:  tokens,
		logger:  slog.Default().With("component", "indexer"),
	}, nil
}

// IndexDir walks the corpus directory and upserts every chunk. Returns the
// number of chunks indexed. Unreadable files are skipped with a warning.
func (ix *Indexer) IndexDir(ctx context.Context, dir string) (int, error) {
	total := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".txt" && ext != ".md" && ext != ".pdf" {
			return nil
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		philosopher := philosopherFromPath(rel)

		text, readErr := readCorpusFile(path, ext)
		if readErr != nil {
			ix.logger.Warn("skipping unreadable corpus file", "path", path, "error", readErr)
			return nil
		}

		n, indexErr := ix.indexDocument(ctx, philosopher, filepath.Base(path), text)
		if indexErr != nil {
			return fmt.Errorf("failed to index %s: %w", path, indexErr)
		}
		total += n
		return nil
	})
	if err != nil {
		return total, err
	}
	ix.logger.Info("corpus indexed", "dir", dir, "chunks", total)
	return total, nil
}

// philosopherFromPath maps the first path element to a philosopher key;
// files at the corpus root index under the shared key "common".
func philosopherFromPath(rel string) string {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) > 1 {
		return parts[0]
	}
	return "common"
}

func readCorpusFile(path, ext string) (string, error) {
	if ext == ".pdf" {
		f, reader, err := pdf.Open(path)
		if err != nil {
			return "", err
		}
		defer func() { _ = f.Close() }()
		plain, err := reader.GetPlainText()
		if err != nil {
			return "", err
		}
		data, err := io.ReadAll(plain)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (ix *Indexer) indexDocument(ctx context.Context, philosopher, title, text string) (int, error) {
	chunks := chunkText(text, ix.tokens)
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors, err := ix.embed.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed corpus chunks: %w", err)
	}

	for i, chunk := range chunks {
		id := uuid.NewString()
		metadata := map[string]any{
			"content":     chunk,
			"philosopher": philosopher,
			"title":       title,
			"chunk":       fmt.Sprintf("%d", i),
		}
		if err := ix.vectors.Upsert(ctx, PhilosopherCollection, id, vectors[i], metadata); err != nil {
			return i, fmt.Errorf("failed to upsert chunk: %w", err)
		}
	}
	return len(chunks), nil
}

// chunkText splits on blank lines and packs paragraphs up to the token
// limit; single oversized paragraphs are cut at a sentence boundary.
func chunkText(text string, tokens *utils.TokenCounter) []string {
	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
		currentTokens = 0
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := tokens.Count(para)
		if n > chunkTokenLimit {
			flush()
			chunks = append(chunks, tokens.TruncateAtSentence(para, chunkTokenLimit))
			continue
		}
		if currentTokens+n > chunkTokenLimit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += n
	}
	flush()
	return chunks
}
