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

// Package vector abstracts vector store backends behind one Provider
// interface. The RAG gateway performs all similarity search through it.
package vector

import (
	"context"
	"fmt"

	"github.com/agonhq/agon/pkg/config"
)

// ProviderType identifies a vector provider implementation.
type ProviderType string

const (
	// ProviderChromem uses chromem-go for embedded vector storage.
	// Zero-config, no external services. Default.
	ProviderChromem ProviderType = "chromem"

	// ProviderQdrant uses Qdrant over gRPC.
	ProviderQdrant ProviderType = "qdrant"

	// ProviderPinecone uses the Pinecone managed service.
	ProviderPinecone ProviderType = "pinecone"
)

// Result is one similarity match.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]any
}

// Provider stores and searches embedded documents.
type Provider interface {
	Name() string

	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error

	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	Close() error
}

// New constructs the configured provider.
func New(cfg *config.VectorConfig) (Provider, error) {
	switch ProviderType(cfg.Provider) {
	case ProviderChromem, "":
		return NewChromemProvider(ChromemConfig{PersistPath: cfg.PersistPath})
	case ProviderQdrant:
		return NewQdrantProvider(QdrantConfig{
			Host:   cfg.Host,
			Port:   cfg.Port,
			APIKey: cfg.APIKey,
			UseTLS: cfg.UseTLS,
		})
	case ProviderPinecone:
		return NewPineconeProvider(PineconeConfig{
			APIKey:    cfg.APIKey,
			IndexHost: cfg.IndexHost,
		})
	default:
		return nil, fmt.Errorf("unknown vector provider type: %s", cfg.Provider)
	}
}
