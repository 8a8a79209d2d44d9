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

// Package config defines the engine configuration and its YAML loader.
//
// Configuration is read once at startup from a YAML file, with ${VAR} style
// environment expansion and AGON_* environment overrides applied on top.
// Catalogue files (philosophers, strategies, weights) are referenced by path
// and loaded by the catalog package.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the debate engine.
type Config struct {
	Server        ServerConfig                  `yaml:"server"`
	LLMs          map[string]LLMProviderConfig  `yaml:"llms"`
	Models        ModelAliases                  `yaml:"models"`
	Embedder      EmbedderConfig                `yaml:"embedder"`
	Vector        VectorConfig                  `yaml:"vector"`
	RAG           RAGConfig                     `yaml:"rag"`
	Debate        DebateConfig                  `yaml:"debate"`
	Catalog       CatalogConfig                 `yaml:"catalog"`
	Store         StoreConfig                   `yaml:"store"`
	Observability ObservabilityConfig           `yaml:"observability"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LLMProviderConfig configures one LLM provider instance.
type LLMProviderConfig struct {
	// Type selects the provider implementation: openai, anthropic, gemini.
	Type string `yaml:"type"`

	// Model is the concrete model name sent to the provider.
	Model string `yaml:"model"`

	APIKey string `yaml:"api_key,omitempty"`

	// Host overrides the provider base URL (for proxies and compatible APIs).
	Host string `yaml:"host,omitempty"`

	// Timeout in seconds for a single completion call.
	Timeout int `yaml:"timeout,omitempty"`

	MaxRetries int `yaml:"max_retries,omitempty"`

	// RetryDelay in seconds between retries.
	RetryDelay int `yaml:"retry_delay,omitempty"`

	Temperature float64 `yaml:"temperature,omitempty"`
}

// ModelAliases maps the abstract model tiers the core uses to named provider
// entries in the llms section. The core never references concrete models.
type ModelAliases struct {
	High string `yaml:"high"`
	Mid  string `yaml:"mid"`
	Low  string `yaml:"low"`
}

// EmbedderConfig configures the embedding client used by vector search.
type EmbedderConfig struct {
	// Type: openai (any OpenAI-compatible embeddings endpoint).
	Type      string `yaml:"type"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key,omitempty"`
	Host      string `yaml:"host,omitempty"`
	Dimension int    `yaml:"dimension,omitempty"`
}

// VectorConfig selects and configures the vector store backend.
type VectorConfig struct {
	// Provider: chromem, qdrant, pinecone.
	Provider string `yaml:"provider"`

	// Chromem settings.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Qdrant settings.
	Host   string `yaml:"host,omitempty"`
	Port   int    `yaml:"port,omitempty"`
	APIKey string `yaml:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls,omitempty"`

	// Pinecone settings.
	IndexHost string `yaml:"index_host,omitempty"`
}

// RAGConfig configures the retrieval gateway.
type RAGConfig struct {
	// WebSearchURL is the base URL of a SearxNG-compatible JSON search API.
	// Empty disables web search.
	WebSearchURL string `yaml:"web_search_url,omitempty"`

	// Collection is the default vector collection for vector_search.
	Collection string `yaml:"collection,omitempty"`

	// CorpusDir holds philosopher corpus files (.txt, .md, .pdf) indexed at
	// startup for philosopher_search.
	CorpusDir string `yaml:"corpus_dir,omitempty"`

	// SubSourceTimeout bounds each sub-source call (default 8s).
	SubSourceTimeout time.Duration `yaml:"sub_source_timeout,omitempty"`

	// CombinedTimeout bounds a combined call (default 15s).
	CombinedTimeout time.Duration `yaml:"combined_timeout,omitempty"`

	// CacheSize is the LRU entry cap (default 512).
	CacheSize int `yaml:"cache_size,omitempty"`

	// CacheTTL is the cache entry lifetime (default 10m).
	CacheTTL time.Duration `yaml:"cache_ttl,omitempty"`
}

// DebateConfig holds the scheduling caps and timeouts.
type DebateConfig struct {
	MaxActiveRooms      int           `yaml:"max_active_rooms"`
	MaxMemoryUsageGB    float64       `yaml:"max_memory_usage_gb"`
	MaxRounds           int           `yaml:"max_rounds"`
	SummaryEveryNRounds int           `yaml:"summary_every_n_rounds"`
	SubscriberBuffer    int           `yaml:"subscriber_buffer"`
	LLMTimeout          time.Duration `yaml:"llm_timeout"`
	UserTurnTimeout     time.Duration `yaml:"user_turn_timeout"`
	MemoryCheckInterval time.Duration `yaml:"memory_check_interval"`
}

// CatalogConfig points at the static catalogue files.
type CatalogConfig struct {
	PhilosophersPath string `yaml:"philosophers_path"`
	StrategiesPath   string `yaml:"strategies_path"`

	// Watch reloads catalogue files on change. Profiles are immutable per
	// room; a reload affects newly created rooms only.
	Watch bool `yaml:"watch,omitempty"`
}

// StoreConfig configures utterance/room persistence.
type StoreConfig struct {
	// Driver: sqlite3, postgres, mysql. Empty disables persistence.
	Driver string `yaml:"driver,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	ServiceName    string `yaml:"service_name,omitempty"`
}

// SetDefaults fills unset fields with the documented defaults.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Debate.MaxActiveRooms == 0 {
		c.Debate.MaxActiveRooms = 50
	}
	if c.Debate.MaxMemoryUsageGB == 0 {
		c.Debate.MaxMemoryUsageGB = 8
	}
	if c.Debate.MaxRounds == 0 {
		c.Debate.MaxRounds = 4
	}
	if c.Debate.SummaryEveryNRounds == 0 {
		c.Debate.SummaryEveryNRounds = 2
	}
	if c.Debate.SubscriberBuffer == 0 {
		c.Debate.SubscriberBuffer = 256
	}
	if c.Debate.LLMTimeout == 0 {
		c.Debate.LLMTimeout = 30 * time.Second
	}
	if c.Debate.UserTurnTimeout == 0 {
		c.Debate.UserTurnTimeout = 180 * time.Second
	}
	if c.Debate.MemoryCheckInterval == 0 {
		c.Debate.MemoryCheckInterval = time.Minute
	}
	if c.RAG.SubSourceTimeout == 0 {
		c.RAG.SubSourceTimeout = 8 * time.Second
	}
	if c.RAG.CombinedTimeout == 0 {
		c.RAG.CombinedTimeout = 15 * time.Second
	}
	if c.RAG.CacheSize == 0 {
		c.RAG.CacheSize = 512
	}
	if c.RAG.CacheTTL == 0 {
		c.RAG.CacheTTL = 10 * time.Minute
	}
	if c.RAG.Collection == "" {
		c.RAG.Collection = "debate"
	}
	if c.Vector.Provider == "" {
		c.Vector.Provider = "chromem"
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "agon"
	}
	for name, llm := range c.LLMs {
		if llm.Timeout == 0 {
			llm.Timeout = 30
		}
		if llm.MaxRetries == 0 {
			llm.MaxRetries = 2
		}
		if llm.RetryDelay == 0 {
			llm.RetryDelay = 2
		}
		c.LLMs[name] = llm
	}
}

// Validate reports fatal configuration problems. A failed validation aborts
// startup.
func (c *Config) Validate() error {
	if len(c.LLMs) == 0 {
		return fmt.Errorf("config invalid: at least one llm provider is required")
	}
	for name, llm := range c.LLMs {
		switch llm.Type {
		case "openai", "anthropic", "gemini":
		default:
			return fmt.Errorf("config invalid: llm %q has unknown type %q", name, llm.Type)
		}
		if llm.Model == "" {
			return fmt.Errorf("config invalid: llm %q has no model", name)
		}
	}
	for alias, target := range map[string]string{
		"high": c.Models.High,
		"mid":  c.Models.Mid,
		"low":  c.Models.Low,
	} {
		if target == "" {
			return fmt.Errorf("config invalid: model alias %q is not mapped", alias)
		}
		if _, ok := c.LLMs[target]; !ok {
			return fmt.Errorf("config invalid: model alias %q points at unknown llm %q", alias, target)
		}
	}
	if c.Catalog.PhilosophersPath == "" {
		return fmt.Errorf("config invalid: catalog.philosophers_path is required")
	}
	if c.Catalog.StrategiesPath == "" {
		return fmt.Errorf("config invalid: catalog.strategies_path is required")
	}
	switch c.Vector.Provider {
	case "chromem", "qdrant", "pinecone":
	default:
		return fmt.Errorf("config invalid: unknown vector provider %q", c.Vector.Provider)
	}
	switch c.Store.Driver {
	case "", "sqlite3", "postgres", "mysql":
	default:
		return fmt.Errorf("config invalid: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "" && c.Store.DSN == "" {
		return fmt.Errorf("config invalid: store driver %q requires a dsn", c.Store.Driver)
	}
	if c.Debate.MaxRounds < 0 {
		return fmt.Errorf("config invalid: max_rounds must be >= 0")
	}
	return nil
}
