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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agonhq/agon/pkg/analysis"
	"github.com/agonhq/agon/pkg/builder"
	"github.com/agonhq/agon/pkg/catalog"
	"github.com/agonhq/agon/pkg/config"
	"github.com/agonhq/agon/pkg/embedder"
	"github.com/agonhq/agon/pkg/eventbus"
	"github.com/agonhq/agon/pkg/llms"
	"github.com/agonhq/agon/pkg/observability"
	"github.com/agonhq/agon/pkg/prepare"
	"github.com/agonhq/agon/pkg/rag"
	"github.com/agonhq/agon/pkg/rooms"
	"github.com/agonhq/agon/pkg/server"
	"github.com/agonhq/agon/pkg/store"
	"github.com/agonhq/agon/pkg/strategy"
	"github.com/agonhq/agon/pkg/vector"
)

// ServeCmd starts the debate server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch config file for changes."`
	Index bool `help:"Index the philosopher corpus before serving."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	if c.Watch {
		stop, err := config.Watch(cli.Config, func(next *config.Config) {
			slog.Info("configuration changed on disk; restart to apply")
		})
		if err != nil {
			slog.Warn("config watch unavailable", "error", err)
		} else {
			defer stop()
		}
	}

	cat, err := catalog.Load(cfg.Catalog.PhilosophersPath, cfg.Catalog.StrategiesPath)
	if err != nil {
		return fmt.Errorf("failed to load catalogue: %w", err)
	}
	slog.Info("catalogue loaded",
		"philosophers", len(cat.Philosophers), "moderators", len(cat.Moderators))

	models, err := llms.NewRegistryFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to build llm registry: %w", err)
	}
	defer func() { _ = models.Close() }()

	vectors, err := vector.New(&cfg.Vector)
	if err != nil {
		return fmt.Errorf("failed to build vector provider: %w", err)
	}
	defer func() { _ = vectors.Close() }()

	embed := embedder.NewOpenAIEmbedder(&cfg.Embedder)
	defer func() { _ = embed.Close() }()

	var web rag.WebSearcher
	if cfg.RAG.WebSearchURL != "" {
		web = rag.NewSearxClient(cfg.RAG.WebSearchURL)
	}
	gateway, err := rag.NewGateway(&cfg.RAG, web, vectors, embed)
	if err != nil {
		return err
	}

	if c.Index && cfg.RAG.CorpusDir != "" {
		indexer, err := rag.NewIndexer(vectors, embed)
		if err != nil {
			return err
		}
		if _, err := indexer.IndexDir(ctx, cfg.RAG.CorpusDir); err != nil {
			return fmt.Errorf("corpus indexing failed: %w", err)
		}
	}

	metrics, err := observability.Init(cfg.Observability.MetricsEnabled)
	if err != nil {
		return err
	}
	tracer := observability.NewTracer(cfg.Observability.TracingEnabled)
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	st, err := store.New(&cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	analyzer, err := analysis.NewAnalyzer(models)
	if err != nil {
		return err
	}
	build := builder.New(models, cfg.Debate.LLMTimeout)

	service := rooms.NewService(rooms.Options{
		Config:   &cfg.Debate,
		Catalog:  cat,
		Selector: strategy.NewSelector(cat.Strategies),
		Analyzer: analyzer,
		Builder:  build,
		Preparer: prepare.New(models, gateway, cfg.Debate.LLMTimeout),
		Gateway:  gateway,
		Bus:      eventbus.New(cfg.Debate.SubscriberBuffer),
		Store:    st,
		Metrics:  metrics,
		Tracer:   tracer,
	})
	go service.Run(ctx)

	srv := server.New(&cfg.Server, service)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	service.Close(shutdownCtx)
	return srv.Shutdown(shutdownCtx)
}
