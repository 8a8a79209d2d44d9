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

	"gopkg.in/yaml.v3"

	"github.com/agonhq/agon/pkg/catalog"
	"github.com/agonhq/agon/pkg/config"
	"github.com/agonhq/agon/pkg/embedder"
	"github.com/agonhq/agon/pkg/rag"
	"github.com/agonhq/agon/pkg/vector"
)

// ValidateCmd validates configuration and catalogue files.
type ValidateCmd struct {
	Config string `arg:"" optional:"" name:"config" help:"Configuration file path." placeholder:"PATH"`

	PrintConfig bool `short:"p" name:"print-config" help:"Print the expanded configuration with defaults applied."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	path := c.Config
	if path == "" {
		path = cli.Config
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cat, err := catalog.Load(cfg.Catalog.PhilosophersPath, cfg.Catalog.StrategiesPath)
	if err != nil {
		return fmt.Errorf("invalid catalogue: %w", err)
	}

	fmt.Printf("ok: %d philosophers, %d moderators, %d attack / %d defense / %d followup strategies\n",
		len(cat.Philosophers), len(cat.Moderators),
		len(cat.Strategies.Attack), len(cat.Strategies.Defense), len(cat.Strategies.Followup))

	if c.PrintConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	}
	return nil
}

// IndexCmd indexes the philosopher corpus into the vector store.
type IndexCmd struct {
	Dir string `help:"Corpus directory (overrides config)." type:"path"`
}

func (c *IndexCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	dir := c.Dir
	if dir == "" {
		dir = cfg.RAG.CorpusDir
	}
	if dir == "" {
		return fmt.Errorf("no corpus directory configured")
	}

	vectors, err := vector.New(&cfg.Vector)
	if err != nil {
		return err
	}
	defer func() { _ = vectors.Close() }()

	embed := embedder.NewOpenAIEmbedder(&cfg.Embedder)
	defer func() { _ = embed.Close() }()

	indexer, err := rag.NewIndexer(vectors, embed)
	if err != nil {
		return err
	}
	n, err := indexer.IndexDir(context.Background(), dir)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d chunks from %s\n", n, dir)
	return nil
}
