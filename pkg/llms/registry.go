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

package llms

import (
	"context"
	"fmt"

	"github.com/agonhq/agon/pkg/config"
	"github.com/agonhq/agon/pkg/registry"
)

// Registry holds named providers plus the alias table resolving the abstract
// high/mid/low tiers to concrete providers.
type Registry struct {
	providers *registry.BaseRegistry[Completer]
	aliases   map[Alias]string
}

func NewRegistry() *Registry {
	return &Registry{
		providers: registry.NewBaseRegistry[Completer](),
		aliases:   map[Alias]string{},
	}
}

// NewRegistryFromConfig builds providers for every configured llm entry and
// binds the model aliases.
func NewRegistryFromConfig(cfg *config.Config) (*Registry, error) {
	r := NewRegistry()

	for name, providerCfg := range cfg.LLMs {
		providerCfg := providerCfg
		provider, err := NewProviderFromConfig(&providerCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create llm %q: %w", name, err)
		}
		if err := r.RegisterProvider(name, provider); err != nil {
			return nil, err
		}
	}

	for alias, target := range map[Alias]string{
		AliasHigh: cfg.Models.High,
		AliasMid:  cfg.Models.Mid,
		AliasLow:  cfg.Models.Low,
	} {
		if err := r.BindAlias(alias, target); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// NewProviderFromConfig constructs a provider for the configured type.
func NewProviderFromConfig(cfg *config.LLMProviderConfig) (Completer, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	case "gemini":
		return NewGeminiProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider type: %s", cfg.Type)
	}
}

func (r *Registry) RegisterProvider(name string, provider Completer) error {
	if provider == nil {
		return fmt.Errorf("llm provider cannot be nil")
	}
	return r.providers.Register(name, provider)
}

// BindAlias points an alias at a registered provider name.
func (r *Registry) BindAlias(alias Alias, providerName string) error {
	if _, ok := r.providers.Get(providerName); !ok {
		return fmt.Errorf("alias %q points at unregistered llm %q", alias, providerName)
	}
	r.aliases[alias] = providerName
	return nil
}

// Resolve returns the provider behind an alias.
func (r *Registry) Resolve(alias Alias) (Completer, error) {
	name, ok := r.aliases[alias]
	if !ok {
		return nil, fmt.Errorf("unknown model alias %q", alias)
	}
	provider, ok := r.providers.Get(name)
	if !ok {
		return nil, fmt.Errorf("alias %q points at unregistered llm %q", alias, name)
	}
	return provider, nil
}

// Complete resolves the alias and performs the completion.
func (r *Registry) Complete(ctx context.Context, alias Alias, req Request) (*Result, error) {
	provider, err := r.Resolve(alias)
	if err != nil {
		return nil, err
	}
	return provider.Complete(ctx, req)
}

// Close releases all providers.
func (r *Registry) Close() error {
	var firstErr error
	for _, p := range r.providers.List() {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
