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

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// envOverridePrefix scopes environment overrides, e.g.
// AGON_DEBATE_MAX_ACTIVE_ROOMS=100 overrides debate.max_active_rooms.
const envOverridePrefix = "AGON_"

// ${VAR} or ${VAR:-default}
var envExpandRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// Load reads, expands, and validates a configuration file. A .env file next
// to the config file is loaded first if present.
func Load(path string) (*Config, error) {
	if envFile := filepath.Join(filepath.Dir(path), ".env"); fileExists(envFile) {
		if err := godotenv.Load(envFile); err != nil {
			slog.Warn("failed to load .env file", "path", envFile, "error", err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	expanded := expandEnv(string(raw))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// expandEnv substitutes ${VAR} and ${VAR:-default} references.
func expandEnv(s string) string {
	return envExpandRe.ReplaceAllStringFunc(s, func(match string) string {
		groups := envExpandRe.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(groups[1]); ok {
			return value
		}
		return groups[3]
	})
}

// applyEnvOverrides decodes AGON_* environment variables onto the config.
// The variable name after the prefix maps to the lowercased yaml path with
// underscores separating segments of the first level, e.g.
// AGON_SERVER_PORT, AGON_DEBATE_MAX_ROUNDS, AGON_STORE_DSN.
func applyEnvOverrides(cfg *Config) error {
	sections := map[string]string{
		"SERVER_":        "server",
		"DEBATE_":        "debate",
		"RAG_":           "rag",
		"VECTOR_":        "vector",
		"STORE_":         "store",
		"CATALOG_":       "catalog",
		"OBSERVABILITY_": "observability",
	}

	overrides := map[string]map[string]any{}
	for _, kv := range os.Environ() {
		key, value, found := strings.Cut(kv, "=")
		if !found || !strings.HasPrefix(key, envOverridePrefix) {
			continue
		}
		rest := strings.TrimPrefix(key, envOverridePrefix)
		for envSection, yamlSection := range sections {
			if strings.HasPrefix(rest, envSection) {
				field := strings.ToLower(strings.TrimPrefix(rest, envSection))
				if overrides[yamlSection] == nil {
					overrides[yamlSection] = map[string]any{}
				}
				overrides[yamlSection][field] = value
				break
			}
		}
	}
	if len(overrides) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("failed to build override decoder: %w", err)
	}
	if err := decoder.Decode(overrides); err != nil {
		return fmt.Errorf("config invalid: bad environment override: %w", err)
	}
	return nil
}

// Watch invokes onChange with a freshly loaded config whenever the file is
// rewritten. Invalid rewrites are logged and skipped. The returned stop
// function releases the watcher.
func Watch(path string, onChange func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Watch the directory so editor rename-replace saves are caught.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					slog.Warn("ignoring invalid config reload", "path", path, "error", err)
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
