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
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// queryCache is an LRU over (normalized query, source signature) with a TTL
// checked on read. Expired entries count as misses and are evicted lazily.
type queryCache struct {
	lru *lru.Cache
	ttl time.Duration
}

type cacheEntry struct {
	items    []Item
	storedAt time.Time
}

func newQueryCache(size int, ttl time.Duration) (*queryCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &queryCache{lru: c, ttl: ttl}, nil
}

// cacheKey folds case and collapses runs of whitespace so trivially different
// phrasings of the same query hit the same entry.
func cacheKey(query string, signature string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ") + "\x00" + signature
}

func (c *queryCache) get(key string, now time.Time) ([]Item, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	entry := v.(cacheEntry)
	if now.Sub(entry.storedAt) > c.ttl {
		c.lru.Remove(key)
		return nil, false
	}
	out := make([]Item, len(entry.items))
	copy(out, entry.items)
	return out, true
}

func (c *queryCache) put(key string, items []Item, now time.Time) {
	stored := make([]Item, len(items))
	copy(stored, items)
	c.lru.Add(key, cacheEntry{items: stored, storedAt: now})
}

func (c *queryCache) len() int {
	return c.lru.Len()
}
