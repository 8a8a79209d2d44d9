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

// Package observability wires OpenTelemetry metrics and tracing. Metrics are
// exported through the Prometheus bridge and scraped from /metrics.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the engine's instruments. A zero-value Metrics is a no-op,
// so call sites never nil-check.
type Metrics struct {
	turnDuration  metric.Float64Histogram
	turnsTotal    metric.Int64Counter
	fallbacks     metric.Int64Counter
	llmTokens     metric.Int64Counter
	ragCalls      metric.Int64Counter
	ragCacheHits  metric.Int64Counter
	roomsCreated  metric.Int64Counter
	roomsEvicted  metric.Int64Counter
	slowConsumers metric.Int64Counter
}

// Init builds the meter provider with the Prometheus exporter and registers
// all instruments.
func Init(enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("agon")

	m := &Metrics{}
	if m.turnDuration, err = meter.Float64Histogram(
		"agon_turn_duration_seconds",
		metric.WithDescription("Turn generation duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.turnsTotal, err = meter.Int64Counter(
		"agon_turns_total",
		metric.WithDescription("Total turns completed"),
	); err != nil {
		return nil, err
	}
	if m.fallbacks, err = meter.Int64Counter(
		"agon_turn_fallbacks_total",
		metric.WithDescription("Turns resolved by the deterministic fallback"),
	); err != nil {
		return nil, err
	}
	if m.llmTokens, err = meter.Int64Counter(
		"agon_llm_tokens_total",
		metric.WithDescription("Tokens consumed by completion calls"),
	); err != nil {
		return nil, err
	}
	if m.ragCalls, err = meter.Int64Counter(
		"agon_rag_calls_total",
		metric.WithDescription("Retrieval gateway calls"),
	); err != nil {
		return nil, err
	}
	if m.ragCacheHits, err = meter.Int64Counter(
		"agon_rag_cache_hits_total",
		metric.WithDescription("Retrieval cache hits"),
	); err != nil {
		return nil, err
	}
	if m.roomsCreated, err = meter.Int64Counter(
		"agon_rooms_created_total",
		metric.WithDescription("Rooms created"),
	); err != nil {
		return nil, err
	}
	if m.roomsEvicted, err = meter.Int64Counter(
		"agon_rooms_evicted_total",
		metric.WithDescription("Rooms evicted by the memory sweeper"),
	); err != nil {
		return nil, err
	}
	if m.slowConsumers, err = meter.Int64Counter(
		"agon_slow_consumers_total",
		metric.WithDescription("Subscribers disconnected for falling behind"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordTurn(ctx context.Context, kind string, seconds float64, fallback bool) {
	if m.turnsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.turnsTotal.Add(ctx, 1, attrs)
	m.turnDuration.Record(ctx, seconds, attrs)
	if fallback {
		m.fallbacks.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordTokens(ctx context.Context, input, output int) {
	if m.llmTokens == nil {
		return
	}
	m.llmTokens.Add(ctx, int64(input), metric.WithAttributes(attribute.String("direction", "input")))
	m.llmTokens.Add(ctx, int64(output), metric.WithAttributes(attribute.String("direction", "output")))
}

func (m *Metrics) RecordRAGCall(ctx context.Context, origin string, cacheHit bool) {
	if m.ragCalls == nil {
		return
	}
	m.ragCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", origin)))
	if cacheHit {
		m.ragCacheHits.Add(ctx, 1)
	}
}

func (m *Metrics) RecordRoomCreated(ctx context.Context) {
	if m.roomsCreated == nil {
		return
	}
	m.roomsCreated.Add(ctx, 1)
}

func (m *Metrics) RecordRoomEvicted(ctx context.Context) {
	if m.roomsEvicted == nil {
		return
	}
	m.roomsEvicted.Add(ctx, 1)
}

func (m *Metrics) RecordSlowConsumer(ctx context.Context) {
	if m.slowConsumers == nil {
		return
	}
	m.slowConsumers.Add(ctx, 1)
}
