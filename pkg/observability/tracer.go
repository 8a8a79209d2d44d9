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

package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps the OpenTelemetry tracer with debate-shaped helpers.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer installs a trace provider. Disabled tracing returns a tracer
// whose spans are no-ops.
func NewTracer(enabled bool) *Tracer {
	if !enabled {
		return &Tracer{tracer: otel.Tracer("agon")}
	}
	provider := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(provider)
	return &Tracer{provider: provider, tracer: provider.Tracer("agon")}
}

// StartTurn opens a span for one turn execution.
func (t *Tracer) StartTurn(ctx context.Context, roomID, speakerID string, kind string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "debate.turn",
		trace.WithAttributes(
			attribute.String("room.id", roomID),
			attribute.String("speaker.id", speakerID),
			attribute.String("turn.kind", kind),
		))
}

// StartSpan opens a generic span.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
