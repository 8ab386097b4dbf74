/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

package tracing

import (
	"context"

	"go.opentelemetry.io/otel/api/core"
	"go.opentelemetry.io/otel/api/global"
	"go.opentelemetry.io/otel/api/trace"
)

// ServiceName identifies this process to the configured trace exporter.
var ServiceName = "mitmcache-proxy"

// NewChildSpan starts spanName as a child of whatever span is already
// attached to ctx, falling back to a root span if none is. Call sites are
// internal/proxy/fetch (origin fetch), internal/proxy/plainhttp and
// internal/proxy/mitm (cache lookup), internal/proxy/mitm (handshake), and
// internal/util/middleware (admin routes).
func NewChildSpan(ctx context.Context, tracerName, spanName string) (context.Context, trace.Span) {
	tr := global.TraceProvider().Tracer(tracerName)

	var opts []trace.StartOption
	if spanCtx, ok := ctx.Value(spanCtxKey).(core.SpanContext); ok {
		opts = append(opts, trace.ChildOf(spanCtx))
	}

	ctx = context.WithValue(ctx, tracerCtxKey, tracerName)
	ctx, span := tr.Start(ctx, spanName, opts...)
	ctx = context.WithValue(ctx, spanCtxKey, span.SpanContext())
	return ctx, span
}

type ctxSpanType struct{}
type tracerCtxType struct{}

var (
	spanCtxKey   = &ctxSpanType{}
	tracerCtxKey = &tracerCtxType{}
)
