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

// Package tracing adapts the teacher's OpenTelemetry wiring
// (internal/util/tracing in trickster) to this proxy's span sites: origin
// fetch, cache lookup, and MITM handshake, plus one span per admin route.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/api/global"
	"go.opentelemetry.io/otel/api/trace"
)

const (
	// Trace implementation enum
	StdoutTracerImplementation TracerImplementation = iota

	JaegerTracer

	// RecorderTracer captures spans in memory instead of exporting them,
	// for tests that assert on emitted spans.
	RecorderTracer
)

type TracerImplementation int

var (
	tracerImplemetationStrings = []string{
		"stdout",
		"jaeger",
		"recorder",
	}
	TracerImplementations = map[string]TracerImplementation{
		tracerImplemetationStrings[StdoutTracerImplementation]: StdoutTracerImplementation,
		tracerImplemetationStrings[JaegerTracer]:               JaegerTracer,
		tracerImplemetationStrings[RecorderTracer]:             RecorderTracer,
	}
)

// GlobalTracer returns the tracer registered under ctx's tracer name, or a
// no-op tracer if none was attached.
func GlobalTracer(ctx context.Context) trace.Tracer {
	tracerName, ok := ctx.Value(tracerCtxKey).(string)
	if !ok {
		return trace.NoopTracer{}
	}
	return global.TraceProvider().Tracer(tracerName)
}

func (t TracerImplementation) String() string {
	if t < StdoutTracerImplementation || t > RecorderTracer {
		return "unknown-tracer"
	}
	return tracerImplemetationStrings[t]
}

// SetTracer installs the global trace provider for the given implementation
// and returns a flush function to call at shutdown.
func SetTracer(t TracerImplementation, collectorURL, serviceName string) (func(), error) {
	activeRecorder = nil
	switch t {
	case StdoutTracerImplementation:
		return setStdOutTracer()
	case JaegerTracer:
		return setJaegerTracer(collectorURL, serviceName)
	case RecorderTracer:
		return setRecorderTracerImpl()
	default:
		return setStdOutTracer()
	}
}

// StartSpan starts a span named spanName under the tracer named tracerName,
// as a child of ctx's current span context if one is attached.
func StartSpan(ctx context.Context, tracerName, spanName string) (context.Context, trace.Span) {
	tr := global.TraceProvider().Tracer(tracerName)
	ctx = context.WithValue(ctx, tracerCtxKey, tracerName)
	return tr.Start(ctx, spanName)
}
