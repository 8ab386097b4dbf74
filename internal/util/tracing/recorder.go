package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"go.opentelemetry.io/otel/api/global"
	"go.opentelemetry.io/otel/api/trace"
	export "go.opentelemetry.io/otel/sdk/export/trace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// activeRecorder holds the exporter installed by setRecorderTracerImpl, so
// tests using the "recorder" implementation can inspect recorded spans
// without standing up a collector.
var activeRecorder *recorderExporter

// RecordedSpans returns the spans captured by the "recorder" tracer
// implementation, or nil if it is not the active implementation.
func RecordedSpans() []*export.SpanData {
	if activeRecorder == nil {
		return nil
	}
	return activeRecorder.spans
}

// setRecorderTracerImpl installs the in-memory recorder exporter as the
// global trace provider, matching setStdOutTracer/setJaegerTracer's
// (func(), error) shape so SetTracer can dispatch to it uniformly. Used by
// the "recorder" TracerImplementation so tests can assert on emitted spans
// without standing up a collector.
func setRecorderTracerImpl() (func(), error) {
	_, flush, exporter, err := setRecorderTracer(func(error) {}, 1)
	if err != nil {
		return nil, err
	}
	activeRecorder = exporter
	return flush, nil
}

// setRecorderTracer builds a recorder-backed trace provider and installs it
// globally, returning the tracer, a flush func, and the exporter for
// inspection.
func setRecorderTracer(ef errorFunc, sampleRate float64) (trace.Tracer, func(), *recorderExporter, error) {
	f := func() {}
	exporter, _ := newRecorder(ef)

	tp, err := sdktrace.NewProvider(sdktrace.WithConfig(sdktrace.Config{DefaultSampler: sdktrace.ProbabilitySampler(sampleRate)}),
		sdktrace.WithSyncer(exporter))
	if err != nil {
		return tp.Tracer(""), f, nil, err
	}
	global.SetTraceProvider(tp)
	return tp.Tracer(""), f, exporter, nil
}

// recorderExporter is an implementation of trace.Exporter that writes spans to a buffer, and saves the span data for later inspection.
type recorderExporter struct {
	io.Reader
	outputWriter io.Writer
	spans        []*export.SpanData
	errorFunc    errorFunc
}

// newRecorder returns a newly instantiated recorder
func newRecorder(ef errorFunc) (*recorderExporter, error) {
	buf := new(bytes.Buffer)
	return &recorderExporter{buf, buf, nil, ef}, nil
}

// ExportSpan writes a SpanData in json format to buffer.
func (e *recorderExporter) ExportSpan(ctx context.Context, data *export.SpanData) {
	jsonSpan, err := json.Marshal(data)
	if err != nil {
		e.errorFunc(err)
	}
	e.spans = append(e.spans, data)
	// ignore writer failures for now
	e.outputWriter.Write(append(jsonSpan, byte('\n')))
}

type errorFunc func(error)
