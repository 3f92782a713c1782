// Package instrumentation provides the OpenTelemetry meters and tracers used
// by the token authority and the API layers. Without explicit providers every
// instrument is a no-op.
package instrumentation

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scopePrefix = "github.com/dmitrijs2005/sessionkeeper/"

// Instrumentation bundles the providers and pre-built metric instruments.
type Instrumentation struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metrics        *Metrics
}

// New builds instruments on the given providers. Nil providers fall back to
// no-op implementations.
func New(mp metric.MeterProvider, tp trace.TracerProvider) (*Instrumentation, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}

	inst := &Instrumentation{meterProvider: mp, tracerProvider: tp}

	m, err := newMetrics(inst.Meter("tokens"), inst.Meter("security"))
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}
	inst.metrics = m
	return inst, nil
}

// Noop returns instrumentation that records nothing.
func Noop() *Instrumentation {
	inst, err := New(nil, nil)
	if err != nil {
		// noop providers never fail to create instruments
		panic(err)
	}
	return inst
}

// Meter returns a meter named after the given scope, e.g. "tokens".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a tracer named after the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metric instruments.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}
