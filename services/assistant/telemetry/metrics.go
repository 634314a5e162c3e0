// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry provides OpenTelemetry metrics for the assistant's
// resilience and learning core.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/meridianops/meridian/services/assistant/events"
	"github.com/meridianops/meridian/services/assistant/resilience"
)

// Metrics contains pre-defined metrics for the assistant service.
//
// Description:
//
//	Provides counters and histograms for protected calls, circuit breaker
//	activity, fallback dispatch, and mistake learning. All metrics use the
//	"assistant_" prefix for consistent naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// ProtectedCallsTotal counts protected calls by dependency and outcome.
	ProtectedCallsTotal metric.Int64Counter

	// ProtectedCallDuration records protected call duration in seconds.
	ProtectedCallDuration metric.Float64Histogram

	// ShortCircuitsTotal counts fast-fail denials by dependency.
	ShortCircuitsTotal metric.Int64Counter

	// FallbacksTotal counts fallback dispatches by dependency.
	FallbacksTotal metric.Int64Counter

	// MistakesRecordedTotal counts mistake recordings by tool.
	MistakesRecordedTotal metric.Int64Counter

	// CorrectionsTotal counts learned corrections by tool.
	CorrectionsTotal metric.Int64Counter
}

// NewMetrics creates a Metrics instance with all metrics registered.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance with all instruments initialized.
//	error - Non-nil if metric registration fails.
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ProtectedCallsTotal, err = meter.Int64Counter(
		"assistant_protected_calls_total",
		metric.WithDescription("Total protected dependency calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create protected_calls_total: %w", err)
	}

	m.ProtectedCallDuration, err = meter.Float64Histogram(
		"assistant_protected_call_duration_seconds",
		metric.WithDescription("Protected dependency call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("create protected_call_duration: %w", err)
	}

	m.ShortCircuitsTotal, err = meter.Int64Counter(
		"assistant_short_circuits_total",
		metric.WithDescription("Calls denied by an open circuit breaker"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create short_circuits_total: %w", err)
	}

	m.FallbacksTotal, err = meter.Int64Counter(
		"assistant_fallbacks_total",
		metric.WithDescription("Calls served by the fallback path"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create fallbacks_total: %w", err)
	}

	m.MistakesRecordedTotal, err = meter.Int64Counter(
		"assistant_mistakes_recorded_total",
		metric.WithDescription("Mistakes recorded by the learner"),
		metric.WithUnit("{mistake}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create mistakes_recorded_total: %w", err)
	}

	m.CorrectionsTotal, err = meter.Int64Counter(
		"assistant_corrections_total",
		metric.WithDescription("Self-corrections detected by the learner"),
		metric.WithUnit("{correction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create corrections_total: %w", err)
	}

	return m, nil
}

// RecordCall records one protected call outcome.
func (m *Metrics) RecordCall(ctx context.Context, dependency, outcome string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("dependency", dependency),
		attribute.String("outcome", outcome),
	)
	m.ProtectedCallsTotal.Add(ctx, 1, attrs)
	m.ProtectedCallDuration.Record(ctx, seconds, attrs)
}

// RecordShortCircuit records one fast-fail denial.
func (m *Metrics) RecordShortCircuit(ctx context.Context, dependency string) {
	m.ShortCircuitsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("dependency", dependency)))
}

// RecordFallback records one fallback dispatch.
func (m *Metrics) RecordFallback(ctx context.Context, dependency string) {
	m.FallbacksTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("dependency", dependency)))
}

// EventSink returns an events.Sink that mirrors learning events into
// metrics. Plug it into the learner alongside the UI sinks.
func (m *Metrics) EventSink() events.Sink {
	return &metricSink{metrics: m}
}

type metricSink struct {
	metrics *Metrics
}

// Publish counts learning events. Never blocks.
func (s *metricSink) Publish(ev events.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("tool", ev.ToolName))
	switch ev.Action {
	case events.ActionMistakeRecorded:
		s.metrics.MistakesRecordedTotal.Add(ctx, 1, attrs)
	case events.ActionPatternLearned:
		s.metrics.CorrectionsTotal.Add(ctx, 1, attrs)
	}
}

// RegisterOpenCircuitsGauge exposes the number of open circuits as an
// observable gauge, sampled from the registry on collection.
func RegisterOpenCircuitsGauge(meter metric.Meter, registry *resilience.Registry) error {
	gauge, err := meter.Int64ObservableGauge(
		"assistant_open_circuits",
		metric.WithDescription("Number of currently open circuit breakers"),
		metric.WithUnit("{circuit}"),
	)
	if err != nil {
		return fmt.Errorf("create open_circuits gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(len(registry.OpenCircuits())))
		return nil
	}, gauge)
	if err != nil {
		return fmt.Errorf("register open_circuits callback: %w", err)
	}
	return nil
}
