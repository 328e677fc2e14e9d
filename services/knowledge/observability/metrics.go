// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the knowledge
// pipeline and its ingestion path.
//
// # Metrics Exposed
//
//   - cybersafe_query_total: Queries by mode (blocking, stream) and outcome
//   - cybersafe_query_stage_duration_seconds: Latency by pipeline stage
//   - cybersafe_query_duration_seconds: End-to-end latency by mode and outcome
//   - cybersafe_retrieval_candidates: Candidates returned by search
//   - cybersafe_retrieval_selected_passages: Passages surviving the filter
//   - cybersafe_retrieval_context_chars: Characters of assembled context
//   - cybersafe_guard_overrides_total: Answers replaced, by offending term
//   - cybersafe_stream_fragments_total: Fragments emitted to stream consumers
//   - cybersafe_ingest_chunks_total: Chunks ingested by status
//
// # Usage
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordQuery(observability.ModeBlocking, "answered", elapsed)
//
// All methods are safe on a nil *Metrics, which records nothing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "cybersafe"

// Mode distinguishes the two query entry points.
type Mode string

const (
	ModeBlocking Mode = "blocking"
	ModeStream   Mode = "stream"
)

// Stage names a timed step of the query router.
type Stage string

const (
	StageRetrieve Stage = "retrieve"
	StageFilter   Stage = "filter"
	StageGenerate Stage = "generate"
	StageGuard    Stage = "guard"
)

// Metrics holds all collectors for one registry.
type Metrics struct {
	QueriesTotal         *prometheus.CounterVec
	QueryDurationSeconds *prometheus.HistogramVec
	StageDurationSeconds *prometheus.HistogramVec
	RetrievalCandidates  prometheus.Histogram
	SelectedPassages     prometheus.Histogram
	ContextChars         prometheus.Histogram
	GuardOverridesTotal  *prometheus.CounterVec
	StreamFragmentsTotal prometheus.Counter
	IngestedChunksTotal  *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. Use a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "query_total",
				Help:      "Total queries by mode and terminal outcome",
			},
			[]string{"mode", "outcome"},
		),
		QueryDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "query_duration_seconds",
				Help:      "End-to-end query latency in seconds",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"mode", "outcome"},
		),
		StageDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "query",
				Name:      "stage_duration_seconds",
				Help:      "Latency of each pipeline stage in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"stage"},
		),
		RetrievalCandidates: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "retrieval",
				Name:      "candidates",
				Help:      "Candidates returned by similarity search per query",
				Buckets:   prometheus.LinearBuckets(0, 2, 8),
			},
		),
		SelectedPassages: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "retrieval",
				Name:      "selected_passages",
				Help:      "Passages selected into the context per query",
				Buckets:   prometheus.LinearBuckets(0, 1, 8),
			},
		),
		ContextChars: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "retrieval",
				Name:      "context_chars",
				Help:      "Characters in the assembled context per query",
				Buckets:   []float64{0, 250, 500, 1000, 1500, 2000, 4000, 8000},
			},
		),
		GuardOverridesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "guard",
				Name:      "overrides_total",
				Help:      "Answers replaced by the fallback sentence, by offending term",
			},
			[]string{"term"},
		),
		StreamFragmentsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "stream",
				Name:      "fragments_total",
				Help:      "Answer fragments emitted to streaming consumers",
			},
		),
		IngestedChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ingest",
				Name:      "chunks_total",
				Help:      "Chunks processed by ingestion, by status",
			},
			[]string{"status"},
		),
	}
}

// RecordQuery counts one finished query.
func (m *Metrics) RecordQuery(mode Mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(string(mode), outcome).Inc()
	m.QueryDurationSeconds.WithLabelValues(string(mode), outcome).Observe(elapsed.Seconds())
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage Stage, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

// RecordSelection records filter input and output sizes.
func (m *Metrics) RecordSelection(candidates, selected, contextChars int) {
	if m == nil {
		return
	}
	m.RetrievalCandidates.Observe(float64(candidates))
	m.SelectedPassages.Observe(float64(selected))
	m.ContextChars.Observe(float64(contextChars))
}

// RecordGuardOverride counts one override per offending term.
func (m *Metrics) RecordGuardOverride(terms []string) {
	if m == nil {
		return
	}
	for _, t := range terms {
		m.GuardOverridesTotal.WithLabelValues(t).Inc()
	}
}

// RecordFragment counts one streamed fragment.
func (m *Metrics) RecordFragment() {
	if m == nil {
		return
	}
	m.StreamFragmentsTotal.Inc()
}

// RecordIngested counts processed chunks. Status is "indexed" or "failed".
func (m *Metrics) RecordIngested(status string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.IngestedChunksTotal.WithLabelValues(status).Add(float64(n))
}
