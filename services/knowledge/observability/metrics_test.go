// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordQuery(t *testing.T) {
	t.Parallel()
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordQuery(ModeBlocking, "answered", 120*time.Millisecond)
	m.RecordQuery(ModeBlocking, "answered", 80*time.Millisecond)
	m.RecordQuery(ModeStream, "greeting", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("blocking", "answered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("stream", "greeting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("stream", "answered")))
}

func TestMetrics_GuardAndFragments(t *testing.T) {
	t.Parallel()
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordGuardOverride([]string{"Interpol", "FBI"})
	m.RecordGuardOverride([]string{"Interpol"})
	m.RecordFragment()
	m.RecordFragment()
	m.RecordIngested("indexed", 5)
	m.RecordIngested("failed", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.GuardOverridesTotal.WithLabelValues("Interpol")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardOverridesTotal.WithLabelValues("FBI")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StreamFragmentsTotal))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.IngestedChunksTotal.WithLabelValues("indexed")))
}

func TestMetrics_HistogramsCollect(t *testing.T) {
	t.Parallel()
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordSelection(6, 3, 1800)
	m.ObserveStage(StageRetrieve, 40*time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(m.RetrievalCandidates))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDurationSeconds))
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordQuery(ModeBlocking, "answered", time.Second)
		m.ObserveStage(StageFilter, time.Second)
		m.RecordSelection(1, 1, 1)
		m.RecordGuardOverride([]string{"x"})
		m.RecordFragment()
		m.RecordIngested("indexed", 1)
	})
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
