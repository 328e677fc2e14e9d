// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/AleutianAI/cybersafe/services/knowledge/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func dist(v float64) *float64 { return &v }

func candidate(text, url string, d *float64) datatypes.RetrievalCandidate {
	return datatypes.RetrievalCandidate{
		Text:     text,
		Metadata: datatypes.Metadata{SourceURL: url, Title: "title " + url},
		Distance: d,
	}
}

func texts(sel datatypes.SelectionSet) []string {
	out := make([]string, len(sel.Candidates))
	for i, c := range sel.Candidates {
		out[i] = c.Text
	}
	return out
}

var defaultLimits = Limits{MaxDistance: 1.0, MaxSelected: 4, MaxChars: 2000}

// =============================================================================
// Threshold
// =============================================================================

func TestFilter_Threshold(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		candidates []datatypes.RetrievalCandidate
		want       []string
	}{
		{
			name:       "no candidates",
			candidates: nil,
			want:       []string{},
		},
		{
			name: "all at or above max distance",
			candidates: []datatypes.RetrievalCandidate{
				candidate("a", "u1", dist(1.0)),
				candidate("b", "u2", dist(1.4)),
			},
			want: []string{},
		},
		{
			name: "missing and NaN distances are dropped",
			candidates: []datatypes.RetrievalCandidate{
				candidate("a", "u1", nil),
				candidate("b", "u2", dist(math.NaN())),
				candidate("c", "u3", dist(0.2)),
			},
			want: []string{"c"},
		},
		{
			name: "just under the threshold survives",
			candidates: []datatypes.RetrievalCandidate{
				candidate("a", "u1", dist(0.999)),
			},
			want: []string{"a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sel := Filter(tt.candidates, defaultLimits)
			assert.Equal(t, tt.want, texts(sel))
			assert.Equal(t, len(tt.want) == 0, sel.Empty())
		})
	}
}

func TestFilter_SortsUnorderedInput(t *testing.T) {
	t.Parallel()
	sel := Filter([]datatypes.RetrievalCandidate{
		candidate("far", "u1", dist(0.9)),
		candidate("near", "u2", dist(0.1)),
		candidate("mid", "u3", dist(0.5)),
	}, defaultLimits)
	assert.Equal(t, []string{"near", "mid", "far"}, texts(sel))
	assert.Equal(t, "near\n\nmid\n\nfar", sel.Context)
}

func TestFilter_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	in := []datatypes.RetrievalCandidate{
		candidate("b", "u1", dist(0.9)),
		candidate("a", "u2", dist(0.1)),
	}
	_ = Filter(in, defaultLimits)
	assert.Equal(t, "b", in[0].Text)
	assert.Equal(t, "a", in[1].Text)
}

// =============================================================================
// Diversity
// =============================================================================

func TestFilter_SameURLCappedAtTwo(t *testing.T) {
	t.Parallel()
	var in []datatypes.RetrievalCandidate
	for i := range 5 {
		in = append(in, candidate(strings.Repeat("x", i+1), "https://same", dist(0.1*float64(i+1))))
	}
	sel := Filter(in, defaultLimits)
	assert.Len(t, sel.Candidates, 2)
}

func TestFilter_DiversityPrefersNewURLs(t *testing.T) {
	t.Parallel()
	sel := Filter([]datatypes.RetrievalCandidate{
		candidate("a1", "A", dist(0.1)),
		candidate("a2", "A", dist(0.2)),
		candidate("a3", "A", dist(0.3)),
		candidate("b1", "B", dist(0.4)),
		candidate("a4", "A", dist(0.5)),
		candidate("c1", "C", dist(0.6)),
		candidate("d1", "D", dist(0.7)),
	}, defaultLimits)
	assert.Equal(t, []string{"a1", "a2", "b1", "c1"}, texts(sel))
}

func TestFilter_MaxSelected(t *testing.T) {
	t.Parallel()
	var in []datatypes.RetrievalCandidate
	for i, url := range []string{"A", "B", "C", "D", "E", "F"} {
		in = append(in, candidate(url, url, dist(0.1*float64(i+1))))
	}
	sel := Filter(in, Limits{MaxDistance: 1, MaxSelected: 3, MaxChars: 2000})
	assert.Equal(t, []string{"A", "B", "C"}, texts(sel))
}

// =============================================================================
// Budget
// =============================================================================

func TestFilter_BudgetAllOrNothing(t *testing.T) {
	t.Parallel()
	a := strings.Repeat("a", 10)
	b := strings.Repeat("b", 10)
	c := strings.Repeat("c", 3)

	// a + sep + b = 22 fits in 23; adding sep + c (5) would reach 27.
	sel := Filter([]datatypes.RetrievalCandidate{
		candidate(a, "A", dist(0.1)),
		candidate(b, "B", dist(0.2)),
		candidate(c, "C", dist(0.3)),
	}, Limits{MaxDistance: 1, MaxSelected: 4, MaxChars: 23})

	assert.Equal(t, []string{a, b}, texts(sel))
	assert.Equal(t, a+"\n\n"+b, sel.Context)
}

func TestFilter_BudgetStopsAtFirstOverflow(t *testing.T) {
	t.Parallel()
	// The third passage would fit on its own but comes after an overflow.
	sel := Filter([]datatypes.RetrievalCandidate{
		candidate(strings.Repeat("a", 10), "A", dist(0.1)),
		candidate(strings.Repeat("b", 50), "B", dist(0.2)),
		candidate("c", "C", dist(0.3)),
	}, Limits{MaxDistance: 1, MaxSelected: 4, MaxChars: 20})
	assert.Equal(t, []string{strings.Repeat("a", 10)}, texts(sel))
}

func TestFilter_BudgetExactFit(t *testing.T) {
	t.Parallel()
	sel := Filter([]datatypes.RetrievalCandidate{
		candidate("aaaa", "A", dist(0.1)),
		candidate("bbbb", "B", dist(0.2)),
	}, Limits{MaxDistance: 1, MaxSelected: 4, MaxChars: 10})
	assert.Equal(t, "aaaa\n\nbbbb", sel.Context)
	assert.Len(t, sel.Candidates, 2)
}

func TestFilter_FirstPassageOverBudgetIsTruncated(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("é", 30)
	sel := Filter([]datatypes.RetrievalCandidate{
		candidate(long, "A", dist(0.1)),
		candidate("short", "B", dist(0.2)),
	}, Limits{MaxDistance: 1, MaxSelected: 4, MaxChars: 12})

	require.Len(t, sel.Candidates, 1)
	assert.Equal(t, 12, utf8.RuneCountInString(sel.Context))
	assert.True(t, utf8.ValidString(sel.Context))
	assert.Equal(t, sel.Context, sel.Candidates[0].Text)
}

func TestFilter_ContextNeverExceedsBudget(t *testing.T) {
	t.Parallel()
	var in []datatypes.RetrievalCandidate
	for i, url := range []string{"A", "B", "C", "D", "E"} {
		in = append(in, candidate(strings.Repeat(url, 7*(i+1)), url, dist(0.1*float64(i+1))))
	}
	for budget := 1; budget <= 120; budget++ {
		sel := Filter(in, Limits{MaxDistance: 1, MaxSelected: 4, MaxChars: budget})
		assert.LessOrEqual(t, utf8.RuneCountInString(sel.Context), budget, "budget %d", budget)
		assert.LessOrEqual(t, len(sel.Candidates), 4)
		assert.Equal(t, strings.Join(texts(sel), Separator), sel.Context, "context must be exactly the selected passages")
	}
}

// =============================================================================
// End to End
// =============================================================================

func TestFilter_MixedScenario(t *testing.T) {
	t.Parallel()
	sel := Filter([]datatypes.RetrievalCandidate{
		candidate("A first", "A", dist(0.3)),
		candidate("A second", "A", dist(0.5)),
		candidate("B only", "B", dist(0.6)),
		candidate("C too far", "C", dist(1.2)),
	}, defaultLimits)

	assert.Equal(t, []string{"A first", "A second", "B only"}, texts(sel))
	sources := sel.Sources()
	require.Len(t, sources, 2)
	assert.Equal(t, "A", sources[0].URL)
	assert.Equal(t, "B", sources[1].URL)
}

func TestFilter_ZeroLimitsSelectNothing(t *testing.T) {
	t.Parallel()
	in := []datatypes.RetrievalCandidate{candidate("a", "A", dist(0.1))}
	assert.True(t, Filter(in, Limits{MaxDistance: 1, MaxSelected: 0, MaxChars: 100}).Empty())
	assert.True(t, Filter(in, Limits{MaxDistance: 1, MaxSelected: 1, MaxChars: 0}).Empty())
	assert.True(t, Filter(in, Limits{MaxDistance: 0, MaxSelected: 1, MaxChars: 100}).Empty())
}

func TestLimits_Validate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, defaultLimits.Validate())
	err := Limits{}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max distance")
	assert.Contains(t, err.Error(), "max selected")
	assert.Contains(t, err.Error(), "max chars")
}
