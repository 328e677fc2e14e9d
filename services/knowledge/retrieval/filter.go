// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval decides which retrieved passages are allowed to ground
// an answer.
//
// # Pipeline
//
// Filter applies three steps in a fixed order:
//
//	candidates ──► threshold ──► diversity ──► budget ──► SelectionSet
//	 (sorted)     (distance)    (per-URL)     (chars)
//
// Each step only removes or truncates, never reorders, so the final context
// lists passages from most to least similar.
package retrieval

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/cybersafe/services/knowledge/datatypes"
)

// Separator joins passages in the assembled context. It counts toward
// MaxChars.
const Separator = "\n\n"

// diversityFloor is the number of passages accepted before the one-per-URL
// rule kicks in. The best two matches are always kept even when they come
// from the same page.
const diversityFloor = 2

// =============================================================================
// Limits
// =============================================================================

// Limits bounds what Filter may select.
type Limits struct {
	// MaxDistance is exclusive: a candidate at exactly this distance is
	// dropped.
	MaxDistance float64

	// MaxSelected caps the number of passages in the selection.
	MaxSelected int

	// MaxChars caps the length of the assembled context in characters,
	// separators included.
	MaxChars int
}

// Validate reports unusable limits.
func (l Limits) Validate() error {
	var errs []error
	if l.MaxDistance <= 0 {
		errs = append(errs, fmt.Errorf("retrieval: max distance %v must be positive", l.MaxDistance))
	}
	if l.MaxSelected <= 0 {
		errs = append(errs, fmt.Errorf("retrieval: max selected %d must be positive", l.MaxSelected))
	}
	if l.MaxChars <= 0 {
		errs = append(errs, fmt.Errorf("retrieval: max chars %d must be positive", l.MaxChars))
	}
	return errors.Join(errs...)
}

// =============================================================================
// Filter
// =============================================================================

// Filter turns raw search results into a bounded, diverse SelectionSet.
//
// # Description
//
// Candidates are stably sorted by ascending distance, then:
//
//  1. Threshold: candidates with a missing or NaN distance, or a distance at
//     or above MaxDistance, are dropped.
//  2. Diversity: a candidate is accepted when its source URL has not been
//     accepted yet or fewer than two candidates have been accepted so far.
//     Acceptance stops at MaxSelected.
//  3. Budget: accepted passages are joined with Separator until the next one
//     would push the context past MaxChars. A passage is either included
//     whole or not at all, and nothing after the first overflow is
//     considered.
//
// When the very first accepted passage alone exceeds MaxChars it is
// truncated to MaxChars characters and becomes the only member of the
// selection. This keeps the context non-empty whenever something passed the
// threshold and still only cites a passage that contributed text.
//
// # Inputs
//
//   - candidates: Search results in any order. Not modified.
//   - limits: Bounds. Zero or negative values select nothing.
//
// # Outputs
//
//   - datatypes.SelectionSet: Empty when nothing survives. Candidates holds
//     exactly the passages present in Context, in order.
//
// # Examples
//
//	sel := retrieval.Filter(results, retrieval.Limits{MaxDistance: 1.0, MaxSelected: 4, MaxChars: 2000})
//	if sel.Empty() {
//	    return fallback
//	}
//
// # Thread Safety
//
// Filter is pure and deterministic.
func Filter(candidates []datatypes.RetrievalCandidate, limits Limits) datatypes.SelectionSet {
	if limits.MaxSelected <= 0 || limits.MaxChars <= 0 {
		return datatypes.SelectionSet{}
	}
	relevant := applyThreshold(candidates, limits.MaxDistance)
	if len(relevant) == 0 {
		return datatypes.SelectionSet{}
	}
	diverse := applyDiversity(relevant, limits.MaxSelected)
	return applyBudget(diverse, limits.MaxChars)
}

// applyThreshold returns a sorted copy holding only candidates strictly
// closer than maxDistance.
func applyThreshold(candidates []datatypes.RetrievalCandidate, maxDistance float64) []datatypes.RetrievalCandidate {
	kept := make([]datatypes.RetrievalCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.HasDistance() || *c.Distance >= maxDistance {
			continue
		}
		kept = append(kept, c)
	}
	slices.SortStableFunc(kept, func(a, b datatypes.RetrievalCandidate) int {
		switch {
		case *a.Distance < *b.Distance:
			return -1
		case *a.Distance > *b.Distance:
			return 1
		default:
			return 0
		}
	})
	return kept
}

func applyDiversity(candidates []datatypes.RetrievalCandidate, maxSelected int) []datatypes.RetrievalCandidate {
	accepted := make([]datatypes.RetrievalCandidate, 0, min(maxSelected, len(candidates)))
	seen := make(map[string]struct{}, maxSelected)
	for _, c := range candidates {
		if len(accepted) >= maxSelected {
			break
		}
		url := c.Metadata.SourceURL
		if _, dup := seen[url]; dup && len(accepted) >= diversityFloor {
			continue
		}
		seen[url] = struct{}{}
		accepted = append(accepted, c)
	}
	return accepted
}

func applyBudget(candidates []datatypes.RetrievalCandidate, maxChars int) datatypes.SelectionSet {
	if len(candidates) == 0 {
		return datatypes.SelectionSet{}
	}

	first := candidates[0]
	if utf8.RuneCountInString(first.Text) > maxChars {
		first.Text = truncateRunes(first.Text, maxChars)
		return datatypes.SelectionSet{
			Candidates: []datatypes.RetrievalCandidate{first},
			Context:    first.Text,
		}
	}

	sepLen := utf8.RuneCountInString(Separator)
	var b strings.Builder
	used := 0
	selected := make([]datatypes.RetrievalCandidate, 0, len(candidates))
	for i, c := range candidates {
		n := utf8.RuneCountInString(c.Text)
		if i > 0 {
			n += sepLen
		}
		if used+n > maxChars {
			break
		}
		if i > 0 {
			b.WriteString(Separator)
		}
		b.WriteString(c.Text)
		used += n
		selected = append(selected, c)
	}
	return datatypes.SelectionSet{Candidates: selected, Context: b.String()}
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
