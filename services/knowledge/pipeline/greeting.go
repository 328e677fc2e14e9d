// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import "strings"

const trailingNoise = ".,!?;: \t\r\n"

// greetingMatcher recognises conversational openers that should get the
// welcome message instead of a retrieval round trip.
type greetingMatcher struct {
	vocabulary map[string]struct{}
	minTokens  int
}

func newGreetingMatcher(greetings []string, minTokens int) greetingMatcher {
	vocab := make(map[string]struct{}, len(greetings))
	for _, g := range greetings {
		if n := normalizeQuery(g); n != "" {
			vocab[n] = struct{}{}
		}
	}
	return greetingMatcher{vocabulary: vocab, minTokens: minTokens}
}

// matches reports whether query is a greeting or too short to search on.
func (g greetingMatcher) matches(query string) bool {
	n := normalizeQuery(query)
	if len(strings.Fields(n)) < g.minTokens {
		return true
	}
	_, ok := g.vocabulary[n]
	return ok
}

// normalizeQuery lowercases, collapses whitespace and strips trailing
// punctuation.
func normalizeQuery(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRight(s, trailingNoise)
}
