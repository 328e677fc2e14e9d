// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package grounding

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// embeddedVocabulary is baked into the binary so the word lists cannot drift
// from the build that was tested.
//
//go:embed vocabulary.yaml
var embeddedVocabulary []byte

// DisallowedTerm is an organisation name the guard rejects unless the
// retrieved context mentions it.
type DisallowedTerm struct {
	Term   string `yaml:"term"`
	Reason string `yaml:"reason"`
}

// Vocabulary holds the fixed word lists.
type Vocabulary struct {
	Greetings       []string         `yaml:"greetings"`
	DisallowedTerms []DisallowedTerm `yaml:"disallowed_terms"`
}

// Terms returns the disallowed term names.
func (v Vocabulary) Terms() []string {
	out := make([]string, 0, len(v.DisallowedTerms))
	for _, t := range v.DisallowedTerms {
		out = append(out, t.Term)
	}
	return out
}

// ParseVocabulary decodes a vocabulary document. Blank entries are rejected.
func ParseVocabulary(raw []byte) (Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return Vocabulary{}, fmt.Errorf("failed to unmarshal vocabulary: %w", err)
	}
	for i, g := range v.Greetings {
		if strings.TrimSpace(g) == "" {
			return Vocabulary{}, fmt.Errorf("vocabulary: greeting %d is blank", i)
		}
	}
	for i, t := range v.DisallowedTerms {
		if strings.TrimSpace(t.Term) == "" {
			return Vocabulary{}, fmt.Errorf("vocabulary: disallowed term %d is blank", i)
		}
	}
	return v, nil
}

// DefaultVocabulary returns the embedded word lists.
func DefaultVocabulary() (Vocabulary, error) {
	return ParseVocabulary(embeddedVocabulary)
}
