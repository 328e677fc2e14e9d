// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chunking

import (
	"fmt"
	"strings"
	"testing"

	"github.com/AleutianAI/cybersafe/services/knowledge/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// words returns "w0 w1 ... w{n-1}".
func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestNewChunker_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{"valid", 10, 2, false},
		{"zero overlap", 10, 0, false},
		{"zero size", 0, 0, true},
		{"overlap equals size", 5, 5, true},
		{"negative overlap", 5, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := NewChunker(tt.size, tt.overlap, 0)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidWindow)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}

func TestChunker_SplitWindowsOverlap(t *testing.T) {
	t.Parallel()
	c, err := NewChunker(4, 1, 0)
	require.NoError(t, err)

	got := c.Split(words(10))
	assert.Equal(t, []string{
		"w0 w1 w2 w3",
		"w3 w4 w5 w6",
		"w6 w7 w8 w9",
		"w9",
	}, got)
}

func TestChunker_SplitDropsShortWindows(t *testing.T) {
	t.Parallel()
	c, err := NewChunker(4, 1, 5)
	require.NoError(t, err)

	// "w9" is two characters and falls under the minimum.
	got := c.Split(words(10))
	assert.Len(t, got, 3)
	assert.NotContains(t, got, "w9")
}

func TestChunker_SplitEmpty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, Default().Split("   \n\t "))
}

func TestChunker_WindowsAreSubstringsOfNormalisedText(t *testing.T) {
	t.Parallel()
	c, err := NewChunker(7, 3, 0)
	require.NoError(t, err)
	text := Normalize("Phishing   emails\ntry to trick you.\n\nPage 3 of 9 Report them  to report@phishing.gov.uk today please.")
	for _, chunk := range c.Split(text) {
		assert.Contains(t, text, chunk)
	}
}

func TestChunker_ChunkDocument(t *testing.T) {
	t.Parallel()
	c, err := NewChunker(4, 1, 0)
	require.NoError(t, err)

	doc := datatypes.Document{
		ID:          "UK_phishing_0",
		Text:        words(10),
		SourceURL:   "https://www.ncsc.gov.uk/phishing",
		Title:       "Phishing",
		ContentType: datatypes.ContentTypeHTML,
		Region:      "UK",
	}
	chunks := c.ChunkDocument(doc)
	require.Len(t, chunks, 4)
	for i, ch := range chunks {
		assert.Equal(t, fmt.Sprintf("UK_phishing_0_%d", i), ch.ID)
		assert.Equal(t, doc.ID, ch.DocumentID)
		assert.Equal(t, i, ch.Metadata.ChunkIndex)
		assert.Equal(t, 4, ch.Metadata.TotalChunks)
		assert.Equal(t, fmt.Sprintf("Phishing (Part %d)", i+1), ch.Metadata.Title)
		assert.Equal(t, "UK", ch.Metadata.Region)
		assert.Equal(t, "html", ch.Metadata.Type)
	}
}

func TestChunker_ChunkDocumentSingleChunkKeepsTitle(t *testing.T) {
	t.Parallel()
	c, err := NewChunker(50, 5, 0)
	require.NoError(t, err)
	chunks := c.ChunkDocument(datatypes.Document{ID: "d", Text: words(10), Title: "Scams"})
	require.Len(t, chunks, 1)
	assert.Equal(t, "Scams", chunks[0].Metadata.Title)
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "a \n\n b\t\tc", "a b c"},
		{"removes page footers", "intro Page 2 of 14 body", "intro body"},
		{"repairs broken scheme", "see http : / / www.ncsc.gov.uk", "see https://www.ncsc.gov.uk"},
		{"trims", "  x  ", "x"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}
