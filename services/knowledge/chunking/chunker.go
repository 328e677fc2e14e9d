// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chunking splits ingested documents into overlapping word windows
// suitable for embedding.
package chunking

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/cybersafe/services/knowledge/datatypes"
)

// Defaults used when a Chunker is built from zero configuration values.
const (
	DefaultChunkWords   = 500
	DefaultOverlapWords = 50
	DefaultMinChars     = 100
)

// ErrInvalidWindow is wrapped by NewChunker for unusable window settings.
var ErrInvalidWindow = errors.New("chunking: invalid window")

// Chunker produces word windows of Size words, a new window starting every
// Size-Overlap words. Windows holding MinChars characters or fewer are
// discarded so trailing fragments do not pollute the index.
//
// # Thread Safety
//
// Chunker is immutable and safe for concurrent use.
type Chunker struct {
	size     int
	overlap  int
	minChars int
}

// NewChunker validates the window and returns a Chunker.
//
// # Inputs
//
//   - size: Words per window. Must be positive.
//   - overlap: Words shared by consecutive windows. Must be in [0, size).
//   - minChars: Minimum characters a window needs to be kept. Negative is
//     treated as zero.
//
// # Outputs
//
//   - *Chunker: Ready chunker.
//   - error: Wraps ErrInvalidWindow when size or overlap are out of range.
func NewChunker(size, overlap, minChars int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d must be positive", ErrInvalidWindow, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidWindow, overlap, size)
	}
	if minChars < 0 {
		minChars = 0
	}
	return &Chunker{size: size, overlap: overlap, minChars: minChars}, nil
}

// Default returns a Chunker with the package defaults.
func Default() *Chunker {
	return &Chunker{size: DefaultChunkWords, overlap: DefaultOverlapWords, minChars: DefaultMinChars}
}

// Split returns the windows of text in order. The text is split on
// whitespace and each window is re-joined with single spaces.
func (c *Chunker) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := c.size - c.overlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := min(start+c.size, len(words))
		window := strings.Join(words[start:end], " ")
		if utf8.RuneCountInString(window) > c.minChars {
			chunks = append(chunks, window)
		}
	}
	return chunks
}

// ChunkDocument normalises doc.Text, splits it and attaches metadata.
//
// # Description
//
// Chunk IDs are "{documentID}_{index}" so re-ingesting a document replaces
// its previous chunks in an ID-keyed index. Titles of multi-chunk documents
// gain a " (Part n)" suffix. Index and Total count only the kept windows.
//
// # Outputs
//
//   - []datatypes.Chunk: Possibly empty when the text is too short.
func (c *Chunker) ChunkDocument(doc datatypes.Document) []datatypes.Chunk {
	windows := c.Split(Normalize(doc.Text))
	chunks := make([]datatypes.Chunk, 0, len(windows))
	for i, text := range windows {
		title := doc.Title
		if len(windows) > 1 && title != "" {
			title = fmt.Sprintf("%s (Part %d)", title, i+1)
		}
		chunks = append(chunks, datatypes.Chunk{
			ID:         fmt.Sprintf("%s_%d", doc.ID, i),
			DocumentID: doc.ID,
			Text:       text,
			Metadata: datatypes.Metadata{
				SourceURL:   doc.SourceURL,
				Title:       title,
				Type:        doc.ContentType,
				Region:      doc.Region,
				ChunkIndex:  i,
				TotalChunks: len(windows),
			},
		})
	}
	return chunks
}
