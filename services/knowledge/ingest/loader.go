// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest turns scraped content into documents and loads them into
// the vector index.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/cybersafe/services/knowledge/datatypes"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MinContentChars is the shortest scraped body worth indexing.
const MinContentChars = 100

// DefaultRegion tags documents when no region is given.
const DefaultRegion = "UK"

// ScrapedItem is one entry of a scraper output file.
type ScrapedItem struct {
	URL     string `json:"url"`
	Content string `json:"content"`
	Type    string `json:"type"`
	Title   string `json:"title,omitempty"`
}

// titleCase joins the words of s, splitting on '-' and '_', in title case.
// Casers are stateful, so one is built per call.
func titleCase(s string) string {
	words := strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(s))
	return cases.Title(language.BritishEnglish).String(strings.Join(words, " "))
}

// LoadJSON reads a scraper output file (a JSON array of ScrapedItem).
//
// # Description
//
// Items with fewer than MinContentChars characters of content are skipped.
// Document IDs are "{region}_{file stem}_{item index}", so reloading the same
// file replaces earlier chunks. The document text is the title, a blank
// line, then the content.
//
// # Outputs
//
//   - []datatypes.Document: Usable documents in file order.
//   - error: Non-nil if the file cannot be read or is not a JSON array.
func LoadJSON(path, region string) ([]datatypes.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	items, err := ParseItems(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	docs := DocumentsFromItems(items, stem, region)
	slog.Info("Loaded scraped content",
		"path", path,
		"items", len(items),
		"documents", len(docs),
		"skipped", len(items)-len(docs),
	)
	return docs, nil
}

// ParseItems decodes a scraped JSON array.
func ParseItems(raw []byte) ([]ScrapedItem, error) {
	var items []ScrapedItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// DocumentsFromItems converts scraped items into documents.
func DocumentsFromItems(items []ScrapedItem, stem, region string) []datatypes.Document {
	if region == "" {
		region = DefaultRegion
	}
	docs := make([]datatypes.Document, 0, len(items))
	for i, item := range items {
		content := strings.TrimSpace(item.Content)
		if utf8.RuneCountInString(content) < MinContentChars {
			continue
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = TitleFromURL(item.URL)
		}
		if title == "" {
			title = fmt.Sprintf("%s Cybersecurity Article %d", region, i+1)
		}
		contentType := item.Type
		if contentType == "" {
			contentType = datatypes.ContentTypeHTML
		}
		docs = append(docs, datatypes.Document{
			ID:          fmt.Sprintf("%s_%s_%d", region, stem, i),
			Text:        title + "\n\n" + content,
			SourceURL:   item.URL,
			Title:       title,
			ContentType: contentType,
			Region:      region,
		})
	}
	return docs
}

// TitleFromURL derives a readable title from the last path segment of a URL.
// It returns "" when the URL has no usable slug.
//
// # Examples
//
//	TitleFromURL("https://www.ncsc.gov.uk/guidance/phishing-attacks_defending")
//	// "Phishing Attacks Defending"
func TitleFromURL(rawURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(rawURL), "/")
	if trimmed == "" {
		return ""
	}
	slug := trimmed[strings.LastIndex(trimmed, "/")+1:]
	if i := strings.IndexAny(slug, "?#"); i >= 0 {
		slug = slug[:i]
	}
	slug = strings.TrimSuffix(slug, filepath.Ext(slug))
	if slug == "" || strings.HasSuffix(slug, ":") || strings.Contains(slug, ".") {
		return ""
	}
	return titleCase(slug)
}

// LoadTextDir reads pre-extracted document text (one *.txt file per PDF)
// from dir. Each file becomes a pdf document whose source URL is its
// absolute file:// path.
func LoadTextDir(dir, region string) ([]datatypes.Document, error) {
	if region == "" {
		region = DefaultRegion
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", dir, err)
	}
	sort.Strings(matches)

	var (
		docs []datatypes.Document
		errs []error
	)
	for _, path := range matches {
		raw, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", path, err))
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		title := titleCase(stem)
		if title == "" {
			title = stem
		}
		docs = append(docs, datatypes.Document{
			ID:          fmt.Sprintf("%s_%s", region, stem),
			Text:        string(raw),
			SourceURL:   "file://" + filepath.ToSlash(abs),
			Title:       title,
			ContentType: datatypes.ContentTypePDF,
			Region:      region,
		})
	}
	if len(errs) > 0 {
		slog.Warn("Some text files could not be read", "dir", dir, "failed", len(errs))
	}
	return docs, errors.Join(errs...)
}
