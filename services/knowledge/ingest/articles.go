// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	maxTitleRunes   = 100
	maxExcerptRunes = 200
	generalCategory = "Cyber Security"
)

// Article is a preview of one scraped page for the news feed.
type Article struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Excerpt  string `json:"excerpt"`
	Content  string `json:"full_content"`
	Category string `json:"category"`
	Type     string `json:"type"`
}

// categoryRules map URL keywords to feed categories. First match wins.
var categoryRules = []struct {
	keywords []string
	category string
}{
	{[]string{"physical"}, "Physical Security"},
	{[]string{"technical"}, "Technical Security"},
	{[]string{"human"}, "Human Security"},
	{[]string{"iot", "internet-of-things"}, "IoT Security"},
	{[]string{"threat"}, "Threat Intelligence"},
	{[]string{"career"}, "Careers"},
	{[]string{"malware", "ransomware"}, "Malware"},
	{[]string{"social-engineering", "scam"}, "Social Engineering"},
	{[]string{"hacker", "nation-state"}, "Threat Actors"},
	{[]string{"attack", "supply-chain"}, "Attack Vectors"},
	{[]string{"vulnerabilit"}, "Vulnerabilities"},
	{[]string{"cryptograph", "quantum"}, "Cryptography"},
	{[]string{"governance", "protection"}, "Governance"},
}

var breadcrumbPattern = regexp.MustCompile(`^Home\s*/\s*.*?(?:\n|[A-Z][a-z])`)

// Articles builds up to limit previews from scraped items, skipping items
// without content or URL and repeated titles. A non-positive limit returns
// every article.
func Articles(items []ScrapedItem, limit int) []Article {
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}
	articles := make([]Article, 0, limit)
	seen := make(map[string]struct{}, limit)
	for _, item := range items[:limit] {
		if item.Content == "" || item.URL == "" {
			continue
		}
		title := ExtractTitle(item.Content, item.URL)
		if _, dup := seen[title]; dup {
			continue
		}
		seen[title] = struct{}{}
		contentType := item.Type
		if contentType == "" {
			contentType = "html"
		}
		body := cleanContent(item.Content)
		articles = append(articles, Article{
			URL:      item.URL,
			Title:    title,
			Excerpt:  excerpt(body),
			Content:  body,
			Category: Category(item.URL),
			Type:     contentType,
		})
	}
	return articles
}

// Category derives a feed category from keywords in the URL.
func Category(rawURL string) string {
	lower := strings.ToLower(rawURL)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category
			}
		}
	}
	return generalCategory
}

// ExtractTitle picks a title for scraped content: the HTML <title> or first
// <h1>, then the first title-like line, then the first sentence, then the
// URL slug.
func ExtractTitle(content, rawURL string) string {
	if t := htmlTitle(content); t != "" {
		return truncate(t, maxTitleRunes)
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		n := utf8.RuneCountInString(line)
		if n > 10 && n < 120 && !hasAnyPrefix(line, "Home /", "http", "www.", "Â©") {
			return line
		}
	}
	first, _, _ := strings.Cut(content, ".")
	first = strings.TrimSpace(first)
	if n := utf8.RuneCountInString(first); n > 10 && n < 150 {
		return first
	}
	if t := TitleFromURL(rawURL); t != "" {
		return t
	}
	return generalCategory + " Article"
}

// htmlTitle returns the text of the first <title>, or failing that the
// first <h1>. Plain text yields "".
func htmlTitle(content string) string {
	if !strings.Contains(content, "<") {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return ""
	}
	var title, h1 string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.Title && title == "":
				title = strings.TrimSpace(nodeText(n))
			case n.DataAtom == atom.H1 && h1 == "":
				h1 = strings.TrimSpace(nodeText(n))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if title != "" {
		return title
	}
	return h1
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// cleanContent drops the repeated tail many scraped pages carry and a
// leading "Home / ..." breadcrumb.
func cleanContent(content string) string {
	runes := []rune(content)
	if third := len(runes) / 3; third > 500 {
		content = string(runes[:third])
	}
	if loc := breadcrumbPattern.FindStringIndex(content); loc != nil {
		end := loc[1]
		// keep the capitalised word that ended the breadcrumb
		if content[end-1] != '\n' {
			end -= 2
		}
		content = content[end:]
	}
	return strings.TrimSpace(content)
}

// excerpt joins leading sentences longer than 20 characters while they fit
// in maxExcerptRunes.
func excerpt(content string) string {
	var parts []string
	total := 0
	for _, s := range strings.Split(content, ".") {
		s = strings.TrimSpace(s)
		n := utf8.RuneCountInString(s)
		if n > 20 && total+n < maxExcerptRunes {
			parts = append(parts, s)
			total += n
		}
	}
	if len(parts) == 0 {
		return truncate(content, maxExcerptRunes) + "..."
	}
	return strings.Join(parts, ". ") + "..."
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
