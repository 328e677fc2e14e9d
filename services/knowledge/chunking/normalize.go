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
	"regexp"
	"strings"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	pageFooter    = regexp.MustCompile(`Page \d+ of \d+`)
	// PDF extraction tends to split "http://" into spaced pieces.
	brokenScheme = regexp.MustCompile(`https?\s*:\s*/\s*/\s*`)
)

// Normalize cleans extracted text before chunking: whitespace runs collapse
// to a single space, "Page X of Y" footers are removed and fragmented URL
// schemes are rejoined as https://.
func Normalize(text string) string {
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = pageFooter.ReplaceAllString(text, "")
	text = brokenScheme.ReplaceAllString(text, "https://")
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
