// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package normalize converts raw mail message payloads (possibly multipart,
// possibly HTML) into clean plain text for matching and storage.
//
// The rules, in order of the top-level part's MIME type:
//   - text/plain: decoded body, trimmed.
//   - text/html: scripts/styles stripped with their contents, images dropped,
//     anchors reduced to their visible text, all other tags removed,
//     whitespace runs collapsed.
//   - multipart/alternative: the plain branch wins unless it is shorter than
//     50 characters and an HTML branch exists.
//   - any other multipart: every leaf normalized in document order, distinct
//     chunks joined by newlines, exact duplicates emitted once.
//
// A missing or undecodable payload yields the empty string; that is not an
// error condition.
package normalize

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"github.com/jobdeck/triage/internal/models"
)

// minPlainAlternative is the length below which a plain-text branch of a
// multipart/alternative message is treated as a near-empty stub and the
// HTML branch is preferred instead.
const minPlainAlternative = 50

// Text normalizes a decoded MIME part tree into a single plain-text string.
// It is a pure function with no side effects.
func Text(part *models.MessagePart) string {
	if part == nil {
		return ""
	}

	switch mimeBase(part.MimeType) {
	case "text/plain":
		return strings.TrimSpace(string(part.Body))

	case "text/html":
		return htmlToText(part.Body)

	case "multipart/alternative":
		return alternativeText(part)

	default:
		if strings.HasPrefix(mimeBase(part.MimeType), "multipart/") {
			return mixedText(part)
		}
	}

	return ""
}

// alternativeText picks between the plain and HTML branches of a
// multipart/alternative part.
func alternativeText(part *models.MessagePart) string {
	var plain, htmlText string
	var hasPlain, hasHTML bool

	for i := range part.Parts {
		child := &part.Parts[i]
		switch mimeBase(child.MimeType) {
		case "text/plain":
			if !hasPlain {
				plain = strings.TrimSpace(string(child.Body))
				hasPlain = true
			}
		case "text/html":
			if !hasHTML {
				htmlText = htmlToText(child.Body)
				hasHTML = true
			}
		}
	}

	// Favor plain text except when it is a near-empty stub.
	if hasPlain && (len(plain) >= minPlainAlternative || !hasHTML) {
		return plain
	}
	if hasHTML {
		return htmlText
	}
	return plain
}

// mixedText normalizes every leaf part in document order and joins the
// distinct chunks with newlines. Byte-identical chunks appear once, so a
// boilerplate signature attached to every sub-part is not repeated.
func mixedText(part *models.MessagePart) string {
	var chunks []string
	seen := make(map[string]bool)

	var walk func(p *models.MessagePart)
	walk = func(p *models.MessagePart) {
		if len(p.Parts) > 0 {
			for i := range p.Parts {
				walk(&p.Parts[i])
			}
			return
		}
		chunk := Text(p)
		if chunk == "" || seen[chunk] {
			return
		}
		seen[chunk] = true
		chunks = append(chunks, chunk)
	}

	for i := range part.Parts {
		walk(&part.Parts[i])
	}

	return strings.Join(chunks, "\n")
}

// htmlToText strips an HTML body down to its visible text. Script and style
// contents are dropped entirely, images vanish, anchors contribute only
// their visible text (the href target never survives), and whitespace runs
// collapse to single spaces.
func htmlToText(src []byte) string {
	z := html.NewTokenizer(bytes.NewReader(src))

	var b strings.Builder
	skip := 0 // depth inside script/style elements

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input — either way, emit what we have.
			return collapse(b.String())

		case html.StartTagToken:
			name, _ := z.TagName()
			if isSkipped(string(name)) {
				skip++
			}
			b.WriteByte(' ')

		case html.EndTagToken:
			name, _ := z.TagName()
			if isSkipped(string(name)) && skip > 0 {
				skip--
			}
			b.WriteByte(' ')

		case html.SelfClosingTagToken:
			b.WriteByte(' ')

		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isSkipped(tag string) bool {
	return tag == "script" || tag == "style"
}

// collapse reduces all whitespace runs to single spaces and trims.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// mimeBase strips any parameters (";charset=...") and lowercases the type.
func mimeBase(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
