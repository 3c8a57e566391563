// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrixfmt converts Matrix message content to plain relay text.
package matrixfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"
)

var (
	replyRe      = regexp.MustCompile(`(?s)<mx-reply>.*?</mx-reply>`)
	preRe        = regexp.MustCompile(`(?s)<pre(?:\s[^>]*)?><code[^>]*>(.*?)</code></pre>`)
	linkRe       = regexp.MustCompile(`(?s)<a\s[^>]*?href=["']([^"']+)["'][^>]*>(.*?)</a>`)
	brRe         = regexp.MustCompile(`<br\s*/?>`)
	blockquoteRe = regexp.MustCompile(`(?s)<blockquote(?:\s[^>]*)?>(.*?)</blockquote>`)
	headingRe    = regexp.MustCompile(`(?s)<h[1-6](?:\s[^>]*)?>(.*?)</h[1-6]>`)
	listOpenRe   = regexp.MustCompile(`<(ul|ol)(?:\s[^>]*)?>`)
	liRe         = regexp.MustCompile(`(?s)<li(?:\s[^>]*)?>(.*?)</li>`)
	pRe          = regexp.MustCompile(`(?s)<p(?:\s[^>]*)?>(.*?)</p>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	blankRunRe   = regexp.MustCompile(`\n{3,}`)
)

// Parse converts Matrix message content to a single plain-text body.
// Edits use the replacement content, and reply fallbacks are dropped.
func Parse(content *event.MessageEventContent) string {
	if content == nil {
		return ""
	}
	if content.NewContent != nil {
		return Parse(content.NewContent)
	}

	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		if content.RelatesTo != nil && content.RelatesTo.GetReplyTo() != "" {
			return stripQuotedFallback(content.Body)
		}
		return content.Body
	}

	text := replyRe.ReplaceAllString(content.FormattedBody, "")

	text = preRe.ReplaceAllString(text, "$1")

	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		href, label := parts[1], tagRe.ReplaceAllString(parts[2], "")
		// Mentions render as the display name alone.
		if strings.HasPrefix(href, "https://matrix.to/") || label == href {
			return label
		}
		return label + " (" + href + ")"
	})

	text = headingRe.ReplaceAllString(text, "$1\n")

	text = blockquoteRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := blockquoteRe.FindStringSubmatch(match)
		lines := strings.Split(strings.TrimSpace(parts[1]), "\n")
		for i, line := range lines {
			lines[i] = "> " + strings.TrimSpace(line)
		}
		return strings.Join(lines, "\n") + "\n"
	})

	text = renderLists(text)

	text = pRe.ReplaceAllString(text, "$1\n\n")
	text = brRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = blankRunRe.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// renderLists flattens lists innermost first so nested items end up
// indented under their parent item.
func renderLists(text string) string {
	for {
		opens := listOpenRe.FindAllStringSubmatchIndex(text, -1)
		if len(opens) == 0 {
			return text
		}
		// The last opening tag has no list nested inside it.
		open := opens[len(opens)-1]
		kind := text[open[2]:open[3]]
		closeTag := "</" + kind + ">"
		end := strings.Index(text[open[1]:], closeTag)
		if end < 0 {
			// Unclosed list: drop the tag and keep its items as text.
			text = text[:open[0]] + text[open[1]:]
			continue
		}
		body := text[open[1] : open[1]+end]
		text = text[:open[0]] + renderList(kind, body) + text[open[1]+end+len(closeTag):]
	}
}

func renderList(kind, body string) string {
	items := liRe.FindAllStringSubmatch(body, -1)
	var sb strings.Builder
	sb.WriteByte('\n')
	for i, item := range items {
		marker := "- "
		if kind == "ol" {
			marker = strconv.Itoa(i+1) + ". "
		}
		indent := strings.Repeat(" ", len(marker))
		for j, line := range strings.Split(strings.TrimSpace(item[1]), "\n") {
			if j == 0 {
				sb.WriteString(marker + strings.TrimSpace(line))
			} else if line = strings.TrimRight(line, " "); line != "" {
				sb.WriteString(indent + line)
			} else {
				continue
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// stripQuotedFallback removes the "> " lines a client prepends to a plain
// reply body.
func stripQuotedFallback(body string) string {
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], ">") {
		i++
	}
	if i == 0 {
		return body
	}
	return strings.TrimLeft(strings.Join(lines[i:], "\n"), "\n")
}
