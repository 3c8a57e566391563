// Copyright 2024-2026 Aiku AI

// Package mattermostfmt converts Mattermost markdown to plain relay text.
package mattermostfmt

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	boldRe      = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe    = regexp.MustCompile(`\b_([^_\n]+?)_\b`)
	starRe      = regexp.MustCompile(`\*([^*\n]+?)\*`)
	strikeRe    = regexp.MustCompile(`~~(.+?)~~`)
	codeRe      = regexp.MustCompile("`([^`]+)`")
	codeBlockRe = regexp.MustCompile("(?s)```(\\w+)?\\n?(.*?)```")
	linkRe      = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	headingRe   = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	ulRe        = regexp.MustCompile(`^[-*+]\s+(.+)$`)
)

// Plain converts a Mattermost markdown message to plain text. Emphasis
// markers are removed, links become "text (url)" and code keeps its content
// verbatim.
func Plain(text string) string {
	if text == "" {
		return ""
	}

	hasFormatting := boldRe.MatchString(text) ||
		italicRe.MatchString(text) ||
		starRe.MatchString(text) ||
		strikeRe.MatchString(text) ||
		codeRe.MatchString(text) ||
		codeBlockRe.MatchString(text) ||
		linkRe.MatchString(text) ||
		strings.Contains(text, "#") ||
		strings.Contains(text, "- ") ||
		strings.Contains(text, "* ")

	if !hasFormatting {
		return text
	}

	// Step 1: Extract code so inline rules never touch it.
	var code []string
	protect := func(content string) string {
		idx := len(code)
		code = append(code, content)
		return "\x00CODE" + strconv.Itoa(idx) + "\x00"
	}
	processed := codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		return protect(strings.TrimRight(parts[2], "\n"))
	})
	processed = codeRe.ReplaceAllStringFunc(processed, func(match string) string {
		return protect(codeRe.FindStringSubmatch(match)[1])
	})

	// Step 2: Structural elements, line by line.
	lines := strings.Split(processed, "\n")
	for i, line := range lines {
		if m := headingRe.FindStringSubmatch(line); len(m) >= 3 {
			lines[i] = m[2]
			continue
		}
		if m := ulRe.FindStringSubmatch(line); len(m) >= 2 {
			lines[i] = "- " + m[1]
		}
	}
	processed = strings.Join(lines, "\n")

	// Step 3: Inline formatting.
	processed = boldRe.ReplaceAllString(processed, "$1")
	processed = strikeRe.ReplaceAllString(processed, "$1")
	processed = italicRe.ReplaceAllString(processed, "$1")
	processed = starRe.ReplaceAllString(processed, "$1")

	// Links: only safe URL schemes keep their target.
	processed = linkRe.ReplaceAllStringFunc(processed, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		label, href := parts[1], strings.TrimSpace(parts[2])
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:") {
			if label == href {
				return href
			}
			return label + " (" + href + ")"
		}
		return label
	})

	// Step 4: Restore code.
	for i, content := range code {
		processed = strings.Replace(processed, "\x00CODE"+strconv.Itoa(i)+"\x00", content, 1)
	}

	return processed
}
