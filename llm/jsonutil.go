package llm

import (
	"regexp"
	"strings"
)

// Extraction responses arrive three ways: a bare JSON array, a bare JSON
// object, or prose wrapping fenced code blocks. The fenced patterns are
// lazy so a response carrying several blocks yields its first block, not
// an invalid span stitched from the first bracket to the last.
var (
	fencedArrayPattern  = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\[.*?\\])\\s*```")
	fencedObjectPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*```")

	// The bare fallbacks stay greedy: without a closing fence the widest
	// span is the only way to cover nested brackets.
	bareArrayPattern  = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
	bareObjectPattern = regexp.MustCompile(`(?s)\{[\s\S]*\}`)

	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSONArray pulls a JSON array out of an LLM response. The first
// fenced array block wins; a bare array is the fallback. The result has
// comment and trailing-comma artifacts removed; empty means no array.
func ExtractJSONArray(content string) string {
	if m := fencedArrayPattern.FindStringSubmatch(content); len(m) > 1 {
		return cleanJSON(m[1])
	}
	if m := bareArrayPattern.FindString(content); m != "" {
		return cleanJSON(m)
	}
	return ""
}

// ExtractJSON pulls a JSON object out of an LLM response, with the same
// first-fenced-block-then-bare order as ExtractJSONArray.
func ExtractJSON(content string) string {
	if m := fencedObjectPattern.FindStringSubmatch(content); len(m) > 1 {
		return cleanJSON(m[1])
	}
	if m := bareObjectPattern.FindString(content); m != "" {
		return cleanJSON(m)
	}
	return ""
}

// cleanJSON repairs the two artifacts models reliably produce despite the
// preamble's JSON-only instruction: //-style comments and trailing commas.
func cleanJSON(raw string) string {
	return trailingCommaPattern.ReplaceAllString(stripComments(raw), "$1")
}

// stripComments removes //-to-end-of-line comments sitting outside string
// values, so a "https://..." inside a value survives.
func stripComments(raw string) string {
	if !strings.Contains(raw, "//") {
		return raw
	}

	var b strings.Builder
	b.Grow(len(raw))
	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if !inString && ch == '/' && i+1 < len(raw) && raw[i+1] == '/' {
			for i+1 < len(raw) && raw[i+1] != '\n' {
				i++
			}
			continue
		}
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		}
		b.WriteByte(ch)
	}
	return b.String()
}
