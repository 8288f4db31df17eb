// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"strings"
	"unicode/utf8"
)

// JSONPayload returns the JSON document inside a model reply. Models often
// wrap JSON in a fenced code block or add prose around it; the outermost
// array or object is returned. The input is returned trimmed when no
// bracket pair is found.
func JSONPayload(raw string) string {
	raw = strings.TrimSpace(raw)
	start := strings.IndexAny(raw, "[{")
	if start < 0 {
		return raw
	}
	closer := byte(']')
	if raw[start] == '{' {
		closer = '}'
	}
	end := strings.LastIndexByte(raw, closer)
	if end <= start {
		return raw
	}
	return raw[start : end+1]
}

// Clip truncates text to at most limit bytes on a rune boundary.
func Clip(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
