package server

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Names and messages are plain text: every tag is stripped.
var textPolicy = bluemonday.StrictPolicy()

func stripMarkup(s string) string {
	// Decode first so encoded tags are stripped too, then decode the
	// policy's escaping back to plain text.
	return html.UnescapeString(textPolicy.Sanitize(html.UnescapeString(s)))
}

// sanitizeName strips markup, trims and cuts a display name to maxLen runes.
// An empty result becomes "Guest".
func sanitizeName(raw string, maxLen int) string {
	name := strings.TrimSpace(stripMarkup(raw))
	name = strings.Join(strings.Fields(name), " ")
	if r := []rune(name); maxLen > 0 && len(r) > maxLen {
		name = strings.TrimSpace(string(r[:maxLen]))
	}
	if name == "" {
		return "Guest"
	}
	return name
}

// sanitizeText strips markup and cuts a message to maxLen runes.
func sanitizeText(raw string, maxLen int) string {
	text := strings.TrimSpace(stripMarkup(raw))
	if r := []rune(text); maxLen > 0 && len(r) > maxLen {
		text = string(r[:maxLen])
	}
	return text
}
