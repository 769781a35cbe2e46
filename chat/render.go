package chat

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

const previewLength = 80

var (
	ugcPolicy    = bluemonday.UGCPolicy()
	strictPolicy = bluemonday.StrictPolicy()
)

// Render turns a markdown message body into sanitized HTML.
func Render(body string) string {
	unsafe := blackfriday.Run([]byte(body))
	return string(ugcPolicy.SanitizeBytes(unsafe))
}

// Preview returns a single-line plain text excerpt of a message body.
func Preview(body string) string {
	text := strictPolicy.Sanitize(string(blackfriday.Run([]byte(body))))
	text = strings.Join(strings.Fields(html.UnescapeString(text)), " ")

	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return strings.TrimSpace(string(runes[:previewLength])) + "…"
}
