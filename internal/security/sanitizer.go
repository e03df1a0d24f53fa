package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	maxIdentityLength = 64
	maxTextLength     = 256
)

var htmlPolicy = bluemonday.StrictPolicy()

// SanitizeString trims, drops null bytes and strips markup. The result is
// plain text, not HTML.
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	input = html.UnescapeString(htmlPolicy.Sanitize(input))
	return truncate(strings.TrimSpace(input), maxTextLength)
}

// SanitizeIdentity cleans a player name coming from a chat client.
func SanitizeIdentity(input string) string {
	return truncate(SanitizeString(input), maxIdentityLength)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
