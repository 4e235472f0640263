package report

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxSummaryLength is the tracker's cap on the summary field.
	MaxSummaryLength = 255

	// MaxDescriptionLength caps the rendered stack trace inside an issue
	// description, leaving room for the surrounding text.
	MaxDescriptionLength = 32767 - 767

	// blacklist holds the characters the tracker's query language assigns
	// meaning to; they are stripped before a summary is used in a query
	// or a title.
	blacklist = `'"+-,?|*/%^$#@[]()&`
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// SanitizeSummary produces a query-safe, length-bounded version of a raw
// exception summary. Blacklisted characters are removed, whitespace runs
// collapse to a single space, and the result is truncated to the summary
// cap minus room for the title prefix and separator. When forQuery is set
// and two or more colons remain, the text is cut just before the second
// colon; anything after it tends to be nested exception noise that hurts
// search precision. Idempotent.
func SanitizeSummary(raw, titlePrefix string, forQuery bool) string {
	sanitized := strings.Map(func(r rune) rune {
		if strings.ContainsRune(blacklist, r) {
			return -1
		}
		return r
	}, raw)

	sanitized = strings.TrimSpace(whitespaceRun.ReplaceAllString(sanitized, " "))

	maxLength := MaxSummaryLength - utf8.RuneCountInString(titlePrefix) - 2
	sanitized = TruncateRunes(sanitized, maxLength)

	if forQuery && strings.Count(sanitized, ":") >= 2 {
		first := strings.Index(sanitized, ":")
		second := strings.Index(sanitized[first+1:], ":")
		sanitized = sanitized[:first+1+second]
	}
	return sanitized
}

// TruncateRunes cuts s to at most max runes, never splitting a multi-byte
// character.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
