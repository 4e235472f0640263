// Package match decides whether two printed stack traces describe the same
// bug. A pure similarity ratio over-matches on boilerplate-heavy traces that
// share framework frames, so a positive verdict additionally requires both
// traces to agree on the throw location: the exception type on the line
// after the deepest "caused by" marker.
package match

import (
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	// noformatDelimiter wraps the stack trace block inside an issue
	// description.
	noformatDelimiter = "{noformat}"

	// quickRatioFloor short-circuits obviously dissimilar pairs before the
	// full ratio is computed.
	quickRatioFloor = 0.6

	// matchThreshold is the minimum similarity ratio for a duplicate verdict.
	matchThreshold = 0.7
)

var causedByLine = regexp.MustCompile(`(?i)^\W*caused\W+by`)

// Result carries the verdict of one stack trace comparison.
type Result struct {
	Matched bool
	Ratio   float64
}

// FromDescription recovers the stack trace embedded in an issue description
// by taking the text between the first pair of noformat delimiters. Returns
// the empty string when the description carries no such block.
func FromDescription(description string) string {
	blocks := strings.Split(description, noformatDelimiter)
	if len(blocks) >= 3 {
		return blocks[1]
	}
	return ""
}

// Stacktraces compares an incoming stack trace against the trace stored in a
// candidate issue. The incoming trace is first trimmed to the stored trace's
// length, since the stored copy may have been truncated when the issue was
// filed; comparison must not penalize that. Whitespace is treated as junk
// for alignment.
func Stacktraces(newTrace, issueTrace string) Result {
	trimmed := trimToRuneLength(newTrace, issueTrace)

	m := difflib.NewMatcherWithJunk(chars(trimmed), chars(issueTrace), true, isJunk)
	var ratio float64
	if m.RealQuickRatio() > quickRatioFloor {
		ratio = m.Ratio()
	}

	matched := issueTrace != "" &&
		ratio > matchThreshold &&
		throwLocation(trimmed) == throwLocation(issueTrace)
	return Result{Matched: matched, Ratio: ratio}
}

// throwLocation extracts the exception type from the line immediately after
// the last "caused by" line: everything up to the first colon. The whole
// line is returned when it has no colon, and the empty string when no line
// follows the marker.
func throwLocation(trace string) string {
	lines := strings.Split(trace, "\n")
	last := -1
	for i, line := range lines {
		if causedByLine.MatchString(line) {
			last = i
		}
	}
	if last+1 >= len(lines) {
		return ""
	}
	line := lines[last+1]
	if idx := strings.Index(line, ":"); idx >= 0 {
		return line[:idx]
	}
	return line
}

func isJunk(s string) bool {
	return s == " " || s == "\n" || s == "\t"
}

// chars splits a string into one element per rune for character-level
// sequence matching.
func chars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func trimToRuneLength(s, ref string) string {
	refLen := len([]rune(ref))
	runes := []rune(s)
	if len(runes) <= refLen {
		return s
	}
	return string(runes[:refLen])
}
