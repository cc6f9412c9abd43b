package mlog

import (
	"fmt"
	"strings"
	"unicode"
)

const truncatedLabel = "...(truncated)..."

/*
TruncateString returns the input string as-is if it fits the desired length. Otherwise the
middle of the string is replaced by the "...(truncated)..." marker so that the head and the
tail both survive, the head being favoured by one byte when the remaining room is odd. The
returned string is then exactly maxLength bytes long.
*/
func TruncateString(in string, maxLength int) string {
	if maxLength < 0 {
		maxLength = 0
	}
	if len(in) <= maxLength {
		return in
	}
	if maxLength <= len(truncatedLabel) {
		return in[:maxLength]
	}
	keep := maxLength - len(truncatedLabel)
	tail := keep / 2
	head := keep - tail
	return in[:head] + truncatedLabel + in[len(in)-tail:]
}

// allowedLogRune decides whether a rune may appear in a log entry verbatim: the common ASCII
// whitespace controls (tab through carriage-return) and the printable ASCII range.
func allowedLogRune(r rune) bool {
	if r >= 127 {
		return false
	}
	if r >= 32 {
		return unicode.IsPrint(r) || unicode.IsSpace(r)
	}
	return r >= '\t' && r <= '\r'
}

/*
LintString returns a copy of the input string with every character that is not fit for a log
entry replaced by an underscore. Consequently printable characters beyond the ASCII table are
also replaced. The returned string is capped to the maximum specified length.
*/
func LintString(in string, maxLength int) string {
	if maxLength < 0 {
		maxLength = 0
	}
	var cleaned strings.Builder
	for i, r := range in {
		if i >= maxLength {
			break
		}
		if allowedLogRune(r) {
			cleaned.WriteRune(r)
		} else {
			cleaned.WriteRune('_')
		}
	}
	return cleaned.String()
}

// ByteArrayLogString returns a human-readable string for the input byte array, falling back to
// the Go literal form when the content is mostly binary. The returned string is only suitable
// for log messages.
func ByteArrayLogString(data []byte) string {
	var binary int
	for _, b := range data {
		if !allowedLogRune(rune(b)) {
			binary++
		}
	}
	if binary*2 > len(data) {
		return fmt.Sprintf("%#v", data)
	}
	return LintString(string(data), 1000)
}
