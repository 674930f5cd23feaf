// Package strings holds text helpers shared by the operator's outputs.
package strings

import (
	"strings"
)

// MinTruncateLen is the smallest maxLen Truncate honours. Anything shorter
// would not leave room for content plus "...".
const MinTruncateLen = 4

// Truncate collapses s to a single line with single spaces and cuts it to at
// most maxLen runes, ending in "..." when cut. Values of maxLen below
// MinTruncateLen are raised to it.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
