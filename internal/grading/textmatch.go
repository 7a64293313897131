package grading

import "strings"

// normalize trims surrounding whitespace and case-folds. Inner spacing and
// punctuation are kept: short answers are exact-match only.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
