package query

import (
	"regexp"
	"strings"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes the LIKE metacharacters %, _ and the escape character.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ContainsFold is the in-memory counterpart of Builder.Contains.
func ContainsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// TextMatcher returns the in-memory counterpart of Builder.MatchesRegex.
func TextMatcher(pattern string) func(string) bool {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return func(s string) bool { return ContainsFold(s, pattern) }
	}
	return re.MatchString
}
