package utils

// MatchPattern reports whether value matches a glob pattern where '*'
// matches any run of characters, including the empty one. All other
// characters match literally. Used for permission resource patterns and
// the matchesPattern policy criterion.
func MatchPattern(value, pattern string) bool {
	if pattern == "*" {
		return true
	}
	vi, pi := 0, 0
	star, mark := -1, 0
	for vi < len(value) {
		switch {
		case pi < len(pattern) && pattern[pi] == '*':
			// remember the star; try matching it against nothing first
			star = pi
			mark = vi
			pi++
		case pi < len(pattern) && pattern[pi] == value[vi]:
			pi++
			vi++
		case star >= 0:
			// backtrack: let the last star absorb one more character
			mark++
			vi = mark
			pi = star + 1
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
