package manifest

import "strings"

// Wildcard is the only special character recognised in peripheral patterns.
const Wildcard = "*"

// Matches reports whether peripheralType satisfies pattern.
//
// A pattern without a wildcard must equal the type exactly, and "*" matches
// every type. Otherwise the text before the first wildcard is a required
// prefix and the text after it, up to the next wildcard, a required suffix.
// Any further segments are ignored, so "a*b*c" behaves like "a*b".
func Matches(peripheralType, pattern string) bool {
	if pattern == Wildcard || peripheralType == pattern {
		return true
	}
	if !strings.Contains(pattern, Wildcard) {
		return peripheralType == pattern
	}

	pieces := splitPattern(pattern)
	if len(pieces) == 0 {
		// Only wildcards, e.g. "**", which must be matched literally.
		return false
	}
	if !strings.HasPrefix(peripheralType, pieces[0]) {
		return false
	}
	return len(pieces) < 2 || strings.HasSuffix(peripheralType, pieces[1])
}

// splitPattern splits on the wildcard and drops trailing empty pieces, so
// "disk*" yields ["disk"] and "*modem" yields ["", "modem"].
func splitPattern(pattern string) []string {
	pieces := strings.Split(pattern, Wildcard)
	for len(pieces) > 0 && pieces[len(pieces)-1] == "" {
		pieces = pieces[:len(pieces)-1]
	}
	return pieces
}

// Supports reports whether any of the program's patterns matches the
// peripheral type. Patterns are tried in order and the first match wins.
func (p Program) Supports(peripheralType string) bool {
	for _, pattern := range p.Patterns {
		if Matches(peripheralType, pattern) {
			return true
		}
	}
	return false
}
