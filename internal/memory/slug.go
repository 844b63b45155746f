package memory

import "strings"

// Slugify derives the stable identity key used for fact supersession.
// Name tokens are lowercased and joined with underscores; a region code, if
// present, is appended as one more token. Identical input always yields an
// identical slug.
func Slugify(name, region string) string {
	tokens := splitTokens(name)
	if r := splitTokens(region); len(r) > 0 {
		tokens = append(tokens, r...)
	}
	return strings.Join(tokens, "_")
}

// NormalizeAttribute lowercases and collapses an attribute into a single
// underscore-joined token. Returns "" for inputs with no usable characters.
func NormalizeAttribute(attr string) string {
	return strings.Join(splitTokens(attr), "_")
}

func splitTokens(s string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
