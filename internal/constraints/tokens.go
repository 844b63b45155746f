package constraints

import (
	"sort"
	"strings"
)

const maxQueryTokens = 5

// Tokens flattens a constraint map into lowercase strings for relevance
// matching. Struct-shaped values contribute their name or title field.
func Tokens(m Map) []string {
	var toks []string
	for _, v := range m {
		toks = appendTokens(toks, v)
	}
	out := toks[:0]
	for _, t := range toks {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func appendTokens(toks []string, v Value) []string {
	switch v.kind {
	case KindScalar:
		if s, ok := v.Str(); ok {
			toks = append(toks, strings.ToLower(s))
		}
	case KindList:
		for _, item := range v.list {
			toks = appendTokens(toks, item)
		}
	case KindStruct:
		if name := structName(v); name != "" {
			toks = append(toks, strings.ToLower(name))
		}
	}
	return toks
}

func structName(v Value) string {
	for _, field := range []string{"name", "title"} {
		if f, ok := v.Field(field); ok {
			if s, ok := f.Str(); ok {
				return s
			}
		}
	}
	return ""
}

// MatchesAny reports whether text contains at least one of the tokens.
// An empty token set matches everything: there is nothing to test against.
func MatchesAny(text string, tokens []string) bool {
	if len(tokens) == 0 {
		return true
	}
	tl := strings.ToLower(text)
	for _, tok := range tokens {
		if strings.Contains(tl, tok) {
			return true
		}
	}
	return false
}

// ContextualQuery augments a web query with salient constraint values so a
// follow-up turn ("what about the funding?") still searches in context.
// At most five short tokens are appended to avoid query bloat. Keys are
// walked in sorted order so the same active context always yields the
// same outbound query.
func ContextualQuery(input string, m Map) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var tokens []string
	for _, k := range keys {
		tokens = appendQueryTokens(tokens, m[k])
	}

	seen := make(map[string]bool, len(tokens))
	deduped := tokens[:0]
	for _, t := range tokens {
		tl := strings.ToLower(t)
		if t == "" || seen[tl] {
			continue
		}
		seen[tl] = true
		deduped = append(deduped, t)
		if len(deduped) == maxQueryTokens {
			break
		}
	}

	if len(deduped) == 0 {
		return input
	}
	return input + " " + strings.Join(deduped, " ")
}

func appendQueryTokens(tokens []string, v Value) []string {
	switch v.kind {
	case KindScalar:
		if s, ok := v.Str(); ok {
			tokens = append(tokens, s)
		}
	case KindList:
		for _, item := range v.list {
			if s, ok := item.Str(); ok {
				if len(s) >= 1 && len(s) <= 60 {
					tokens = append(tokens, s)
				}
				continue
			}
			if name := structName(item); name != "" {
				tokens = append(tokens, name)
			}
		}
	case KindStruct:
		if name := structName(v); name != "" {
			tokens = append(tokens, name)
		}
	}
	return tokens
}
