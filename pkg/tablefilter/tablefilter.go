// Package tablefilter parses comma-separated, glob-style table filter
// specifications and matches schema-qualified table names against them.
package tablefilter

import "strings"

type pattern struct {
	schema    string // empty means "match any schema"
	hasSchema bool
	table     string
}

// Filter matches tables by name pattern, with optional schema
// qualification and comma-separated alternatives.
type Filter struct {
	patterns   []pattern
	matchesAll bool
}

// Parse parses a filter specification: comma-separated tokens, each
// either "table" or "schema.table", with "*" wildcards and "?"
// single-character wildcards inside either part. An empty spec or any
// bare "*" token means match-all.
func Parse(filterSpec string) Filter {
	spec := strings.TrimSpace(filterSpec)
	if spec == "" || spec == "*" {
		return Filter{matchesAll: true}
	}

	var f Filter
	for _, rawToken := range strings.Split(spec, ",") {
		token := strings.TrimSpace(rawToken)
		if token == "" {
			continue
		}

		var p pattern
		if dot := strings.Index(token, "."); dot >= 0 {
			schemaPart := strings.TrimSpace(token[:dot])
			tablePart := strings.TrimSpace(token[dot+1:])
			if schemaPart != "*" && schemaPart != "" {
				p.schema = schemaPart
				p.hasSchema = true
			}
			p.table = tablePart
		} else {
			p.table = token
		}

		if p.table == "" {
			continue
		}
		if !p.hasSchema && p.table == "*" {
			return Filter{matchesAll: true}
		}
		f.patterns = append(f.patterns, p)
	}

	if len(f.patterns) == 0 {
		f.matchesAll = true
	}
	return f
}

// MatchesAll reports whether this filter matches every table (no
// filtering applied).
func (f Filter) MatchesAll() bool { return f.matchesAll }

// PatternCount returns the number of parsed patterns.
func (f Filter) PatternCount() int { return len(f.patterns) }

// Matches reports whether tableName (optionally qualified by schema)
// matches at least one pattern. A pattern that omits its schema matches
// any schema, including an empty one.
func (f Filter) Matches(schema, tableName string) bool {
	if f.matchesAll {
		return true
	}
	for _, p := range f.patterns {
		if p.hasSchema && !globMatch(p.schema, schema) {
			continue
		}
		if globMatch(p.table, tableName) {
			return true
		}
	}
	return false
}

// globMatch matches text against pattern, where pattern may contain "*"
// (any run of characters, including none) and "?" (exactly one
// character). Iterative with backtracking, O(len(pattern)*len(text))
// worst case.
func globMatch(pattern, text string) bool {
	p, tI := 0, 0
	starP, starT := -1, 0

	for tI < len(text) {
		if p < len(pattern) && (pattern[p] == '?' || pattern[p] == text[tI]) {
			p++
			tI++
		} else if p < len(pattern) && pattern[p] == '*' {
			starP = p
			starT = tI
			p++
		} else if starP != -1 {
			p = starP + 1
			starT++
			tI = starT
		} else {
			return false
		}
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
