package cache

import (
	"regexp"
	"strings"
)

// Pattern is a compiled invalidation pattern.
//
// Only the first '*' is a wildcard; any later '*' is literal. The result is
// an unanchored match: "user:*" matches every key that CONTAINS "user:",
// including "admin-user:7". Callers needing precise invalidation should
// delete keys individually.
type Pattern struct {
	raw    string
	before string
	after  string
	star   bool
	re     *regexp.Regexp
}

// CompilePattern parses pattern. An empty pattern is rejected.
func CompilePattern(pattern string) (*Pattern, error) {
	if pattern == "" {
		return nil, ErrEmptyPattern
	}

	p := &Pattern{raw: pattern}
	p.before, p.after, p.star = strings.Cut(pattern, "*")

	expr := regexp.QuoteMeta(p.before)
	if p.star {
		expr += ".*" + regexp.QuoteMeta(p.after)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	p.re = re
	return p, nil
}

// String returns the pattern as given
func (p *Pattern) String() string {
	return p.raw
}

// Match reports whether key matches
func (p *Pattern) Match(key string) bool {
	return p.re.MatchString(key)
}

// Like returns a SQL LIKE expression (escape character '\') selecting a
// superset of the matching keys
func (p *Pattern) Like() string {
	like := "%" + escapeLike(p.before) + "%"
	if p.star && p.after != "" {
		like += escapeLike(p.after) + "%"
	}
	return like
}

// Glob returns a Redis MATCH expression selecting a superset of the
// matching keys below prefix
func (p *Pattern) Glob(prefix string) string {
	glob := escapeGlob(prefix) + "*" + escapeGlob(p.before) + "*"
	if p.star && p.after != "" {
		glob += escapeGlob(p.after) + "*"
	}
	return glob
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
